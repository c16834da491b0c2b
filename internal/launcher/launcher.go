// Package launcher implements the Launch sequencer (C6): locating the
// game client binary, stopping any instance already running, and execing
// it pointed at the loopback Config Interceptor.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"go.uber.org/zap"
)

// ErrClientNotFound is returned by Find when none of the well-known
// installation paths for the current OS exist.
var ErrClientNotFound = errors.New("launcher: client binary not found")

// ValidGames enumerates the positional game argument accepted by the CLI.
var ValidGames = []string{"lol", "valorant", "lor", "lion", "riot-client", "prompt"}

// productCodes maps a game argument to the --launch-product flag value.
// riot-client and prompt are intentionally absent: both launch the bare
// client with no product preselected.
var productCodes = map[string]string{
	"lol":      "league_of_legends",
	"valorant": "valorant",
	"lor":      "bacon",
	"lion":     "lion",
}

// candidatesForOS lists the well-known install locations checked in order.
// Locating a client binary is inherently platform-specific guesswork; this
// is best-effort discovery, not an exhaustive registry/plist scan.
func candidatesForOS(goos string) []string {
	switch goos {
	case "windows":
		return []string{
			`C:\Riot Games\Riot Client\RiotClientServices.exe`,
		}
	case "darwin":
		return []string{
			"/Applications/Riot Client.app/Contents/MacOS/RiotClientServices",
		}
	default:
		return nil
	}
}

// Find locates the client binary for the current platform.
func Find() (string, error) {
	return findAmong(candidatesForOS(runtime.GOOS))
}

func findAmong(paths []string) (string, error) {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", ErrClientNotFound
}

// BuildArgs constructs the client command-line for the given product and
// patchline, per the launch contract in the external interfaces.
func BuildArgs(c2Port int, game, patchline string) []string {
	args := []string{fmt.Sprintf("--client-config-url=http://127.0.0.1:%d", c2Port)}
	if code, ok := productCodes[game]; ok {
		args = append(args, "--launch-product="+code, "--launch-patchline="+patchline)
	}
	return args
}

// StopRunning best-effort kills any already-running instance of binName so
// the freshly launched process is the one C3 ends up proxying. Failure here
// is never fatal to the launch sequence.
func StopRunning(ctx context.Context, binName string, log *zap.Logger) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "taskkill", "/IM", binName, "/F")
	default:
		cmd = exec.CommandContext(ctx, "pkill", "-f", binName)
	}
	if err := cmd.Run(); err != nil {
		log.Debug("no prior client instance to stop", zap.Error(err))
	}
}

// Launch execs the client binary with the flags implied by game/patchline
// and c2Port, and returns immediately once the process has started.
func Launch(ctx context.Context, binPath string, c2Port int, game, patchline string, log *zap.Logger) (*exec.Cmd, error) {
	args := BuildArgs(c2Port, game, patchline)
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launcher: start client: %w", err)
	}

	log.Info("launched game client", zap.String("bin", binPath), zap.Strings("args", args))
	return cmd, nil
}
