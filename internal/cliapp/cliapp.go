// Package cliapp wires the CLI surface described in the external
// interfaces to the running components: cert provisioning, the two
// loopback interceptors, the session supervisor, and the launch
// sequencer. cmd/deceive/main.go is a thin wrapper around NewRootCommand.
package cliapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conductorone/deceive/internal/appconfig"
	"github.com/conductorone/deceive/internal/applog"
	"github.com/conductorone/deceive/internal/certstore"
	"github.com/conductorone/deceive/internal/chatintercept"
	"github.com/conductorone/deceive/internal/chattarget"
	"github.com/conductorone/deceive/internal/configintercept"
	"github.com/conductorone/deceive/internal/launcher"
	"github.com/conductorone/deceive/internal/presence"
	"github.com/conductorone/deceive/internal/supervisor"
)

// errShutdownRequested marks a context cancellation the process itself
// asked for (signal or idle timeout), as distinct from an unexpected error.
var errShutdownRequested = errors.New("cliapp: shutdown requested")

// NewRootCommand builds the deceive cobra command tree.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "deceive",
		Short:   "deceive hides your in-game presence from the chat backend",
		Version: version,
	}
	root.AddCommand(launchCmd())
	return root
}

func launchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch [lol|valorant|lor|lion|riot-client|prompt]",
		Short: "provision the loopback proxy and launch the game client through it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLaunch,
	}
	cmd.Flags().String("status", "offline", "initial presence status: offline|online|mobile")
	cmd.Flags().Bool("tray", true, "keep running with tray-style status output instead of a foreground console")
	cmd.Flags().String("patchline", "live", "patchline flag passed through to the game client")
	return cmd
}

func runLaunch(cmd *cobra.Command, args []string) error {
	game := "prompt"
	if len(args) == 1 {
		game = args[0]
	}
	if !slices.Contains(launcher.ValidGames, game) {
		return fmt.Errorf("cliapp: unknown game %q, expected one of %v", game, launcher.ValidGames)
	}

	dir, err := configDir()
	if err != nil {
		return fmt.Errorf("cliapp: resolve config dir: %w", err)
	}

	cfg, err := appconfig.Load(dir, cmd)
	if err != nil {
		return fmt.Errorf("cliapp: load config: %w", err)
	}

	tray, _ := cmd.Flags().GetBool("tray")
	logOpts := []applog.Option{applog.WithLevel("info")}
	if tray {
		logOpts = append(logOpts, applog.WithLogFile(filepath.Join(dir, "deceive.log")))
	}
	ctx, err := applog.Init(cmd.Context(), logOpts...)
	if err != nil {
		return fmt.Errorf("cliapp: init logging: %w", err)
	}
	log := applog.From(ctx)

	statusFlag, _ := cmd.Flags().GetString("status")
	if !cmd.Flags().Changed("status") {
		statusFlag = cfg.DefaultStatus()
	}
	mode, err := presence.ParseMode(statusFlag)
	if err != nil {
		return fmt.Errorf("cliapp: %w", err)
	}

	patchline, _ := cmd.Flags().GetString("patchline")

	binPath, err := launcher.Find()
	if err != nil {
		log.Error("client binary not found", zap.Error(err))
		return err
	}

	credProvider := certstore.NewProvider(dir, log)
	cred, err := credProvider.Load(ctx)
	if err != nil {
		log.Error("failed to provision certificate", zap.Error(err))
		return err
	}
	tlsCert, err := cred.TLSCertificate()
	if err != nil {
		log.Error("failed to parse certificate", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(errShutdownRequested)

	statusSink := func(label string) {
		if tray {
			fmt.Printf("[deceive] appearing %s\n", label)
		}
	}
	onIdle := func() { cancel(errShutdownRequested) }

	sup := supervisor.New(mode, cfg.ConnectToMuc(), log, statusSink, onIdle)

	target := chattarget.NewCell()
	chatListener := chatintercept.NewListener(tlsCert, target, sup, log)
	c3Port, err := chatListener.Start()
	if err != nil {
		log.Error("failed to bind chat interceptor", zap.Error(err))
		return err
	}

	configListener := configintercept.New(c3Port, target, log)
	c2Port, err := configListener.Start()
	if err != nil {
		log.Error("failed to bind config interceptor", zap.Error(err))
		chatListener.Stop()
		return err
	}

	launcher.StopRunning(ctx, filepath.Base(binPath), log)
	if _, err := launcher.Launch(ctx, binPath, c2Port, game, patchline, log); err != nil {
		log.Error("failed to launch client", zap.Error(err))
		chatListener.Stop()
		_ = configListener.Stop()
		return err
	}

	if err := cfg.Set("defaultGame", game); err != nil {
		log.Warn("failed to persist default game", zap.Error(err))
	}
	if err := cfg.Set("defaultStatus", mode.Label()); err != nil {
		log.Warn("failed to persist default status", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel(errShutdownRequested)
	}()

	log.Info("deceive running", zap.Int("chat_port", c3Port), zap.Int("config_port", c2Port), zap.String("mode", mode.String()))

	<-ctx.Done()
	log.Info("shutting down")

	sup.Stop()
	chatListener.Stop()
	_ = configListener.Stop()

	// give in-flight writes a moment to flush before the process exits.
	time.Sleep(100 * time.Millisecond)

	if err := context.Cause(ctx); err != nil && !errors.Is(err, errShutdownRequested) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func configDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "deceive"), nil
}
