// Package appconfig persists the small set of user settings that survive
// a relaunch: last-used game, presence status, the version the user was
// last prompted about, and whether MUC presence passes through untouched.
package appconfig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix          = "DECEIVE"
	configFileBaseName = "deceive"
)

// Store wraps a viper instance bound to persisted settings, environment
// variables, and CLI flags, following the same precedence order as the
// teacher's loadConfig helper: flags > env > file > defaults.
type Store struct {
	v   *viper.Viper
	dir string
}

// Load reads (or initializes) the config file under dir and binds cmd's
// flags on top of it.
func Load(dir string, cmd *cobra.Command) (*Store, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName(configFileBaseName)
	v.AddConfigPath(dir)

	v.SetDefault("defaultGame", "prompt")
	v.SetDefault("defaultStatus", "offline")
	v.SetDefault("lastPromptedVersion", "")
	v.SetDefault("connectToMuc", true)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("appconfig: read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return nil, fmt.Errorf("appconfig: bind flags: %w", err)
		}
	}

	return &Store{v: v, dir: dir}, nil
}

func (s *Store) DefaultGame() string         { return s.v.GetString("defaultGame") }
func (s *Store) DefaultStatus() string       { return s.v.GetString("defaultStatus") }
func (s *Store) LastPromptedVersion() string { return s.v.GetString("lastPromptedVersion") }
func (s *Store) ConnectToMuc() bool          { return s.v.GetBool("connectToMuc") }

// Set persists a single key and writes the config file back out.
func (s *Store) Set(key string, value any) error {
	s.v.Set(key, value)
	if err := s.v.WriteConfigAs(s.path()); err != nil {
		return fmt.Errorf("appconfig: write config: %w", err)
	}
	return nil
}

func (s *Store) path() string {
	return s.dir + "/" + configFileBaseName + ".yaml"
}
