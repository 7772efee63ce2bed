package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/keyanneal/internal/config"
	"github.com/cwbudde/keyanneal/internal/logging"
)

var (
	logLevel   string
	logFormat  string
	configPath string

	// fileCfg holds the values of the config file, loaded before every command
	fileCfg config.FileConfig
)

var rootCmd = &cobra.Command{
	Use:   "keyanneal",
	Short: "Keyboard layout optimization by simulated annealing",
	Long: `keyanneal searches for keyboard layouts that are easy to type a reference
text on. Layouts are scored by finger travel, hand balance and same-finger
strokes, and improved by simulated annealing with restarts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := logging.Setup(logLevel, logFormat, os.Stderr); err != nil {
			return err
		}

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fileCfg = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Config file (TOML)")
}
