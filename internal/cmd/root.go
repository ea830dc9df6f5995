// Package cmd provides the CLI commands for the happy sync client.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Enflame-Media/happy-sub000/internal/config"
	"github.com/Enflame-Media/happy-sub000/internal/logging"
)

var (
	// Global flags
	configPath    string
	serverURL     string
	debug         bool
	logLevel      string
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "happy",
	Short: "Happy - sync client for remote coding-agent sessions",
	Long: `Happy keeps a local, UI-ready view of remote coding-agent sessions in
sync with the session server: it folds pushed message batches through a
deterministic reducer and catches up incrementally after reconnects.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Priority: --log-level flag > --debug flag > config > default.
		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if serverURL != "" {
			cfg.Server.URL = serverURL
		}

		effectiveLevel := cfg.Log.Level
		if logLevel != "" {
			effectiveLevel = logLevel
		} else if debug {
			effectiveLevel = "debug"
		}
		components := cfg.Log.Components
		if logComponents != "" {
			components = nil
			for _, c := range strings.Split(logComponents, ",") {
				if c = strings.TrimSpace(c); c != "" {
					components = append(components, c)
				}
			}
		}
		logCfg := logging.Config{
			Level:      effectiveLevel,
			FileLevel:  cfg.Log.FileLevel,
			JSON:       cfg.Log.JSON,
			Components: components,
		}
		file := cfg.Log.File
		if logFile != "" {
			file = logFile
		}
		if file != "" {
			logCfg.FileLog = &logging.FileLogConfig{Path: file}
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (default: platform happyrc)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Session server URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g. 'sync,delta'). Empty means all.")
}
