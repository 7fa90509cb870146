package commands

import (
	"github.com/spf13/cobra"

	simshare "github.com/sammck-go/simrelay/share"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

func Execute() error {
	root := &cobra.Command{
		Use:           "simrelay",
		Short:         "Relay a running simulation to remote operators over websockets",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (error, warning, info, debug, trace)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")

	root.AddCommand(serveCmd(), connectCmd(), gencertCmd(), versionCmd())
	return root.Execute()
}

// loadConfig reads --config (or the defaults) and applies the global log flags
func loadConfig() (*simshare.Config, error) {
	cfg := simshare.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = simshare.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	return cfg, nil
}

// cliLogLevel returns the level for commands that run without a relay config
func cliLogLevel() simshare.LogLevel {
	lvl := simshare.StringToLogLevel(logLevel)
	if lvl == simshare.LogLevelUnknown {
		lvl = simshare.LogLevelInfo
	}
	return simshare.LogLevelFromEnv(lvl)
}
