package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inferloop/dart/internal/config"
	"github.com/inferloop/dart/pkg/constants"
)

// GlobalOptions are the persistent flags shared by every command
type GlobalOptions struct {
	ConfigFile string
	Verbose    bool
	LogLevel   string
	LogFormat  string

	viper *viper.Viper
}

// NewRootCmd builds the dart command tree
func NewRootCmd() *cobra.Command {
	g := &GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: "Disclosure Avoidance Redaction Tool",
		Long: `Redacts aggregated count tables so that no small count can be read off
or derived from the published figures.`,
		Version:       constants.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.ConfigFile, "config", "", "config file (default is $HOME/.dart.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&g.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&g.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&g.LogFormat, "log-format", "", "log format (json, text)")

	rootCmd.AddCommand(NewRedactCmd(g))
	rootCmd.AddCommand(NewValidateCmd(g))
	rootCmd.AddCommand(NewLogCmd(g))
	rootCmd.AddCommand(NewWatchCmd(g))
	rootCmd.AddCommand(NewConfigCmd(g))
	rootCmd.AddCommand(NewMigrateCmd(g))

	return rootCmd
}

// Load reads the configuration selected by --config
func (g *GlobalOptions) Load() (*config.Config, error) {
	g.viper = viper.New()
	cfg, err := config.Load(g.viper, g.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if g.Verbose && g.viper.ConfigFileUsed() != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", g.viper.ConfigFileUsed())
	}
	return cfg, nil
}

// Logger builds the process logger. Flags win over the config file. Logs go
// to stderr so command output can be piped.
func (g *GlobalOptions) Logger(cfg *config.Config) *logrus.Logger {
	level, format := constants.LogLevelWarn, constants.LogFormatText
	if cfg != nil {
		if cfg.Logging.Level != "" {
			level = cfg.Logging.Level
		}
		if cfg.Logging.Format != "" {
			format = cfg.Logging.Format
		}
	}
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	if g.LogFormat != "" {
		format = g.LogFormat
	}
	if g.Verbose {
		level = constants.LogLevelDebug
	}
	return setupLogger(level, format, os.Stderr)
}

func setupLogger(level, format string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == constants.LogFormatJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
