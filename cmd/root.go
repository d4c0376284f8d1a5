package cmd

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teemow/calagent/internal/logging"
)

// rootCmd represents the base command for the calagent application
var rootCmd = &cobra.Command{
	Use:   "calagent",
	Short: "Turns plain-language requests into Google Calendar events",
	Long: `calagent reads a request such as "dentist friday at 3pm for an hour",
optionally together with a file like a flyer or a screenshot, asks Gemini to
extract the events it describes and adds them to your Google Calendar.

It can run as:
  - An HTTP API (serve)
  - A one-shot or interactive CLI (schedule)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initConfig(cmd)
	},
}

// version will be set by main
var version = "dev"

var (
	configFile string
	debugMode  bool
	logFormat  string

	cfg *Config
)

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "calagent version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file. Can also use CALAGENT_CONFIG env var.")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json. Can also use LOG_FORMAT env var.")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newScheduleCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig loads .env, the config file and the environment, then installs
// the default logger.
func initConfig(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env file", logging.Err(err))
	}

	path := configFile
	if !cmd.Flags().Changed("config") {
		if env := os.Getenv("CALAGENT_CONFIG"); env != "" {
			path = env
		}
	}

	loaded, err := loadConfig(path)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-format") {
		loaded.Log.Format = logFormat
	}
	if debugMode {
		loaded.Log.Level = "debug"
	}
	cfg = loaded

	slog.SetDefault(newLogger(cfg.Log.Format))
	return nil
}

// newLogger creates the process logger on stderr.
func newLogger(format string) *slog.Logger {
	if format == "" {
		format = logging.FormatText
	}
	return logging.New(os.Stderr, format, logging.ParseLevel(cfg.Log.Level))
}
