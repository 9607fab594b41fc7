package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"voxchat/internal/db"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	logFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "voxchat",
		Short:         "Realtime voice and text chat with an optional knowledge base",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default $VOXCHAT_CONFIG or config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format: console or json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file (chat defaults to <data dir>/voxchat.log)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging configures the global logger. When toFile is set and no
// --log-file was given, logs go to the data directory so the terminal
// stays free for the TUI. The returned closer is never nil.
func setupLogging(toFile bool) (io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid --log-level %q", logLevel)
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	path := logFile
	if path == "" && toFile {
		dir, err := db.DataDir()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create data dir")
		}
		path = filepath.Join(dir, "voxchat.log")
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", path)
		}
		out, closer = f, f
	}

	switch logFormat {
	case "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, NoColor: path != "", TimeFormat: time.DateTime}
	default:
		return nil, errors.Errorf("invalid --log-format %q (want console or json)", logFormat)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
