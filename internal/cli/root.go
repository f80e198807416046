// Package cli implements the loopmem CLI commands.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/loopmem/internal/config"
)

var (
	configPath string
	dbPath     string
	logLevel   string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "loopmem",
	Short: "Bounded memory for an endless generation loop",
	Long: "Keeps recent output in short-term memory, folds the oldest of it into searchable " +
		"long-term summaries, and builds a context that always fits the model window.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .yml or .json)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $LOOPMEM_STORE__PATH or ~/.loopmem/loopmem.db)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

// loadConfig applies the global flags on top of file and env settings.
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	overrides := map[string]interface{}{}
	if dbPath != "" {
		overrides["store.path"] = dbPath
	}
	if logLevel != "" {
		overrides["log.level"] = logLevel
	}
	for k, v := range extra {
		overrides[k] = v
	}
	return config.Load(configPath, overrides)
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func chromemDir(cfg *config.Config) string {
	if cfg.Store.ChromemDir != "" {
		return cfg.Store.ChromemDir
	}
	return filepath.Join(filepath.Dir(cfg.Store.Path), "chromem")
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
