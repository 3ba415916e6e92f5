package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"crosstalk/internal/banner"
	"crosstalk/internal/config"
)

// buildMeta holds version and build metadata (injectable via ldflags).
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("crosstalk %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

// version is set via -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "crosstalk.json"

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:   "crosstalk",
		Short: "Multi-provider LLM conversation bridge",
		Long:  "Crosstalk converses with multiple LLM providers through one interface, keeping per-project conversation history durable and inside each model's context window.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			if noBanner, _ := cmd.Flags().GetBool("no-banner"); !noBanner {
				banner.Startup(bm.Version, nil)
			}
			return cmd.Help()
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")
	root.Flags().Bool("no-banner", false, "skip the startup banner")
	root.PersistentFlags().String("config", defaultConfigPath, "path to config file")

	root.AddCommand(newInitCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newModelsCommand())
	root.AddCommand(newSummaryCommand())
	root.AddCommand(newClearCommand())
	root.AddCommand(newValidateCommand())
	return root
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.WriteDefault(path); err != nil {
				return fmt.Errorf("write default config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

// loadConfig reads the config file named by --config. A missing file at the
// default path is not fatal: the zero Config (in-memory store, text logging)
// applies.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
			return &config.Config{}, nil
		}
		return nil, err
	}
	return cfg, nil
}

// setupLogger installs the process slog handler per the config.
func setupLogger(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Infra.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Infra.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	bm := newBuildMeta(version, "", "")
	if err := newRootCommand(bm).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
