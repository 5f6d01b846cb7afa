package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/laerdal/simimager/internal/auth"
	"github.com/laerdal/simimager/internal/config"
	"github.com/laerdal/simimager/internal/download"
	"github.com/laerdal/simimager/internal/engine"
	"github.com/laerdal/simimager/internal/ghapi"
	"github.com/laerdal/simimager/internal/inspect"
	"github.com/laerdal/simimager/internal/source/cdn"
	"github.com/laerdal/simimager/internal/source/ci"
	"github.com/laerdal/simimager/internal/store"
)

var (
	// Global flags
	cfgPath   string
	dataDir   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore  *store.Store
	globalEngine *engine.Aggregator
)

// initializeComponents wires the store, API client, sources, and the
// aggregator from the loaded config
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if err := os.MkdirAll(globalCfg.Data.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.New(globalCfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st

	var tokens auth.TokenSource = auth.EnvToken{}
	if globalCfg.GitHub.Token != "" {
		tokens = auth.StaticToken(globalCfg.GitHub.Token)
	}

	api := ghapi.NewClient(tokens, logger)
	if globalCfg.GitHub.BaseURL != "" {
		api.SetBaseURL(globalCfg.GitHub.BaseURL)
	}

	cdnSrc := cdn.New(logger)
	if globalCfg.CDN.BaseURL != "" {
		cdnSrc.SetBaseURL(globalCfg.CDN.BaseURL)
	}

	globalEngine = engine.New(engine.Config{
		API:        api,
		CDN:        cdnSrc,
		GitHub:     ci.New(api, logger),
		Store:      st,
		Downloader: download.NewDownloader(api, st, logger),
		Inspector:  inspect.New(logger),
		CacheDir:   globalCfg.CacheDir(),
		Logger:     logger,
	})

	logger.Debug("components initialized")
	return nil
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simimager",
		Short: "Firmware image acquisition tool for simulator devices",
		Long: `simimager discovers, downloads, and inspects device firmware images.
Images are sourced from the factory-image CDN and from GitHub releases
and CI build artifacts of registered repositories. Artifact downloads
are resumable across process restarts.`,
		Example: `  simimager list
  simimager list --source github --device imx8
  simimager repos add acme/firmware
  simimager inspect 123456 --repo acme/firmware
  simimager resume
  simimager env test`,
		Version: "1.0.0",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults")
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if dataDir != "" {
				globalCfg.Data.DataDir = dataDir
			}

			return initializeComponents()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override data directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newListCmd(),
		newReposCmd(),
		newBranchesCmd(),
		newInspectCmd(),
		newResumeCmd(),
		newDiscardCmd(),
		newEnvCmd(),
		newStatusCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

// splitRepoArg parses an "owner/name" argument.
func splitRepoArg(arg string) (owner, repo string, err error) {
	parts := strings.Split(arg, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected owner/name, got %q", arg)
	}
	return parts[0], parts[1], nil
}
