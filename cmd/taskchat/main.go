package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taskchat/internal/chat"
	"taskchat/internal/config"
	"taskchat/internal/dispatch"
	"taskchat/internal/logging"
	"taskchat/internal/perception"
	"taskchat/internal/rules"
	"taskchat/internal/server"
	"taskchat/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// chat command flags
	chatUser string
	chatConv string

	logger *zap.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "taskchat",
	Short: "taskchat - natural-language todo assistant",
	Long: `taskchat manages a per-user todo list through plain chat messages.

A language model extracts structured actions from each message; when the
model is unavailable or non-committal, a deterministic rule engine takes
over, so the assistant keeps working offline.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the HTTP service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the taskchat HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := configureLogging(cfg); err != nil {
			return err
		}
		defer logging.CloseAll()

		st, err := store.NewLocalStore(cfg.Store.DatabasePath, cfg.Chat.TaskRefPolicy)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		orch := chat.New(st, buildExtractor(cfg), rules.New(), dispatch.New(st), cfg.Chat)
		srv := server.New(cfg.Server, orch, st, nil)

		// Hot-reload the logging level on config edits.
		watcher, err := config.NewWatcher(configPath, func(fresh *config.Config) {
			logging.SetLevel(fresh.Logging.Level)
			logger.Info("Config reloaded", zap.String("log_level", fresh.Logging.Level))
		})
		if err != nil {
			logger.Warn("Config watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logging.Boot("Serving on %s (db %s)", cfg.Server.Addr(), cfg.Store.DatabasePath)
		logger.Info("taskchat listening",
			zap.String("addr", cfg.Server.Addr()),
			zap.Bool("llm_enabled", cfg.LLM.Enabled && cfg.LLM.APIKey != ""))

		return srv.ListenAndServe(ctx, cfg.Server.ShutdownTimeoutDuration())
	},
}

// chatCmd runs a single turn locally, without HTTP. Useful for smoke
// tests and offline use.
var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Run one chat turn against the local store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := configureLogging(cfg); err != nil {
			return err
		}
		defer logging.CloseAll()

		st, err := store.NewLocalStore(cfg.Store.DatabasePath, cfg.Chat.TaskRefPolicy)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		orch := chat.New(st, buildExtractor(cfg), rules.New(), dispatch.New(st), cfg.Chat)
		resp, err := orch.ProcessMessage(cmd.Context(), chatUser, chatConv, strings.Join(args, " "))
		if err != nil {
			return err
		}

		fmt.Println(resp.Response)
		if chatConv == "" {
			fmt.Fprintf(os.Stderr, "conversation: %s\n", resp.ConversationID)
		}
		return nil
	},
}

// versionCmd prints the build identity.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Default()
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	},
}

// buildExtractor assembles the model-backed extractor, or nil when the
// model is disabled or unconfigured.
func buildExtractor(cfg *config.Config) chat.IntentExtractor {
	if !cfg.LLM.Enabled || cfg.LLM.APIKey == "" {
		logging.Boot("Language model disabled, rule engine only")
		return nil
	}

	timeout, err := cfg.LLM.ParsedTimeout()
	if err != nil {
		// Load() validates this; belt and suspenders for hand-built configs.
		timeout = 0
	}

	client := perception.NewCohereClientWithConfig(perception.CohereConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     timeout,
	})
	cached := perception.NewCachingClient(client, cfg.LLM.CacheSize)
	return perception.NewExtractor(cached, timeout)
}

func configureLogging(cfg *config.Config) error {
	return logging.Configure(logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Dir:        cfg.Logging.Dir,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "taskchat.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose process logging")

	chatCmd.Flags().StringVar(&chatUser, "user", "local", "user id for the turn")
	chatCmd.Flags().StringVar(&chatConv, "conversation", "", "existing conversation id")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
