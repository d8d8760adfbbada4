package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"clip_bot/internal/bot"
	"clip_bot/internal/chat"
	"clip_bot/internal/config"
	"clip_bot/internal/extractor"
	"clip_bot/internal/links"
	"clip_bot/internal/pipeline"
	"clip_bot/internal/recovery"
	"clip_bot/internal/storage"
	"clip_bot/internal/vault"
)

var historyLimit int

var rootCmd = &cobra.Command{
	Use:          "clip-bot",
	Short:        "Save links posted in chat as Markdown notes in an Obsidian vault",
	SilenceUsage: true,
	RunE:         runBot,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the configured channel and clip posted links (default)",
	RunE:  runBot,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the vault is reachable and the database is migrated",
	RunE:  runCheck,
}

var clipCmd = &cobra.Command{
	Use:   "clip <url>",
	Short: "Clip a single URL into the vault",
	Args:  cobra.ExactArgs(1),
	RunE:  runClip,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently clipped links",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")
	rootCmd.AddCommand(runCmd, checkCmd, clipCmd, historyCmd)
}

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel)

	store, err := openStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	adapter, err := chat.New(cfg, store, log)
	if err != nil {
		return fmt.Errorf("create %s adapter: %w", cfg.Platform, err)
	}
	defer func() { _ = adapter.Close() }()

	browser := extractor.NewBrowser(cfg.ChromePath, cfg.RenderTimeout, cfg.RenderSettle, log)
	defer func() { _ = browser.Close() }()

	pipe, err := newPipeline(cfg, store, adapter, browser, log)
	if err != nil {
		return err
	}
	scanner := recovery.New(adapter, pipe, recovery.Options{
		Limit:    cfg.RecoveryLimit,
		Interval: cfg.RescanInterval,
		Allowed:  cfg.IsUserAllowed,
	}, log)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "platform", adapter.Name(), "vault", cfg.VaultURL, "folder", cfg.DestinationFolder)

	if err := bot.New(adapter, pipe, scanner, cfg.IsUserAllowed, log).Run(ctx); err != nil {
		return err
	}

	log.Info("bot stopped")
	return nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadOffline()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	schema, err := store.SchemaVersion(cmd.Context())
	if err != nil {
		return err
	}
	reachable := vault.New(http.DefaultClient, cfg.VaultURL, cfg.VaultAPIKey).Probe(cmd.Context())

	fmt.Fprint(cmd.OutOrStdout(), bot.FormatCheck(cfg.VaultURL, reachable, schema))
	if !reachable {
		return fmt.Errorf("vault at %s is not reachable", cfg.VaultURL)
	}
	return nil
}

func runClip(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOffline()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel)

	store, err := openStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	browser := extractor.NewBrowser(cfg.ChromePath, cfg.RenderTimeout, cfg.RenderSettle, log)
	defer func() { _ = browser.Close() }()

	// No chat message is involved, so there is nothing to react to.
	pipe, err := newPipeline(cfg, store, nil, browser, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rec, err := pipe.ClipURL(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), bot.FormatClip(rec))
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadOffline()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.ListClips(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), bot.FormatClipList(records))
	return nil
}

func newPipeline(cfg *config.Config, store storage.Storage, r pipeline.Reactor, browser *extractor.Browser, log *slog.Logger) (*pipeline.Pipeline, error) {
	rules, err := links.NewRules(cfg.ExcludeURLPatterns)
	if err != nil {
		return nil, fmt.Errorf("compile exclude patterns: %w", err)
	}
	ex := extractor.New(
		extractor.NewFeedHandler(http.DefaultClient),
		extractor.NewPageHandler(browser),
	)
	v := vault.New(http.DefaultClient, cfg.VaultURL, cfg.VaultAPIKey)
	return pipeline.New(v, ex, store, r, pipeline.Options{
		Folder: cfg.DestinationFolder,
		Rules:  rules,
	}, log), nil
}

func openStore(path string) (*storage.SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	store, err := storage.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return store, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
