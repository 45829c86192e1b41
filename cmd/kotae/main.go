// Package main is the Kotae CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory takes precedence, and built-in defaults are used when
// neither file exists. .env files next to the config and in the current
// directory are loaded into the environment first. Returns the config and the
// path that was loaded, empty for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	resolved := path
	if path == defaultConfigPath {
		resolved = ""
		if cwd, err := os.Getwd(); err == nil {
			if fallback := filepath.Join(cwd, "config.yaml"); fileExists(fallback) {
				resolved = fallback
			}
		}
		if resolved == "" && fileExists(defaultConfigPath) {
			resolved = defaultConfigPath
		}
	}

	envFiles := []string{".env"}
	if resolved != "" {
		envFiles = append([]string{filepath.Join(filepath.Dir(resolved), ".env")}, envFiles...)
	}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, "", err
	}

	var cfg *config.Config
	if resolved == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.Load(resolved); err != nil {
			return nil, "", err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve", "server":
		runServe()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// fail prints err to stderr and exits. Configuration errors exit with 2.
func fail(prefix string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", prefix, err)
	if config.IsConfigurationError(err) {
		os.Exit(2)
	}
	os.Exit(1)
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fail("Failed to load config", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fail("Failed to create logger", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if components.Ingestor != nil && cfg.Ingest.OnStartupOrDefault() {
		report, err := components.Ingestor.Ingest(ctx, "", "")
		if err != nil {
			logger.Error("startup ingestion failed", zap.Error(err))
		} else {
			logger.Info("startup ingestion finished",
				zap.Bool("skipped", report.Skipped),
				zap.Int("upserted", report.Upserted))
		}
	}
	if ok, err := components.prepareIndex(ctx); err != nil {
		logger.Error("index unavailable", zap.Error(err))
	} else if !ok {
		logger.Warn("index not available; queries return not initialized",
			zap.String("index", cfg.VectorStore.IndexName),
			zap.String("reason", components.Engine.UnavailableReason()))
	}

	if cfg.Watch.Enabled {
		w, err := startWatcher(ctx, components, logger, debugMode)
		if err != nil {
			logger.Warn("corpus watcher not started", zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	opts := []server.Option{server.WithLedger(components.Ledger)}
	if components.Ingestor != nil {
		opts = append(opts,
			server.WithIngester(components.Ingestor),
			server.WithIngestHook(func(_ *models.IngestionReport, err error) {
				if err != nil {
					return
				}
				if _, err := components.attachIndex(context.Background()); err != nil {
					logger.Error("index unavailable after ingestion", zap.Error(err))
				}
			}))
	}
	srv := server.NewServer(components.Engine, cfg, logger, opts...)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

// startWatcher watches the corpus and marks the namespace stale in the ledger
// on every change. The index itself is not updated.
func startWatcher(ctx context.Context, c *Components, logger *zap.Logger, debug bool) (*watcher.Watcher, error) {
	cfg := c.Config
	index, ns := cfg.VectorStore.IndexName, cfg.VectorStore.Namespace
	onChange := func(ch watcher.Change) {
		n, err := c.Ledger.MarkStale(context.Background(), index, ns)
		if err != nil {
			logger.Warn("failed to mark ingestion stale", zap.String("path", ch.Path), zap.Error(err))
			return
		}
		logger.Warn("corpus changed after ingestion; index not updated",
			zap.String("path", ch.Path),
			zap.String("op", string(ch.Op)),
			zap.Int64("runs_marked_stale", n))
	}
	opts := []watcher.Option{
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithRecursive(cfg.Ingest.RecursiveOrDefault()),
	}
	if debug {
		opts = append(opts, watcher.WithLogger(logger))
	}
	w, err := watcher.New(cfg.Ingest.Directory, cfg.Ingest.Pattern, onChange, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	logger.Info("corpus watcher started", zap.String("root", w.Root()), zap.String("pattern", cfg.Ingest.Pattern))
	return w, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	dir := fs.String("dir", "", "corpus directory (default from config)")
	pattern := fs.String("pattern", "", "file name glob (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat, cli.OutputText, cli.OutputJSON)
	if err != nil {
		fail("Invalid flag", err)
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fail("Failed to load config", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug || *debug)
	if err != nil {
		fail("Failed to create logger", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		fail("Failed to initialize", err)
	}
	defer components.Close()

	report, err := components.Ingestor.Ingest(ctx, *dir, *pattern)
	if report != nil {
		if werr := cli.WriteIngestionReport(os.Stdout, report, format); werr != nil {
			fail("Output failed", werr)
		}
	}
	if err != nil {
		components.Close()
		fail("Ingestion failed", err)
	}
}

// printQueryUsage prints query subcommand usage.
func printQueryUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kotae query [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kotae query how many days of paid leave
  kotae query --k 3 "paid leave"
  kotae query --output answer lost laptop   # the text the dialogue agent receives
`)
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// queryArgsReorder moves flags (and their values) that appear after the query
// to the front so that flag.Parse sees them; it stops at the first non-flag.
func queryArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	k := fs.Int("k", 0, "number of passages (default from config)")
	outputFormat := fs.String("output", "text", "output format: text, json, or answer")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() { printQueryUsage(fs) }
	_ = fs.Parse(queryArgsReorder(os.Args[2:]))

	queryStr := buildQuery(fs.Args())
	if queryStr == "" {
		printQueryUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat, cli.OutputText, cli.OutputJSON, cli.OutputAnswer)
	if err != nil {
		fail("Invalid flag", err)
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fail("Failed to load config", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug || *debug)
	if err != nil {
		fail("Failed to create logger", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Lenient, so missing credentials surface as not initialized, as over HTTP.
	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		fail("Failed to initialize", err)
	}
	defer components.Close()

	response, err := components.queryIndex(ctx, &models.SearchQuery{Query: queryStr, K: *k})
	if err != nil {
		components.Close()
		fail("Query failed", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fail("Output failed", err)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat, cli.OutputText, cli.OutputJSON)
	if err != nil {
		fail("Invalid flag", err)
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fail("Failed to load config", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		fail("Failed to create logger", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		fail("Failed to initialize", err)
	}
	defer components.Close()
	if _, err := components.attachIndex(ctx); err != nil {
		logger.Warn("index unavailable", zap.Error(err))
	}

	st := server.CollectStatus(ctx, components.Engine, components.Ledger, cfg)
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fail("Output failed", err)
	}
}

func printUsage() {
	fmt.Println(`kotae - Retrieval core for a document question-answering agent

Usage:
  kotae serve [flags]            Ingest the corpus if needed and serve the HTTP API
  kotae ingest [flags]           Ingest the corpus once and print a report
  kotae query [flags] <query>    Retrieve passages for a query
  kotae status [flags]           Show index, namespace and ingestion status
  kotae version                  Show version
  kotae help                     Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml,
                     or ./config.yaml when present; built-in defaults otherwise)

Serve Flags:
  --debug            Enable debug logging

Ingest Flags:
  --dir string       Corpus directory (default from config)
  --pattern string   File name glob, e.g. "*.pdf" (default from config)
  --output string    text or json

Query Flags:
  --k int            Number of passages (default from config, 6)
  --output string    text, json, or answer

Status Flags:
  --output string    text or json

Credentials are read from the environment or a .env file next to the config:
  OPENAI_API_KEY, AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, DATABASE_URL`)
}
