// Package main is the kotae CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kotae/config.yaml"
	defaultEnvFile    = ".env"
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence; when neither exists the built-in defaults are
// used. Environment variables and a .env file in the current directory override the file.
// Returns the config and the path that was actually loaded ("" for defaults).
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
	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, "", err
	}
	if err := config.ApplyEnv(cfg, defaultEnvFile); err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "build":
		runSync(true)
	case "sync":
		runSync(false)
	case "index":
		runIndex()
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

// Components holds the wired application services.
type Components struct {
	Storage  storage.Storage
	Pipeline *embedding.Pipeline
	Indexer  *indexer.Indexer
}

// Close releases all components.
func (c *Components) Close() {
	if c.Indexer != nil {
		_ = c.Indexer.Close()
	}
	if c.Pipeline != nil {
		_ = c.Pipeline.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// resolveIndexType falls back to the memory index when FAISS is requested but not compiled in.
func resolveIndexType(requested string, logger *zap.Logger) string {
	if requested == string(vector.IndexTypeFAISS) && !vector.IsFAISSAvailable() {
		logger.Warn("FAISS index requested but not available, falling back to memory",
			zap.String("requested_type", requested))
		return string(vector.IndexTypeMemory)
	}
	return requested
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	st, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.NewEmbedder(embedding.Options{
		Provider: cfg.Embedding.Provider,
		ONNX: embedding.ONNXOptions{
			ModelPath:   cfg.Embedding.ModelPath,
			LibraryPath: cfg.Embedding.LibraryPath,
			ModelName:   cfg.Embedding.ModelName,
			OutputName:  cfg.Embedding.OutputName,
			Dimensions:  cfg.Embedding.Dimensions,
			MaxTokens:   cfg.Embedding.MaxTokens,
		},
		CacheSize: cfg.Embedding.CacheSize,
	}, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	pipeline := embedding.NewPipeline(
		embedding.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		embedder,
	)

	indexType := resolveIndexType(cfg.Index.Type, logger)
	logger.Debug("vector index configured",
		zap.String("type", indexType),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	idx := indexer.New(cfg.Storage.IndexDir, pipeline, st, cfg.Ingest, extract.NewExtractor(),
		indexer.WithLogger(logger),
		indexer.WithStoreOptions(
			store.WithIndexType(indexType),
			store.WithMinScore(cfg.Query.MinScoreOrDefault()),
			store.WithDefaultTopK(cfg.Query.DefaultTopK),
		),
	)
	return &Components{Storage: st, Pipeline: pipeline, Indexer: idx}, nil
}

// setup loads config and builds a logger and the components, exiting on failure.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fail("%v", err)
	}
	return format
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx := components.Indexer
	if err := idx.Open(ctx); err != nil {
		logger.Fatal("Failed to open index", zap.Error(err))
	}

	if cfg.Ingest.Watch {
		w := watcher.New(cfg.Ingest.DataDir, cfg.Ingest.Extensions,
			func(ctx context.Context) {
				if _, err := idx.Sync(ctx, cfg.Ingest.DataDir); err != nil {
					logger.Warn("watch sync failed", zap.String("dir", cfg.Ingest.DataDir), zap.Error(err))
				}
			},
			watcher.WithDebounce(cfg.Ingest.Debounce),
			watcher.WithLogger(logger),
		)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		logger.Info("Watching data directory", zap.String("dir", w.Root()))
	}

	srv := server.NewServer(idx, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if err := idx.Save(); err != nil && !errors.Is(err, store.ErrIndexNotInitialized) {
		logger.Warn("index save on shutdown failed", zap.Error(err))
	}
}

func runSync(rebuild bool) {
	name := "sync"
	if rebuild {
		name = "build"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kotae %s [flags] [dir]\n\nDir defaults to ingest.data_dir and must lie within it.\n\n", name)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	dir := cfg.Ingest.DataDir
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}
	ctx := context.Background()
	if _, err := components.Indexer.LoadIfExists(); err != nil && !rebuild {
		fail("Failed to load index: %v", err)
	}
	var (
		result *indexer.SyncResult
		err    error
	)
	if rebuild {
		result, err = components.Indexer.Build(ctx, dir)
	} else {
		result, err = components.Indexer.Sync(ctx, dir)
	}
	if err != nil {
		fail("%s failed: %v", name, err)
	}
	if err := cli.WriteSyncResult(os.Stdout, result, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	title := fs.String("title", "", "document title (with --stdin)")
	stdin := fs.Bool("stdin", false, "read document content from stdin instead of a file")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kotae index [flags] <file>\n       kotae index --stdin [--title T]\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)
	if !*stdin && fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	_, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	if _, err := components.Indexer.LoadIfExists(); err != nil {
		fail("Failed to load index: %v", err)
	}
	if *stdin {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			fail("Failed to read stdin: %v", err)
		}
		doc, err := components.Indexer.IndexDocument(ctx, &models.DocumentInput{Title: *title, Content: string(content)})
		if err != nil {
			fail("Indexing failed: %v", err)
		}
		fmt.Printf("Indexed document %s\n", doc.ID)
		return
	}
	result, err := components.Indexer.IndexFile(ctx, fs.Arg(0))
	if err != nil {
		fail("Indexing failed: %v", err)
	}
	if err := cli.WriteSyncResult(os.Stdout, result, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func printQueryUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kotae query [flags] <text>\n\n")
	fmt.Fprintf(fs.Output(), "Text is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Hits scoring below query.min_score are dropped; when none remain the answer is
"%s".

Examples:
  kotae query how long do refunds take
  kotae query --top-k 5 --output json "shipping to canada"
  kotae query --server http://localhost:8080 return policy
`, models.NoMatchMessage)
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the query
// to the front so that flag.Parse sees them.
func argsReorder(args []string) []string {
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
	serverURL := fs.String("server", os.Getenv(config.EnvServerAddress), "server URL (empty = query the local index directly)")
	topK := fs.Int("top-k", 0, "number of results (0 = query.default_top_k)")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printQueryUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)

	text := buildQuery(fs.Args())
	if text == "" {
		printQueryUsage(fs)
		os.Exit(1)
	}
	req := &models.QueryRequest{Query: text, TopK: *topK}

	if *serverURL != "" {
		response, err := queryViaHTTP(*serverURL, req)
		if err != nil {
			fail("Query failed: %v", err)
		}
		if err := cli.WriteQueryResults(os.Stdout, response, format); err != nil {
			fail("Output failed: %v", err)
		}
		return
	}

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	if err := req.Validate(cfg.Query.DefaultTopK, cfg.Query.MaxTopK); err != nil {
		fail("%v", err)
	}
	ctx := context.Background()
	if err := components.Indexer.Open(ctx); err != nil {
		fail("Failed to open index: %v", err)
	}
	start := time.Now()
	results, err := components.Indexer.Query(ctx, req.Query, req.TopK)
	if err != nil {
		fail("Query failed: %v", err)
	}
	response := &models.QueryResponse{
		Query:     req.Query,
		TopK:      req.TopK,
		Results:   results,
		QueryTime: time.Since(start).Milliseconds(),
	}
	if err := cli.WriteQueryResults(os.Stdout, response, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func queryViaHTTP(serverURL string, req *models.QueryRequest) (*models.QueryResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var response models.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", os.Getenv(config.EnvServerAddress), "server URL (empty = read the local index directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var status *models.StatusResponse
	if *serverURL != "" {
		s, err := statusViaHTTP(*serverURL)
		if err != nil {
			fail("Status failed: %v", err)
		}
		status = s
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		if _, err := components.Indexer.LoadIfExists(); err != nil {
			fail("Failed to load index: %v", err)
		}
		s, err := components.Indexer.Status(context.Background())
		if err != nil {
			fail("Status failed: %v", err)
		}
		status = s
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func statusViaHTTP(serverURL string) (*models.StatusResponse, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var status models.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &status, nil
}

func printUsage() {
	fmt.Println(`kotae - embedding index store for support retrieval

Usage:
  kotae server [flags]            Start the HTTP server (loads or builds the index)
  kotae build [flags] [dir]       Rebuild the index from a data directory
  kotae sync [flags] [dir]        Add new files, rebuild on changes or deletions
  kotae index [flags] <file>      Index a single file (or --stdin)
  kotae query [flags] <text>      Retrieve the most relevant chunks
  kotae status [flags]            Show catalog and index status
  kotae version                   Print version
  kotae help                      Show this help

Config: ./config.yaml or /usr/local/etc/kotae/config.yaml; KOTAE_* variables
and a .env file in the working directory override it.`)
}
