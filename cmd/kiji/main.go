// Package main is the kiji CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/embedding"
	"github.com/hyperjump/kiji/internal/index"
	"github.com/hyperjump/kiji/internal/keyword"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/refresh"
	"github.com/hyperjump/kiji/internal/rerank"
	"github.com/hyperjump/kiji/internal/retrieve"
	"github.com/hyperjump/kiji/internal/server"
	"github.com/hyperjump/kiji/internal/spool"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vector"
	"github.com/hyperjump/kiji/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kiji/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "kiji server" from the project dir uses the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
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
	case "query":
		runQuery()
	case "ingest":
		runIngest()
	case "keyword":
		runKeyword()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kiji version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (retrieval scores, spool events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Storage.SpoolPath != "" {
		spoolOpts := []spool.Option{spool.WithLogger(logger)}
		spoolWatcher := spool.NewWatcher(cfg.Storage.SpoolPath, components.Coordinator, spoolOpts...)
		if err := spoolWatcher.Start(ctx); err != nil {
			logger.Fatal("Failed to start spool watcher", zap.Error(err))
		}
		defer spoolWatcher.Stop()
	}

	if cfg.Refresh.Enabled && cfg.Refresh.SourceURL != "" {
		interval := time.Duration(cfg.Refresh.IntervalMinutes) * time.Minute
		source := refresh.NewHTTPSource(cfg.Refresh.SourceURL, 2*time.Minute)
		scheduler := refresh.NewScheduler(source, components.Coordinator, interval, refresh.WithLogger(logger))
		scheduler.Start(ctx)
		defer scheduler.Stop()
		logger.Info("periodic refresh enabled",
			zap.String("source", cfg.Refresh.SourceURL),
			zap.Duration("interval", interval),
		)
	}

	srv := server.NewServer(components.Coordinator, components.Retriever, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
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
}

// buildQuestion joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	topK := fs.Int("top-k", 0, "number of passages to return (0 = configured default)")
	minCosine := fs.Float64("min-cosine", 0, "minimum cosine similarity (0 = configured default)")
	daysFilter := fs.Int("days", 0, "maximum article age in days (0 = configured default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kiji query [flags] <question>")
		os.Exit(1)
	}
	question := buildQuestion(fs.Args())
	if question == "" {
		fmt.Println("Usage: kiji query [flags] <question>")
		os.Exit(1)
	}

	query := &models.RetrieveQuery{
		Question:   question,
		TopK:       *topK,
		MinCosine:  *minCosine,
		DaysFilter: *daysFilter,
	}

	var response *models.RetrieveResponse
	if *serverURL != "" {
		// Use the HTTP API when the server is running (avoids SQLite/Bleve
		// lock conflict).
		var err error
		response, err = queryViaHTTP(*serverURL, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()

		components, err := initializeComponents(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()

		response, err = components.Retriever.Retrieve(context.Background(), query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(response); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		if len(response.Passages) == 0 {
			fmt.Println("No passages found.")
			return
		}
		for i, p := range response.Passages {
			fmt.Printf("%d. %s (%s)\n", i+1, p.Title, p.PublishedAt.Format("2006-01-02"))
			fmt.Printf("   %s\n", p.URL)
			fmt.Printf("   score=%.3f cosine=%.3f freshness=%.3f\n", p.Score, p.CosineScore, p.FreshnessScore)
			fmt.Printf("   %s\n\n", utils.Truncate(p.Text, 300))
		}
		fmt.Printf("%d passage(s) in %dms\n", len(response.Passages), response.QueryTime)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func queryViaHTTP(serverURL string, query *models.RetrieveQuery) (*models.RetrieveResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.RetrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kiji ingest [flags] <batch.json>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read batch file: %v\n", err)
		os.Exit(1)
	}
	var articles []*models.ArticleInput
	if err := json.Unmarshal(data, &articles); err != nil {
		fmt.Fprintf(os.Stderr, "Malformed batch file: %v\n", err)
		os.Exit(1)
	}

	if *serverURL != "" {
		resp, err := http.Post(*serverURL+"/api/v1/ingest", "application/json", bytes.NewReader(data))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Ingest failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out struct {
			ChunksAdded int `json:"chunks_added"`
			CorpusSize  int `json:"corpus_size"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %d chunk(s) from %d article(s); corpus size %d\n",
			out.ChunksAdded, len(articles), out.CorpusSize)
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	added, err := components.Coordinator.Ingest(context.Background(), articles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %d chunk(s) from %d article(s); corpus size %d\n",
		added, len(articles), components.Coordinator.Size())
}

func runKeyword() {
	fs := flag.NewFlagSet("keyword", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	limit := fs.Int("limit", 10, "number of hits")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kiji keyword [flags] <terms>")
		os.Exit(1)
	}
	query := buildQuestion(fs.Args())

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/keyword?q=%s&limit=%d",
		*serverURL, url.QueryEscape(query), *limit))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Keyword search failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Hits []*index.KeywordHit `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	if len(out.Hits) == 0 {
		fmt.Println("No hits.")
		return
	}
	for i, h := range out.Hits {
		fmt.Printf("%d. [%.3f] %s\n   %s\n", i+1, h.Score, h.Chunk.Title, h.Chunk.URL)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var report *index.Report
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		report = res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		report, err = components.Coordinator.Report(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("chunks:        %d\n", report.TotalChunks)
		fmt.Printf("articles:      %d\n", report.TotalArticles)
		fmt.Printf("vectors:       %d\n", report.VectorCount)
		fmt.Printf("keyword_docs:  %d\n", report.KeywordDocs)
		fmt.Printf("disk_bytes:    %d\n", report.DiskBytes)
		fmt.Printf("consistent:    %t\n", report.Consistent)
		if !report.OldestArticle.IsZero() {
			fmt.Printf("oldest:        %s\n", report.OldestArticle.Format("2006-01-02"))
			fmt.Printf("newest:        %s\n", report.NewestArticle.Format("2006-01-02"))
		}
		for lang, n := range report.ByLanguage {
			fmt.Printf("language %-6s %d\n", lang+":", n)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*index.Report, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var report index.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &report, nil
}

// Components holds initialized services.
type Components struct {
	Store       storage.MetadataStore
	Embedder    embedding.Embedder
	Reranker    rerank.Reranker
	Coordinator *index.Coordinator
	Retriever   *retrieve.Retriever
}

func (c *Components) Close() {
	if c.Coordinator != nil {
		_ = c.Coordinator.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Reranker != nil {
		_ = c.Reranker.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metadata store: %w", err)
	}

	vectorIndex, err := vector.NewFlatIndex(cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	coordinator := index.NewCoordinator(vectorIndex, store, &cfg.Storage,
		index.WithLogger(logger),
		index.WithKeywordIndex(keywordIndex),
	)
	if err := coordinator.Open(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	httpEmbedder, err := embedding.NewHTTPEmbedder(
		cfg.Embedding.ServiceURL,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
		time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	embedder := embedding.NewCachedEmbedder(httpEmbedder, cfg.Embedding.CacheSize)

	reranker, err := rerank.NewHTTPReranker(
		cfg.Rerank.ServiceURL,
		cfg.Rerank.Model,
		time.Duration(cfg.Rerank.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reranker: %w", err)
	}

	retriever := retrieve.NewRetriever(coordinator, embedder, reranker, &cfg.Retrieval,
		retrieve.WithLogger(logger))

	return &Components{
		Store:       store,
		Embedder:    embedder,
		Reranker:    reranker,
		Coordinator: coordinator,
		Retriever:   retriever,
	}, nil
}

func printUsage() {
	fmt.Println(`kiji - News retrieval service (vector store + two-stage ranking)

Usage:
  kiji server [flags]             Start the HTTP server
  kiji query [flags] <question>   Retrieve passages for a question
  kiji ingest [flags] <batch>     Ingest a JSON article batch
  kiji keyword [flags] <terms>    Keyword lookup over indexed chunks
  kiji status [flags]             Show corpus and store status
  kiji version                    Show version
  kiji help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kiji/config.yaml)
  --debug            Enable debug logging (retrieval scores, spool events, etc.)

Query Flags:
  --server string     Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --config string     Config file path (for direct storage mode)
  --top-k int         Number of passages (default from config)
  --min-cosine float  Minimum cosine similarity (default from config)
  --days int          Maximum article age in days (default from config)
  --output string     Output format: text or json (default: text)

Ingest Flags:
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --config string    Config file path (for direct storage mode)

Keyword Flags:
  --server string    Server URL (default: http://localhost:8080)
  --limit int        Number of hits (default: 10)

Status Flags:
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --config string    Config file path (for direct storage mode)
  --output string    Output format: text or json (default: text)

Examples:
  kiji server
  kiji query "What did the ministry announce about hydropower?"
  kiji query --top-k 5 --days 7 election results
  kiji ingest batch.json
  kiji keyword hydropower
  kiji status --output json`)
}
