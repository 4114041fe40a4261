// Package main is the shirabe CLI entry point.
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
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/cli"
	"github.com/hyperjump/shirabe/internal/indexer"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/server"
	"github.com/hyperjump/shirabe/internal/storage"
	"github.com/hyperjump/shirabe/internal/watcher"
)

var version = "dev"

const defaultServerURL = "http://localhost:8080"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "corpus":
		runCorpus()
	case "index":
		runIndex()
	case "rebuild":
		runRebuild()
	case "search":
		runSearch()
	case "reset":
		runReset()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("shirabe version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// exitErr prints err and exits with the code its class maps to.
func exitErr(prefix string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", prefix, err)
	os.Exit(apperr.ExitCode(err))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default ./config.yaml, then ~/"+defaultConfigName+")")
	debug := fs.Bool("debug", false, "enable debug logging")
	metricFlag := fs.String("metric", "", "metric to serve: l2 or cosine (default from config)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, metric := setup(*configPath, *debug, *metricFlag)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		exitErr("Failed to initialize components", err)
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.Engine.Load(ctx, components.Indexer.Store(metric)); err != nil {
		if errors.Is(err, apperr.ErrNoArtifact) {
			logger.Warn("no index artifact yet; run `shirabe rebuild` or POST /api/v1/index/rebuild",
				zap.String("metric", metric.String()))
		} else {
			logger.Error("index load failed; serving without an index", zap.Error(err))
		}
	}

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	if cfg.Watch.Enabled {
		idx, engine := components.Indexer, components.Engine
		watchSvc := watcher.NewWatcher(cfg.Storage.RawDir, cfg.Corpus.Extensions,
			func(ctx context.Context) {
				report, err := idx.RebuildIfChanged(ctx, cfg.Storage.RawDir, metric)
				if err != nil {
					logger.Warn("watch rebuild failed", zap.Error(err))
					return
				}
				if st := engine.Status(); report.Skipped && st.Loaded && st.Generation == report.Generation {
					return
				}
				if err := idx.Publish(ctx, engine, metric); err != nil {
					logger.Warn("watch publish failed", zap.String("generation", report.Generation), zap.Error(err))
					return
				}
				logger.Info("index republished",
					zap.String("generation", report.Generation),
					zap.Int("count", report.Count),
				)
			},
			watcher.WithDebounce(cfg.Watch.Debounce),
			watcher.WithLogger(logger),
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	opts := []server.Option{}
	if cfg.Metrics.EnabledOrDefault() {
		opts = append(opts, server.WithMetrics(components.Metrics))
	}
	srv := server.NewServer(components.Engine, components.Indexer, components.Catalog, cfg, metric, logger, opts...)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runCorpus() {
	fs := flag.NewFlagSet("corpus", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, _ := setup(*configPath, *debug, "")
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		exitErr("Failed to initialize components", err)
	}
	defer components.Close()

	ctx, stop := signalContext()
	defer stop()
	res, err := components.Indexer.BuildCorpus(ctx, cfg.Storage.RawDir)
	if err != nil {
		exitErr("Corpus build failed", err)
	}
	fmt.Printf("Wrote %d records to %s\n", len(res.Records), components.Indexer.CorpusPath())
	fmt.Printf("digest: %s\n", res.Digest)
	for _, name := range res.Skipped {
		fmt.Printf("skipped (empty): %s\n", name)
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	metricFlag := fs.String("metric", "", "l2 or cosine (default from config)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, metric := setup(*configPath, *debug, *metricFlag)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		exitErr("Failed to initialize components", err)
	}
	defer components.Close()

	ctx, stop := signalContext()
	defer stop()
	report, err := components.Indexer.BuildIndex(ctx, metric)
	if err != nil {
		exitErr("Index build failed", err)
	}
	printReport(report)
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	metricFlag := fs.String("metric", "", "l2 or cosine (default from config)")
	ifChanged := fs.Bool("if-changed", false, "skip the index build when the record store is unchanged")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, metric := setup(*configPath, *debug, *metricFlag)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		exitErr("Failed to initialize components", err)
	}
	defer components.Close()

	ctx, stop := signalContext()
	defer stop()
	var report *indexer.BuildReport
	if *ifChanged {
		report, err = components.Indexer.RebuildIfChanged(ctx, cfg.Storage.RawDir, metric)
	} else {
		report, err = components.Indexer.Rebuild(ctx, cfg.Storage.RawDir, metric)
	}
	if err != nil {
		exitErr("Rebuild failed", err)
	}
	printReport(report)
}

func printReport(r *indexer.BuildReport) {
	if r.Skipped {
		fmt.Printf("Record store unchanged; current index %s kept\n", r.Generation)
		return
	}
	fmt.Printf("Built %s index %s: %d vectors, %d dims, model %s in %s\n",
		r.Metric, r.Generation, r.Count, r.Dimension, r.ModelID, r.Duration.Round(time.Millisecond))
}

func runReset() {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	metricFlag := fs.String("metric", "", "l2 or cosine (default from config)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, metric := setup(*configPath, false, *metricFlag)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		exitErr("Failed to initialize components", err)
	}
	defer components.Close()

	if err := components.Indexer.Reset(context.Background(), metric); err != nil {
		exitErr("Reset failed", err)
	}
	fmt.Printf("Removed %s index artifacts from %s\n", metric, components.Indexer.Store(metric).Root())
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: shirabe search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  shirabe search beamforming optimization in 5G antenna arrays
  shirabe search --top-k 3 "thin film deposition"
  shirabe search --json --local "gear train backlash"    # no server needed
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the
// query to the front so flag.Parse sees them. The flag package stops at the
// first non-flag argument.
func searchArgsReorder(args []string) []string {
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

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (local mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL")
	local := fs.Bool("local", false, "search the on-disk index directly instead of the server")
	metricFlag := fs.String("metric", "", "l2 or cosine (local mode; default from config)")
	topK := fs.Int("top-k", 0, "number of results (default from config)")
	asJSON := fs.Bool("json", false, "print results as JSON")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(apperr.ExitCode(apperr.ErrInvalidQuery))
	}
	query := &models.SearchQuery{Query: queryStr}
	if *topK != 0 {
		query.TopK = topK
	}
	format := cli.FormatFor(*asJSON)

	if !*local {
		response, err := searchViaHTTP(*serverURL, query)
		if err != nil {
			exitErr("Search failed", err)
		}
		if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
			exitErr("Output failed", err)
		}
		return
	}

	cfg, logger, metric := setup(*configPath, false, *metricFlag)
	defer logger.Sync()
	if err := query.Validate(cfg.Search.DefaultTopK, cfg.Search.MaxTopK); err != nil {
		exitErr("Search failed", err)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		exitErr("Failed to initialize components", err)
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.Engine.Load(ctx, components.Indexer.Store(metric)); err != nil {
		exitErr("Index load failed", err)
	}
	start := time.Now()
	results, err := components.Engine.Search(ctx, query.Query, query.Limit(cfg.Search.DefaultTopK))
	if err != nil {
		exitErr("Search failed", err)
	}
	response := &models.SearchResponse{
		Query:     query.Query,
		Metric:    metric.String(),
		QueryTime: time.Since(start).Milliseconds(),
		Results:   results,
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		exitErr("Output failed", err)
	}
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp)
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

// serverError is a non-2xx reply. It unwraps to the error class its status
// stands for so exit codes match local mode.
type serverError struct {
	Status  int
	Message string
	kind    error
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *serverError) Unwrap() error { return e.kind }

func remoteError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(b))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	e := &serverError{Status: resp.StatusCode, Message: msg}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		e.kind = apperr.ErrInvalidQuery
	case http.StatusNotFound:
		e.kind = apperr.ErrNotFound
	case http.StatusUnprocessableEntity:
		e.kind = apperr.ErrEmptyCorpus
	case http.StatusServiceUnavailable:
		e.kind = apperr.ErrIndexNotLoaded
	}
	return e
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (local mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL")
	local := fs.Bool("local", false, "inspect on-disk state directly instead of asking the server")
	metricFlag := fs.String("metric", "", "l2 or cosine (local mode; default from config)")
	asJSON := fs.Bool("json", false, "print status as JSON")
	_ = fs.Parse(os.Args[2:])

	var report *cli.StatusReport
	if !*local {
		r, err := statusViaHTTP(*serverURL)
		if err != nil {
			exitErr("Status failed", err)
		}
		report = r
	} else {
		report = localStatus(*configPath, *metricFlag)
	}
	if err := cli.WriteStatus(os.Stdout, report, cli.FormatFor(*asJSON)); err != nil {
		exitErr("Output failed", err)
	}
}

func localStatus(configPath, metricFlag string) *cli.StatusReport {
	cfg, logger, metric := setup(configPath, false, metricFlag)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		exitErr("Failed to initialize components", err)
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.Engine.Load(ctx, components.Indexer.Store(metric)); err != nil && !errors.Is(err, apperr.ErrNoArtifact) {
		logger.Warn("index load failed", zap.Error(err))
	}
	report := &cli.StatusReport{Engine: components.Engine.Status()}
	if n, err := components.Catalog.CountDocuments(ctx); err == nil {
		report.Documents = &n
	}
	if b, err := components.Catalog.LatestBuild(ctx, metric.String()); err == nil {
		report.LastBuild = b
	}
	if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.CorpusPath, cfg.Storage.IndexDir); err == nil {
		report.DiskUsageBytes = &n
	}
	return report
}

func statusViaHTTP(serverURL string) (*cli.StatusReport, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp)
	}
	var report cli.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &report, nil
}

func printUsage() {
	fmt.Println(`shirabe - local semantic retrieval over a document corpus

Usage:
  shirabe server [flags]          Start the HTTP server
  shirabe corpus [flags]          Build the record store from the raw directory
  shirabe index [flags]           Build the vector index from the record store
  shirabe rebuild [flags]         corpus + index in one step
  shirabe search [flags] <query>  Search the index
  shirabe reset [flags]           Remove the index artifacts of a metric
  shirabe status [flags]          Show index, catalog and disk status
  shirabe version                 Show version
  shirabe help                    Show this help

Common Flags:
  --config string    Config file path (default ./config.yaml, then ~/.shirabe/config.yaml)
  --metric string    l2 or cosine (default from config)
  --debug            Enable debug logging

Search Flags:
  --top-k int        Number of results (default from config)
  --json             Print JSON
  --local            Use the on-disk index instead of the server
  --server string    Server URL (default: http://localhost:8080)

Rebuild Flags:
  --if-changed       Skip the index build when the record store is unchanged

Status Flags:
  --json             Print JSON
  --local            Inspect on-disk state instead of asking the server
  --server string    Server URL (default: http://localhost:8080)

Examples:
  shirabe rebuild
  shirabe server
  shirabe search "beamforming optimization in 5G antenna arrays"
  shirabe search --local --metric cosine --top-k 3 thin film deposition
  shirabe status --json`)
}
