// Package main is the diaryrag CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/diaryrag/internal/aggregate"
	"github.com/hyperjump/diaryrag/internal/cli"
	"github.com/hyperjump/diaryrag/internal/command"
	"github.com/hyperjump/diaryrag/internal/config"
	"github.com/hyperjump/diaryrag/internal/embedding"
	"github.com/hyperjump/diaryrag/internal/metrics"
	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/internal/search"
	"github.com/hyperjump/diaryrag/internal/server"
	"github.com/hyperjump/diaryrag/internal/storage"
	"github.com/hyperjump/diaryrag/internal/watcher"
	"github.com/hyperjump/diaryrag/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "~/.diaryrag/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml in
// the current directory wins, so running from a project dir uses its config.
// A missing file yields the defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(local); err == nil {
				path = local
			}
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}
	name, rest := args[0], args[1:]
	switch name {
	case "server":
		return runServer(rest, stderr)
	case "import":
		return runImport(rest, stdout, stderr)
	case command.Search, command.Upsert, command.Delete, command.Aggregate,
		command.Flatten, command.Report, command.Status:
		return runCommand(name, rest, stdin, stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "diaryrag version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", name)
		printUsage(stderr)
		return 1
	}
}

type commandFlags struct {
	configPath string
	debug      bool
	jsonMode   bool
	output     string
	limit      int
	threshold  float64
	id         int64
	date       string
	title      string
	captions   string
	save       bool
	set        map[string]bool
}

func parseCommandFlags(name string, args []string, stderr io.Writer) (*commandFlags, []string, error) {
	f := &commandFlags{set: make(map[string]bool)}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", defaultConfigPath, "config file path")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&f.jsonMode, "json", false, "read the JSON request from stdin and write one JSON response")
	fs.StringVar(&f.output, "output", "text", "output format for arguments mode: text or json")
	fs.IntVar(&f.limit, "limit", 0, "search: maximum number of results")
	fs.Float64Var(&f.threshold, "threshold", 0, "search: minimum cosine similarity")
	fs.Int64Var(&f.id, "id", 0, "upsert: diary id")
	fs.StringVar(&f.date, "date", "", "upsert: diary date")
	fs.StringVar(&f.title, "title", "", "upsert: diary title")
	fs.StringVar(&f.captions, "captions", "", "upsert: comma-separated photo captions")
	fs.BoolVar(&f.save, "save", false, "aggregate: write a timestamped results file")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return nil, nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, fs.Args(), nil
}

// argsReorder moves flags that follow positional arguments to the front, so
// "diaryrag search 걸음마 -limit 3" parses like "diaryrag search -limit 3 걸음마".
func argsReorder(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		if strings.Contains(a, "=") || isBoolFlag(a) {
			continue
		}
		if i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(arg string) bool {
	switch strings.TrimLeft(arg, "-") {
	case "debug", "json", "save":
		return true
	}
	return false
}

// buildQuery joins positional arguments into one query string.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// buildRequest turns positional arguments and flags into the JSON request of a command.
func buildRequest(name string, args []string, f *commandFlags) (json.RawMessage, error) {
	req := make(map[string]any)
	switch name {
	case command.Search:
		req["query"] = buildQuery(args)
		if f.set["limit"] {
			req["limit"] = f.limit
		}
		if f.set["threshold"] {
			req["threshold"] = f.threshold
		}
	case command.Upsert:
		if f.set["id"] {
			req["id"] = f.id
		}
		if f.date != "" || f.title != "" {
			req["content"] = buildQuery(args)
		} else {
			req["text"] = buildQuery(args)
		}
		req["date"] = f.date
		req["title"] = f.title
		if f.captions != "" {
			req["captions"] = strings.Split(f.captions, ",")
		}
	case command.Delete:
		if len(args) != 1 {
			return nil, errors.New("usage: diaryrag delete <id>")
		}
		req["id"] = args[0]
	case command.Aggregate, command.Flatten, command.Report:
		req["questions"] = args
		req["save"] = f.save
	}
	return json.Marshal(req)
}

// stdinPiped reports whether r carries piped input rather than a terminal.
func stdinPiped(r io.Reader) bool {
	file, ok := r.(*os.File)
	if !ok {
		return true
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice == 0
}

func runCommand(name string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	f, positional, err := parseCommandFlags(name, args, stderr)
	if err != nil {
		return 2
	}
	jsonIn := f.jsonMode || (len(positional) == 0 && name != command.Status && stdinPiped(stdin))
	jsonOut := jsonIn || f.output == string(cli.OutputJSON)

	var raw json.RawMessage
	if jsonIn {
		raw, err = io.ReadAll(stdin)
		if err != nil {
			return writeFailure(stdout, fmt.Errorf("failed to read stdin: %w", err))
		}
	} else {
		if len(positional) == 0 && name != command.Status {
			fmt.Fprintf(stderr, "Usage: diaryrag %s [flags] <input>\n", name)
			return 1
		}
		raw, err = buildRequest(name, positional, f)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	cfg, _, err := loadConfig(f.configPath)
	if err != nil {
		return writeFailure(stdout, err)
	}
	logger, err := utils.NewStderrLogger(cfg.Debug || f.debug)
	if err != nil {
		return writeFailure(stdout, err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, nil)
	if err != nil {
		return writeFailure(stdout, err)
	}
	defer components.Close()

	resp := components.Dispatcher.Handle(ctx, name, raw)
	if jsonOut {
		if err := cli.WriteJSON(stdout, resp); err != nil {
			return writeFailure(stdout, fmt.Errorf("failed to encode response: %w", err))
		}
	} else {
		writeText(stdout, stderr, resp)
	}
	if !resp.Success {
		return 1
	}
	return 0
}

func writeText(stdout, stderr io.Writer, resp command.Response) {
	if !resp.Success {
		fmt.Fprintf(stderr, "Error: %s\n", resp.Message)
		return
	}
	switch p := resp.Payload.(type) {
	case *models.SearchResponse:
		_ = cli.WriteSearchResults(stdout, p, cli.OutputText)
	case *command.AggregateOutput:
		_ = cli.WriteAggregate(stdout, p.AggregateResult, cli.OutputText)
		if p.SavedTo != "" {
			fmt.Fprintf(stdout, "Results saved to %s\n", p.SavedTo)
		}
	case aggregate.Flattened:
		fmt.Fprintln(stdout, p.DiaryString)
	default:
		if resp.Message != "" {
			fmt.Fprintln(stdout, resp.Message)
		}
		enc := json.NewEncoder(stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp.Payload)
	}
}

// writeFailure prints the failure envelope on stdout, where callers expect the
// response, and returns the exit code.
func writeFailure(stdout io.Writer, err error) int {
	_ = cli.WriteJSON(stdout, map[string]any{"success": false, "message": err.Error()})
	return 1
}

func runImport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: diaryrag import [flags] <diaries.json>")
		return 1
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return writeFailure(stdout, fmt.Errorf("failed to read import file: %w", err))
	}
	raw := json.RawMessage(data)
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		raw = json.RawMessage(`{"diaries": ` + string(trimmed) + `}`)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return writeFailure(stdout, err)
	}
	logger, err := utils.NewStderrLogger(cfg.Debug || *debug)
	if err != nil {
		return writeFailure(stdout, err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger, nil)
	if err != nil {
		return writeFailure(stdout, err)
	}
	defer components.Close()

	resp := components.Dispatcher.Handle(ctx, command.Import, raw)
	if err := cli.WriteJSON(stdout, resp); err != nil {
		return writeFailure(stdout, fmt.Errorf("failed to encode response: %w", err))
	}
	if !resp.Success {
		return 1
	}
	return 0
}

func runServer(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	logger.Info("config loaded", zap.String("config_path", resolvedConfigPath), zap.Bool("debug", debugMode))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger, m)
	if err != nil {
		logger.Error("Failed to initialize components", zap.Error(err))
		return 1
	}
	defer components.Close()

	if cfg.Store.Blob.Watch && cfg.Store.Blob.Dir != "" {
		if indexed, ok := components.Store.(*storage.IndexedStore); ok {
			w := watcher.New(cfg.Store.Blob.Dir, []string{".json"}, func(paths []string) {
				logger.Info("blob files changed, index will be rebuilt", zap.Int("files", len(paths)))
				indexed.Invalidate()
			}, watcher.WithLogger(logger))
			if err := w.Start(ctx); err != nil {
				logger.Error("Failed to start watcher", zap.Error(err))
				return 1
			}
			defer w.Stop()
		} else {
			logger.Warn("store.blob.watch needs store.index to be set; not watching")
		}
	}

	srv := server.NewServer(components.Dispatcher, &cfg.Server, logger, m)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
		return 1
	}

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	return 0
}

// Components holds initialized services.
type Components struct {
	Embedder   embedding.Embedder
	Store      storage.Store
	Service    *search.Service
	Dispatcher *command.Dispatcher
}

// Close releases the store and the embedder.
func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

// initializeComponents loads the embedding model and opens the store. A model
// failure is fatal. A store that cannot be opened degrades to the read-only
// built-in dataset.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*Components, error) {
	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	opts := []storage.Option{storage.WithLogger(logger), storage.WithMetrics(m)}
	store, err := storage.Open(ctx, cfg.Store, emb.Dimensions(), emb, opts...)
	if err != nil {
		logger.Warn("store unavailable, serving the built-in dataset", zap.Error(err))
		m.Fallback("unavailable")
		store = storage.NewChain(storage.NewFallbackDataset(emb), nil, nil, opts...)
	}

	svc := search.NewService(emb, store, logger, m)
	agg := aggregate.New(svc, cfg.Aggregate, logger)
	return &Components{
		Embedder:   emb,
		Store:      store,
		Service:    svc,
		Dispatcher: command.NewDispatcher(svc, agg, cfg, logger),
	}, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `diaryrag - semantic diary retrieval

Usage:
  diaryrag search [flags] <query>          Search diaries by meaning
  diaryrag upsert [flags] <text>           Store or replace a diary embedding
  diaryrag delete [flags] <id>             Delete a diary embedding
  diaryrag aggregate [flags] <question>... Retrieve evidence for a batch of questions
  diaryrag flatten [flags] <question>...   Aggregate and render "date, text" lines
  diaryrag report [flags] <question>...    Aggregate and render the report view
  diaryrag import [flags] <diaries.json>   Bulk upsert an array of diaries
  diaryrag status [flags]                  Show store and model status
  diaryrag server [flags]                  Start the HTTP server
  diaryrag version                         Show version
  diaryrag help                            Show this help

Common Flags:
  --config string    Config file path (default: ~/.diaryrag/config.yaml, or ./config.yaml when present)
  --debug            Enable debug logging
  --json             Read one JSON request from stdin and write one JSON response
                     (the default when no arguments are given and stdin is piped)
  --output string    Output format in arguments mode: text or json (default: text)

Search Flags:
  --limit int          Maximum number of results (default from config, 5)
  --threshold float    Minimum cosine similarity (default from config, 0.5)

Upsert Flags:
  --id int             Diary id (required)
  --date string        Diary date; text becomes "{date} : {content}"
  --title string       Diary title; text becomes "{title} {content}" when no date
  --captions string    Comma-separated photo captions appended to the text

Aggregate Flags:
  --save               Write kdst_rag_results_<timestamp>.json to aggregate.results_dir

Examples:
  diaryrag search "아이가 걸을 수 있나요?"
  echo '{"query": "걸음마", "limit": 3}' | diaryrag search
  diaryrag upsert --id 42 --date 2025-08-22 "아이가 처음 걸었다"
  diaryrag delete 42
  diaryrag aggregate --save "혼자 걸을 수 있나요?" "계단을 오르나요?"
  echo '{"questions": ["혼자 걸을 수 있나요?"]}' | diaryrag flatten
  diaryrag import diaries.json`)
}
