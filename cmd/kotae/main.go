// Package main is the kotae CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/service"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kotae/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default and a config.yaml
// exists in the current directory, that file is used instead. A missing file
// yields the defaults. Returns the config and the path that was considered.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "upload":
		runUpload()
	case "ask":
		runAsk()
	case "list":
		runList()
	case "delete":
		runDelete()
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

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inbox *watcher.Watcher
	if cfg.Inbox.Directory != "" {
		ingester := watcher.NewIngester(components.Service, cfg.Upload.MaxBytes(), logger)
		inbox = watcher.NewWatcher(
			cfg.Inbox.Directory,
			[]string{".pdf"},
			ingester.Handle(ctx),
			watcher.WithLogger(logger),
			watcher.WithDebounce(time.Duration(cfg.Inbox.DebounceMS)*time.Millisecond),
		)
		if err := inbox.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		if err := inbox.SyncExistingFiles(); err != nil {
			logger.Warn("inbox sync failed", zap.String("dir", inbox.Dir()), zap.Error(err))
		}
	}

	srv := server.NewServer(components.Service, components.Metrics, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	if inbox != nil {
		inbox.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// flagsFirst moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse sees them. The flag
// package stops at the first non-flag argument.
func flagsFirst(args []string) []string {
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

// joinArgs joins positional args with spaces so a question works with or without quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// titleFromPath returns the file name without its extension.
func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// commonFlags registers the flags shared by the data commands.
func commonFlags(fs *flag.FlagSet) (configPath, serverURL, output *string) {
	configPath = fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL = fs.String("server", defaultServerURL, `server URL (use --server "" to open storage directly)`)
	output = fs.String("output", "text", "output format: text or json")
	return configPath, serverURL, output
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseFormat(s)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

// openDirect loads config and initializes components for direct storage access.
func openDirect(configPath string) (*Components, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewCommandLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		fatalf("Failed to initialize: %v", err)
	}
	return components, logger
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath, serverURL, output := commonFlags(fs)
	title := fs.String("title", "", "document title (default: file name without extension)")
	description := fs.String("description", "", "document description")
	_ = fs.Parse(flagsFirst(os.Args[2:]))
	format := parseFormat(*output)

	if fs.NArg() < 1 {
		fatalf("Usage: kotae upload [flags] <file.pdf>")
	}
	path := fs.Arg(0)
	if *title == "" {
		*title = titleFromPath(path)
	}

	ctx := context.Background()
	var doc *models.Document
	var err error
	if *serverURL != "" {
		doc, err = newAPIClient(*serverURL).Upload(ctx, path, *title, *description)
	} else {
		components, logger := openDirect(*configPath)
		defer logger.Sync()
		defer components.Close()
		doc, err = uploadFile(ctx, components.Service, path, *title, *description)
	}
	if err != nil {
		fatalf("Upload failed: %v", err)
	}
	if format == cli.OutputText {
		fmt.Printf("Document uploaded: %s (%d chunks)\n", doc.ID, doc.ChunkCount)
		return
	}
	if err := cli.WriteDocument(os.Stdout, doc, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// uploadFile validates the file at path before reading all of it, then uploads it.
func uploadFile(ctx context.Context, svc *service.Service, path, title, description string) (*models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	stream, err := svc.Validator().ValidateReader(f, info.Size())
	if err != nil {
		return nil, err
	}
	content, err := io.ReadAll(io.LimitReader(stream, svc.MaxUploadBytes()+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return svc.UploadDocument(ctx, models.UploadRequest{
		Content:      content,
		FileName:     filepath.Base(path),
		Title:        title,
		Description:  description,
		DeclaredSize: info.Size(),
	})
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath, serverURL, output := commonFlags(fs)
	docID := fs.String("doc", "", "document id (default: first registered document)")
	k := fs.Int("k", 0, "number of chunks to return (default from config)")
	_ = fs.Parse(flagsFirst(os.Args[2:]))
	format := parseFormat(*output)

	question := joinArgs(fs.Args())
	if question == "" {
		fatalf("Usage: kotae ask [flags] <question>")
	}

	ctx := context.Background()
	var rc *models.RetrievalContext
	var err error
	if *serverURL != "" {
		rc, err = newAPIClient(*serverURL).Ask(ctx, *docID, question, *k)
	} else {
		components, logger := openDirect(*configPath)
		defer logger.Sync()
		defer components.Close()
		rc, err = components.Service.AnswerQuestion(ctx, *docID, question, *k)
	}
	if err != nil {
		fatalf("Query failed: %v", err)
	}
	if err := cli.WriteContext(os.Stdout, rc, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath, serverURL, output := commonFlags(fs)
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*output)

	ctx := context.Background()
	var docs []*models.Document
	var err error
	if *serverURL != "" {
		docs, err = newAPIClient(*serverURL).List(ctx)
	} else {
		components, logger := openDirect(*configPath)
		defer logger.Sync()
		defer components.Close()
		docs, err = components.Service.ListDocuments(ctx)
	}
	if err != nil {
		fatalf("List failed: %v", err)
	}
	if err := cli.WriteDocuments(os.Stdout, docs, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath, serverURL, _ := commonFlags(fs)
	_ = fs.Parse(flagsFirst(os.Args[2:]))

	if fs.NArg() < 1 {
		fatalf("Usage: kotae delete [flags] <document-id>")
	}
	docID := fs.Arg(0)

	ctx := context.Background()
	var err error
	if *serverURL != "" {
		err = newAPIClient(*serverURL).Delete(ctx, docID)
	} else {
		components, logger := openDirect(*configPath)
		defer logger.Sync()
		defer components.Close()
		err = components.Service.DeleteDocument(ctx, docID)
	}
	if err != nil {
		fatalf("Deletion failed: %v", err)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath, serverURL, output := commonFlags(fs)
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*output)

	ctx := context.Background()
	var st *service.Status
	var err error
	if *serverURL != "" {
		st, err = newAPIClient(*serverURL).Status(ctx)
	} else {
		components, logger := openDirect(*configPath)
		defer logger.Sync()
		defer components.Close()
		st, err = components.Service.Status(ctx)
	}
	if err != nil {
		fatalf("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// Components holds initialized services.
type Components struct {
	Store    storage.MetadataStore
	Embedder embedding.Embedder
	Metrics  *metrics.Metrics
	Service  *service.Service
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewMetadataStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	m := metrics.New()
	svc, err := service.New(cfg, store, embedder, service.WithLogger(logger), service.WithMetrics(m))
	if err != nil {
		_ = embedder.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize service: %w", err)
	}
	logger.Debug("components initialized",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("index_type", cfg.Retrieval.IndexType),
	)

	return &Components{
		Store:    store,
		Embedder: embedder,
		Metrics:  m,
		Service:  svc,
	}, nil
}

func printUsage() {
	fmt.Println(`kotae - PDF ingestion and question retrieval

Usage:
  kotae server [flags]               Start the HTTP server
  kotae upload [flags] <file.pdf>    Upload and index a PDF
  kotae ask [flags] <question>       Retrieve the chunks that best answer a question
  kotae list [flags]                 List documents
  kotae delete [flags] <id>          Delete a document
  kotae status [flags]               Show storage/index status
  kotae version                      Show version
  kotae help                         Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml)
  --debug            Enable debug logging

Common Flags (upload, ask, list, delete, status):
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to open storage directly.
  --output string    Output format: text or json (default: text)

Upload Flags:
  --title string        Document title (default: file name without extension)
  --description string  Document description

Ask Flags:
  --doc string    Document id (default: first registered document)
  --k int         Number of chunks to return (default: retrieval.default_k)

Examples:
  kotae server
  kotae upload --title "Student Handbook" handbook.pdf
  kotae ask when does enrollment open
  kotae ask --doc 2 --k 5 "what is the refund policy?"
  kotae list --output json
  kotae delete 3
  kotae status --server ""`)
}
