package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/kazimtuluk/expense-analysis-with-ai/internal/receipt"
	"github.com/kazimtuluk/expense-analysis-with-ai/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("expense-analysis")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "receipts.db", "SQLite database file path")
		storagePath    = fs.StringLong("storage", "./receipts", "Receipt file storage directory")
		ingestDir      = fs.StringLong("ingest-dir", "", "Directory of receipt images to ingest on startup")
		ocrCredentials = fs.StringLong("ocr-credentials", "", "Google Cloud credentials file for Vision OCR (optional, defaults to ADC)")
		structurerType = fs.StringLong("structurer", "gemini", "Structurer type: 'gemini' or 'ollama'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llama3", "Ollama model name")
		gcsBucket      = fs.StringLong("gcs-bucket", "", "GCS bucket for archiving approved receipts (optional)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_ANALYSIS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx := context.Background()

	slog.Info("initializing database", "path", *dbPath)
	db, err := receipt.NewSQLDB(*dbPath)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("initializing OCR")
	recognizer, err := scanning.NewVisionOCR(ctx, *ocrCredentials)
	if err != nil {
		slog.Error("failed to initialize OCR", "error", err)
		os.Exit(1)
	}
	defer recognizer.Close()

	var structurer scanning.Structurer
	switch *structurerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("initializing Gemini structurer", "model", *geminiModel)
		structurer, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("initializing Ollama structurer", "url", *ollamaURL, "model", *ollamaModel)
		structurer, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("invalid structurer type", "type", *structurerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer structurer.Close()

	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	var archiver receipt.Archiver = receipt.NoopArchive{}
	if *gcsBucket != "" {
		slog.Info("initializing archive", "bucket", *gcsBucket)
		archiver, err = receipt.NewGCSArchive(ctx, *gcsBucket)
		if err != nil {
			slog.Error("failed to initialize archive", "error", err)
			os.Exit(1)
		}
	}
	defer archiver.Close()

	service := receipt.NewService(db, recognizer, structurer, store, archiver)

	if *ingestDir != "" {
		ingestDirectory(ctx, service, *ingestDir)
	}

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(service, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
}

// supportedExtensions are the receipt formats the pipeline can read.
var supportedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".pdf":  "application/pdf",
	".heic": "image/heic",
	".heif": "image/heif",
}

// ingestDirectory runs every supported file in dir through the pipeline.
// One bad image doesn't stop the batch.
func ingestDirectory(ctx context.Context, service *receipt.Service, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Error("failed to read ingest directory", "dir", dir, "error", err)
		os.Exit(1)
	}

	var processed, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contentType, ok := supportedExtensions[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("failed to read file", "path", path, "error", err)
			failed++
			continue
		}

		if _, err := service.ProcessReceipt(ctx, entry.Name(), data, contentType); err != nil {
			slog.Error("failed to ingest receipt", "path", path, "error", err)
			failed++
			continue
		}
		processed++
	}

	slog.Info("ingest complete", "dir", dir, "processed", processed, "failed", failed)
}
