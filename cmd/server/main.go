package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/vitalstream/backend/internal/api"
	"github.com/vitalstream/backend/internal/channel"
	"github.com/vitalstream/backend/internal/config"
	"github.com/vitalstream/backend/internal/extract"
	"github.com/vitalstream/backend/internal/loader"
	"github.com/vitalstream/backend/internal/storage"
	"github.com/vitalstream/backend/internal/tasks"
	"github.com/vitalstream/backend/internal/upload"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := os.Getenv("VITALSTREAM_CONFIG")
	if configPath == "" {
		exePath, err := os.Executable()
		if err != nil {
			fmt.Printf("Failed to get executable path: %v\n", err)
			os.Exit(1)
		}
		configPath = filepath.Join(filepath.Dir(exePath), "vitalstream.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Result store: the system of record for upload outcomes.
	results, err := storage.NewResultStore(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Printf("Failed to open result store: %v\n", err)
		os.Exit(1)
	}
	defer results.Close()

	objects, err := storage.NewLocalObjectStore(cfg.GetUploadDir())
	if err != nil {
		fmt.Printf("Failed to initialize object storage: %v\n", err)
		os.Exit(1)
	}

	hub := channel.NewHub()
	registry := upload.NewRegistry()

	// Background session cleanup
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Processing.CleanupIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			registry.CleanupStale(time.Duration(cfg.Processing.SessionTimeoutMinutes) * time.Minute)
		}
	}()

	engine := buildEngine(cfg)
	splitter := extract.NewSplitter(cfg.GetTempDir())
	coordinator := extract.NewCoordinator(engine)
	recordLoader := loader.New(results, cfg.Processing.RecordBatchSize)

	supervisor, err := tasks.NewSupervisor(tasks.WithPoolSize(cfg.Processing.BackgroundWorkers))
	if err != nil {
		fmt.Printf("Failed to start task supervisor: %v\n", err)
		os.Exit(1)
	}
	defer supervisor.Shutdown()

	orchestrator := upload.NewOrchestrator(upload.OrchestratorConfig{
		Registry:        registry,
		Sink:            hub,
		Objects:         objects,
		Results:         results,
		Loader:          recordLoader,
		Splitter:        splitter,
		Extractor:       coordinator,
		Engine:          engine,
		Supervisor:      supervisor,
		TempDir:         cfg.GetTempDir(),
		MinTextChars:    cfg.Extraction.MinTextChars,
		DownloadTimeout: time.Duration(cfg.Processing.DownloadTimeoutSeconds) * time.Second,
		MaxArchiveBytes: cfg.Processing.MaxArchiveBytes,
	})

	h := api.NewHandler(objects, results, registry, hub)
	wsHandler := api.NewWebSocketHandler(hub, registry, orchestrator)

	e := echo.New()
	e.HTTPErrorHandler = api.ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Server.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || strings.Contains(path, "/ws/")
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
		LogLevel:          0,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.Contains(path, "/ws/") || strings.Contains(path, "/files/")
		},
		ErrorMessage: "Request timeout",
	}))

	e.Use(middleware.Gzip())
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	api.RegisterRoutes(e, h, wsHandler, cfg.Security.AllowFileDeletion)

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           VitalStream Ingestion Server                    ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	e.Logger.Fatal(e.StartServer(s))
}

// buildEngine creates the extraction engine from config, falling back
// to a disabled engine when no API key is present so the server still
// serves genetic uploads and stored results.
func buildEngine(cfg *config.Config) extract.Engine {
	key := cfg.ExtractionAPIKey()
	if key == "" {
		fmt.Printf("Warning: %s not set, document extraction disabled\n", cfg.Extraction.APIKeyEnv)
		return extract.DisabledEngine{Reason: "no API key configured"}
	}

	model, err := openai.New(
		openai.WithModel(cfg.Extraction.Model),
		openai.WithToken(key),
	)
	if err != nil {
		fmt.Printf("Warning: failed to initialize extraction engine: %v\n", err)
		return extract.DisabledEngine{Reason: err.Error()}
	}
	fmt.Printf("Extraction engine ready: %s/%s\n", cfg.Extraction.Provider, cfg.Extraction.Model)
	return extract.NewLLMEngine(model)
}
