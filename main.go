package main

import (
	"context"
	"database/sql"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"classlens/analysis"
	"classlens/cache"
	"classlens/config"
	"classlens/extraction"
	"classlens/handlers"
	"classlens/jobs"
	"classlens/logger"
	"classlens/repository/sqlite"
	"classlens/services/analyze"
	"classlens/services/transcribe"
	"classlens/storage"
	"classlens/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logWriter, err := logger.Init(cfg.LogDir, cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	db, err := sqlite.InitDB(sqlite.Config{
		Path:               cfg.Database.Path,
		MaxConnections:     cfg.Database.MaxConnections,
		MaxIdleConnections: cfg.Database.MaxIdleConnections,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	transcriptStore := sqlite.NewTranscriptStore(db)
	jobStore := sqlite.NewJobStore(db)
	workflowStore := sqlite.NewWorkflowStore(db)
	reportStore := sqlite.NewReportStore(db)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	hotTranscripts := cache.New(cfg.Cache.MaxEntries)
	hotJobs := cache.New(cfg.Cache.MaxEntries)
	hotWorkflows := cache.New(cfg.Cache.MaxEntries)
	hotTranscripts.StartJanitor(rootCtx, cfg.Cache.CleanupInterval)
	hotJobs.StartJanitor(rootCtx, cfg.Cache.CleanupInterval)
	hotWorkflows.StartJanitor(rootCtx, cfg.Cache.CleanupInterval)

	transcriptCache := cache.NewTranscriptCache(
		hotTranscripts, transcriptStore, cfg.Cache.TranscriptTTL, cfg.Cache.PromoteOnTierTwo,
	)

	openaiClient := newOpenAIClient(cfg.OpenAI)

	runner, err := extraction.NewRunner(extraction.RunnerConfig{
		PythonPath: cfg.Extraction.PythonPath,
		HelperPath: cfg.Extraction.HelperPath,
		TempDir:    cfg.TempDir,
	})
	if err != nil {
		log.Fatalf("Failed to initialize helper runner: %v", err)
	}

	chain := buildExtractionChain(cfg, runner, openaiClient)

	manager := jobs.NewManager(jobStore, hotJobs, jobs.Config{
		Workers:          cfg.Jobs.Workers,
		QueueDepth:       cfg.Jobs.QueueDepth,
		MaxRetries:       cfg.Jobs.MaxRetries,
		RetryBackoffBase: cfg.Jobs.RetryBackoffBase,
		LivenessDeadline: cfg.Jobs.LivenessDeadline,
		ReaperInterval:   cfg.Jobs.ReaperInterval,
		JobTimeout:       cfg.Jobs.JobTimeout,
		Retention:        cfg.Jobs.Retention,
		CacheTTL:         cfg.Cache.JobTTL,
	})
	manager.Start(rootCtx)

	invoker := analysis.NewLLMInvoker(openaiClient, cfg.OpenAI.ChatModel, cfg.Analysis.InvokesPerMinute)
	registry := analysis.NewRegistry(invoker, analysis.DefaultFrameworks()...)
	engine := analysis.NewEngine(registry, analysis.Config{
		FrameworkTimeout: cfg.Analysis.FrameworkTimeout,
		MaxRetries:       cfg.Analysis.MaxRetries,
		RetryBackoff:     cfg.Analysis.RetryBackoff,
		MaxConcurrent:    cfg.Analysis.MaxConcurrent,
		TopN:             cfg.Analysis.TopN,
	})

	transcribeService := transcribe.NewService(manager, transcriptCache, chain, transcriptStore)
	analyzeService := analyze.NewService(manager, engine, transcriptStore, reportStore)

	var archiver workflow.Archiver
	if cfg.Archive.Enabled {
		client, err := storage.NewArchiveClient(storage.ArchiveConfig{
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			Bucket:    cfg.Archive.Bucket,
		})
		if err != nil {
			log.Fatalf("Failed to initialize archive client: %v", err)
		}
		archiver = client
	}

	orchestrator := workflow.NewOrchestrator(
		transcribeService, analyzeService, workflowStore, hotWorkflows, archiver,
		workflow.Config{
			PollInterval:   cfg.Workflow.PollInterval,
			MaxAttempts:    cfg.Workflow.MaxAttempts,
			StuckThreshold: cfg.Workflow.StuckThreshold,
			Retention:      cfg.Workflow.Retention,
			CacheTTL:       cfg.Cache.WorkflowTTL,
		},
	)
	orchestrator.Start(rootCtx)

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: !cfg.Debug,
		StrictRouting:         true,
		CaseSensitive:         true,
		AppName:               "classlens " + cfg.Version,
	})

	setupMiddleware(app, cfg, logWriter)
	setupRoutes(app, db, cfg, transcribeService, analyzeService, orchestrator)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownChan
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}

		orchestrator.Stop()
		manager.Stop()
		cancelRoot()

		if err := db.Close(); err != nil {
			log.Printf("Database shutdown error: %v", err)
		}
	}()

	serverAddr := ":" + cfg.ServerPort
	if cfg.Debug {
		log.Printf("Server starting on http://localhost%s", serverAddr)
	}

	if err := app.Listen(serverAddr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

func newOpenAIClient(cfg config.OpenAIConfig) *openai.Client {
	if cfg.BaseURL != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		clientCfg.BaseURL = cfg.BaseURL
		return openai.NewClientWithConfig(clientCfg)
	}
	return openai.NewClient(cfg.APIKey)
}

// buildExtractionChain assembles the enabled strategies in fallback order:
// captions first, browser scrape second, speech-to-text last.
func buildExtractionChain(cfg *config.Config, runner *extraction.Runner, client *openai.Client) *extraction.Chain {
	var strategies []extraction.Strategy

	if cfg.Extraction.EnableCaptionsAPI {
		strategies = append(strategies,
			extraction.NewCaptionsStrategy(runner, cfg.Extraction.CaptionsTimeout))
	}
	if cfg.Extraction.EnableBrowser {
		pool := extraction.NewSessionPool(cfg.Extraction.BrowserSessions)
		strategies = append(strategies,
			extraction.NewBrowserStrategy(runner, pool, cfg.Extraction.BrowserTimeout))
	}
	if cfg.Extraction.EnableSpeechToText {
		strategies = append(strategies,
			extraction.NewWhisperStrategy(runner, client, cfg.OpenAI.WhisperModel, cfg.Extraction.SpeechTimeout))
	}

	return extraction.NewChain(cfg.Extraction.ChainBudget, strategies...)
}

func setupMiddleware(app *fiber.App, cfg *config.Config, logWriter io.Writer) {
	if cfg.Middleware.EnableRecover {
		app.Use(recover.New(recover.Config{
			EnableStackTrace: cfg.Debug,
		}))
	}

	if cfg.Middleware.EnableRequestID {
		app.Use(requestid.New(requestid.Config{
			Header: "X-Request-ID",
			Generator: func() string {
				return uuid.New().String()
			},
		}))
	}

	if cfg.Middleware.EnableLogger {
		app.Use(fiberLogger.New(fiberLogger.Config{
			Output: logWriter,
			Format: `{"time":"${time}","request_id":"${locals:requestid}","status":${status},` +
				`"latency":"${latency}","method":"${method}","path":"${path}"}` + "\n",
		}))
	}

	if cfg.Middleware.EnableCORS {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(cfg.CORS.AllowedOrigins, ","),
			AllowMethods:     strings.Join(cfg.CORS.AllowedMethods, ","),
			AllowHeaders:     strings.Join(cfg.CORS.AllowedHeaders, ","),
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}))
	}

	if cfg.Middleware.EnableRateLimit {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit.RequestsPerMinute,
			Expiration: time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"success": false,
					"error":   "Rate limit exceeded",
					"code":    "RATE_LIMITED",
				})
			},
		}))
	}

	if cfg.Middleware.EnableCompress {
		app.Use(compress.New(compress.Config{
			Level: compress.LevelDefault,
		}))
	}

	if cfg.Middleware.EnableETag {
		app.Use(etag.New())
	}
}

func setupRoutes(
	app *fiber.App,
	db *sql.DB,
	cfg *config.Config,
	transcribeService *transcribe.Service,
	analyzeService *analyze.Service,
	orchestrator *workflow.Orchestrator,
) {
	jobHandler := handlers.NewJobHandler(transcribeService, analyzeService)
	workflowHandler := handlers.NewWorkflowHandler(orchestrator, transcribeService, analyzeService)
	healthHandler := handlers.NewHealthHandler(db, cfg.Version)

	app.Post("/jobs/transcription", jobHandler.SubmitTranscription)
	app.Get("/jobs/transcription/:id", jobHandler.GetTranscription)
	app.Post("/jobs/transcription/:id/cancel", jobHandler.CancelTranscription)

	app.Post("/jobs/analysis", jobHandler.SubmitAnalysis)
	app.Get("/jobs/analysis/:id", jobHandler.GetAnalysis)
	app.Post("/jobs/analysis/:id/cancel", jobHandler.CancelAnalysis)

	app.Post("/workflow", workflowHandler.Submit)
	app.Get("/workflow/:id", workflowHandler.Get)

	app.Get("/frameworks", jobHandler.ListFrameworks)

	app.Get("/health", healthHandler.Check)
}
