package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"pocket-council/internal/agent"
	"pocket-council/internal/config"
	"pocket-council/internal/consultation"
	"pocket-council/internal/platform/logger"
	"pocket-council/internal/platform/metrics"
	"pocket-council/internal/platform/storage"
	"pocket-council/internal/platform/telegram"
	"pocket-council/internal/report"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	// 1. Infrastructure
	repo, closeDB := openRepository(cfg.Database, log)
	defer closeDB()

	// 2. Clients
	if !cfg.ModelConfigured() {
		log.Warn("no model API key configured, agents will return offline summaries")
	}
	provider := agent.NewOpenAIProvider(agent.ModelConfig{
		APIKey:            cfg.Model.APIKey,
		Name:              cfg.Model.Name,
		BaseURL:           cfg.Model.BaseURL,
		Temperature:       cfg.Model.Temperature,
		Timeout:           cfg.Model.Timeout,
		RequestsPerMinute: cfg.Model.RequestsPerMinute,
		MaxConcurrent:     cfg.Model.MaxConcurrent,
	})
	sttClient := agent.NewWhisperClient(cfg.Model.APIKey, cfg.Transcription.Model, cfg.Model.BaseURL)

	orch, err := agent.NewOrchestrator(agent.DefaultRoster(), provider,
		agent.OrchestratorConfig{
			Concurrent:  cfg.Orchestrator.Concurrent,
			MaxParallel: cfg.Orchestrator.MaxParallel,
			CannedNote:  cfg.Orchestrator.CannedNote,
		},
		agent.WithRetryPolicy(agent.RetryPolicy{
			Attempts:       cfg.Orchestrator.Retry.Attempts,
			InitialBackoff: cfg.Orchestrator.Retry.InitialBackoff,
			MaxBackoff:     cfg.Orchestrator.Retry.MaxBackoff,
			AttemptTimeout: cfg.Orchestrator.AttemptTimeout,
		}),
		agent.WithLogger(log),
	)
	if err != nil {
		log.Error("invalid agent roster", "error", err)
		os.Exit(1)
	}

	// 3. Services
	assembler := consultation.NewAssembler(consultation.AssemblerConfig{
		RecordLimit:    cfg.Context.RecordLimit,
		DataPairs:      cfg.Context.DataPairs,
		NarrativeChars: cfg.Context.NarrativeChars,
	})
	files := storage.NewLocalStore(cfg.Storage.Path)
	consultationSvc := consultation.NewService(repo, orch, assembler, sttClient, files, log)
	consultationHandler := consultation.NewHandler(consultationSvc, log)

	tgClient := telegram.NewClient(cfg.Report.TelegramToken, cfg.Report.TelegramBaseURL)
	var sender report.Sender
	if tgClient.Configured() {
		sender = tgClient
	}
	if sender == nil || cfg.Report.DoctorChatID == 0 {
		log.Warn("TELEGRAM_BOT_TOKEN or DOCTOR_CHAT_ID not set, reports can only be downloaded")
	}
	reportSvc := report.NewService(consultationSvc, report.NewRenderer(cfg.Report.FontPath), sender, cfg.Report.DoctorChatID, log)
	reportHandler := report.NewHandler(reportSvc, log)

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","environment":%q}`, cfg.App.Environment)
	})
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultationHandler)
		report.RegisterRoutes(r, reportHandler)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server starting", "name", cfg.App.Name, "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// openRepository connects to Postgres and applies migrations. Without a
// reachable database the server keeps running on the in-memory store.
func openRepository(cfg config.DatabaseConfig, log *slog.Logger) (consultation.Repository, func()) {
	noop := func() {}
	if cfg.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		return consultation.NewMemoryRepository(), noop
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		log.Error("open database failed, using in-memory storage", "error", err)
		return consultation.NewMemoryRepository(), noop
	}
	retries := max(cfg.ConnectRetries, 1)
	for i := 0; i < retries; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		log.Info("waiting for database", "attempt", i+1, "of", retries)
		time.Sleep(time.Second)
	}
	if err != nil {
		log.Error("could not connect to database, using in-memory storage", "error", err)
		db.Close()
		return consultation.NewMemoryRepository(), noop
	}
	log.Info("connected to database")

	m, err := migrate.New("file://"+cfg.MigrationsPath, cfg.URL)
	if err != nil {
		log.Error("migration init failed", "error", err)
	} else {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Error("migration up failed", "error", err)
		} else {
			log.Info("migrations applied")
		}
		m.Close()
	}

	return consultation.NewRepository(db), func() { db.Close() }
}

// requestLogger attaches a request-scoped logger carrying the request id.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := base.With("request_id", middleware.GetReqID(r.Context()))
			next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
		})
	}
}

// CORS for frontend
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
