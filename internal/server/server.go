package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/maxiofs/storehub/internal/audit"
	"github.com/maxiofs/storehub/internal/backend"
	"github.com/maxiofs/storehub/internal/config"
	"github.com/maxiofs/storehub/internal/connectivity"
	"github.com/maxiofs/storehub/internal/db"
	"github.com/maxiofs/storehub/internal/dispatch"
	"github.com/maxiofs/storehub/internal/keyvault"
	"github.com/maxiofs/storehub/internal/metrics"
	"github.com/maxiofs/storehub/internal/middleware"
	"github.com/maxiofs/storehub/internal/policy"
	"github.com/maxiofs/storehub/internal/provider"
	"github.com/maxiofs/storehub/internal/routing"
	"github.com/maxiofs/storehub/internal/usage"
	"github.com/sirupsen/logrus"
)

// Server represents the StoreHub server
type Server struct {
	config         *config.Config
	httpServer     *http.Server
	db             *sql.DB
	registry       *provider.Registry
	evaluator      *routing.Evaluator
	tracker        *policy.Tracker
	keyVault       *keyvault.Vault
	validator      *connectivity.Validator
	dispatcher     *dispatch.Dispatcher
	usageStats     *usage.Aggregator
	auditManager   *audit.Manager
	metricsManager metrics.Manager
	startTime      time.Time
}

// New creates a new StoreHub server and opens its stores
func New(cfg *config.Config) (*Server, error) {
	logger := logrus.StandardLogger()

	conn, err := db.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:         cfg,
		db:             conn,
		metricsManager: metrics.NewManager(cfg.Metrics),
		startTime:      time.Now(),
	}

	if err := s.initComponents(logger); err != nil {
		s.close()
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.setupRoutes()

	return s, nil
}

func (s *Server) initComponents(logger *logrus.Logger) error {
	cfg := s.config

	registry, err := provider.NewRegistry(context.Background(), provider.NewSQLiteStore(s.db), logger)
	if err != nil {
		return fmt.Errorf("failed to create provider registry: %w", err)
	}
	s.registry = registry

	if cfg.Audit.Enable {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return fmt.Errorf("failed to create audit store: %w", err)
		}
		s.auditManager = audit.NewManager(store, logger)
	}

	vault, err := keyvault.Open(keyvault.Options{
		DataDir:   cfg.DataDir,
		CacheSize: cfg.KeyVault.CacheSize,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open key vault: %w", err)
	}
	s.keyVault = vault

	s.tracker = policy.NewTracker(registry, vault, s.auditManager, s.metricsManager, logger)
	s.evaluator = routing.NewEvaluator(registry, s.metricsManager)

	transfers := backend.NewFactory(cfg.Storage.LocalRoot)
	s.validator = connectivity.NewValidator(registry, transfers, cfg.Connectivity.Timeout, s.metricsManager)

	usageStore := usage.NewStore(s.db)
	s.usageStats = usage.NewAggregator(usageStore, registry, transfers.LocalRoot())

	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{
		Router:        s.evaluator,
		Policy:        s.tracker,
		Transfers:     transfers,
		Usage:         usageStore,
		Recorder:      s.metricsManager,
		SpoolDir:      cfg.Storage.SpoolDir,
		MaxUploadSize: cfg.Storage.MaxUploadSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	s.dispatcher = dispatcher

	return nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"address":   s.config.Listen,
		"data_dir":  s.config.DataDir,
		"providers": len(s.registry.List()),
	}).Info("Starting StoreHub server")

	if s.config.Audit.Enable && s.config.Audit.RetentionDays > 0 {
		s.auditManager.StartRetentionJob(ctx, s.config.Audit.RetentionDays)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.listen(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.close()
		return fmt.Errorf("server error: %w", err)
	}

	return s.shutdown()
}

func (s *Server) listen() error {
	if s.config.EnableTLS {
		return s.httpServer.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) shutdown() error {
	logrus.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to shutdown HTTP server")
	}

	s.close()
	return nil
}

// close releases the stores; safe on a partially initialized server
func (s *Server) close() {
	if s.keyVault != nil {
		if err := s.keyVault.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close key vault")
		}
	}
	if err := s.auditManager.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close audit store")
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close database")
		}
	}
}

func (s *Server) setupRoutes() {
	router := mux.NewRouter()

	router.Use(middleware.CORS())
	router.Use(middleware.Logging())
	router.Use(s.metricsManager.Middleware())

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.config.Metrics.Enable {
		router.Handle(s.config.Metrics.Path, s.metricsManager.GetMetricsHandler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.JWTAuth([]byte(s.config.Auth.JWTSecret), s.config.Auth.EnableAuth))

	// Static paths must be registered before /{id}
	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/storage", s.handleListProviders).Methods(http.MethodGet)
	admin.HandleFunc("/storage", s.handleCreateProvider).Methods(http.MethodPost)
	admin.HandleFunc("/storage/kinds", s.handleListKinds).Methods(http.MethodGet)
	admin.HandleFunc("/storage/stats", s.handleStorageStats).Methods(http.MethodGet)
	admin.HandleFunc("/storage/health", s.handleStorageHealth).Methods(http.MethodGet)
	admin.HandleFunc("/storage/route", s.handleRoutePreview).Methods(http.MethodPost)
	admin.HandleFunc("/storage/{id}", s.handleGetProvider).Methods(http.MethodGet)
	admin.HandleFunc("/storage/{id}", s.handleUpdateProvider).Methods(http.MethodPatch)
	admin.HandleFunc("/storage/{id}/test", s.handleTestProvider).Methods(http.MethodPost)
	admin.HandleFunc("/storage/{id}/set-default", s.handleSetDefault).Methods(http.MethodPost)
	admin.HandleFunc("/storage/{id}/rotate-key", s.handleRotateKey).Methods(http.MethodPost)
	admin.HandleFunc("/audit", s.handleListAuditLogs).Methods(http.MethodGet)
	admin.HandleFunc("/audit/{id:[0-9]+}", s.handleGetAuditLog).Methods(http.MethodGet)

	api.HandleFunc("/storage/objects/{key:.+}", s.handleUploadObject).Methods(http.MethodPut)

	s.httpServer.Handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(logrus.StandardLogger()),
	)(router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
