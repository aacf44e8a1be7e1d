package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"

	v1 "github.com/artpar/jsonapi-server/internal/blog/v1"
	"github.com/artpar/jsonapi-server/internal/server"
	"github.com/artpar/jsonapi-server/internal/shell/api"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server is the running application: the database and the HTTP server
// mounting every configured JSON:API server.
type Server struct {
	config     *Config
	httpServer *http.Server
	db         *sqlx.DB
	logger     *slog.Logger
}

// NewRegistry returns the registry of every server implementation this
// binary ships.
func NewRegistry() (*server.Registry, error) {
	registry := server.NewRegistry()
	if err := v1.Register(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

// NewServer opens the database, creates the tables of every configured
// server and builds the HTTP handler.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	if !strings.Contains(cfg.Database.DSN, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
		}
	}

	db, err := store.Open(cfg.Database.DSN, logger)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	registry, err := NewRegistry()
	if err != nil {
		db.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}
	app := &server.App{DB: db, Logger: logger, BaseURL: cfg.Server.BaseURL}
	repo := server.NewRepository(app, registry, cfg.JSONAPI.Servers)

	if err := ensureTables(context.Background(), db, repo, logger); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Auth.SharedSecret == "" {
		logger.Warn("gateway secret not configured, identity headers are trusted as sent",
			"setting", "auth.shared_secret",
		)
	}

	handler := api.SetupAPI(api.APIConfig{
		Repository:       repo,
		DB:               db,
		Logger:           logger,
		AuthSharedSecret: cfg.Auth.SharedSecret,
		Title:            cfg.JSONAPI.Title,
		Version:          cfg.JSONAPI.Version,
	})

	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		db:     db,
		logger: logger,
	}, nil
}

// ensureTables constructs every configured server once and creates the
// tables its schemas need. A server that cannot be constructed is a
// configuration error.
func ensureTables(ctx context.Context, db *sqlx.DB, repo *server.Repository, logger *slog.Logger) error {
	for _, name := range repo.Names() {
		srv, err := repo.Server(name)
		if err != nil {
			return &ServerError{Op: "ensureTables", Err: err, ExitCode: ExitConfigError}
		}
		schemas, err := srv.Container()
		if err != nil {
			return &ServerError{Op: "ensureTables", Err: err, ExitCode: ExitConfigError}
		}
		if err := store.EnsureTables(ctx, db, name, schemas, logger); err != nil {
			return &ServerError{Op: "ensureTables", Err: err, ExitCode: ExitDatabaseError}
		}
		logger.Info("server ready", "server", name, "types", schemas.Types())
	}
	return nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address(),
			"base_url", s.config.Server.BaseURL)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.db.Close()
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
