// Package api serves the command facade over HTTP
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/boliseva-loan-ledger/internal/api/handler"
	"github.com/boliseva-loan-ledger/internal/config"
)

// Commands is everything the HTTP surface dispatches to
type Commands interface {
	handler.LedgerCommands
	handler.AuthCommands
	handler.SyncCommands
}

// Server handles HTTP requests and manages the listener lifecycle
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	httpRouter *gin.Engine
}

func NewServer(log *slog.Logger, cfg *config.Config, cmds Commands, health Health) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := gin.New()
	setupRouter(log, httpRouter,
		handler.NewLoanHandler(log, cmds),
		handler.NewAuthHandler(log, cmds),
		handler.NewSyncHandler(cmds),
		health,
	)

	return &Server{
		logger: log,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      httpRouter,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		httpRouter: httpRouter,
	}
}

// Handler exposes the router for in-process tests
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// Start blocks serving HTTP until Stop is called
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}
