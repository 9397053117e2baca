package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	internalcommon "github.com/transferwatch/transferwatch/internal/common"
	"github.com/transferwatch/transferwatch/internal/config"
	"github.com/transferwatch/transferwatch/internal/logger"
	"github.com/transferwatch/transferwatch/internal/metrics"
)

// Server exposes the read-only query API over HTTP.
type Server struct {
	config config.APIConfig
	log    *logger.Logger
	server *http.Server
}

// NewServer creates the API server around the given query surface.
func NewServer(cfg config.APIConfig, query Query, log *logger.Logger) *Server {
	log = log.WithComponent(internalcommon.ComponentAPI)
	handler := NewHandler(query, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/events", handler.GetEvents)
	mux.HandleFunc("GET /api/v1/stats", handler.GetStats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		config: cfg,
		log:    log,
		server: &http.Server{
			Addr:              cfg.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	metrics.ComponentHealthSet(internalcommon.ComponentAPI, true)
	defer metrics.ComponentHealthSet(internalcommon.ComponentAPI, false)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.log.Infof("api server listening on %s", s.config.ListenAddress)

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown api server: %w", err)
	}

	return nil
}
