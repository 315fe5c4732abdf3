package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scanforge/keysweep/internal/metrics"
	"github.com/scanforge/keysweep/internal/middleware"
)

// adminServer serves liveness probes and Prometheus metrics.
type adminServer struct {
	srv    *http.Server
	logger *zap.Logger
}

func newAdminServer(port int, logger *zap.Logger) *adminServer {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return &adminServer{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// run serves until ctx ends, then shuts down gracefully.
func (s *adminServer) run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("admin server shutdown failed", zap.Error(err))
		}
	}()

	s.logger.Info("admin endpoint listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("admin server failed", zap.Error(err))
	}
}
