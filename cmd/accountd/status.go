package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type statusServer struct {
	server *http.Server
}

func newStatusServer(addr string, a *app) *statusServer {
	return &statusServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           statusRoutes(a),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func statusRoutes(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
	)

	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		pending, err := a.repo.PendingNotifications(req.Context())
		if err != nil {
			render.Status(req, http.StatusServiceUnavailable)
			render.JSON(w, req, map[string]any{"status": "error", "error": err.Error()})
			return
		}
		render.JSON(w, req, map[string]any{"status": "ok", "pending": len(pending)})
	})
	return r
}

func (s *statusServer) run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
