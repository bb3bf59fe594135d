package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shipdesk/shipnotify/internal/dispatch"
)

// Pipeline is the slice of the application the control surface exposes.
type Pipeline interface {
	Sync(ctx context.Context, force bool) (int, error)
	StartRun(ctx context.Context) (uuid.UUID, error)
	CancelRun()
	Status() dispatch.Status
}

// NewRouter builds the control/observability router: health, metrics, run
// status, and operator actions (sync, start run, cancel run). It replaces the
// desktop UI's buttons for headless deployments.
func NewRouter(pipeline Pipeline, logger *slog.Logger) *chi.Mux {
	h := &handlers{pipeline: pipeline, logger: logger.With("component", "httpserver")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/sync", h.sync)
		r.Post("/runs", h.startRun)
		r.Post("/runs/current/cancel", h.cancelRun)
	})
	return r
}

type handlers struct {
	pipeline Pipeline
	logger   *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusView(h.pipeline.Status()))
}

type syncRequest struct {
	Force bool `json:"force"`
}

func (h *handlers) sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.Body != nil {
		// An empty body means a default (non-forced) sync.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	count, err := h.pipeline.Sync(r.Context(), req.Force)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Sync failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": count})
}

func (h *handlers) startRun(w http.ResponseWriter, r *http.Request) {
	runID, err := h.pipeline.StartRun(r.Context())
	if err != nil {
		if errors.Is(err, dispatch.ErrRunAlreadyActive) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to start run", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID.String()})
}

func (h *handlers) cancelRun(w http.ResponseWriter, r *http.Request) {
	h.pipeline.CancelRun()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

func statusView(s dispatch.Status) map[string]any {
	return map[string]any{
		"active":           s.Active,
		"run_id":           s.RunID.String(),
		"position":         s.Position,
		"total":            s.Total,
		"success":          s.Success,
		"failed":           s.Failed,
		"cancelled":        s.Cancelled,
		"cancel_requested": s.CancelRequested,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
