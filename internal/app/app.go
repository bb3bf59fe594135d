package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shipdesk/shipnotify/internal/core_shipping/domain"
	"github.com/shipdesk/shipnotify/internal/dispatch"
	"github.com/shipdesk/shipnotify/internal/history"
	"github.com/shipdesk/shipnotify/internal/reconciler"
	"github.com/shipdesk/shipnotify/internal/renderer"
)

// ErrNothingToSend is returned when no record is eligible for dispatch.
var ErrNothingToSend = errors.New("no records eligible for dispatch")

// App orchestrates the sync → render → dispatch pipeline for the CLI and the
// HTTP control surface.
type App struct {
	reconciler  *reconciler.Reconciler
	engine      *dispatch.Engine
	template    string
	historyRepo history.Repository // nil disables archiving
	logger      *slog.Logger
	now         func() time.Time
}

func New(rec *reconciler.Reconciler, engine *dispatch.Engine, template string, historyRepo history.Repository, logger *slog.Logger) *App {
	return &App{
		reconciler:  rec,
		engine:      engine,
		template:    template,
		historyRepo: historyRepo,
		logger:      logger.With("component", "app"),
		now:         time.Now,
	}
}

// Sync reconciles today's records and returns how many are in the merged set.
func (a *App) Sync(ctx context.Context, force bool) (int, error) {
	records, err := a.reconciler.Sync(ctx, force)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// candidates returns the records a new run may touch: everything not yet
// sent. Failed and cancelled records from earlier runs are re-attempted.
func (a *App) candidates(ctx context.Context) ([]domain.ShipmentRecord, error) {
	records := a.reconciler.Current()
	if len(records) == 0 {
		var err error
		records, err = a.reconciler.Sync(ctx, false)
		if err != nil {
			return nil, err
		}
	}
	var out []domain.ShipmentRecord
	for _, rec := range records {
		if rec.Status != domain.StatusSent {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RenderPreview renders the messages a run would send, without sending.
func (a *App) RenderPreview(ctx context.Context) ([]renderer.Message, error) {
	records, err := a.candidates(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNothingToSend
	}
	return renderer.Render(records, a.template, a.now()), nil
}

// StartRun renders the current candidate set and starts a dispatch run in
// the background. The finished run is archived when history is configured.
// The run outlives ctx; callers stop it through CancelRun.
func (a *App) StartRun(ctx context.Context) (uuid.UUID, error) {
	messages, err := a.RenderPreview(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	runID, err := a.engine.Start(context.WithoutCancel(ctx), messages)
	if err != nil {
		return uuid.Nil, err
	}

	if a.historyRepo != nil {
		go a.archiveWhenDone()
	}
	return runID, nil
}

// RunAndWait starts a run and blocks until it finishes. Cancelling ctx
// requests cooperative cancellation of the run; Wait still returns the final
// report once the in-flight recipient completes.
func (a *App) RunAndWait(ctx context.Context) (*dispatch.Report, error) {
	if _, err := a.StartRun(ctx); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, a.engine.Cancel)
	defer stop()
	report := a.engine.Wait()
	if report == nil {
		return nil, fmt.Errorf("dispatch run produced no report")
	}
	return report, nil
}

// CancelRun requests cooperative cancellation of the active run.
func (a *App) CancelRun() {
	a.engine.Cancel()
}

// Status reports dispatch engine progress.
func (a *App) Status() dispatch.Status {
	return a.engine.CurrentStatus()
}

func (a *App) archiveWhenDone() {
	report := a.engine.Wait()
	if report == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.historyRepo.SaveRun(ctx, *report); err != nil {
		a.logger.Error("Failed to archive dispatch run", "error", err, "run_id", report.RunID)
	}
}
