package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shipdesk/shipnotify/internal/core_shipping/domain"
	"github.com/shipdesk/shipnotify/internal/dispatch/channel"
	"github.com/shipdesk/shipnotify/internal/events"
	"github.com/shipdesk/shipnotify/internal/renderer"
)

// ErrRunAlreadyActive is returned when a run is requested while one is in
// progress. The request is rejected, never queued.
var ErrRunAlreadyActive = errors.New("dispatch run already active")

// Persister receives batched status updates after each recipient group.
// The reconciler implements it.
type Persister interface {
	PersistStatuses(ctx context.Context, updated []domain.ShipmentRecord) error
}

// RecipientResult is the terminal outcome for one recipient group.
type RecipientResult struct {
	Recipient string
	Status    domain.MessageStatus // sent | failed | cancelled
	Records   int
	Detail    string
}

// Report summarizes one finished dispatch run.
type Report struct {
	RunID        uuid.UUID
	Success      int
	Failed       int
	Cancelled    int
	WasCancelled bool
	StartedAt    time.Time
	FinishedAt   time.Time
	Recipients   []RecipientResult
}

// Status is a read-only snapshot of the engine for display surfaces. Readers
// observe progress; they never mutate run state.
type Status struct {
	Active          bool
	RunID           uuid.UUID
	Position        int // recipient groups finished or skipped so far
	Total           int
	Success         int
	Failed          int
	Cancelled       int
	CancelRequested bool
}

type run struct {
	id              uuid.UUID
	messages        []renderer.Message
	cancelRequested atomic.Bool
	done            chan struct{}
	report          Report
	position        int
}

// Engine drives the outbound-messaging pipeline: one background worker per
// run, recipients strictly serialized, cooperative cancellation checked only
// at recipient-group boundaries. At most one run is active at a time.
type Engine struct {
	channel   channel.Channel
	persister Persister
	notifier  events.Notifier
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	active     *run
	lastReport *Report
}

func NewEngine(ch channel.Channel, persister Persister, logger *slog.Logger, notifier events.Notifier) *Engine {
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	return &Engine{
		channel:   ch,
		persister: persister,
		notifier:  notifier,
		logger:    logger.With("component", "dispatch_engine"),
		now:       time.Now,
	}
}

// WithClock overrides the engine's clock; tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Start launches a run over the given pre-rendered messages on a background
// worker and returns its ID. Fails with ErrRunAlreadyActive while a run is in
// progress; no state is mutated in that case. Cancelling ctx acts like
// Cancel(): it is honored at the next group boundary, never mid-delivery.
func (e *Engine) Start(ctx context.Context, messages []renderer.Message) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		return uuid.Nil, ErrRunAlreadyActive
	}

	r := &run{
		id:       uuid.New(),
		messages: messages,
		done:     make(chan struct{}),
	}
	r.report = Report{RunID: r.id, StartedAt: e.now()}
	e.active = r

	go e.execute(ctx, r)
	return r.id, nil
}

// Cancel requests cooperative cancellation of the active run. The delivery
// in flight always completes first; remaining recipients are marked
// cancelled. No-op when no run is active.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		e.logger.Info("Cancellation requested", "run_id", e.active.id)
		e.active.cancelRequested.Store(true)
	}
}

// Wait blocks until the current run (if any) finishes and returns its report.
// With no run active it returns the last finished report, or nil.
func (e *Engine) Wait() *Report {
	e.mu.Lock()
	r := e.active
	last := e.lastReport
	e.mu.Unlock()

	if r == nil {
		return last
	}
	<-r.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

// CurrentStatus reports engine progress for status surfaces.
func (e *Engine) CurrentStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		s := Status{}
		if e.lastReport != nil {
			s.RunID = e.lastReport.RunID
			s.Success = e.lastReport.Success
			s.Failed = e.lastReport.Failed
			s.Cancelled = e.lastReport.Cancelled
			s.Total = len(e.lastReport.Recipients)
			s.Position = s.Total
		}
		return s
	}
	r := e.active
	return Status{
		Active:          true,
		RunID:           r.id,
		Position:        r.position,
		Total:           len(r.messages),
		Success:         r.report.Success,
		Failed:          r.report.Failed,
		Cancelled:       r.report.Cancelled,
		CancelRequested: r.cancelRequested.Load(),
	}
}

func (e *Engine) execute(ctx context.Context, r *run) {
	logger := e.logger.With("run_id", r.id)
	logger.InfoContext(ctx, "Dispatch run started", "recipients", len(r.messages))
	e.notifier.Notify(ctx, events.KindRunStarted, map[string]any{
		"run_id": r.id.String(), "recipients": len(r.messages),
	})

	for i, msg := range r.messages {
		if r.cancelRequested.Load() || ctx.Err() != nil {
			e.cancelFrom(ctx, r, i, logger)
			break
		}
		e.processGroup(ctx, r, msg, logger)
		e.mu.Lock()
		r.position = i + 1
		e.mu.Unlock()
	}

	e.mu.Lock()
	r.report.FinishedAt = e.now()
	report := r.report
	e.lastReport = &report
	e.active = nil
	e.mu.Unlock()
	close(r.done)

	outcome := "completed"
	if report.WasCancelled {
		outcome = "cancelled"
	} else {
		// ctx may already be cancelled when the run completed right before a
		// shutdown; the completion event is still delivered.
		e.notifier.Notify(context.WithoutCancel(ctx), events.KindRunCompleted, map[string]any{
			"run_id":    report.RunID.String(),
			"success":   report.Success,
			"failed":    report.Failed,
			"cancelled": report.Cancelled,
		})
	}
	runsTotal.WithLabelValues(outcome).Inc()
	logger.InfoContext(ctx, "Dispatch run finished",
		"success", report.Success, "failed", report.Failed,
		"cancelled", report.Cancelled, "was_cancelled", report.WasCancelled)
}

// processGroup takes one recipient group through the state machine:
// pending → sending → sent/failed. A failure for one recipient never blocks
// the rest, and channel panics are converted into a failed status at this
// boundary.
func (e *Engine) processGroup(ctx context.Context, r *run, msg renderer.Message, logger *slog.Logger) {
	records := make([]domain.ShipmentRecord, 0, len(msg.Group.Records))
	for _, rec := range msg.Group.Records {
		// A record already sent is never sent again within a run.
		if rec.Status != domain.StatusSent {
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		logger.InfoContext(ctx, "Skipping recipient, all records already sent", "recipient", msg.Recipient)
		return
	}

	for i := range records {
		records[i].Status = domain.StatusSending
	}

	timer := prometheus.NewTimer(deliveryDurationHist.WithLabelValues(e.channel.Name()))
	result, err := e.deliverSafely(ctx, msg.Recipient, msg.Body)
	timer.ObserveDuration()

	detail := ""
	if result != nil {
		detail = result.Detail
	}

	if err == nil && result != nil && result.Accepted {
		processedAt := e.now()
		for i := range records {
			records[i].Status = domain.StatusSent
			records[i].ProcessedAt = &processedAt
		}
		e.mu.Lock()
		r.report.Success++
		r.report.Recipients = append(r.report.Recipients, RecipientResult{
			Recipient: msg.Recipient, Status: domain.StatusSent, Records: len(records), Detail: detail,
		})
		e.mu.Unlock()
		deliveriesTotal.WithLabelValues("sent").Inc()
		logger.InfoContext(ctx, "Delivery succeeded", "recipient", msg.Recipient, "records", len(records))
		e.notifier.Notify(ctx, events.KindRecipientSent, map[string]any{
			"run_id": r.id.String(), "recipient": msg.Recipient, "records": len(records),
		})
	} else {
		if err != nil {
			detail = err.Error()
		}
		for i := range records {
			records[i].Status = domain.StatusFailed
			records[i].ProcessedAt = nil
		}
		e.mu.Lock()
		r.report.Failed++
		r.report.Recipients = append(r.report.Recipients, RecipientResult{
			Recipient: msg.Recipient, Status: domain.StatusFailed, Records: len(records), Detail: detail,
		})
		e.mu.Unlock()
		deliveriesTotal.WithLabelValues("failed").Inc()
		logger.ErrorContext(ctx, "Delivery failed", "recipient", msg.Recipient, "error", detail)
		e.notifier.Notify(ctx, events.KindRecipientFailed, map[string]any{
			"run_id": r.id.String(), "recipient": msg.Recipient, "error": detail,
		})
	}

	if persistErr := e.persister.PersistStatuses(ctx, records); persistErr != nil {
		// The run keeps going; in-memory state is authoritative until the
		// next successful snapshot write.
		logger.ErrorContext(ctx, "Failed to persist group statuses", "recipient", msg.Recipient, "error", persistErr)
	}
}

// cancelFrom marks the records of all groups from index from onward as
// cancelled and persists them in one batch. The run may be here because ctx
// was cancelled, so persistence and event delivery run detached from it.
func (e *Engine) cancelFrom(ctx context.Context, r *run, from int, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)

	var cancelled []domain.ShipmentRecord
	for _, msg := range r.messages[from:] {
		var group []domain.ShipmentRecord
		for _, rec := range msg.Group.Records {
			if rec.Status == domain.StatusSent {
				continue
			}
			rec.Status = domain.StatusCancelled
			rec.ProcessedAt = nil
			group = append(group, rec)
		}
		if len(group) == 0 {
			// Nothing left to cancel for this recipient.
			continue
		}
		cancelled = append(cancelled, group...)
		e.mu.Lock()
		r.report.Cancelled++
		r.report.Recipients = append(r.report.Recipients, RecipientResult{
			Recipient: msg.Recipient, Status: domain.StatusCancelled, Records: len(group),
		})
		e.mu.Unlock()
		deliveriesTotal.WithLabelValues("cancelled").Inc()
	}
	e.mu.Lock()
	r.report.WasCancelled = true
	r.position = len(r.messages)
	e.mu.Unlock()

	if len(cancelled) > 0 {
		if err := e.persister.PersistStatuses(ctx, cancelled); err != nil {
			logger.ErrorContext(ctx, "Failed to persist cancelled statuses", "error", err)
		}
	}

	logger.InfoContext(ctx, "Run cancelled", "remaining_recipients", len(r.messages)-from)
	e.notifier.Notify(ctx, events.KindRunCancelled, map[string]any{
		"run_id": r.id.String(), "remaining_recipients": len(r.messages) - from,
	})
}

func (e *Engine) deliverSafely(ctx context.Context, recipient, body string) (result *channel.DeliveryResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("channel panicked: %v", p)
		}
	}()
	return e.channel.Deliver(ctx, recipient, body)
}
