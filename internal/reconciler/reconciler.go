package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shipdesk/shipnotify/internal/core_shipping/domain"
	"github.com/shipdesk/shipnotify/internal/events"
	"github.com/shipdesk/shipnotify/internal/recordsource"
)

// Store is the snapshot persistence port the reconciler writes through.
type Store interface {
	LoadToday() ([]domain.ShipmentRecord, bool, error)
	SaveToday(records []domain.ShipmentRecord) (string, error)
}

// Reconciler merges freshly fetched records with the current day's snapshot,
// preserving dispatch-state fields by record identity. It exclusively owns
// snapshot reads and writes.
type Reconciler struct {
	source   recordsource.RecordSource
	store    Store
	logger   *slog.Logger
	notifier events.Notifier
	now      func() time.Time

	mu      sync.Mutex
	current []domain.ShipmentRecord
}

func New(source recordsource.RecordSource, store Store, logger *slog.Logger, notifier events.Notifier) *Reconciler {
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	return &Reconciler{
		source:   source,
		store:    store,
		logger:   logger.With("component", "reconciler"),
		notifier: notifier,
		now:      time.Now,
	}
}

// WithClock overrides the reconciler's clock; tests only.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Sync returns today's reconciled record set. When a same-day snapshot exists
// and force is false the remote source is not contacted at all: the feed
// should not be hit more than once per day. A remote failure leaves the prior
// snapshot untouched and usable.
func (r *Reconciler) Sync(ctx context.Context, force bool) ([]domain.ShipmentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifier.Notify(ctx, events.KindSyncStarted, map[string]any{"force": force})

	if !force {
		cached, ok, err := r.store.LoadToday()
		if err != nil {
			syncsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("loading today's snapshot: %w", err)
		}
		if ok {
			r.logger.InfoContext(ctx, "Same-day snapshot found, skipping remote fetch", "records", len(cached))
			r.current = cached
			recordsMergedGauge.Set(float64(len(cached)))
			syncsTotal.WithLabelValues("cached").Inc()
			r.notifier.Notify(ctx, events.KindSyncCompleted, map[string]any{"records": len(cached), "from_cache": true})
			return copyRecords(cached), nil
		}
	}

	// The merge baseline is the most recent known state: the in-memory set
	// when this session already synced or dispatched, otherwise today's
	// snapshot from a previous session.
	// A snapshot that exists but cannot be read must not degrade into an
	// empty baseline: merging against nothing would reset sent records to
	// pending and they would be dispatched again.
	if len(r.current) == 0 {
		cached, ok, err := r.store.LoadToday()
		if err != nil {
			syncsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("loading today's snapshot: %w", err)
		}
		if ok {
			r.current = cached
		}
	}

	timer := prometheus.NewTimer(fetchDurationHist)
	raw, err := r.source.FetchAll(ctx)
	timer.ObserveDuration()
	if err != nil {
		syncsTotal.WithLabelValues("error").Inc()
		r.notifier.Notify(ctx, events.KindSyncFailed, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("remote fetch: %w", err)
	}

	today := r.now()
	fetched := make([]domain.ShipmentRecord, 0, len(raw))
	for i, rr := range raw {
		rec, err := mapRawRecord(rr)
		if err != nil {
			// A record we cannot place on the calendar is excluded, not fatal.
			r.logger.WarnContext(ctx, "Excluding unmappable record", "row", i, "error", err)
			continue
		}
		if !rec.EligibleOn(today) {
			continue
		}
		fetched = append(fetched, rec)
	}

	merged := mergeRecords(r.current, fetched)
	if _, err := r.store.SaveToday(merged); err != nil {
		syncsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("persisting merged snapshot: %w", err)
	}

	r.current = merged
	recordsMergedGauge.Set(float64(len(merged)))
	syncsTotal.WithLabelValues("fetched").Inc()
	r.logger.InfoContext(ctx, "Sync complete", "fetched", len(raw), "merged", len(merged))
	r.notifier.Notify(ctx, events.KindSyncCompleted, map[string]any{"records": len(merged), "from_cache": false})
	return copyRecords(merged), nil
}

// Current returns a copy of the most recent reconciled set without touching
// the remote source or disk.
func (r *Reconciler) Current() []domain.ShipmentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyRecords(r.current)
}

// PersistStatuses folds dispatch-state updates back into the current set by
// record identity and rewrites today's snapshot. The dispatch engine calls
// this once per recipient group, so a crash mid-run loses at most the
// in-flight group's final state.
func (r *Reconciler) PersistStatuses(ctx context.Context, updated []domain.ShipmentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[int64]domain.ShipmentRecord, len(updated))
	for _, u := range updated {
		byID[u.ID] = u
	}
	for i, rec := range r.current {
		if u, ok := byID[rec.ID]; ok {
			r.current[i].Status = u.Status
			r.current[i].ProcessedAt = u.ProcessedAt
		}
	}

	if _, err := r.store.SaveToday(r.current); err != nil {
		return fmt.Errorf("persisting status updates: %w", err)
	}
	return nil
}

// mapRawRecord converts one raw feed row into a ShipmentRecord. Identity,
// recipient and the eligibility date are required; everything else is kept as
// an opaque attribute for the renderer.
func mapRawRecord(raw recordsource.RawRecord) (domain.ShipmentRecord, error) {
	var rec domain.ShipmentRecord

	switch id := raw["id"].(type) {
	case float64:
		rec.ID = int64(id)
	case string:
		parsed, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return rec, fmt.Errorf("record id %q is not numeric", id)
		}
		rec.ID = parsed
	default:
		return rec, fmt.Errorf("record has no usable id (got %T)", raw["id"])
	}

	recipient, _ := raw["recipient"].(string)
	if recipient == "" {
		return rec, fmt.Errorf("record %d has no recipient", rec.ID)
	}
	rec.Recipient = recipient

	dateStr, _ := raw["pickup_date"].(string)
	pickup, err := time.Parse(domain.PickupDateLayout, dateStr)
	if err != nil {
		return rec, fmt.Errorf("record %d pickup_date %q: %w", rec.ID, dateStr, err)
	}
	rec.PickupDate = pickup

	rec.Status = domain.StatusPending
	for k, v := range raw {
		switch k {
		case "id", "recipient", "pickup_date", "message_status", "processed_at":
			continue
		}
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]string)
		}
		switch val := v.(type) {
		case string:
			rec.Attributes[k] = val
		case float64:
			rec.Attributes[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			rec.Attributes[k] = strconv.FormatBool(val)
		case nil:
			// drop explicit nulls
		default:
			rec.Attributes[k] = fmt.Sprint(val)
		}
	}
	return rec, nil
}

// mergeRecords keeps the feed as the source of truth for existence and the
// previous set as the source of truth for dispatch state: fetched records
// with a known ID inherit Status and ProcessedAt verbatim, new IDs start
// pending, and previously-known IDs missing from the feed are dropped.
func mergeRecords(previous, fetched []domain.ShipmentRecord) []domain.ShipmentRecord {
	prevByID := make(map[int64]domain.ShipmentRecord, len(previous))
	for _, p := range previous {
		prevByID[p.ID] = p
	}

	merged := make([]domain.ShipmentRecord, 0, len(fetched))
	for _, f := range fetched {
		if p, ok := prevByID[f.ID]; ok {
			f.Status = p.Status
			f.ProcessedAt = p.ProcessedAt
		} else {
			f.Status = domain.StatusPending
			f.ProcessedAt = nil
		}
		merged = append(merged, f)
	}
	return merged
}

func copyRecords(records []domain.ShipmentRecord) []domain.ShipmentRecord {
	out := make([]domain.ShipmentRecord, len(records))
	copy(out, records)
	return out
}
