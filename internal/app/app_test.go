package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipdesk/shipnotify/internal/core_shipping/domain"
	"github.com/shipdesk/shipnotify/internal/dispatch"
	"github.com/shipdesk/shipnotify/internal/dispatch/channel"
	"github.com/shipdesk/shipnotify/internal/reconciler"
	"github.com/shipdesk/shipnotify/internal/recordsource"
)

// fakeSource serves a fixed page of raw records.
type fakeSource struct {
	records []recordsource.RawRecord
	err     error
}

func (s *fakeSource) FetchAll(ctx context.Context) ([]recordsource.RawRecord, error) {
	return s.records, s.err
}

// memStore keeps the snapshot in memory, pretending every save lands on
// today's file.
type memStore struct {
	mu      sync.Mutex
	records []domain.ShipmentRecord
	loaded  bool
}

func (s *memStore) LoadToday() ([]domain.ShipmentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil, false, nil
	}
	out := make([]domain.ShipmentRecord, len(s.records))
	copy(out, s.records)
	return out, true, nil
}

func (s *memStore) SaveToday(records []domain.ShipmentRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make([]domain.ShipmentRecord, len(records))
	copy(s.records, records)
	s.loaded = true
	return "in-memory", nil
}

func (s *memStore) byID(id int64) (domain.ShipmentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return domain.ShipmentRecord{}, false
}

func rawRecord(id int64, recipient, pickupDate string) recordsource.RawRecord {
	return recordsource.RawRecord{
		"id":          float64(id),
		"recipient":   recipient,
		"pickup_date": pickupDate,
	}
}

func setupApp(t *testing.T, source *fakeSource, store *memStore, ch channel.Channel) (*App, *reconciler.Reconciler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := reconciler.New(source, store, logger, nil)
	engine := dispatch.NewEngine(ch, rec, logger, nil)
	return New(rec, engine, "Hello {name}, {count} item(s)", nil, logger), rec
}

func TestApp_RunAndWait_EndToEnd(t *testing.T) {
	today := time.Now().Format(domain.PickupDateLayout)
	source := &fakeSource{records: []recordsource.RawRecord{
		rawRecord(1, "Acme Store", today),
		rawRecord(2, "Acme Store", today),
		rawRecord(3, "Globex Mart", today),
	}}
	store := &memStore{}
	mockCh := channel.NewMockChannel(slog.New(slog.NewTextHandler(io.Discard, nil)))
	mockCh.FailFor["Globex Mart"] = true

	app, _ := setupApp(t, source, store, mockCh)

	report, err := app.RunAndWait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Success)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Cancelled)
	assert.Equal(t, []string{"Acme Store", "Globex Mart"}, mockCh.Deliveries())

	// Both Acme records persisted as sent with a processed timestamp, the
	// Globex record failed with none.
	for _, id := range []int64{1, 2} {
		rec, ok := store.byID(id)
		require.True(t, ok)
		assert.Equal(t, domain.StatusSent, rec.Status)
		assert.NotNil(t, rec.ProcessedAt)
	}
	rec, ok := store.byID(3)
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Nil(t, rec.ProcessedAt)
}

func TestApp_SecondRunRetriesOnlyUnsent(t *testing.T) {
	today := time.Now().Format(domain.PickupDateLayout)
	source := &fakeSource{records: []recordsource.RawRecord{
		rawRecord(1, "Acme Store", today),
		rawRecord(3, "Globex Mart", today),
	}}
	store := &memStore{}
	mockCh := channel.NewMockChannel(slog.New(slog.NewTextHandler(io.Discard, nil)))
	mockCh.FailFor["Globex Mart"] = true

	app, _ := setupApp(t, source, store, mockCh)

	_, err := app.RunAndWait(context.Background())
	require.NoError(t, err)

	// Globex recovers; the follow-up run must not touch Acme again.
	delete(mockCh.FailFor, "Globex Mart")
	report, err := app.RunAndWait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Success)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, []string{"Acme Store", "Globex Mart", "Globex Mart"}, mockCh.Deliveries())
}

func TestApp_RenderPreview_NothingToSend(t *testing.T) {
	source := &fakeSource{records: nil}
	store := &memStore{}
	mockCh := channel.NewMockChannel(slog.New(slog.NewTextHandler(io.Discard, nil)))

	app, _ := setupApp(t, source, store, mockCh)

	_, err := app.RenderPreview(context.Background())
	assert.ErrorIs(t, err, ErrNothingToSend)
}

func TestApp_RenderPreview_DoesNotDispatch(t *testing.T) {
	today := time.Now().Format(domain.PickupDateLayout)
	source := &fakeSource{records: []recordsource.RawRecord{
		rawRecord(1, "Acme Store", today),
	}}
	store := &memStore{}
	mockCh := channel.NewMockChannel(slog.New(slog.NewTextHandler(io.Discard, nil)))

	app, _ := setupApp(t, source, store, mockCh)

	messages, err := app.RenderPreview(context.Background())
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Hello Acme Store, 1 item(s)", messages[0].Body)
	assert.Empty(t, mockCh.Deliveries())
}

func TestApp_Sync_ReportsRecordCount(t *testing.T) {
	today := time.Now().Format(domain.PickupDateLayout)
	source := &fakeSource{records: []recordsource.RawRecord{
		rawRecord(1, "Acme Store", today),
		rawRecord(2, "Globex Mart", today),
	}}
	store := &memStore{}
	mockCh := channel.NewMockChannel(slog.New(slog.NewTextHandler(io.Discard, nil)))

	app, _ := setupApp(t, source, store, mockCh)

	count, err := app.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
