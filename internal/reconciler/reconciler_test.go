package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shipdesk/shipnotify/internal/core_shipping/domain"
	"github.com/shipdesk/shipnotify/internal/recordsource"
)

// --- Mocks ---

type MockRecordSource struct {
	mock.Mock
}

func (m *MockRecordSource) FetchAll(ctx context.Context) ([]recordsource.RawRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]recordsource.RawRecord), args.Error(1)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) LoadToday() ([]domain.ShipmentRecord, bool, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]domain.ShipmentRecord), args.Bool(1), args.Error(2)
}

func (m *MockStore) SaveToday(records []domain.ShipmentRecord) (string, error) {
	args := m.Called(records)
	return args.String(0), args.Error(1)
}

// --- Test setup ---

var testToday = time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local)

func setupReconciler(t *testing.T) (*Reconciler, *MockRecordSource, *MockStore) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := new(MockRecordSource)
	store := new(MockStore)
	rec := New(source, store, logger, nil).WithClock(func() time.Time { return testToday })
	return rec, source, store
}

func rawRecord(id int64, recipient, pickupDate string) recordsource.RawRecord {
	return recordsource.RawRecord{
		"id":          float64(id),
		"recipient":   recipient,
		"pickup_date": pickupDate,
		"order_code":  "PO-100",
	}
}

// --- Tests ---

func TestSync_SameDaySnapshotSkipsRemoteFetch(t *testing.T) {
	rec, source, store := setupReconciler(t)

	cached := []domain.ShipmentRecord{{ID: 1, Recipient: "Acme", Status: domain.StatusSent}}
	store.On("LoadToday").Return(cached, true, nil).Once()

	got, err := rec.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, cached, got)

	// Snapshot idempotence: a second sync still performs no remote fetch.
	store.On("LoadToday").Return(cached, true, nil).Once()
	again, err := rec.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	source.AssertNotCalled(t, "FetchAll", mock.Anything)
	store.AssertExpectations(t)
}

func TestSync_FetchesWhenNoSnapshot(t *testing.T) {
	rec, source, store := setupReconciler(t)

	store.On("LoadToday").Return(nil, false, nil)
	source.On("FetchAll", mock.Anything).Return([]recordsource.RawRecord{
		rawRecord(1, "Acme", "2026-08-28"),
	}, nil).Once()
	store.On("SaveToday", mock.Anything).Return("shipments_260828-1000.json", nil).Once()

	got, err := rec.Sync(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.StatusPending, got[0].Status)
	assert.Equal(t, "PO-100", got[0].Attributes["order_code"])
	source.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestSync_MergePreservesDispatchState(t *testing.T) {
	rec, source, store := setupReconciler(t)

	// End-to-end scenario: previous [{1,sent}], fetched [{1,pending},{2,pending}].
	processed := testToday.Add(-time.Hour)
	previous := []domain.ShipmentRecord{{
		ID: 1, Recipient: "Acme", Status: domain.StatusSent, ProcessedAt: &processed,
		PickupDate: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
	}}
	store.On("LoadToday").Return(previous, true, nil).Once()
	_, err := rec.Sync(context.Background(), false)
	require.NoError(t, err)

	source.On("FetchAll", mock.Anything).Return([]recordsource.RawRecord{
		rawRecord(1, "Acme", "2026-08-28"),
		rawRecord(2, "Globex", "2026-08-28"),
	}, nil).Once()
	store.On("SaveToday", mock.Anything).Return("path", nil).Once()

	merged, err := rec.Sync(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, domain.StatusSent, merged[0].Status, "sent record must never reset to pending")
	require.NotNil(t, merged[0].ProcessedAt)
	assert.True(t, merged[0].ProcessedAt.Equal(processed))
	assert.Equal(t, domain.StatusPending, merged[1].Status, "new record starts pending")
	assert.Nil(t, merged[1].ProcessedAt)
}

func TestSync_ForceRefreshUsesSnapshotAsBaseline(t *testing.T) {
	rec, source, store := setupReconciler(t)

	// Fresh session, force refresh: yesterday's in-memory state is empty but
	// today's snapshot still carries dispatch state.
	previous := []domain.ShipmentRecord{{ID: 5, Recipient: "Acme", Status: domain.StatusFailed}}
	store.On("LoadToday").Return(previous, true, nil).Once()
	source.On("FetchAll", mock.Anything).Return([]recordsource.RawRecord{
		rawRecord(5, "Acme", "2026-08-27"),
	}, nil).Once()
	store.On("SaveToday", mock.Anything).Return("path", nil).Once()

	merged, err := rec.Sync(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, domain.StatusFailed, merged[0].Status)
}

func TestSync_ForceRefreshSurfacesSnapshotLoadError(t *testing.T) {
	rec, source, store := setupReconciler(t)

	// Fresh session: an unreadable same-day snapshot must abort the forced
	// sync instead of merging against an empty baseline, which would reset
	// sent records to pending.
	store.On("LoadToday").Return(nil, false, errors.New("disk error")).Once()

	_, err := rec.Sync(context.Background(), true)
	require.Error(t, err)
	source.AssertNotCalled(t, "FetchAll", mock.Anything)
	store.AssertNotCalled(t, "SaveToday", mock.Anything)
}

func TestSync_EligibilityFilter(t *testing.T) {
	rec, source, store := setupReconciler(t)

	store.On("LoadToday").Return(nil, false, nil)
	source.On("FetchAll", mock.Anything).Return([]recordsource.RawRecord{
		rawRecord(1, "Acme", "2026-08-28"),   // exactly today: in
		rawRecord(2, "Globex", "2026-08-29"), // strictly after today: out
		rawRecord(3, "Initech", "2026-08-20"),
	}, nil).Once()
	store.On("SaveToday", mock.Anything).Return("path", nil).Once()

	merged, err := rec.Sync(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, int64(1), merged[0].ID)
	assert.Equal(t, int64(3), merged[1].ID)
}

func TestSync_UnparseableEligibilityDateIsExcluded(t *testing.T) {
	rec, source, store := setupReconciler(t)

	store.On("LoadToday").Return(nil, false, nil)
	source.On("FetchAll", mock.Anything).Return([]recordsource.RawRecord{
		rawRecord(1, "Acme", "28/08/2026"),
		rawRecord(2, "Globex", "2026-08-28"),
	}, nil).Once()
	store.On("SaveToday", mock.Anything).Return("path", nil).Once()

	merged, err := rec.Sync(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, merged, 1, "unparseable date excludes the record, not the run")
	assert.Equal(t, int64(2), merged[0].ID)
}

func TestSync_VanishedRecordsAreDropped(t *testing.T) {
	rec, source, store := setupReconciler(t)

	previous := []domain.ShipmentRecord{
		{ID: 1, Recipient: "Acme", Status: domain.StatusSent},
		{ID: 2, Recipient: "Globex", Status: domain.StatusPending},
	}
	store.On("LoadToday").Return(previous, true, nil).Once()
	_, err := rec.Sync(context.Background(), false)
	require.NoError(t, err)

	source.On("FetchAll", mock.Anything).Return([]recordsource.RawRecord{
		rawRecord(1, "Acme", "2026-08-28"),
	}, nil).Once()
	store.On("SaveToday", mock.Anything).Return("path", nil).Once()

	merged, err := rec.Sync(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, merged, 1, "the feed is the source of truth for existence")
	assert.Equal(t, int64(1), merged[0].ID)
}

func TestSync_SourceFailureLeavesStateUntouched(t *testing.T) {
	rec, source, store := setupReconciler(t)

	store.On("LoadToday").Return(nil, false, nil)
	source.On("FetchAll", mock.Anything).Return(nil, recordsource.ErrSourceUnavailable).Once()

	_, err := rec.Sync(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, recordsource.ErrSourceUnavailable)
	store.AssertNotCalled(t, "SaveToday", mock.Anything)
}

func TestPersistStatuses_MergesByIdentityAndSaves(t *testing.T) {
	rec, source, store := setupReconciler(t)

	previous := []domain.ShipmentRecord{
		{ID: 1, Recipient: "Acme", Status: domain.StatusPending},
		{ID: 2, Recipient: "Globex", Status: domain.StatusPending},
	}
	store.On("LoadToday").Return(previous, true, nil).Once()
	_, err := rec.Sync(context.Background(), false)
	require.NoError(t, err)

	processed := testToday
	var saved []domain.ShipmentRecord
	store.On("SaveToday", mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(0).([]domain.ShipmentRecord)
	}).Return("path", nil).Once()

	err = rec.PersistStatuses(context.Background(), []domain.ShipmentRecord{
		{ID: 1, Status: domain.StatusSent, ProcessedAt: &processed},
	})
	require.NoError(t, err)

	require.Len(t, saved, 2)
	assert.Equal(t, domain.StatusSent, saved[0].Status)
	assert.Equal(t, domain.StatusPending, saved[1].Status)

	current := rec.Current()
	assert.Equal(t, domain.StatusSent, current[0].Status)
	_ = source
}
