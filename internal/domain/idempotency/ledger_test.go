package idempotency

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a mutex-guarded Store used to exercise the ledger.
type memStore struct {
	mu      sync.Mutex
	records map[string]Record

	getCalls   int
	touchErr   error
	reserveErr error
	// afterReserveConflict runs once when Reserve loses, before returning.
	afterReserveConflict func()
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (m *memStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *memStore) Reserve(_ context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	if m.reserveErr != nil {
		m.mu.Unlock()
		return false, m.reserveErr
	}
	if _, ok := m.records[rec.Key]; ok {
		hook := m.afterReserveConflict
		m.afterReserveConflict = nil
		m.mu.Unlock()
		if hook != nil {
			hook()
		}
		return false, nil
	}
	m.records[rec.Key] = rec
	m.mu.Unlock()
	return true, nil
}

func (m *memStore) Link(_ context.Context, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return ErrNotFound
	}
	rec.OrderID = orderID
	m.records[key] = rec
	return nil
}

func (m *memStore) Touch(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touchErr != nil {
		return m.touchErr
	}
	rec, ok := m.records[key]
	if !ok {
		return ErrNotFound
	}
	rec.LastUsedAt = at
	m.records[key] = rec
	return nil
}

func (m *memStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok && !rec.Linked() {
		delete(m.records, key)
	}
	return nil
}

func (m *memStore) Reclaim(_ context.Context, key, hash string, staleBefore, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok || rec.Linked() || rec.RequestHash != hash || !rec.CreatedAt.Before(staleBefore) {
		return false, nil
	}
	rec.CreatedAt = now
	rec.LastUsedAt = now
	m.records[key] = rec
	return true, nil
}

func newTestLedger(store Store, cfg Config, now time.Time) *Ledger {
	l := NewLedger(store, cfg)
	l.now = func() time.Time { return now }
	return l
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "trims", raw: "  abc-123 \t", want: "abc-123"},
		{name: "empty", raw: "", wantErr: ErrMissingKey},
		{name: "blank", raw: "   ", wantErr: ErrMissingKey},
		{name: "max length", raw: strings.Repeat("k", MaxKeyLength), want: strings.Repeat("k", MaxKeyLength)},
		{name: "too long", raw: strings.Repeat("k", MaxKeyLength+1), wantErr: ErrKeyTooLong},
		{name: "multibyte counted as characters", raw: strings.Repeat("ñ", MaxKeyLength), want: strings.Repeat("ñ", MaxKeyLength)},
		{name: "invalid utf8", raw: "key-\xff\xfe", wantErr: ErrInvalidKey},
		{name: "nul", raw: "key\x00suffix", wantErr: ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeKey(tt.raw)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLedger_Begin(t *testing.T) {
	now := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	cfg := Config{AbandonAfter: 2 * time.Minute}

	tests := []struct {
		name     string
		existing *Record
		hash     string
		want     Outcome
		wantErr  error
	}{
		{
			name: "unknown key reserves fresh",
			hash: "h1",
			want: Outcome{},
		},
		{
			name: "linked record with same hash replays",
			existing: &Record{
				Key: "k", RequestHash: "h1", OrderID: "order-1",
				CreatedAt: now.Add(-time.Hour), LastUsedAt: now.Add(-time.Hour),
			},
			hash: "h1",
			want: Outcome{Replay: true, OrderID: "order-1"},
		},
		{
			name: "different hash conflicts",
			existing: &Record{
				Key: "k", RequestHash: "h1", OrderID: "order-1",
				CreatedAt: now.Add(-time.Hour),
			},
			hash:    "h2",
			wantErr: ErrKeyReused,
		},
		{
			name: "different hash conflicts even while unlinked",
			existing: &Record{
				Key: "k", RequestHash: "h1", CreatedAt: now,
			},
			hash:    "h2",
			wantErr: ErrKeyReused,
		},
		{
			name: "unlinked recent record is in progress",
			existing: &Record{
				Key: "k", RequestHash: "h1", CreatedAt: now.Add(-10 * time.Second),
			},
			hash:    "h1",
			wantErr: ErrInProgress,
		},
		{
			name: "unlinked abandoned record is reclaimed",
			existing: &Record{
				Key: "k", RequestHash: "h1", CreatedAt: now.Add(-10 * time.Minute),
			},
			hash: "h1",
			want: Outcome{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			if tt.existing != nil {
				store.records[tt.existing.Key] = *tt.existing
			}
			l := newTestLedger(store, cfg, now)

			got, err := l.Begin(context.Background(), "k", tt.hash)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLedger_ReplayTouchesRecord(t *testing.T) {
	now := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.records["k"] = Record{Key: "k", RequestHash: "h", OrderID: "o1", CreatedAt: now.Add(-time.Hour), LastUsedAt: now.Add(-time.Hour)}
	l := newTestLedger(store, Config{}, now)

	_, err := l.Begin(context.Background(), "k", "h")
	require.NoError(t, err)
	assert.Equal(t, now, store.records["k"].LastUsedAt)
}

func TestLedger_TouchFailureStillReplays(t *testing.T) {
	store := newMemStore()
	store.records["k"] = Record{Key: "k", RequestHash: "h", OrderID: "o1"}
	store.touchErr = errors.New("connection reset")
	l := NewLedger(store, Config{})

	got, err := l.Begin(context.Background(), "k", "h")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Replay: true, OrderID: "o1"}, got)
}

func TestLedger_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := NewLedger(store, Config{AbandonAfter: time.Minute})

	out, err := l.Begin(ctx, "k", "h")
	require.NoError(t, err)
	assert.False(t, out.Replay)

	// A second attempt before linking observes the reservation.
	_, err = l.Begin(ctx, "k", "h")
	require.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, l.Link(ctx, "k", "order-9"))

	out, err = l.Begin(ctx, "k", "h")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Replay: true, OrderID: "order-9"}, out)

	// Release never removes a linked record.
	require.NoError(t, l.Release(ctx, "k"))
	rec, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "order-9", rec.OrderID)
}

func TestLedger_ReleaseAllowsRetry(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := NewLedger(store, Config{})

	_, err := l.Begin(ctx, "k", "h")
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, "k"))

	out, err := l.Begin(ctx, "k", "h")
	require.NoError(t, err)
	assert.False(t, out.Replay)
}

func TestLedger_ReserveConflictRefetches(t *testing.T) {
	store := newMemStore()
	store.records["k"] = Record{Key: "k", RequestHash: "h", OrderID: "o1"}
	l := NewLedger(store, Config{})

	res, err := l.Reserve(context.Background(), "k", "h")
	require.NoError(t, err)
	assert.False(t, res.Created)
	require.NotNil(t, res.Existing)
	assert.Equal(t, "o1", res.Existing.OrderID)
}

func TestLedger_ReserveConflictWinnerReleased(t *testing.T) {
	store := newMemStore()
	store.records["k"] = Record{Key: "k", RequestHash: "h"}
	store.afterReserveConflict = func() {
		store.mu.Lock()
		delete(store.records, "k")
		store.mu.Unlock()
	}
	l := NewLedger(store, Config{})

	_, err := l.Reserve(context.Background(), "k", "h")
	require.ErrorIs(t, err, ErrInProgress)
}

func TestLedger_StoreErrorsAreWrapped(t *testing.T) {
	store := newMemStore()
	store.reserveErr = errors.New("db down")
	l := NewLedger(store, Config{})

	_, err := l.Begin(context.Background(), "k", "h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserve key")
	assert.NotErrorIs(t, err, ErrInProgress)
}

func TestLedger_BloomSkipsLookupForUnseenKeys(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := NewLedger(store, Config{BloomCapacity: 1000, BloomFPR: 0.001})

	_, err := l.Begin(ctx, "fresh-key", "h")
	require.NoError(t, err)
	assert.Equal(t, 0, store.getCalls, "unseen key must go straight to reserve")

	require.NoError(t, l.Link(ctx, "fresh-key", "o1"))
	out, err := l.Begin(ctx, "fresh-key", "h")
	require.NoError(t, err)
	assert.True(t, out.Replay)
	assert.Equal(t, 1, store.getCalls)
}

func TestLedger_BloomMissStillDetectsExistingKey(t *testing.T) {
	// Records written by another process are unknown to this filter.
	store := newMemStore()
	store.records["k"] = Record{Key: "k", RequestHash: "h", OrderID: "o1"}
	l := NewLedger(store, Config{BloomCapacity: 1000})

	out, err := l.Begin(context.Background(), "k", "h")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Replay: true, OrderID: "o1"}, out)
}

func TestLedger_ConcurrentBeginSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := NewLedger(store, Config{AbandonAfter: time.Minute, BloomCapacity: 100})

	const racers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fresh    int
		inFlight int
	)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := l.Begin(ctx, "race", "h")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && !out.Replay:
				fresh++
			case errors.Is(err, ErrInProgress):
				inFlight++
			default:
				t.Errorf("unexpected outcome %+v, %v", out, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, racers-1, inFlight)
}
