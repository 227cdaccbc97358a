package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Config tunes ledger behaviour.
type Config struct {
	// AbandonAfter is the age after which an unlinked reservation is treated
	// as abandoned by a crashed request and may be reclaimed. Zero disables
	// reclaiming.
	AbandonAfter time.Duration
	// BloomCapacity and BloomFPR size the in-process filter of keys this
	// process has already reserved or observed. Zero capacity disables it.
	BloomCapacity uint
	BloomFPR      float64
}

// Reservation is the result of Reserve.
type Reservation struct {
	Created  bool
	Existing *Record
}

// Outcome tells the caller how to continue after Begin.
type Outcome struct {
	// Replay is true when the key already produced an order.
	Replay bool
	// OrderID is set for replays.
	OrderID string
}

// Ledger implements the replay algorithm on top of a Store.
type Ledger struct {
	store Store
	cfg   Config
	now   func() time.Time

	// The filter only lets Begin skip a lookup for keys that were certainly
	// never seen here; every decision is still taken by the store.
	mu        sync.Mutex
	seen      *bloom.BloomFilter
	seenCount uint
}

// NewLedger creates a Ledger backed by store.
func NewLedger(store Store, cfg Config) *Ledger {
	l := &Ledger{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
	if cfg.BloomCapacity > 0 {
		fpr := cfg.BloomFPR
		if fpr <= 0 || fpr >= 1 {
			fpr = 0.01
		}
		l.seen = bloom.NewWithEstimates(cfg.BloomCapacity, fpr)
	}
	return l
}

// Begin resolves key for a request whose canonical payload hashes to hash.
//
// A zero Outcome means the caller owns a fresh reservation and must either
// Link it or Release it. A Replay outcome carries the order created by an
// earlier request. ErrKeyReused and ErrInProgress are returned as conflicts.
func (l *Ledger) Begin(ctx context.Context, key, hash string) (Outcome, error) {
	var rec *Record
	if l.maybeSeen(key) {
		r, err := l.store.Get(ctx, key)
		switch {
		case err == nil:
			rec = r
		case errors.Is(err, ErrNotFound):
		default:
			return Outcome{}, errors.Wrap(err, "lookup key")
		}
	}

	if rec == nil {
		res, err := l.Reserve(ctx, key, hash)
		if err != nil {
			return Outcome{}, err
		}
		if res.Created {
			return Outcome{}, nil
		}
		rec = res.Existing
	}

	return l.resolve(ctx, rec, hash)
}

// Reserve attempts the atomic insert of a new unlinked record. When the key
// already exists the current record is returned instead.
func (l *Ledger) Reserve(ctx context.Context, key, hash string) (Reservation, error) {
	now := l.now()
	created, err := l.store.Reserve(ctx, Record{
		Key:         key,
		RequestHash: hash,
		CreatedAt:   now,
		LastUsedAt:  now,
	})
	if err != nil {
		return Reservation{}, errors.Wrap(err, "reserve key")
	}
	l.markSeen(key)
	if created {
		return Reservation{Created: true}, nil
	}

	existing, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The winner released its reservation between our insert and
			// lookup. A retry will either win or observe its successor.
			return Reservation{}, ErrInProgress
		}
		return Reservation{}, errors.Wrap(err, "lookup conflicting key")
	}
	return Reservation{Existing: existing}, nil
}

func (l *Ledger) resolve(ctx context.Context, rec *Record, hash string) (Outcome, error) {
	if rec.RequestHash != hash {
		return Outcome{}, ErrKeyReused
	}

	now := l.now()
	if rec.Linked() {
		if err := l.Touch(ctx, rec.Key); err != nil {
			zctx.From(ctx).Warn("Touch idempotency key",
				zap.String("key", rec.Key),
				zap.Error(err),
			)
		}
		return Outcome{Replay: true, OrderID: rec.OrderID}, nil
	}

	if l.cfg.AbandonAfter > 0 && now.Sub(rec.CreatedAt) >= l.cfg.AbandonAfter {
		won, err := l.store.Reclaim(ctx, rec.Key, hash, now.Add(-l.cfg.AbandonAfter), now)
		if err != nil {
			return Outcome{}, errors.Wrap(err, "reclaim key")
		}
		if won {
			zctx.From(ctx).Info("Reclaimed abandoned idempotency reservation",
				zap.String("key", rec.Key),
				zap.Time("reserved_at", rec.CreatedAt),
			)
			return Outcome{}, nil
		}
	}

	return Outcome{}, ErrInProgress
}

// Link finalizes the reservation for key with the created order.
func (l *Ledger) Link(ctx context.Context, key, orderID string) error {
	if err := l.store.Link(ctx, key, orderID); err != nil {
		return errors.Wrapf(err, "link key to order %s", orderID)
	}
	return nil
}

// Touch records a replay of key.
func (l *Ledger) Touch(ctx context.Context, key string) error {
	if err := l.store.Touch(ctx, key, l.now()); err != nil {
		return errors.Wrap(err, "touch key")
	}
	return nil
}

// Release drops an unlinked reservation so that a retry can start over.
func (l *Ledger) Release(ctx context.Context, key string) error {
	if err := l.store.Release(ctx, key); err != nil {
		return errors.Wrap(err, "release key")
	}
	return nil
}

func (l *Ledger) maybeSeen(key string) bool {
	if l.seen == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen.TestString(key)
}

func (l *Ledger) markSeen(key string) {
	if l.seen == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seenCount >= l.cfg.BloomCapacity {
		// Past capacity the false positive rate degrades; start over.
		l.seen.ClearAll()
		l.seenCount = 0
	}
	l.seen.AddString(key)
	l.seenCount++
}
