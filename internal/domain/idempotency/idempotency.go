// Package idempotency implements the ledger that makes order submission safe
// to retry. A record is keyed by the client-supplied idempotency key and
// remembers the hash of the first payload seen for that key and, once the
// order is durably stored, the id of that order.
package idempotency

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
)

// MaxKeyLength is the maximum accepted key length in characters.
const MaxKeyLength = 200

var (
	// ErrMissingKey is returned when the request carries no usable key.
	ErrMissingKey = errors.New("idempotency key required")
	// ErrKeyTooLong is returned for keys longer than MaxKeyLength.
	ErrKeyTooLong = errors.New("idempotency key too long")
	// ErrInvalidKey is returned for keys that are not valid UTF-8 or contain
	// NUL characters.
	ErrInvalidKey = errors.New("idempotency key invalid")
	// ErrKeyReused is returned when a key is replayed with a different payload.
	ErrKeyReused = errors.New("idempotency key reused with a different payload")
	// ErrInProgress is returned while another request holds the reservation.
	ErrInProgress = errors.New("request with this idempotency key is in progress")
	// ErrNotFound is returned by stores when no record exists for a key.
	ErrNotFound = errors.New("idempotency record not found")
)

// Record is the persisted state of a single key.
type Record struct {
	Key         string
	RequestHash string
	// OrderID is empty until the order has been created and linked.
	OrderID    string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Linked reports whether the record already points at an order.
func (r *Record) Linked() bool {
	return r.OrderID != ""
}

// Store persists ledger records. Implementations must make Reserve an atomic
// insert-or-conflict and Reclaim an atomic compare-and-set.
type Store interface {
	// Get returns ErrNotFound when the key is unknown.
	Get(ctx context.Context, key string) (*Record, error)
	// Reserve inserts rec and reports whether it was created. A false result
	// with a nil error means the key already exists.
	Reserve(ctx context.Context, rec Record) (bool, error)
	// Link sets the order id of an existing record.
	Link(ctx context.Context, key, orderID string) error
	// Touch updates last_used_at.
	Touch(ctx context.Context, key string, at time.Time) error
	// Release deletes the record if it is not linked yet.
	Release(ctx context.Context, key string) error
	// Reclaim re-arms an unlinked record created before staleBefore whose
	// hash equals hash, resetting its creation time to now. It reports
	// whether this caller won the record.
	Reclaim(ctx context.Context, key, hash string, staleBefore, now time.Time) (bool, error)
}

// NormalizeKey trims the raw header value and validates its encoding and
// length.
func NormalizeKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", ErrMissingKey
	}
	if !utf8.ValidString(key) || strings.ContainsRune(key, 0) {
		return "", ErrInvalidKey
	}
	if utf8.RuneCountInString(key) > MaxKeyLength {
		return "", ErrKeyTooLong
	}
	return key, nil
}
