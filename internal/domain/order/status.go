package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Status is the kitchen lifecycle state of an order.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusInKitchen Status = "in_kitchen"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
)

// lifecycle lists the statuses in order.
var lifecycle = []Status{StatusQueued, StatusInKitchen, StatusReady, StatusDelivered}

var (
	// ErrInvalidStatus is returned for values outside the lifecycle.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrStatusChanged is returned when a concurrent update moved the order
	// between reading and writing its status.
	ErrStatusChanged = errors.New("order status changed concurrently")
)

// TransitionError is returned when a requested transition skips or reverts
// a lifecycle step.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// ParseStatus validates a raw status value.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if st.index() < 0 {
		return "", ErrInvalidStatus
	}
	return st, nil
}

func (s Status) index() int {
	for i, v := range lifecycle {
		if v == s {
			return i
		}
	}
	return -1
}

// Next returns the status following s. The second result is false for
// delivered and unknown statuses.
func (s Status) Next() (Status, bool) {
	i := s.index()
	if i < 0 || i == len(lifecycle)-1 {
		return "", false
	}
	return lifecycle[i+1], true
}

// Terminal reports whether s is the last lifecycle state.
func (s Status) Terminal() bool {
	return s == StatusDelivered
}

// CheckTransition allows exactly one step forward.
func CheckTransition(from, to Status) error {
	next, ok := from.Next()
	if !ok || next != to {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
