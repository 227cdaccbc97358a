// Package events publishes order lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/nats-io/nats.go"
)

// Publisher sends an encoded event to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// NATSPublisher publishes events over a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, name string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect to nats")
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends payload to subject.
func (p *NATSPublisher) Publish(_ context.Context, subject string, payload []byte) error {
	if err := p.conn.Publish(subject, payload); err != nil {
		return errors.Wrapf(err, "publish %s", subject)
	}
	return nil
}

// Check reports whether the connection is up. It is used as a readiness
// check.
func (p *NATSPublisher) Check(context.Context) error {
	if !p.conn.IsConnected() {
		return errors.Errorf("nats connection %s", p.conn.Status())
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return errors.Wrap(err, "drain nats connection")
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, []byte) error { return nil }
