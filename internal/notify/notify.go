// Package notify publishes build-completed events to NATS for downstream
// automation (cache purges, deploy hooks, dashboards).
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	sgerrors "git.home.luguber.info/inful/sitegen/internal/errors"
)

// BuildEvent is the JSON payload published after every finished build.
type BuildEvent struct {
	BuildID     string        `json:"build_id"`
	Outcome     string        `json:"outcome"`
	Documents   int           `json:"documents"`
	Rendered    int           `json:"rendered"`
	Failed      int           `json:"failed"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	Finished    time.Time     `json:"finished"`
}

// Notifier publishes build events. Implementations must tolerate concurrent use.
type Notifier interface {
	PublishBuild(ctx context.Context, evt BuildEvent) error
	Close()
}

// NATSNotifier publishes build events to a NATS subject.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NewNATSNotifier connects to the NATS server at url.
func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.CategoryNotify, sgerrors.SeverityWarning, "connect to nats")
	}
	return &NATSNotifier{conn: conn, subject: subject}, nil
}

// PublishBuild publishes the event and flushes the connection.
func (n *NATSNotifier) PublishBuild(ctx context.Context, evt BuildEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return sgerrors.Wrap(err, sgerrors.CategoryNotify, sgerrors.SeverityWarning, "marshal build event")
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return sgerrors.Wrap(err, sgerrors.CategoryNotify, sgerrors.SeverityWarning, "publish build event")
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return sgerrors.Wrap(err, sgerrors.CategoryNotify, sgerrors.SeverityWarning, "flush build event")
	}
	return nil
}

// Close drains the connection.
func (n *NATSNotifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
