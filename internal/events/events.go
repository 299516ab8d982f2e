// Package events publishes record lifecycle events to NATS for SSE
// streaming and the notification feed.
//
// Events are published to subjects:
//   - chartd.patients.{record_id}.{action}
//   - chartd.sessions.{record_id}.{action}
//   - chartd.encounters.{record_id}.{action}
//
// Publishing is best effort: a daemon running without NATS, or with a
// dropped connection, keeps working and the failure is logged at debug
// level. Nothing in the write path ever blocks on the event bus.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Actions carried in the subject's final token.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionFinalized = "finalized"
	ActionSynced    = "synced"
	ActionLost      = "lost"
	ActionRestored  = "restored"
)

// StreamConnectivity carries backend health transitions. The record id
// slot holds the literal "backend".
const StreamConnectivity = "connectivity"

// SubjectAll matches every chartd event subject.
const SubjectAll = "chartd.>"

// Event is the JSON payload published for each record mutation. Source
// tells subscribers whether the write reached the backend ("remote")
// or only the local cache ("local").
type Event struct {
	Stream    string    `json:"stream"`
	RecordID  string    `json:"recordId"`
	Action    string    `json:"action"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Subject returns the NATS subject this event is published to.
func (e Event) Subject() string {
	return fmt.Sprintf("chartd.%s.%s.%s", e.Stream, e.RecordID, e.Action)
}

// Publisher fans record mutations out to NATS. A nil Publisher and a
// Publisher without a connection are both valid and drop every event,
// so callers never need to guard their publish sites.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewPublisher wires a publisher to an established NATS connection.
// nc may be nil to disable publishing.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, logger: logger}
}

// Publish emits one event. Failures are logged and swallowed.
func (p *Publisher) Publish(stream, recordID, action, source string, at time.Time) {
	if p == nil || p.nc == nil {
		return
	}

	event := Event{
		Stream:    stream,
		RecordID:  recordID,
		Action:    action,
		Source:    source,
		Timestamp: at,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Debug("event marshal failed", zap.Error(err))
		return
	}

	if err := p.nc.Publish(event.Subject(), data); err != nil {
		p.logger.Debug("event publish failed",
			zap.String("subject", event.Subject()),
			zap.Error(err))
	}
}

// Subscribe delivers every chartd event to ch until the subscription
// is drained. The channel should be buffered; NATS drops messages a
// full channel cannot take.
func (p *Publisher) Subscribe(ch chan *nats.Msg) (*nats.Subscription, error) {
	if p == nil || p.nc == nil {
		return nil, fmt.Errorf("events: no NATS connection")
	}
	return p.nc.ChanSubscribe(SubjectAll, ch)
}
