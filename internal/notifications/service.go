// Package notifications keeps the persistent notification feed: sync
// fallbacks, connectivity transitions, and finalized encounters, shown
// newest first and capped at a configured size.
package notifications

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/events"
	"github.com/verdanthealth/chartd/internal/localstore"
)

// Notification kinds.
const (
	KindSync         = "sync"
	KindConnectivity = "connectivity"
	KindEncounter    = "encounter"
)

const defaultMaxEntries = 200

// timeNow is swapped out by tests.
var timeNow = time.Now

// Notification is one entry in the feed.
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	RecordID  string    `json:"recordId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service is the notification feed over the notifications bucket.
// Safe for concurrent use.
type Service struct {
	store      *localstore.Store
	maxEntries int
	logger     *zap.Logger

	mu    sync.Mutex
	items []Notification // newest first

	subMu sync.Mutex
	sub   *nats.Subscription
	msgs  chan *nats.Msg
	done  chan struct{}
}

// NewService loads the persisted feed and returns the service.
func NewService(store *localstore.Store, maxEntries int, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("notifications: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	s := &Service{
		store:      store,
		maxEntries: maxEntries,
		logger:     logger.Named("notifications"),
	}

	var items []Notification
	if store.Load(localstore.BucketNotifications, &items) {
		if len(items) > maxEntries {
			items = items[:maxEntries]
		}
		s.items = items
	}

	return s, nil
}

// Add appends a notification to the front of the feed.
func (s *Service) Add(kind, message, recordID string) Notification {
	n := Notification{
		ID:        uuid.New().String(),
		Kind:      kind,
		Message:   message,
		RecordID:  recordID,
		CreatedAt: timeNow().UTC(),
	}

	s.mu.Lock()
	s.items = append([]Notification{n}, s.items...)
	if len(s.items) > s.maxEntries {
		s.items = s.items[:s.maxEntries]
	}
	s.persistLocked()
	s.mu.Unlock()

	s.logger.Debug("notification added",
		zap.String("kind", kind),
		zap.String("record_id", recordID))
	return n
}

// List returns the feed newest first.
func (s *Service) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out
}

// Unread returns unread notifications newest first.
func (s *Service) Unread() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.items {
		if !n.Read {
			out = append(out, n)
		}
	}
	return out
}

// MarkRead marks one notification read. Returns false for unknown ids.
func (s *Service) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			if !s.items[i].Read {
				s.items[i].Read = true
				s.persistLocked()
			}
			return true
		}
	}
	return false
}

// Clear empties the feed.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.persistLocked()
}

// persistLocked saves the feed. Callers hold s.mu.
func (s *Service) persistLocked() {
	s.store.Save(localstore.BucketNotifications, s.items)
}

// Start subscribes to the event bus and translates events into feed
// entries. A nil connection is valid and leaves the feed manual-only.
func (s *Service) Start(nc *nats.Conn) error {
	if nc == nil {
		return nil
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub != nil {
		return errors.New("notifications: already started")
	}

	msgs := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(events.SubjectAll, msgs)
	if err != nil {
		return err
	}

	s.sub = sub
	s.msgs = msgs
	s.done = make(chan struct{})
	go s.consume(msgs, s.done)
	return nil
}

// Stop drains the subscription.
func (s *Service) Stop() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub == nil {
		return
	}
	_ = s.sub.Unsubscribe()
	close(s.done)
	s.sub = nil
}

func (s *Service) consume(msgs chan *nats.Msg, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev events.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				s.logger.Debug("event decode failed", zap.Error(err))
				continue
			}
			s.handleEvent(ev)
		}
	}
}

// handleEvent turns the events worth surfacing into notifications.
// Routine remote writes stay silent; only fallbacks, syncs, finalized
// encounters, and connectivity transitions reach the feed.
func (s *Service) handleEvent(ev events.Event) {
	switch {
	case ev.Stream == events.StreamConnectivity:
		switch ev.Action {
		case events.ActionLost:
			s.Add(KindConnectivity, "Backend unreachable; changes are saved locally", "")
		case events.ActionRestored:
			s.Add(KindConnectivity, "Backend connection restored", "")
		}
	case ev.Action == events.ActionSynced:
		s.Add(KindSync, "Record synced to backend", ev.RecordID)
	case ev.Action == events.ActionFinalized:
		s.Add(KindEncounter, "Encounter finalized", ev.RecordID)
	case ev.Source == "local":
		s.Add(KindSync, "Saved locally, pending sync", ev.RecordID)
	}
}
