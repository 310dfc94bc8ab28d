package telegram

import (
	"container/list"
	"sync"
	"time"

	"tether/pkg/tether"
)

const (
	defaultSnapshotMaxEntries = 20000
	defaultSnapshotTTL        = 48 * time.Hour
)

// StoredMessage is the last known state of one Telegram message.
type StoredMessage struct {
	Conversation tether.Conversation
	Author       tether.Actor
	Message      tether.Message
}

// SnapshotStore remembers recent message state so edits and deletions can be
// enriched with data Telegram leaves out of its updates.
//
// Entries are keyed by (scope, message id) where scope is the chat id for
// channel peers and empty otherwise. The store is bounded by entry count in
// LRU order and by TTL since the last write.
type SnapshotStore struct {
	maxEntries int
	ttl        time.Duration
	clock      func() time.Time

	mu      sync.Mutex
	records map[snapshotKey]*list.Element
	lru     *list.List
}

type snapshotKey struct {
	scope     string
	messageID string
}

type snapshotRecord struct {
	key       snapshotKey
	stored    StoredMessage
	expiresAt time.Time
}

// NewSnapshotStore creates a bounded snapshot store. Non-positive limits fall
// back to defaults.
func NewSnapshotStore(maxEntries int, ttl time.Duration) *SnapshotStore {
	if maxEntries <= 0 {
		maxEntries = defaultSnapshotMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}

	return &SnapshotStore{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      time.Now,
		records:    make(map[snapshotKey]*list.Element),
		lru:        list.New(),
	}
}

// Remember stores or replaces the state of one message.
func (s *SnapshotStore) Remember(scope string, stored StoredMessage) {
	if s == nil || stored.Message.ID == "" {
		return
	}

	key := snapshotKey{scope: scope, messageID: stored.Message.ID}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	record := &snapshotRecord{key: key, stored: cloneStoredMessage(stored), expiresAt: now.Add(s.ttl)}
	if element, exists := s.records[key]; exists {
		element.Value = record
		s.lru.MoveToFront(element)
		return
	}

	s.records[key] = s.lru.PushFront(record)
	s.trimToCapacityLocked()
}

// Lookup returns the remembered state of one message.
func (s *SnapshotStore) Lookup(scope string, messageID string) (StoredMessage, bool) {
	if s == nil {
		return StoredMessage{}, false
	}

	key := snapshotKey{scope: scope, messageID: messageID}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	element, exists := s.records[key]
	if !exists {
		return StoredMessage{}, false
	}
	record := element.Value.(*snapshotRecord)
	if !now.Before(record.expiresAt) {
		s.deleteLocked(key)
		return StoredMessage{}, false
	}
	s.lru.MoveToFront(element)

	return cloneStoredMessage(record.stored), true
}

// UpdateReactions replaces the reaction tally of a remembered message.
// It reports whether the message was known.
func (s *SnapshotStore) UpdateReactions(scope string, messageID string, reactions []tether.MessageReaction) bool {
	if s == nil {
		return false
	}

	key := snapshotKey{scope: scope, messageID: messageID}

	s.mu.Lock()
	defer s.mu.Unlock()

	element, exists := s.records[key]
	if !exists {
		return false
	}
	record := element.Value.(*snapshotRecord)
	record.stored.Message.Reactions = append([]tether.MessageReaction(nil), reactions...)

	return true
}

// Forget drops one message.
func (s *SnapshotStore) Forget(scope string, messageID string) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(snapshotKey{scope: scope, messageID: messageID})
}

// Len returns the number of stored entries, expired ones included.
func (s *SnapshotStore) Len() int {
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

func (s *SnapshotStore) trimToCapacityLocked() {
	for len(s.records) > s.maxEntries {
		back := s.lru.Back()
		if back == nil {
			break
		}
		s.deleteLocked(back.Value.(*snapshotRecord).key)
	}
}

func (s *SnapshotStore) deleteLocked(key snapshotKey) {
	element, exists := s.records[key]
	if !exists {
		return
	}
	s.lru.Remove(element)
	delete(s.records, key)
}

func cloneStoredMessage(stored StoredMessage) StoredMessage {
	message := stored.Message
	message.ReplyTo = nil
	message.Entities = append([]tether.TextEntity(nil), message.Entities...)
	message.Media = append([]tether.MediaAttachment(nil), message.Media...)
	message.Reactions = append([]tether.MessageReaction(nil), message.Reactions...)
	stored.Message = message

	return stored
}
