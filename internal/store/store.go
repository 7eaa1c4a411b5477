// Package store holds the single ordered, de-duplicated message sequence
// for one open conversation. Both the REST history loader and the live
// event channel mutate it; the de-duplication rule is what keeps their
// race from producing duplicates.
package store

import (
	"sort"
	"sync"

	"github.com/lotmarket/chatsync/internal/model"
)

type entry struct {
	msg     model.Message
	arrival int64
}

// Store is the client-side message store for one conversation.
// Ordering key is (sent_at, arrival sequence): timestamp ascending, with
// arrival order as the deterministic tie-break.
type Store struct {
	conversationId string

	mu      sync.RWMutex
	entries []entry
	byId    map[string]int // message id -> index in entries
	arrival int64
}

// New creates an empty store bound to one conversation
func New(conversationId string) *Store {
	return &Store{
		conversationId: conversationId,
		byId:           make(map[string]int),
	}
}

// ConversationId returns the owning conversation id
func (s *Store) ConversationId() string {
	return s.conversationId
}

// Insert adds a message unless its id is already present or it belongs to
// a different conversation. Returns true when the message was added.
// Messages are never removed; a deleted message arrives as a tombstone
// type and stays in the sequence.
func (s *Store) Insert(msg model.Message) bool {
	if msg.Id == "" || msg.ConversationId != s.conversationId {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byId[msg.Id]; ok {
		return false
	}

	s.arrival++
	e := entry{msg: msg, arrival: s.arrival}

	// First index whose timestamp is strictly greater: equal timestamps
	// keep arrival order.
	pos := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].msg.SentAt > msg.SentAt
	})

	s.entries = append(s.entries, entry{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = e

	for i := pos; i < len(s.entries); i++ {
		s.byId[s.entries[i].msg.Id] = i
	}
	return true
}

// InsertHistory merges a REST-loaded history batch, returning how many
// messages were actually added
func (s *Store) InsertHistory(msgs []model.Message) int {
	added := 0
	for _, m := range msgs {
		if s.Insert(m) {
			added++
		}
	}
	return added
}

// MarkRead flips a message's read flag in place. The sequence is neither
// reordered nor duplicated. Returns false when the id is unknown.
func (s *Store) MarkRead(messageId string, readAt int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byId[messageId]
	if !ok {
		return false
	}
	s.entries[i].msg.Read = true
	if s.entries[i].msg.ReadAt == 0 {
		s.entries[i].msg.ReadAt = readAt
	}
	return true
}

// Get returns a message by id
func (s *Store) Get(messageId string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byId[messageId]
	if !ok {
		return model.Message{}, false
	}
	return s.entries[i].msg, true
}

// Contains reports whether a message id is present
func (s *Store) Contains(messageId string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byId[messageId]
	return ok
}

// Len returns the number of messages
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Messages returns a copy of the ordered sequence
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}

// Grouped reports whether the message at index i continues the visual
// group started by its predecessor (same sender). Grouping is derived
// from the ordered sequence, never stored.
func (s *Store) Grouped(i int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i <= 0 || i >= len(s.entries) {
		return false
	}
	return s.entries[i].msg.SenderId == s.entries[i-1].msg.SenderId
}
