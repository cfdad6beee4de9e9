package store

import (
	"sort"
	"sync"

	"github.com/go-go-golems/lifeline/pkg/chat"
)

// MessageStore is the ordered, deduplicated message log for one session.
// Merge is commutative and idempotent: applying the same or overlapping
// batches in any order converges to the same canonical sequence, which is what
// makes overlapping poll results and optimistic echoes safe.
//
// The store is written only by the sync engine; every other component reads.
type MessageStore struct {
	mu    sync.RWMutex
	byID  map[string]chat.Message
	order []string // message ids sorted by (createdAt, id)
}

// MergeResult exposes the subsequence of genuinely new entries for downstream
// unread accounting.
type MergeResult struct {
	Inserted []chat.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{byID: map[string]chat.Message{}}
}

// Merge folds a batch of any size and order into the store. Duplicates of
// existing entries only win for monotonic fields (moderated false→true,
// delivery status moving forward); everything else keeps the existing copy.
func (s *MessageStore) Merge(batch []chat.Message) MergeResult {
	if len(batch) == 0 {
		return MergeResult{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted []chat.Message
	for _, msg := range batch {
		if msg.ID == "" {
			continue
		}
		existing, ok := s.byID[msg.ID]
		if !ok {
			s.byID[msg.ID] = msg
			s.insertOrderedLocked(msg)
			inserted = append(inserted, msg)
			continue
		}
		updated := existing
		if msg.Moderated && !existing.Moderated {
			updated.Moderated = true
		}
		if chat.DeliveryAdvances(existing.Status, msg.Status) {
			updated.Status = msg.Status
		}
		if updated != existing {
			s.byID[msg.ID] = updated
		}
	}
	sort.Slice(inserted, func(i, j int) bool { return inserted[i].Before(inserted[j]) })
	return MergeResult{Inserted: inserted}
}

func (s *MessageStore) insertOrderedLocked(msg chat.Message) {
	idx := sort.Search(len(s.order), func(i int) bool {
		return msg.Before(s.byID[s.order[i]])
	})
	s.order = append(s.order, "")
	copy(s.order[idx+1:], s.order[idx:])
	s.order[idx] = msg.ID
}

// Messages returns the canonical read view, fully sorted by createdAt then id.
func (s *MessageStore) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Get looks a message up by id.
func (s *MessageStore) Get(id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byID[id]
	return msg, ok
}

// Len returns the number of distinct messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// MarkModerated flips the moderated flag, which is monotonic (false→true
// only). Returns false if the message is unknown.
func (s *MessageStore) MarkModerated(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return false
	}
	if !msg.Moderated {
		msg.Moderated = true
		s.byID[id] = msg
	}
	return true
}

// Newest returns the last message in canonical order, if any.
func (s *MessageStore) Newest() (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return chat.Message{}, false
	}
	return s.byID[s.order[len(s.order)-1]], true
}
