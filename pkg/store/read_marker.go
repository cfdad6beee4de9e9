package store

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/lifeline/pkg/chat"
)

// ReadMarkerStore persists the last-seen position per session, outside the
// session object, so a later remount can recompute an accurate unread count
// instead of assuming zero.
type ReadMarkerStore interface {
	Put(ctx context.Context, marker chat.ReadMarker) error
	Get(ctx context.Context, sessionID string) (chat.ReadMarker, bool, error)
	Close() error
}

// InMemoryReadMarkerStore keeps markers for the lifetime of the process. It
// mirrors the SQLite store's semantics so the tracker behaves identically
// against either.
type InMemoryReadMarkerStore struct {
	mu      sync.Mutex
	markers map[string]chat.ReadMarker
}

var _ ReadMarkerStore = &InMemoryReadMarkerStore{}

func NewInMemoryReadMarkerStore() *InMemoryReadMarkerStore {
	return &InMemoryReadMarkerStore{markers: map[string]chat.ReadMarker{}}
}

func (s *InMemoryReadMarkerStore) Put(_ context.Context, marker chat.ReadMarker) error {
	marker.SessionID = strings.TrimSpace(marker.SessionID)
	if marker.SessionID == "" {
		return errors.New("read marker store: session id is empty")
	}
	if marker.LastSeenIndex < 0 {
		return errors.New("read marker store: negative last seen index")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[marker.SessionID] = marker
	return nil
}

func (s *InMemoryReadMarkerStore) Get(_ context.Context, sessionID string) (chat.ReadMarker, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return chat.ReadMarker{}, false, errors.New("read marker store: session id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	marker, ok := s.markers[sessionID]
	return marker, ok, nil
}

func (s *InMemoryReadMarkerStore) Close() error { return nil }
