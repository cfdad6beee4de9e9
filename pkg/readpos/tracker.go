package readpos

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/store"
)

// Decision tells the render surface what to do with a freshly merged batch:
// either scroll silently to the newest message, or leave the viewport alone
// and show the unread banner with a count.
type Decision struct {
	AutoScroll bool
	Unread     int
}

// Tracker decides between auto-scroll and the "N new messages" affordance.
// It only consumes new-message notifications and the surface's near-bottom
// predicate; it never touches the network. The last-seen index is persisted
// every time the unread count clears, so remounting the same session can
// recompute an accurate count instead of assuming zero.
type Tracker struct {
	markers store.ReadMarkerStore
	logger  zerolog.Logger

	mu          sync.Mutex
	sessionID   string
	firstRender bool
	total       int
	lastSeen    int
	unread      int
}

func NewTracker(markers store.ReadMarkerStore, logger zerolog.Logger) *Tracker {
	return &Tracker{
		markers: markers,
		logger:  logger.With().Str("component", "readpos").Logger(),
	}
}

// Hydrate binds the tracker to a session and recomputes the unread count
// from the persisted marker against the messages already known. Returns the
// recovered unread count.
func (t *Tracker) Hydrate(ctx context.Context, sessionID string, knownMessages int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessionID = sessionID
	t.firstRender = true
	t.total = knownMessages
	t.lastSeen = 0
	t.unread = 0

	marker, ok, err := t.markers.Get(ctx, sessionID)
	if err != nil {
		t.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to load read marker")
		return 0
	}
	if ok {
		t.lastSeen = marker.LastSeenIndex
	}
	if t.total > t.lastSeen {
		t.unread = t.total - t.lastSeen
	}
	return t.unread
}

// OnNewMessages folds one merged batch into the tracker. nearBottom is the
// surface's viewport position before the batch rendered. The very first
// render always auto-scrolls so the user lands at the newest content.
func (t *Tracker) OnNewMessages(ctx context.Context, batchSize int, nearBottom bool) Decision {
	if batchSize <= 0 {
		t.mu.Lock()
		defer t.mu.Unlock()
		return Decision{Unread: t.unread}
	}

	t.mu.Lock()
	t.total += batchSize
	if t.firstRender || nearBottom {
		t.firstRender = false
		return t.clearLocked(ctx)
	}
	t.unread = t.total - t.lastSeen
	d := Decision{AutoScroll: false, Unread: t.unread}
	t.mu.Unlock()
	return d
}

// OnOwnMessage registers the local user's own send: sending implies attention
// at the bottom, so the view scrolls and any pending unread count clears.
func (t *Tracker) OnOwnMessage(ctx context.Context) Decision {
	t.mu.Lock()
	t.total++
	t.firstRender = false
	return t.clearLocked(ctx)
}

// MarkSeen clears the unread state after the user explicitly jumped to the
// newest messages (clicked the banner or scrolled down themselves).
func (t *Tracker) MarkSeen(ctx context.Context) Decision {
	t.mu.Lock()
	return t.clearLocked(ctx)
}

// Unread returns the current pending count.
func (t *Tracker) Unread() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unread
}

// clearLocked resets the unread state and persists the marker. Takes t.mu
// held and releases it before the store write.
func (t *Tracker) clearLocked(ctx context.Context) Decision {
	t.unread = 0
	t.lastSeen = t.total
	sessionID := t.sessionID
	lastSeen := t.lastSeen
	t.mu.Unlock()

	if sessionID != "" {
		err := t.markers.Put(ctx, chat.ReadMarker{SessionID: sessionID, LastSeenIndex: lastSeen})
		if err != nil {
			t.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to persist read marker")
		}
	}
	return Decision{AutoScroll: true, Unread: 0}
}
