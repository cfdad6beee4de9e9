package readpos

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/lifeline/pkg/store"
)

func newTracker(t *testing.T) (*Tracker, store.ReadMarkerStore) {
	t.Helper()
	markers := store.NewInMemoryReadMarkerStore()
	t.Cleanup(func() { _ = markers.Close() })
	return NewTracker(markers, zerolog.Nop()), markers
}

func TestFirstRenderAlwaysAutoScrolls(t *testing.T) {
	tracker, _ := newTracker(t)
	tracker.Hydrate(context.Background(), "sess-1", 0)

	// Even far from the bottom, the initial history lands scrolled to newest.
	d := tracker.OnNewMessages(context.Background(), 40, false)
	assert.True(t, d.AutoScroll)
	assert.Zero(t, d.Unread)
}

func TestNearBottomAutoScrolls(t *testing.T) {
	tracker, _ := newTracker(t)
	tracker.Hydrate(context.Background(), "sess-1", 0)
	tracker.OnNewMessages(context.Background(), 3, true)

	d := tracker.OnNewMessages(context.Background(), 2, true)
	assert.True(t, d.AutoScroll)
	assert.Zero(t, tracker.Unread())
}

func TestScrolledUpAccumulatesUnread(t *testing.T) {
	tracker, _ := newTracker(t)
	tracker.Hydrate(context.Background(), "sess-1", 0)
	tracker.OnNewMessages(context.Background(), 5, true)

	d := tracker.OnNewMessages(context.Background(), 2, false)
	assert.False(t, d.AutoScroll)
	assert.Equal(t, 2, d.Unread)

	d = tracker.OnNewMessages(context.Background(), 3, false)
	assert.False(t, d.AutoScroll)
	assert.Equal(t, 5, d.Unread, "banner count accumulates across batches")
}

func TestMarkSeenClearsAndPersists(t *testing.T) {
	tracker, markers := newTracker(t)
	tracker.Hydrate(context.Background(), "sess-1", 0)
	tracker.OnNewMessages(context.Background(), 5, true)
	tracker.OnNewMessages(context.Background(), 3, false)
	require.Equal(t, 3, tracker.Unread())

	d := tracker.MarkSeen(context.Background())
	assert.True(t, d.AutoScroll)
	assert.Zero(t, tracker.Unread())

	marker, ok, err := markers.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 8, marker.LastSeenIndex)
}

func TestOwnMessageClearsUnread(t *testing.T) {
	tracker, _ := newTracker(t)
	tracker.Hydrate(context.Background(), "sess-1", 0)
	tracker.OnNewMessages(context.Background(), 4, true)
	tracker.OnNewMessages(context.Background(), 2, false)
	require.Equal(t, 2, tracker.Unread())

	d := tracker.OnOwnMessage(context.Background())
	assert.True(t, d.AutoScroll, "sending implies attention at the bottom")
	assert.Zero(t, tracker.Unread())
}

func TestHydrateRecoversUnreadFromMarker(t *testing.T) {
	markers := store.NewInMemoryReadMarkerStore()
	t.Cleanup(func() { _ = markers.Close() })

	first := NewTracker(markers, zerolog.Nop())
	first.Hydrate(context.Background(), "sess-1", 0)
	first.OnNewMessages(context.Background(), 10, true) // persists lastSeen=10

	// Remount with more history than the marker covers.
	second := NewTracker(markers, zerolog.Nop())
	unread := second.Hydrate(context.Background(), "sess-1", 14)
	assert.Equal(t, 4, unread, "remount recomputes the count instead of assuming zero")
}

func TestHydrateWithoutMarkerCountsAllKnown(t *testing.T) {
	tracker, _ := newTracker(t)
	unread := tracker.Hydrate(context.Background(), "sess-9", 7)
	assert.Equal(t, 7, unread, "without a marker everything known counts as unread")

	// The first render clears it regardless of viewport position.
	d := tracker.OnNewMessages(context.Background(), 1, false)
	assert.True(t, d.AutoScroll)
	assert.Zero(t, tracker.Unread())
}

func TestEmptyBatchKeepsState(t *testing.T) {
	tracker, _ := newTracker(t)
	tracker.Hydrate(context.Background(), "sess-1", 0)
	tracker.OnNewMessages(context.Background(), 5, true)
	tracker.OnNewMessages(context.Background(), 2, false)

	d := tracker.OnNewMessages(context.Background(), 0, true)
	assert.False(t, d.AutoScroll)
	assert.Equal(t, 2, d.Unread)
}
