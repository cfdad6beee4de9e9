package store

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/lifeline/pkg/chat"
)

func msg(id string, at time.Time) chat.Message {
	return chat.Message{
		ID:         id,
		SessionID:  "sess-1",
		SenderID:   "vol-1",
		SenderType: chat.SenderVolunteer,
		Content:    "content " + id,
		CreatedAt:  at,
	}
}

func requireOrdered(t *testing.T, msgs []chat.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		prev, cur := msgs[i-1], msgs[i]
		require.False(t, cur.Before(prev), "out of order at %d: %s after %s", i, prev.ID, cur.ID)
	}
}

func TestMergeDeduplicates(t *testing.T) {
	s := NewMessageStore()
	now := time.Now()
	batch := []chat.Message{msg("a", now), msg("b", now.Add(time.Second)), msg("a", now)}

	res := s.Merge(batch)
	require.Len(t, res.Inserted, 2)
	assert.Equal(t, 2, s.Len())

	res = s.Merge(batch)
	assert.Empty(t, res.Inserted, "re-merging the same batch inserts nothing")
	assert.Equal(t, 2, s.Len())
}

func TestMergeIsCommutative(t *testing.T) {
	now := time.Now()
	var all []chat.Message
	for i := 0; i < 20; i++ {
		all = append(all, msg(string(rune('a'+i)), now.Add(time.Duration(i%7)*time.Second)))
	}

	forward := NewMessageStore()
	forward.Merge(all)

	shuffled := NewMessageStore()
	perm := rand.New(rand.NewSource(42)).Perm(len(all))
	for _, i := range perm {
		shuffled.Merge([]chat.Message{all[i]})
	}

	assert.Equal(t, forward.Messages(), shuffled.Messages())
}

func TestMergeSupersetConverges(t *testing.T) {
	now := time.Now()
	b1 := []chat.Message{msg("a", now), msg("b", now.Add(time.Second))}
	b2 := append([]chat.Message{}, b1...)
	b2 = append(b2, msg("c", now.Add(2*time.Second)))

	incremental := NewMessageStore()
	incremental.Merge(b1)
	incremental.Merge(b2)

	direct := NewMessageStore()
	direct.Merge(b2)

	assert.Equal(t, direct.Messages(), incremental.Messages())
}

func TestOrderInvariant(t *testing.T) {
	s := NewMessageStore()
	now := time.Now()

	// same timestamp ties broken by id, later timestamps after
	s.Merge([]chat.Message{msg("z", now), msg("a", now.Add(time.Minute))})
	s.Merge([]chat.Message{msg("m", now), msg("b", now.Add(-time.Minute))})

	msgs := s.Messages()
	requireOrdered(t, msgs)
	require.Len(t, msgs, 4)
	assert.Equal(t, "b", msgs[0].ID)
	assert.Equal(t, "m", msgs[1].ID)
	assert.Equal(t, "z", msgs[2].ID)
	assert.Equal(t, "a", msgs[3].ID)
}

func TestMergeMonotonicFieldsWin(t *testing.T) {
	s := NewMessageStore()
	now := time.Now()
	original := msg("a", now)
	original.Status = chat.DeliverySent
	s.Merge([]chat.Message{original})

	update := original
	update.Content = "tampered"
	update.Moderated = true
	update.Status = chat.DeliveryRead
	res := s.Merge([]chat.Message{update})
	assert.Empty(t, res.Inserted)

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "content a", got.Content, "non-monotonic fields keep the existing copy")
	assert.True(t, got.Moderated)
	assert.Equal(t, chat.DeliveryRead, got.Status)

	// moderated never reverts, delivery status never regresses
	s.Merge([]chat.Message{original})
	got, _ = s.Get("a")
	assert.True(t, got.Moderated)
	assert.Equal(t, chat.DeliveryRead, got.Status)
}

func TestMarkModerated(t *testing.T) {
	s := NewMessageStore()
	s.Merge([]chat.Message{msg("a", time.Now())})

	require.True(t, s.MarkModerated("a"))
	got, _ := s.Get("a")
	assert.True(t, got.Moderated)

	// second flag is a harmless no-op
	require.True(t, s.MarkModerated("a"))
	got, _ = s.Get("a")
	assert.True(t, got.Moderated)

	assert.False(t, s.MarkModerated("missing"))
}

func TestNewest(t *testing.T) {
	s := NewMessageStore()
	_, ok := s.Newest()
	require.False(t, ok)

	now := time.Now()
	s.Merge([]chat.Message{msg("b", now.Add(time.Second)), msg("a", now)})
	newest, ok := s.Newest()
	require.True(t, ok)
	assert.Equal(t, "b", newest.ID)
}

func TestMergeSkipsEmptyIDs(t *testing.T) {
	s := NewMessageStore()
	res := s.Merge([]chat.Message{{Content: "no id"}})
	assert.Empty(t, res.Inserted)
	assert.Equal(t, 0, s.Len())
}

func TestMergeInsertedSorted(t *testing.T) {
	s := NewMessageStore()
	now := time.Now()
	res := s.Merge([]chat.Message{msg("c", now.Add(2*time.Second)), msg("a", now), msg("b", now.Add(time.Second))})
	require.Len(t, res.Inserted, 3)
	requireOrdered(t, res.Inserted)
}
