package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-chat/internal/domain"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration, body string) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       "u1",
		Body:           body,
		Kind:           domain.MessageKindText,
		CreatedAt:      base.Add(offset),
	}
}

func bodies(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Message.Body
	}
	return out
}

func TestDuplicateDeliveryRendersOnce(t *testing.T) {
	v := NewView("c1")
	m := msg("m1", 0, "hello")

	assert.True(t, v.Apply(m))
	assert.False(t, v.Apply(m))
	assert.Len(t, v.Messages(), 1)
}

func TestPushBeforeSendReturn(t *testing.T) {
	v := NewView("c1")
	clientID := v.AddOptimistic("u1", "hello")

	items := v.Items()
	require.Len(t, items, 1)
	assert.True(t, items[0].Pending)
	assert.Equal(t, clientID, items[0].ClientID)

	authoritative := msg("m1", 0, "hello")
	assert.True(t, v.Apply(authoritative))
	assert.False(t, v.Confirm(clientID, authoritative))

	items = v.Items()
	require.Len(t, items, 1)
	assert.False(t, items[0].Pending)
	assert.Equal(t, "m1", items[0].Message.ID)
}

func TestSendReturnBeforePush(t *testing.T) {
	v := NewView("c1")
	clientID := v.AddOptimistic("u1", "hello")

	authoritative := msg("m1", 0, "hello")
	assert.True(t, v.Confirm(clientID, authoritative))
	assert.False(t, v.Apply(authoritative))
	assert.Equal(t, []string{"hello"}, bodies(v.Items()))
}

func TestFailRestoresInput(t *testing.T) {
	v := NewView("c1")
	clientID := v.AddOptimistic("u1", "draft text")

	body, ok := v.Fail(clientID)
	require.True(t, ok)
	assert.Equal(t, "draft text", body)
	assert.Empty(t, v.Items())

	_, ok = v.Fail(clientID)
	assert.False(t, ok)
}

func TestOrderingByServerTimestampThenID(t *testing.T) {
	v := NewView("c1")
	v.Apply(msg("m3", 3*time.Microsecond, "c"))
	v.Apply(msg("m1", time.Microsecond, "a"))
	v.Apply(msg("m2b", 2*time.Microsecond, "b2"))
	v.Apply(msg("m2a", 2*time.Microsecond, "b1"))
	v.AddOptimistic("u1", "pending")

	assert.Equal(t, []string{"a", "b1", "b2", "c", "pending"}, bodies(v.Items()))
	latest, ok := v.Latest()
	require.True(t, ok)
	assert.True(t, latest.Equal(base.Add(3*time.Microsecond)))
}

func TestMergeAfterResyncCountsOnlyNew(t *testing.T) {
	v := NewView("c1")
	v.Apply(msg("m1", 1, "a"))
	v.Apply(msg("m3", 3, "c"))

	added := v.Merge([]domain.Message{msg("m1", 1, "a"), msg("m2", 2, "b"), msg("m3", 3, "c"), msg("m4", 4, "d")})
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"a", "b", "c", "d"}, bodies(v.Items()))
}

func TestApplyIgnoresForeignOrAnonymousMessages(t *testing.T) {
	v := NewView("c1")
	other := msg("m1", 0, "x")
	other.ConversationID = "c2"
	assert.False(t, v.Apply(other))
	assert.False(t, v.Apply(msg("", 0, "no id")))
	assert.False(t, v.Contains("m1"))
}

func TestApplyReadMarksReceivedMessages(t *testing.T) {
	v := NewView("c1")
	mine := msg("m1", 1, "mine")
	theirs := msg("m2", 2, "theirs")
	theirs.SenderID = "u2"
	v.Apply(mine)
	v.Apply(theirs)

	assert.Equal(t, 1, v.ApplyRead("u2"))
	assert.Equal(t, 0, v.ApplyRead("u2"))
	msgs := v.Messages()
	assert.True(t, msgs[0].Read)
	assert.False(t, msgs[1].Read)
}

func TestConcurrentRedeliveryKeepsSingleCopy(t *testing.T) {
	v := NewView("c1")
	m := msg("m1", 0, "hello")
	clientID := v.AddOptimistic("u1", "hello")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Apply(m)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		v.Confirm(clientID, m)
	}()
	wg.Wait()

	items := v.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "m1", items[0].Message.ID)
}
