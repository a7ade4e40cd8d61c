package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-chat/internal/domain"
)

func testMessage(convID, id string, at time.Time) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       "sender",
		Body:           "hi " + id,
		Kind:           domain.MessageKindText,
		CreatedAt:      at,
	}
}

// collector junta eventos de un handler para inspeccionarlos desde el test.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestHubDeliversInPublishOrder(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	var c collector
	_, err := hub.Subscribe(ConversationTopic("c1"), c.handle)
	require.NoError(t, err)

	base := time.Now().UTC()
	for i := 0; i < 100; i++ {
		msg := testMessage("c1", fmt.Sprintf("m%03d", i), base.Add(time.Duration(i)*time.Microsecond))
		require.NoError(t, hub.Publish(context.Background(), NewMessageEvent(msg)))
	}

	require.Eventually(t, func() bool { return c.len() == 100 }, 2*time.Second, 5*time.Millisecond)
	for i, ev := range c.snapshot() {
		assert.Equal(t, fmt.Sprintf("m%03d", i), ev.Message.ID)
	}
}

func TestHubOnlyDeliversToMatchingTopic(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	var inC1, inC2 collector
	_, err := hub.Subscribe(ConversationTopic("c1"), inC1.handle)
	require.NoError(t, err)
	_, err = hub.Subscribe(ConversationTopic("c2"), inC2.handle)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(context.Background(), NewMessageEvent(testMessage("c1", "m1", time.Now()))))

	require.Eventually(t, func() bool { return inC1.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, inC2.len())
}

func TestHubRejectsInvalidEvents(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	msg := testMessage("c1", "m1", time.Now())
	ev := NewMessageEvent(msg)
	ev.ConversationID = "c2"
	assert.ErrorIs(t, hub.Publish(context.Background(), ev), ErrInvalidEvent)

	assert.ErrorIs(t, hub.Publish(context.Background(), Event{Type: "typing"}), ErrInvalidEvent)

	_, err := hub.Subscribe("  ", func(Event) {})
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	var c collector
	sub, err := hub.Subscribe(ConversationTopic("c1"), c.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.SubscriberCount(ConversationTopic("c1")))

	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("delivery goroutine did not stop")
	}
	assert.Equal(t, 0, hub.SubscriberCount(ConversationTopic("c1")))

	require.NoError(t, hub.Publish(context.Background(), NewMessageEvent(testMessage("c1", "m1", time.Now()))))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.len())
}

func TestUnsubscribeFromInsideHandler(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	var (
		sub   *Subscription
		ready = make(chan struct{})
		calls int
		mu    sync.Mutex
	)
	sub, err := hub.Subscribe(ConversationTopic("c1"), func(Event) {
		<-ready
		mu.Lock()
		calls++
		mu.Unlock()
		sub.Unsubscribe()
	})
	require.NoError(t, err)
	close(ready)

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(context.Background(), NewMessageEvent(testMessage("c1", fmt.Sprintf("m%d", i), time.Now()))))
	}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	release := make(chan struct{})
	var slow, fast collector
	_, err := hub.Subscribe(ConversationTopic("c1"), func(ev Event) {
		<-release
		slow.handle(ev)
	})
	require.NoError(t, err)
	_, err = hub.Subscribe(ConversationTopic("c1"), fast.handle)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, hub.Publish(context.Background(), NewMessageEvent(testMessage("c1", fmt.Sprintf("m%02d", i), time.Now()))))
	}
	require.Eventually(t, func() bool { return fast.len() == 50 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, slow.len())

	close(release)
	require.Eventually(t, func() bool { return slow.len() == 50 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastReachesEverySubscription(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	var a, b collector
	_, err := hub.Subscribe(ConversationTopic("c1"), a.handle)
	require.NoError(t, err)
	_, err = hub.Subscribe(UserTopic("u1"), b.handle)
	require.NoError(t, err)

	hub.Broadcast(Event{Type: EventDegraded, At: time.Now()})

	require.Eventually(t, func() bool { return a.len() == 1 && b.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ConversationTopic("c1"), a.snapshot()[0].Topic)
	assert.Equal(t, UserTopic("u1"), b.snapshot()[0].Topic)
	assert.Equal(t, EventDegraded, b.snapshot()[0].Type)
}

func TestHandlerPanicDoesNotKillSubscription(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	var c collector
	first := true
	_, err := hub.Subscribe(ConversationTopic("c1"), func(ev Event) {
		if first {
			first = false
			panic("boom")
		}
		c.handle(ev)
	})
	require.NoError(t, err)

	require.NoError(t, hub.Publish(context.Background(), NewMessageEvent(testMessage("c1", "m1", time.Now()))))
	require.NoError(t, hub.Publish(context.Background(), NewMessageEvent(testMessage("c1", "m2", time.Now()))))

	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "m2", c.snapshot()[0].Message.ID)
}

func TestClosedHubRejectsSubscribe(t *testing.T) {
	hub := NewHub(nil, nil)
	sub, err := hub.Subscribe(ConversationTopic("c1"), func(Event) {})
	require.NoError(t, err)

	hub.Close()
	hub.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("close did not stop subscriptions")
	}
	_, err = hub.Subscribe(ConversationTopic("c1"), func(Event) {})
	assert.ErrorIs(t, err, ErrHubClosed)
}
