package service

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"marketplace-chat/internal/attachment"
	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/notify"
	"marketplace-chat/internal/realtime"
	"marketplace-chat/internal/repository"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev realtime.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(t realtime.EventType) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notify.NewMessage
	err   error
}

func (n *recordingNotifier) NotifyNewMessage(_ context.Context, msg notify.NewMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, msg)
	return n.err
}

func (n *recordingNotifier) snapshot() []notify.NewMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.NewMessage, len(n.calls))
	copy(out, n.calls)
	return out
}

type testEnv struct {
	store         *repository.MemoryStore
	profiles      *repository.MemoryProfileRepository
	publisher     *recordingPublisher
	notifier      *recordingNotifier
	conversations *ConversationService
	messages      *MessageService
	reads         *ReadStateService
	inbox         *InboxService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	profiles := repository.NewMemoryProfileRepository(
		domain.PublicProfile{ID: "u1", Name: "Ana Souza"},
		domain.PublicProfile{ID: "u2", Name: "Bruno Lima"},
		domain.PublicProfile{ID: "u3", Name: "Carla Dias"},
	)
	publisher := &recordingPublisher{}
	notifier := &recordingNotifier{}
	logger := zap.NewNop()

	conversations := NewConversationService(logger, store.Conversations(), nil)
	messages := NewMessageService(logger, MessageServiceDeps{
		Conversations: conversations,
		Messages:      store.Messages(),
		Profiles:      profiles,
		Publisher:     publisher,
		Notifier:      notifier,
		Attachments:   attachment.NewURLResolver("https://files.example.com"),
	})
	env := &testEnv{
		store:         store,
		profiles:      profiles,
		publisher:     publisher,
		notifier:      notifier,
		conversations: conversations,
		messages:      messages,
		reads:         NewReadStateService(logger, conversations, store.Messages(), publisher, nil),
		inbox:         NewInboxService(logger, store.Conversations(), profiles),
	}
	t.Cleanup(messages.WaitNotifications)
	return env
}

func (e *testEnv) resolve(t *testing.T, a, b string) domain.Conversation {
	t.Helper()
	conv, err := e.conversations.Resolve(context.Background(), a, b, nil)
	if err != nil {
		t.Fatalf("resolve(%s,%s): %v", a, b, err)
	}
	return conv
}

func (e *testEnv) send(t *testing.T, convID, sender, body string) domain.Message {
	t.Helper()
	msg, err := e.messages.Send(context.Background(), SendInput{ConversationID: convID, SenderID: sender, Body: body})
	if err != nil {
		t.Fatalf("send %q: %v", body, err)
	}
	return msg
}
