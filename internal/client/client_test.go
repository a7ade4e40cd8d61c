package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketplace-chat/internal/domain"
	chathttp "marketplace-chat/internal/http"
	"marketplace-chat/internal/realtime"
	"marketplace-chat/internal/repository"
	"marketplace-chat/internal/service"
)

type harness struct {
	server *httptest.Server
	jwt    *service.JWTService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	store := repository.NewMemoryStore()
	profiles := repository.NewMemoryProfileRepository(
		domain.PublicProfile{ID: "u1", Name: "Ana Souza"},
		domain.PublicProfile{ID: "u2", Name: "Bruno Lima"},
	)
	hub := realtime.NewHub(logger, nil)
	t.Cleanup(hub.Close)

	conversations := service.NewConversationService(logger, store.Conversations(), nil)
	messages := service.NewMessageService(logger, service.MessageServiceDeps{
		Conversations: conversations,
		Messages:      store.Messages(),
		Profiles:      profiles,
		Publisher:     hub,
	})
	t.Cleanup(messages.WaitNotifications)
	reads := service.NewReadStateService(logger, conversations, store.Messages(), hub, nil)
	inbox := service.NewInboxService(logger, store.Conversations(), profiles)
	jwtSvc := service.NewJWTService("client-secret", time.Hour)

	router := chathttp.NewRouter(logger, chathttp.RouterDeps{
		JWT:    jwtSvc,
		Chat:   chathttp.NewChatHandler(logger, conversations, messages, reads, inbox),
		Socket: chathttp.NewSocketHandler(logger, hub, conversations, messages, reads, nil),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &harness{server: srv, jwt: jwtSvc}
}

func (h *harness) client(t *testing.T, userID string) *Client {
	t.Helper()
	token, err := h.jwt.GenerateAccessToken(service.Identity{UserID: userID})
	require.NoError(t, err)
	return New(h.server.URL, token)
}

func TestClient_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana, bruno := h.client(t, "u1"), h.client(t, "u2")

	conv, err := ana.ResolveConversation(ctx, "u2", nil)
	require.NoError(t, err)
	again, err := bruno.ResolveConversation(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	sent, err := ana.Send(ctx, conv.ID, SendRequest{Body: "hola"})
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)

	unread, err := bruno.TotalUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	summaries, err := bruno.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Ana Souza", summaries[0].Counterpart.Name)

	found, err := bruno.SearchConversations(ctx, "ana")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	marked, err := bruno.MarkRead(ctx, conv.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, marked)

	history, err := bruno.History(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Read)
}

func TestClient_ErrorsMapToDomain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana := h.client(t, "u1")

	_, err := ana.ResolveConversation(ctx, "u1", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidParticipants)

	conv, err := ana.ResolveConversation(ctx, "u2", nil)
	require.NoError(t, err)

	_, err = ana.Send(ctx, conv.ID, SendRequest{Body: "  "})
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	_, err = h.client(t, "u3").History(ctx, conv.ID, 0, nil)
	assert.ErrorIs(t, err, domain.ErrNotAParticipant)

	_, err = ana.History(ctx, "missing", 0, nil)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)
	assert.False(t, IsRetryable(err))
}

func TestClient_StreamURL(t *testing.T) {
	u, err := New("https://chat.example.com/", "tok").StreamURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws?access_token=tok", u)

	_, err = New("ftp://chat.example.com", "tok").StreamURL()
	assert.Error(t, err)
}

func TestSession_SendFailureRestoresBody(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana := h.client(t, "u1")
	conv, err := ana.ResolveConversation(ctx, "u2", nil)
	require.NoError(t, err)

	session := NewSession(h.client(t, "u3"), "u3", conv.ID)
	_, err = session.Send(ctx, SendRequest{Body: "me dejas entrar?"})

	var failure *SendFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "me dejas entrar?", failure.Body)
	assert.ErrorIs(t, err, domain.ErrNotAParticipant)
	assert.Empty(t, session.Items())
}

func TestSession_StreamDeduplicatesOwnSends(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ana := h.client(t, "u1")
	conv, err := ana.ResolveConversation(ctx, "u2", nil)
	require.NoError(t, err)

	session := NewSession(ana, "u1", conv.ID)
	require.NoError(t, session.Load(ctx))

	var (
		mu         sync.Mutex
		subscribed = make(chan struct{}, 1)
		events     int
	)
	stream := ana.NewStream(func(f realtime.Frame) {
		if f.Type == realtime.FrameSubscribed {
			select {
			case subscribed <- struct{}{}:
			default:
			}
		}
		if f.Type == string(realtime.EventMessage) {
			mu.Lock()
			events++
			mu.Unlock()
		}
		session.HandleFrame(ctx, f)
	})
	require.NoError(t, stream.Subscribe(session.Topic()))
	go func() { _ = stream.Run(ctx) }()

	select {
	case <-subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never subscribed")
	}

	sent, err := session.Send(ctx, SendRequest{Body: "hola"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return events == 1
	}, 2*time.Second, 10*time.Millisecond)

	items := session.Items()
	require.Len(t, items, 1)
	assert.Equal(t, sent.ID, items[0].Message.ID)
	assert.False(t, items[0].Pending)
}

func TestSession_ResyncFillsGap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana, bruno := h.client(t, "u1"), h.client(t, "u2")
	conv, err := ana.ResolveConversation(ctx, "u2", nil)
	require.NoError(t, err)

	_, err = ana.Send(ctx, conv.ID, SendRequest{Body: "uno"})
	require.NoError(t, err)

	session := NewSession(bruno, "u2", conv.ID)
	require.NoError(t, session.Load(ctx))
	require.Len(t, session.Items(), 1)

	session.HandleFrame(ctx, realtime.Frame{Type: string(realtime.EventDegraded)})
	assert.True(t, session.Degraded())

	// Mensajes enviados mientras el stream estaba caido.
	for _, body := range []string{"dos", "tres"} {
		_, err = ana.Send(ctx, conv.ID, SendRequest{Body: body})
		require.NoError(t, err)
	}

	session.HandleFrame(ctx, realtime.Frame{Type: string(realtime.EventResync)})
	assert.False(t, session.Degraded())

	items := session.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "tres", items[2].Message.Body)
}

func TestSession_IgnoresOtherConversations(t *testing.T) {
	h := newHarness(t)
	session := NewSession(h.client(t, "u1"), "u1", "c1")
	changes := 0
	session.OnChange(func() { changes++ })

	session.HandleFrame(context.Background(), realtime.Frame{
		Type:    string(realtime.EventMessage),
		Message: &domain.Message{ID: "m1", ConversationID: "c2", SenderID: "u2", Body: "x", Kind: domain.MessageKindText},
	})
	session.HandleFrame(context.Background(), realtime.Frame{Type: string(realtime.EventRead), ConversationID: "c2", ReaderID: "u2"})

	assert.Empty(t, session.Items())
	assert.Zero(t, changes)
}
