package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/metrics"
	"marketplace-chat/internal/realtime"
	"marketplace-chat/internal/repository"
	"marketplace-chat/internal/service"
)

const testSecret = "test-secret"

type testServer struct {
	router        *gin.Engine
	jwt           *service.JWTService
	hub           *realtime.Hub
	conversations *service.ConversationService
	messages      *service.MessageService
	registry      *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store := repository.NewMemoryStore()
	profiles := repository.NewMemoryProfileRepository(
		domain.PublicProfile{ID: "u1", Name: "Ana Souza"},
		domain.PublicProfile{ID: "u2", Name: "Bruno Lima"},
		domain.PublicProfile{ID: "u3", Name: "Carla Dias"},
	)
	hub := realtime.NewHub(logger, m)
	t.Cleanup(hub.Close)

	conversations := service.NewConversationService(logger, store.Conversations(), m)
	messages := service.NewMessageService(logger, service.MessageServiceDeps{
		Conversations: conversations,
		Messages:      store.Messages(),
		Profiles:      profiles,
		Publisher:     hub,
		Metrics:       m,
	})
	t.Cleanup(messages.WaitNotifications)
	reads := service.NewReadStateService(logger, conversations, store.Messages(), hub, m)
	inbox := service.NewInboxService(logger, store.Conversations(), profiles)
	jwtSvc := service.NewJWTService(testSecret, time.Hour)

	router := NewRouter(logger, RouterDeps{
		JWT:      jwtSvc,
		Chat:     NewChatHandler(logger, conversations, messages, reads, inbox),
		Socket:   NewSocketHandler(logger, hub, conversations, messages, reads, nil),
		Metrics:  m,
		Gatherer: registry,
	})

	return &testServer{
		router:        router,
		jwt:           jwtSvc,
		hub:           hub,
		conversations: conversations,
		messages:      messages,
		registry:      registry,
	}
}

func (s *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := s.jwt.GenerateAccessToken(service.Identity{UserID: userID, Role: role})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doAs(t, method, path, userID, "", body)
}

func (s *testServer) doAs(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID, role))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func (s *testServer) resolve(t *testing.T, a, b string) domain.Conversation {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/conversations", a, map[string]any{"counterpart_id": b})
	expectStatus(t, rec, http.StatusOK)
	var resp struct {
		Conversation domain.Conversation `json:"conversation"`
	}
	decodeBody(t, rec, &resp)
	return resp.Conversation
}
