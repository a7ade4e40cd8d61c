package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketplace-chat/internal/realtime"
	"marketplace-chat/internal/service"
)

// SocketHandler atiende GET /ws: una sesion por conexion con suscripciones a topicos del hub.
type SocketHandler struct {
	logger          *zap.Logger
	hub             *realtime.Hub
	conversations   *service.ConversationService
	messages        *service.MessageService
	reads           *service.ReadStateService
	upgrader        websocket.Upgrader
	inflightTimeout time.Duration
}

// NewSocketHandler arma el handler; sin origins configurados acepta cualquier origen.
func NewSocketHandler(
	logger *zap.Logger,
	hub *realtime.Hub,
	conversations *service.ConversationService,
	messages *service.MessageService,
	reads *service.ReadStateService,
	allowedOrigins []string,
) *SocketHandler {
	return &SocketHandler{
		logger:        logger,
		hub:           hub,
		conversations: conversations,
		messages:      messages,
		reads:         reads,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		inflightTimeout: 5 * time.Second,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// wsSession agrupa el estado de una conexion: sus suscripciones por topico.
type wsSession struct {
	conn *wsConnection

	mu   sync.Mutex
	subs map[string]*realtime.Subscription
}

func (s *wsSession) add(topic string, sub *realtime.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[topic]; exists {
		return false
	}
	s.subs[topic] = sub
	return true
}

func (s *wsSession) remove(topic string) bool {
	s.mu.Lock()
	sub, ok := s.subs[topic]
	delete(s.subs, topic)
	s.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
	return ok
}

func (s *wsSession) has(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[topic]
	return ok
}

func (s *wsSession) closeAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = map[string]*realtime.Subscription{}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Handle hace el upgrade y procesa frames hasta que el cliente se desconecta.
func (h *SocketHandler) Handle(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConnection(userID, ws)
	conn.start()
	session := &wsSession{conn: conn, subs: map[string]*realtime.Subscription{}}
	defer func() {
		session.closeAll()
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsReadWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadWait))
	})

	// El inbox propio se suscribe siempre.
	if err := h.subscribe(session, realtime.UserTopic(userID)); err != nil {
		h.logger.Error("subscribe inbox failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	_ = conn.SendFrame(realtime.Frame{Type: realtime.FrameConnected, Topic: realtime.UserTopic(userID)})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug("websocket read ended", zap.String("conn_id", conn.id), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsReadWait))

		frame, err := realtime.DecodeFrame(data)
		if err != nil {
			h.replyError(conn, "", "bad_request", "invalid payload")
			continue
		}
		h.dispatch(c.Request.Context(), session, userID, frame)
	}
}

func (h *SocketHandler) dispatch(ctx context.Context, session *wsSession, userID string, frame realtime.Frame) {
	conn := session.conn
	switch frame.Type {
	case realtime.FramePing:
		now := time.Now().UTC()
		_ = conn.SendFrame(realtime.Frame{Type: realtime.FramePong, ClientID: frame.ClientID, At: &now})
	case realtime.FrameSubscribe:
		h.handleSubscribe(ctx, session, userID, frame)
	case realtime.FrameUnsubscribe:
		topic := frameTopic(frame)
		if topic == "" {
			h.replyError(conn, frame.ClientID, "bad_request", "topic is required")
			return
		}
		session.remove(topic)
		_ = conn.SendFrame(realtime.Frame{Type: realtime.FrameUnsubscribed, ClientID: frame.ClientID, Topic: topic})
	case realtime.FrameSend:
		h.handleSend(ctx, conn, userID, frame)
	case realtime.FrameRead:
		h.handleRead(ctx, conn, userID, frame)
	default:
		h.replyError(conn, frame.ClientID, "unsupported_type", "unknown frame type")
	}
}

func (h *SocketHandler) handleSubscribe(ctx context.Context, session *wsSession, userID string, frame realtime.Frame) {
	conn := session.conn
	topic := frameTopic(frame)
	if topic == "" {
		h.replyError(conn, frame.ClientID, "bad_request", "topic is required")
		return
	}

	switch {
	case topic == realtime.UserTopic(userID):
	case strings.HasPrefix(topic, realtime.ConversationTopic("")):
		ctx, cancel := context.WithTimeout(ctx, h.inflightTimeout)
		defer cancel()
		convID := strings.TrimPrefix(topic, realtime.ConversationTopic(""))
		if _, err := h.conversations.Get(ctx, convID, userID); err != nil {
			h.replyUseCaseError(conn, frame.ClientID, err)
			return
		}
	default:
		h.replyError(conn, frame.ClientID, "forbidden", "cannot subscribe to this topic")
		return
	}

	if !session.has(topic) {
		if err := h.subscribe(session, topic); err != nil {
			h.replyError(conn, frame.ClientID, "unavailable", err.Error())
			return
		}
	}
	_ = conn.SendFrame(realtime.Frame{Type: realtime.FrameSubscribed, ClientID: frame.ClientID, Topic: topic})
}

func (h *SocketHandler) subscribe(session *wsSession, topic string) error {
	conn := session.conn
	sub, err := h.hub.Subscribe(topic, func(ev realtime.Event) {
		if err := conn.SendFrame(realtime.FrameFromEvent(ev)); err != nil {
			h.logger.Debug("drop event for closed connection",
				zap.String("conn_id", conn.id),
				zap.String("topic", ev.Topic),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return err
	}
	if !session.add(topic, sub) {
		sub.Unsubscribe()
	}
	return nil
}

func (h *SocketHandler) handleSend(ctx context.Context, conn *wsConnection, userID string, frame realtime.Frame) {
	ctx, cancel := context.WithTimeout(ctx, h.inflightTimeout)
	defer cancel()

	msg, err := h.messages.Send(ctx, service.SendInput{
		ConversationID: frame.ConversationID,
		SenderID:       userID,
		Body:           frame.Body,
		Kind:           frame.Kind,
		AttachmentRef:  frame.AttachmentRef,
		AttachmentName: frame.AttachmentName,
	})
	if err != nil {
		h.replyUseCaseError(conn, frame.ClientID, err)
		return
	}
	_ = conn.SendFrame(realtime.Frame{
		Type:           realtime.FrameAck,
		ClientID:       frame.ClientID,
		ConversationID: msg.ConversationID,
		Message:        &msg,
	})
}

func (h *SocketHandler) handleRead(ctx context.Context, conn *wsConnection, userID string, frame realtime.Frame) {
	ctx, cancel := context.WithTimeout(ctx, h.inflightTimeout)
	defer cancel()

	marked, err := h.reads.MarkRead(ctx, frame.ConversationID, userID)
	if err != nil {
		h.replyUseCaseError(conn, frame.ClientID, err)
		return
	}
	_ = conn.SendFrame(realtime.Frame{
		Type:           realtime.FrameAck,
		ClientID:       frame.ClientID,
		ConversationID: frame.ConversationID,
		ReaderID:       userID,
		Marked:         marked,
	})
}

func (h *SocketHandler) replyUseCaseError(conn *wsConnection, clientID string, err error) {
	status, code := errorCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("websocket operation failed", zap.String("conn_id", conn.id), zap.Error(err))
	}
	h.replyError(conn, clientID, code, err.Error())
}

func (h *SocketHandler) replyError(conn *wsConnection, clientID, code, message string) {
	_ = conn.SendFrame(realtime.Frame{
		Type:     realtime.FrameError,
		ClientID: clientID,
		Code:     code,
		Error:    message,
	})
}

// frameTopic acepta topic explicito o solo conversation_id.
func frameTopic(f realtime.Frame) string {
	if f.Topic != "" {
		return f.Topic
	}
	if f.ConversationID != "" {
		return realtime.ConversationTopic(f.ConversationID)
	}
	return ""
}
