package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/realtime"
	"marketplace-chat/internal/reconcile"
)

const resyncPageSize = 200

// SendFailure devuelve el texto de un envio fallido para restaurarlo en el input.
type SendFailure struct {
	Body string
	Err  error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendFailure) Unwrap() error {
	return e.Err
}

// Session es la vista de una conversacion abierta en el cliente. Une los envios optimistas,
// los eventos del stream y el historial en una unica lista sin duplicados.
type Session struct {
	client   *Client
	userID   string
	view     *reconcile.View
	logger   *zap.Logger
	degraded atomic.Bool

	// resyncMu evita dos resync concurrentes de la misma vista.
	resyncMu sync.Mutex
	onChange func()
}

func NewSession(client *Client, userID, conversationID string) *Session {
	return &Session{
		client:   client,
		userID:   userID,
		view:     reconcile.NewView(conversationID),
		logger:   client.logger,
		onChange: func() {},
	}
}

// OnChange registra un callback que se llama cada vez que la vista cambia.
func (s *Session) OnChange(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	s.onChange = fn
}

func (s *Session) ConversationID() string {
	return s.view.ConversationID()
}

// Topic es el topico a suscribir en el Stream para esta conversacion.
func (s *Session) Topic() string {
	return realtime.ConversationTopic(s.view.ConversationID())
}

// Load trae la pagina mas reciente del historial.
func (s *Session) Load(ctx context.Context) error {
	msgs, err := s.client.History(ctx, s.view.ConversationID(), 0, nil)
	if err != nil {
		return err
	}
	if s.view.Merge(msgs) > 0 {
		s.onChange()
	}
	return nil
}

// LoadOlder trae la pagina anterior al primer mensaje cargado y devuelve cuantos eran nuevos.
func (s *Session) LoadOlder(ctx context.Context, limit int) (int, error) {
	msgs := s.view.Messages()
	var before *time.Time
	if len(msgs) > 0 {
		first := msgs[0].CreatedAt
		before = &first
	}
	page, err := s.client.History(ctx, s.view.ConversationID(), limit, before)
	if err != nil {
		return 0, err
	}
	added := s.view.Merge(page)
	if added > 0 {
		s.onChange()
	}
	return added, nil
}

// Send muestra la copia optimista, envia y la reemplaza por la autoritativa.
// Si falla, la copia desaparece y el error es un *SendFailure con el texto original.
func (s *Session) Send(ctx context.Context, req SendRequest) (domain.Message, error) {
	clientID := s.view.AddOptimistic(s.userID, req.Body)
	s.onChange()

	msg, err := s.client.Send(ctx, s.view.ConversationID(), req)
	if err != nil {
		body, _ := s.view.Fail(clientID)
		s.onChange()
		return domain.Message{}, &SendFailure{Body: body, Err: err}
	}
	s.view.Confirm(clientID, msg)
	s.onChange()
	return msg, nil
}

// MarkRead marca como leidos los mensajes recibidos y refleja el cambio localmente.
func (s *Session) MarkRead(ctx context.Context) (int64, error) {
	marked, err := s.client.MarkRead(ctx, s.view.ConversationID())
	if err != nil {
		return 0, err
	}
	if s.view.ApplyRead(s.userID) > 0 {
		s.onChange()
	}
	return marked, nil
}

// HandleFrame aplica un frame del stream. Frames de otras conversaciones se ignoran.
func (s *Session) HandleFrame(ctx context.Context, f realtime.Frame) {
	convID := s.view.ConversationID()
	switch realtime.EventType(f.Type) {
	case realtime.EventMessage:
		if f.Message == nil || f.Message.ConversationID != convID {
			return
		}
		if s.view.Apply(*f.Message) {
			s.onChange()
		}
	case realtime.EventRead:
		if f.ConversationID != convID {
			return
		}
		if s.view.ApplyRead(f.ReaderID) > 0 {
			s.onChange()
		}
	case realtime.EventDegraded:
		if !s.degraded.Swap(true) {
			s.onChange()
		}
	case realtime.EventResync:
		if err := s.Resync(ctx); err != nil {
			s.logger.Warn("chat resync failed", zap.String("conversation_id", convID), zap.Error(err))
			return
		}
		s.degraded.Store(false)
		s.onChange()
	}
}

// Degraded indica que el stream perdio eventos y la vista puede estar desactualizada.
func (s *Session) Degraded() bool {
	return s.degraded.Load()
}

// Resync recupera desde el historial lo que el stream pudo haber perdido. Pagina hacia atras
// hasta alcanzar el ultimo mensaje conocido.
func (s *Session) Resync(ctx context.Context) error {
	s.resyncMu.Lock()
	defer s.resyncMu.Unlock()

	latest, known := s.view.Latest()
	var before *time.Time
	for {
		page, err := s.client.History(ctx, s.view.ConversationID(), resyncPageSize, before)
		if err != nil {
			return err
		}
		s.view.Merge(page)
		if len(page) < resyncPageSize || !known {
			return nil
		}
		oldest := page[0].CreatedAt
		if !oldest.After(latest) {
			return nil
		}
		before = &oldest
	}
}

func (s *Session) Items() []reconcile.Item {
	return s.view.Items()
}
