package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-chat/internal/attachment"
	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/metrics"
	"marketplace-chat/internal/notify"
	"marketplace-chat/internal/realtime"
	"marketplace-chat/internal/repository"
)

const (
	notificationPreviewRunes = 80
	notifyTimeout            = 5 * time.Second
	maxHistoryPageSize       = 200
)

// MessageServiceDeps agrupa los colaboradores del dispatcher. Solo Conversations, Messages y
// Publisher son obligatorios; el resto tiene un valor por defecto inocuo.
type MessageServiceDeps struct {
	Conversations   *ConversationService
	Messages        repository.MessageRepository
	Profiles        repository.ProfileRepository
	Publisher       realtime.Publisher
	Notifier        notify.Notifier
	Attachments     attachment.Resolver
	Limiter         SendRateLimiter
	Metrics         *metrics.Metrics
	HistoryPageSize int
}

// MessageService persiste mensajes, los publica en el canal realtime y dispara avisos.
type MessageService struct {
	logger          *zap.Logger
	conversations   *ConversationService
	messages        repository.MessageRepository
	profiles        repository.ProfileRepository
	publisher       realtime.Publisher
	notifier        notify.Notifier
	attachments     attachment.Resolver
	limiter         SendRateLimiter
	metrics         *metrics.Metrics
	historyPageSize int
	locks           *conversationLocks
	pending         sync.WaitGroup
	now             func() time.Time
}

var ErrMessageServiceNotConfigured = errors.New("message service not configured")

func NewMessageService(logger *zap.Logger, deps MessageServiceDeps) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Profiles == nil {
		deps.Profiles = repository.NewMemoryProfileRepository()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NopNotifier{}
	}
	if deps.Attachments == nil {
		deps.Attachments = attachment.NewURLResolver("")
	}
	if deps.Limiter == nil {
		deps.Limiter = allowAll{}
	}
	if deps.HistoryPageSize <= 0 {
		deps.HistoryPageSize = 50
	}
	return &MessageService{
		logger:          logger,
		conversations:   deps.Conversations,
		messages:        deps.Messages,
		profiles:        deps.Profiles,
		publisher:       deps.Publisher,
		notifier:        deps.Notifier,
		attachments:     deps.Attachments,
		limiter:         deps.Limiter,
		metrics:         deps.Metrics,
		historyPageSize: deps.HistoryPageSize,
		locks:           newConversationLocks(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SendInput es lo que manda un cliente; ids y timestamp los asigna el servidor.
type SendInput struct {
	ConversationID string
	SenderID       string
	Body           string
	Kind           string
	AttachmentRef  *string
	AttachmentName *string
}

// Send valida, persiste y publica un mensaje. El resultado tiene id y timestamp del servidor.
// Publicar o notificar puede fallar sin afectar el envio: el historial es la fuente de verdad.
func (s *MessageService) Send(ctx context.Context, in SendInput) (domain.Message, error) {
	if s == nil || s.conversations == nil || s.messages == nil {
		return domain.Message{}, ErrMessageServiceNotConfigured
	}

	kind, err := domain.ParseMessageKind(in.Kind)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: strings.TrimSpace(in.ConversationID),
		SenderID:       strings.TrimSpace(in.SenderID),
		Body:           strings.TrimSpace(in.Body),
		Kind:           kind,
		AttachmentRef:  normalizeOptional(in.AttachmentRef),
		AttachmentName: normalizeOptional(in.AttachmentName),
	}
	if msg.SenderID == "" {
		return domain.Message{}, domain.ErrNotAParticipant
	}
	if msg.ConversationID == "" {
		return domain.Message{}, domain.ErrConversationNotFound
	}
	if err := msg.Validate(); err != nil {
		return domain.Message{}, err
	}

	conv, err := s.conversations.Get(ctx, msg.ConversationID, msg.SenderID)
	if err != nil {
		return domain.Message{}, err
	}
	if !s.limiter.Allow(ctx, msg.SenderID) {
		return domain.Message{}, domain.ErrRateLimited
	}

	sender := s.senderProfile(ctx, msg.SenderID)

	unlock := s.locks.Lock(conv.ID)
	defer unlock()

	msg.CreatedAt = s.now()
	saved, err := s.messages.Append(ctx, msg)
	if errors.Is(err, domain.ErrConversationNotFound) {
		return domain.Message{}, err
	}
	if err != nil {
		return domain.Message{}, domain.StorageError(err)
	}
	saved.Sender = &sender
	s.decorate(&saved)
	s.metrics.RecordMessageSent(string(saved.Kind))

	s.publish(ctx, realtime.NewMessageEvent(saved))
	for _, userID := range []string{conv.ParticipantA, conv.ParticipantB} {
		s.publish(ctx, realtime.NewInboxEvent(userID, conv.ID, saved.CreatedAt))
	}

	s.notifyRecipient(conv, saved, sender)
	return saved, nil
}

// History devuelve hasta limit mensajes anteriores a before, en orden ascendente.
// Es el camino de re-sincronizacion cuando el canal realtime perdio eventos.
func (s *MessageService) History(ctx context.Context, conversationID, viewerID string, limit int, before *time.Time) ([]domain.Message, error) {
	if s == nil || s.conversations == nil || s.messages == nil {
		return nil, ErrMessageServiceNotConfigured
	}
	conv, err := s.conversations.Get(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.historyPageSize
	}
	if limit > maxHistoryPageSize {
		limit = maxHistoryPageSize
	}

	msgs, err := s.messages.ListByConversation(ctx, conv.ID, repository.HistoryQuery{Limit: limit, Before: before})
	if err != nil {
		return nil, domain.StorageError(err)
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	profiles, err := s.profiles.GetMany(ctx, []string{conv.ParticipantA, conv.ParticipantB})
	if err != nil {
		return nil, domain.StorageError(err)
	}
	for i := range msgs {
		p, ok := profiles[msgs[i].SenderID]
		if !ok {
			p = domain.PublicProfile{ID: msgs[i].SenderID}
		}
		msgs[i].Sender = &p
		s.decorate(&msgs[i])
	}
	return msgs, nil
}

// Delete borra un mensaje. Es una capacidad administrativa; el caller ya verifico el rol.
func (s *MessageService) Delete(ctx context.Context, messageID string) error {
	if s == nil || s.messages == nil {
		return ErrMessageServiceNotConfigured
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return domain.ErrMessageNotFound
	}
	err := s.messages.Delete(ctx, messageID)
	if errors.Is(err, domain.ErrMessageNotFound) {
		return err
	}
	if err != nil {
		return domain.StorageError(err)
	}
	s.logger.Info("message deleted", zap.String("message_id", messageID))
	return nil
}

// WaitNotifications espera a que terminen los avisos en vuelo (shutdown y tests).
func (s *MessageService) WaitNotifications() {
	s.pending.Wait()
}

func (s *MessageService) decorate(msg *domain.Message) {
	if msg.AttachmentRef != nil {
		msg.AttachmentURL = s.attachments.URL(*msg.AttachmentRef)
	}
}

func (s *MessageService) senderProfile(ctx context.Context, senderID string) domain.PublicProfile {
	profiles, err := s.profiles.GetMany(ctx, []string{senderID})
	if err != nil {
		s.logger.Warn("sender profile lookup failed", zap.Error(err), zap.String("sender_id", senderID))
	}
	if p, ok := profiles[senderID]; ok {
		return p
	}
	return domain.PublicProfile{ID: senderID}
}

func (s *MessageService) publish(ctx context.Context, ev realtime.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("realtime publish failed",
			zap.Error(err),
			zap.String("type", string(ev.Type)),
			zap.String("topic", ev.Topic),
		)
	}
}

func (s *MessageService) notifyRecipient(conv domain.Conversation, msg domain.Message, sender domain.PublicProfile) {
	recipient := conv.Counterpart(msg.SenderID)
	if recipient == "" {
		return
	}
	n := notify.NewMessage{
		RecipientID:    recipient,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		SenderName:     sender.Name,
		Preview:        messagePreview(msg),
		SentAt:         msg.CreatedAt,
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		// El envio ya respondio; el aviso no depende del contexto del request.
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyNewMessage(ctx, n); err != nil {
			s.metrics.RecordNotifyFailure()
			s.logger.Warn("notify new message failed",
				zap.Error(err),
				zap.String("conversation_id", n.ConversationID),
				zap.String("recipient_id", n.RecipientID),
			)
		}
	}()
}

func messagePreview(msg domain.Message) string {
	if msg.Kind == domain.MessageKindFile {
		if msg.Body != "" {
			return domain.Preview(msg.Body, notificationPreviewRunes)
		}
		if msg.AttachmentName != nil {
			return domain.Preview("📎 "+*msg.AttachmentName, notificationPreviewRunes)
		}
		return "📎 file"
	}
	return domain.Preview(msg.Body, notificationPreviewRunes)
}
