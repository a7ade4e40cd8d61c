package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/metrics"
	"marketplace-chat/internal/realtime"
	"marketplace-chat/internal/repository"
)

// ReadStateService marca como leidos los mensajes recibidos por un participante.
type ReadStateService struct {
	logger        *zap.Logger
	conversations *ConversationService
	messages      repository.MessageRepository
	publisher     realtime.Publisher
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewReadStateService(logger *zap.Logger, conversations *ConversationService, messages repository.MessageRepository, publisher realtime.Publisher, m *metrics.Metrics) *ReadStateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadStateService{
		logger:        logger,
		conversations: conversations,
		messages:      messages,
		publisher:     publisher,
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// MarkRead marca todos los mensajes de la conversacion cuyo remitente no es readerID.
// Los propios nunca se tocan. Repetirlo sin mensajes nuevos no hace nada y no es error.
func (s *ReadStateService) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	conv, err := s.conversations.Get(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}

	marked, err := s.messages.MarkRead(ctx, conv.ID, readerID)
	if err != nil {
		return 0, domain.StorageError(err)
	}
	if marked == 0 {
		return 0, nil
	}
	s.metrics.RecordMarkedRead(marked)

	now := s.now()
	s.publish(ctx, realtime.NewReadEvent(conv.ID, readerID, marked, now))
	s.publish(ctx, realtime.NewInboxEvent(readerID, conv.ID, now))
	return marked, nil
}

// UnreadCount cuenta los mensajes no leidos de userID en una conversacion.
func (s *ReadStateService) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	conv, err := s.conversations.Get(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	count, err := s.messages.UnreadCount(ctx, conv.ID, userID)
	if err != nil {
		return 0, domain.StorageError(err)
	}
	return count, nil
}

func (s *ReadStateService) publish(ctx context.Context, ev realtime.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("realtime publish failed", zap.Error(err), zap.String("type", string(ev.Type)))
	}
}
