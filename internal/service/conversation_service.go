package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/metrics"
	"marketplace-chat/internal/repository"
)

// ConversationService resuelve el hilo unico de cada par de usuarios.
type ConversationService struct {
	logger        *zap.Logger
	conversations repository.ConversationRepository
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewConversationService(logger *zap.Logger, conversations repository.ConversationRepository, m *metrics.Metrics) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		logger:        logger,
		conversations: conversations,
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Resolve devuelve la conversacion del par {userA, userB} creandola si no existe.
// projectID solo queda registrado como origen; no forma parte de la identidad del hilo.
// Dos llamadas concurrentes para el mismo par terminan en la misma conversacion: el indice unico
// rechaza el segundo insert y el perdedor vuelve a leer.
func (s *ConversationService) Resolve(ctx context.Context, userA, userB string, projectID *string) (domain.Conversation, error) {
	a, b, err := domain.ValidatePair(userA, userB)
	if err != nil {
		return domain.Conversation{}, err
	}

	conv, err := s.conversations.FindByPair(ctx, a, b)
	if err == nil {
		s.metrics.RecordResolve(metrics.ResolveFound)
		return conv, nil
	}
	if !errors.Is(err, domain.ErrConversationNotFound) {
		return domain.Conversation{}, domain.StorageError(err)
	}

	low, high := domain.CanonicalPair(a, b)
	now := s.now()
	conv = domain.Conversation{
		ID:           uuid.NewString(),
		ParticipantA: low,
		ParticipantB: high,
		ProjectID:    normalizeOptional(projectID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.conversations.Create(ctx, conv)
	switch {
	case err == nil:
		s.metrics.RecordResolve(metrics.ResolveCreated)
		s.logger.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("participant_a", conv.ParticipantA),
			zap.String("participant_b", conv.ParticipantB),
		)
		return conv, nil
	case errors.Is(err, repository.ErrDuplicate):
		existing, findErr := s.conversations.FindByPair(ctx, a, b)
		if findErr != nil {
			// El insert perdio contra una fila que ahora no se puede leer: tratarlo como transitorio.
			return domain.Conversation{}, domain.StorageError(findErr)
		}
		s.metrics.RecordResolve(metrics.ResolveRaced)
		s.logger.Debug("conversation resolve raced", zap.String("conversation_id", existing.ID))
		return existing, nil
	case errors.Is(err, domain.ErrInvalidParticipants):
		// ids que el store no acepta: error de validacion, no transitorio.
		return domain.Conversation{}, err
	default:
		return domain.Conversation{}, domain.StorageError(err)
	}
}

// Get carga la conversacion y verifica que userID participe.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID string) (domain.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if errors.Is(err, domain.ErrConversationNotFound) {
		return domain.Conversation{}, err
	}
	if err != nil {
		return domain.Conversation{}, domain.StorageError(err)
	}
	if !conv.HasParticipant(strings.TrimSpace(userID)) {
		return domain.Conversation{}, domain.ErrNotAParticipant
	}
	return conv, nil
}

func normalizeOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
