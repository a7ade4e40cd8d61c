package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/repository"
)

// InboxService arma la lista de conversaciones de un usuario con no leidos y ultimo mensaje.
type InboxService struct {
	logger        *zap.Logger
	conversations repository.ConversationRepository
	profiles      repository.ProfileRepository
}

func NewInboxService(logger *zap.Logger, conversations repository.ConversationRepository, profiles repository.ProfileRepository) *InboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profiles == nil {
		profiles = repository.NewMemoryProfileRepository()
	}
	return &InboxService{logger: logger, conversations: conversations, profiles: profiles}
}

// ListConversations devuelve el inbox ordenado por ultima actividad. Son dos round trips fijos:
// el resumen agregado y un lote de perfiles, sin importar cuantas conversaciones haya.
func (s *InboxService) ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidParticipants
	}

	summaries, err := s.conversations.ListSummaries(ctx, userID)
	if err != nil {
		return nil, domain.StorageError(err)
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	ids := make([]string, 0, len(summaries))
	seen := make(map[string]struct{}, len(summaries))
	for _, sum := range summaries {
		id := sum.Counterpart.ID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	profiles, err := s.profiles.GetMany(ctx, ids)
	if err != nil {
		return nil, domain.StorageError(err)
	}
	for i := range summaries {
		if p, ok := profiles[summaries[i].Counterpart.ID]; ok {
			summaries[i].Counterpart = p
		}
	}
	return summaries, nil
}

// TotalUnread suma los no leidos del usuario en todas sus conversaciones con una sola consulta.
func (s *InboxService) TotalUnread(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, domain.ErrInvalidParticipants
	}
	total, err := s.conversations.TotalUnread(ctx, userID)
	if err != nil {
		return 0, domain.StorageError(err)
	}
	return total, nil
}

// Search filtra el inbox por nombre de la contraparte, sin distinguir mayusculas.
func (s *InboxService) Search(ctx context.Context, userID, term string) ([]domain.ConversationSummary, error) {
	summaries, err := s.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return summaries, nil
	}
	filtered := make([]domain.ConversationSummary, 0, len(summaries))
	for _, sum := range summaries {
		if strings.Contains(strings.ToLower(sum.Counterpart.Name), term) {
			filtered = append(filtered, sum)
		}
	}
	return filtered, nil
}
