package repository

import (
	"context"
	"sort"
	"sync"

	"marketplace-chat/internal/domain"
)

// MemoryStore guarda conversaciones y mensajes en memoria con las mismas garantias que Postgres:
// un unico registro por par no ordenado y timestamps estrictamente crecientes por conversacion.
// Se usa cuando no hay DATABASE_URL y en tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	pairs         map[string]string   // pair key -> conversation id
	byUser        map[string][]string // user id -> conversation ids
	messages      map[string][]domain.Message
	messageConv   map[string]string // message id -> conversation id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]domain.Conversation),
		pairs:         make(map[string]string),
		byUser:        make(map[string][]string),
		messages:      make(map[string][]domain.Message),
		messageConv:   make(map[string]string),
	}
}

// Conversations expone el store como ConversationRepository.
func (s *MemoryStore) Conversations() ConversationRepository {
	return memoryConversations{s}
}

// Messages expone el store como MessageRepository.
func (s *MemoryStore) Messages() MessageRepository {
	return memoryMessages{s}
}

type memoryConversations struct{ s *MemoryStore }

func (r memoryConversations) Create(_ context.Context, conv domain.Conversation) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := conv.PairKey()
	if _, exists := s.pairs[key]; exists {
		return ErrDuplicate
	}
	s.conversations[conv.ID] = conv
	s.pairs[key] = conv.ID
	s.byUser[conv.ParticipantA] = append(s.byUser[conv.ParticipantA], conv.ID)
	s.byUser[conv.ParticipantB] = append(s.byUser[conv.ParticipantB], conv.ID)
	return nil
}

func (r memoryConversations) GetByID(_ context.Context, id string) (domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	conv, ok := r.s.conversations[id]
	if !ok {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}
	return conv, nil
}

func (r memoryConversations) FindByPair(_ context.Context, userA, userB string) (domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.pairs[domain.PairKey(userA, userB)]
	if !ok {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}
	return r.s.conversations[id], nil
}

func (r memoryConversations) ListSummaries(_ context.Context, userID string) ([]domain.ConversationSummary, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]domain.ConversationSummary, 0, len(s.byUser[userID]))
	for _, id := range s.byUser[userID] {
		conv := s.conversations[id]
		summary := domain.ConversationSummary{
			ConversationID: conv.ID,
			ProjectID:      conv.ProjectID,
			Counterpart:    domain.PublicProfile{ID: conv.Counterpart(userID)},
			LastMessageAt:  conv.LastMessageAt,
			CreatedAt:      conv.CreatedAt,
		}
		msgs := s.messages[id]
		if n := len(msgs); n > 0 {
			last := msgs[n-1]
			summary.LastMessage = &domain.MessagePreview{
				MessageID: last.ID,
				SenderID:  last.SenderID,
				Body:      last.Body,
				Kind:      last.Kind,
				CreatedAt: last.CreatedAt,
			}
		}
		summary.UnreadCount = countUnread(msgs, userID)
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		switch {
		case a.LastMessageAt == nil && b.LastMessageAt == nil:
			return a.CreatedAt.After(b.CreatedAt)
		case a.LastMessageAt == nil:
			return false
		case b.LastMessageAt == nil:
			return true
		default:
			return a.LastMessageAt.After(*b.LastMessageAt)
		}
	})
	return summaries, nil
}

func (r memoryConversations) TotalUnread(_ context.Context, userID string) (int, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, id := range s.byUser[userID] {
		total += countUnread(s.messages[id], userID)
	}
	return total, nil
}

type memoryMessages struct{ s *MemoryStore }

func (r memoryMessages) Append(_ context.Context, msg domain.Message) (domain.Message, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return domain.Message{}, domain.ErrConversationNotFound
	}

	msg.CreatedAt = domain.NextMessageTime(msg.CreatedAt, conv.LastMessageAt)
	msg.Read = false
	s.messages[conv.ID] = append(s.messages[conv.ID], msg)
	s.messageConv[msg.ID] = conv.ID

	at := msg.CreatedAt
	conv.LastMessageAt = &at
	conv.UpdatedAt = at
	s.conversations[conv.ID] = conv
	return msg, nil
}

func (r memoryMessages) GetByID(_ context.Context, id string) (domain.Message, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	convID, ok := s.messageConv[id]
	if !ok {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	for _, m := range s.messages[convID] {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Message{}, domain.ErrMessageNotFound
}

func (r memoryMessages) ListByConversation(_ context.Context, conversationID string, q HistoryQuery) ([]domain.Message, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	end := len(msgs)
	if q.Before != nil {
		end = sort.Search(len(msgs), func(i int) bool {
			return !msgs[i].CreatedAt.Before(*q.Before)
		})
	}
	start := end - q.limit()
	if start < 0 {
		start = 0
	}
	out := make([]domain.Message, end-start)
	copy(out, msgs[start:end])
	return out, nil
}

func (r memoryMessages) MarkRead(_ context.Context, conversationID, readerID string) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var marked int64
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != readerID && !msgs[i].Read {
			msgs[i].Read = true
			marked++
		}
	}
	return marked, nil
}

func (r memoryMessages) UnreadCount(_ context.Context, conversationID, userID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return countUnread(r.s.messages[conversationID], userID), nil
}

func (r memoryMessages) Delete(_ context.Context, id string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	convID, ok := s.messageConv[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	msgs := s.messages[convID]
	for i, m := range msgs {
		if m.ID == id {
			s.messages[convID] = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	delete(s.messageConv, id)
	return nil
}

func countUnread(msgs []domain.Message, userID string) int {
	n := 0
	for _, m := range msgs {
		if m.SenderID != userID && !m.Read {
			n++
		}
	}
	return n
}
