//go:build integration

package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketplace-chat/internal/db"
	"marketplace-chat/internal/domain"
)

// Correr con: DATABASE_URL=postgres://... go test -tags integration ./internal/repository/
func newIntegrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return pool
}

func createPgConversation(t *testing.T, pool *pgxpool.Pool, repo *PgConversationRepository, a, b string) domain.Conversation {
	t.Helper()
	conv := newConversation(uuid.NewString(), a, b)
	if err := repo.Create(context.Background(), conv); err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM conversations WHERE id = $1::uuid`, conv.ID)
	})
	return conv
}

func TestPgConversation_PairIndexRejectsReversedPair(t *testing.T) {
	pool := newIntegrationPool(t)
	repo := NewPgConversationRepository(pool)
	ctx := context.Background()
	a, b := uuid.NewString(), uuid.NewString()

	conv := createPgConversation(t, pool, repo, a, b)

	// Se inserta con los participantes invertidos para que solo el indice LEAST/GREATEST lo frene.
	reversed := conv
	reversed.ID = uuid.NewString()
	reversed.ParticipantA, reversed.ParticipantB = conv.ParticipantB, conv.ParticipantA
	if err := repo.Create(ctx, reversed); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reversed pair, got %v", err)
	}

	found, err := repo.FindByPair(ctx, b, a)
	if err != nil {
		t.Fatalf("find by pair: %v", err)
	}
	if found.ID != conv.ID {
		t.Fatalf("expected %s, got %s", conv.ID, found.ID)
	}
}

func TestPgConversation_InvalidIDsAreValidationErrors(t *testing.T) {
	pool := newIntegrationPool(t)
	repo := NewPgConversationRepository(pool)

	conv := newConversation(uuid.NewString(), uuid.NewString(), "not-a-uuid")
	if err := repo.Create(context.Background(), conv); !errors.Is(err, domain.ErrInvalidParticipants) {
		t.Fatalf("expected ErrInvalidParticipants, got %v", err)
	}
	if _, err := repo.GetByID(context.Background(), "not-a-uuid"); !errors.Is(err, domain.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestPgMessages_AppendHistoryAndSummaries(t *testing.T) {
	pool := newIntegrationPool(t)
	convs := NewPgConversationRepository(pool)
	msgs := NewPgMessageRepository(pool)
	ctx := context.Background()
	a, b := uuid.NewString(), uuid.NewString()
	conv := createPgConversation(t, pool, convs, a, b)

	// Mismo reloj para todos: el store debe empujar cada timestamp por encima del anterior.
	clock := time.Now().UTC()
	var last time.Time
	for i, sender := range []string{a, b, a} {
		saved, err := msgs.Append(ctx, domain.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			SenderID:       sender,
			Body:           []string{"hola", "que tal", "bien"}[i],
			Kind:           domain.MessageKindText,
			CreatedAt:      clock,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if !saved.CreatedAt.After(last) {
			t.Fatalf("append %d: %v not after %v", i, saved.CreatedAt, last)
		}
		last = saved.CreatedAt
	}

	page, err := msgs.ListByConversation(ctx, conv.ID, HistoryQuery{Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 || page[0].Body != "que tal" || page[1].Body != "bien" {
		t.Fatalf("unexpected latest page: %+v", page)
	}
	older, err := msgs.ListByConversation(ctx, conv.ID, HistoryQuery{Limit: 2, Before: &page[0].CreatedAt})
	if err != nil {
		t.Fatalf("older history: %v", err)
	}
	if len(older) != 1 || older[0].Body != "hola" {
		t.Fatalf("unexpected older page: %+v", older)
	}

	summaries, err := convs.ListSummaries(ctx, b)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.Counterpart.ID != a || s.UnreadCount != 2 || s.LastMessage == nil || s.LastMessage.Body != "bien" {
		t.Fatalf("unexpected summary: %+v", s)
	}

	marked, err := msgs.MarkRead(ctx, conv.ID, b)
	if err != nil || marked != 2 {
		t.Fatalf("expected 2 marked, got %d %v", marked, err)
	}
	if total, err := convs.TotalUnread(ctx, b); err != nil || total != 0 {
		t.Fatalf("expected no unread after mark, got %d %v", total, err)
	}
	if total, err := convs.TotalUnread(ctx, a); err != nil || total != 1 {
		t.Fatalf("expected 1 unread for a, got %d %v", total, err)
	}
}
