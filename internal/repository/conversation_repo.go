package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketplace-chat/internal/domain"
)

// ErrDuplicate indica que ya existe una conversacion para el par no ordenado.
var ErrDuplicate = errors.New("duplicate conversation pair")

const (
	pgUniqueViolation   = "23505"
	pgInvalidTextFormat = "22P02"
)

// ConversationRepository define el contrato de persistencia para conversaciones.
type ConversationRepository interface {
	Create(ctx context.Context, conv domain.Conversation) error
	GetByID(ctx context.Context, id string) (domain.Conversation, error)
	FindByPair(ctx context.Context, userA, userB string) (domain.Conversation, error)
	ListSummaries(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
	TotalUnread(ctx context.Context, userID string) (int, error)
}

// PgConversationRepository implementa ConversationRepository usando pgxpool.
// La unicidad del par la garantiza el indice conversations_pair_uidx.
type PgConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPgConversationRepository(pool *pgxpool.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

const conversationColumns = `id::text, participant_a::text, participant_b::text, project_id::text, last_message_at, created_at, updated_at`

func (r *PgConversationRepository) Create(ctx context.Context, conv domain.Conversation) error {
	const query = `
		INSERT INTO conversations (id, participant_a, participant_b, project_id, last_message_at, created_at, updated_at)
		VALUES ($1::uuid, $2::uuid, $3::uuid, $4::uuid, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		conv.ID,
		conv.ParticipantA,
		conv.ParticipantB,
		conv.ProjectID,
		conv.LastMessageAt,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	if isInvalidID(err) {
		return domain.ErrInvalidParticipants
	}
	return err
}

func (r *PgConversationRepository) GetByID(ctx context.Context, id string) (domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1::uuid`
	return scanConversation(r.pool.QueryRow(ctx, query, id))
}

func (r *PgConversationRepository) FindByPair(ctx context.Context, userA, userB string) (domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (participant_a = $1::uuid AND participant_b = $2::uuid)
		   OR (participant_a = $2::uuid AND participant_b = $1::uuid)
	`
	return scanConversation(r.pool.QueryRow(ctx, query, userA, userB))
}

// ListSummaries arma el inbox completo en una sola consulta: ultimo mensaje y no leidos
// salen de subconsultas LATERAL por conversacion, nunca de un round trip por fila.
func (r *PgConversationRepository) ListSummaries(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	const query = `
		SELECT c.id::text,
		       c.project_id::text,
		       (CASE WHEN c.participant_a = $1::uuid THEN c.participant_b ELSE c.participant_a END)::text,
		       c.last_message_at,
		       c.created_at,
		       lm.id::text,
		       lm.sender_id::text,
		       lm.body,
		       lm.kind,
		       lm.created_at,
		       COALESCE(u.unread, 0)
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, m.body, m.kind, m.created_at
			FROM chat_messages m
			WHERE m.conversation_id = c.id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		) lm ON true
		LEFT JOIN LATERAL (
			SELECT count(*) AS unread
			FROM chat_messages m
			WHERE m.conversation_id = c.id
			  AND m.read = false
			  AND m.sender_id <> $1::uuid
		) u ON true
		WHERE c.participant_a = $1::uuid OR c.participant_b = $1::uuid
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []domain.ConversationSummary{}
	for rows.Next() {
		var (
			s             domain.ConversationSummary
			lastID        *string
			lastSender    *string
			lastBody      *string
			lastKind      *string
			lastCreated   *time.Time
			unread        int64
			counterpartID string
		)
		err = rows.Scan(
			&s.ConversationID,
			&s.ProjectID,
			&counterpartID,
			&s.LastMessageAt,
			&s.CreatedAt,
			&lastID,
			&lastSender,
			&lastBody,
			&lastKind,
			&lastCreated,
			&unread,
		)
		if err != nil {
			return nil, err
		}
		s.Counterpart = domain.PublicProfile{ID: counterpartID}
		s.UnreadCount = int(unread)
		if lastID != nil && lastCreated != nil {
			preview := &domain.MessagePreview{
				MessageID: *lastID,
				CreatedAt: *lastCreated,
			}
			if lastSender != nil {
				preview.SenderID = *lastSender
			}
			if lastBody != nil {
				preview.Body = *lastBody
			}
			if lastKind != nil {
				preview.Kind = domain.MessageKind(*lastKind)
			}
			s.LastMessage = preview
		}
		summaries = append(summaries, s)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (r *PgConversationRepository) TotalUnread(ctx context.Context, userID string) (int, error) {
	const query = `
		SELECT count(*)
		FROM chat_messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.participant_a = $1::uuid OR c.participant_b = $1::uuid)
		  AND m.read = false
		  AND m.sender_id <> $1::uuid
	`
	var total int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&total); err != nil {
		return 0, err
	}
	return int(total), nil
}

func scanConversation(row pgx.Row) (domain.Conversation, error) {
	var conv domain.Conversation
	err := row.Scan(
		&conv.ID,
		&conv.ParticipantA,
		&conv.ParticipantB,
		&conv.ProjectID,
		&conv.LastMessageAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}
	return conv, err
}

// isInvalidID detecta ids que no parsean como uuid; para el caller equivalen a "no existe".
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInvalidTextFormat
}
