package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketplace-chat/internal/domain"
)

// HistoryQuery pagina el historial hacia atras: los Limit mensajes anteriores a Before.
type HistoryQuery struct {
	Limit  int
	Before *time.Time
}

const defaultHistoryLimit = 50

func (q HistoryQuery) limit() int {
	if q.Limit <= 0 {
		return defaultHistoryLimit
	}
	return q.Limit
}

// MessageRepository define el contrato de persistencia para mensajes.
type MessageRepository interface {
	// Append inserta el mensaje y actualiza last_message_at de la conversacion en la misma transaccion.
	// CreatedAt del mensaje recibido es el reloj del servidor; el valor persistido se devuelve.
	Append(ctx context.Context, msg domain.Message) (domain.Message, error)
	GetByID(ctx context.Context, id string) (domain.Message, error)
	ListByConversation(ctx context.Context, conversationID string, q HistoryQuery) ([]domain.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	Delete(ctx context.Context, id string) error
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

const messageColumns = `id::text, conversation_id::text, sender_id::text, body, kind, attachment_ref, attachment_name, read, created_at`

func (r *PgMessageRepository) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Message{}, err
	}
	// Rollback despues de Commit no hace nada.
	defer func() { _ = tx.Rollback(ctx) }()

	var last *time.Time
	err = tx.QueryRow(ctx,
		`SELECT last_message_at FROM conversations WHERE id = $1::uuid FOR UPDATE`,
		msg.ConversationID,
	).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
		return domain.Message{}, domain.ErrConversationNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}

	msg.CreatedAt = domain.NextMessageTime(msg.CreatedAt, last)
	msg.Read = false

	const insert = `
		INSERT INTO chat_messages (id, conversation_id, sender_id, body, kind, attachment_ref, attachment_name, read, created_at)
		VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, false, $8)
	`
	if _, err = tx.Exec(ctx, insert,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Body,
		string(msg.Kind),
		msg.AttachmentRef,
		msg.AttachmentName,
		msg.CreatedAt,
	); err != nil {
		return domain.Message{}, err
	}

	if _, err = tx.Exec(ctx,
		`UPDATE conversations SET last_message_at = $2, updated_at = $2 WHERE id = $1::uuid`,
		msg.ConversationID,
		msg.CreatedAt,
	); err != nil {
		return domain.Message{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func (r *PgMessageRepository) GetByID(ctx context.Context, id string) (domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE id = $1::uuid`
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	return msg, err
}

// ListByConversation devuelve la pagina en orden ascendente de creacion.
func (r *PgMessageRepository) ListByConversation(ctx context.Context, conversationID string, q HistoryQuery) ([]domain.Message, error) {
	query := `
		SELECT * FROM (
			SELECT ` + messageColumns + `
			FROM chat_messages
			WHERE conversation_id = $1::uuid
			  AND ($2::timestamptz IS NULL OR created_at < $2::timestamptz)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) page
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, conversationID, q.Before, q.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *PgMessageRepository) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	const query = `
		UPDATE chat_messages
		SET read = true
		WHERE conversation_id = $1::uuid
		  AND sender_id <> $2::uuid
		  AND read = false
	`
	tag, err := r.pool.Exec(ctx, query, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgMessageRepository) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	const query = `
		SELECT count(*)
		FROM chat_messages
		WHERE conversation_id = $1::uuid
		  AND sender_id <> $2::uuid
		  AND read = false
	`
	var count int64
	if err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(&count); err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *PgMessageRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM chat_messages WHERE id = $1::uuid`, id)
	if isInvalidID(err) {
		return domain.ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var (
		msg  domain.Message
		kind string
	)
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Body,
		&kind,
		&msg.AttachmentRef,
		&msg.AttachmentName,
		&msg.Read,
		&msg.CreatedAt,
	)
	if err != nil {
		return domain.Message{}, err
	}
	msg.Kind = domain.MessageKind(kind)
	return msg, nil
}
