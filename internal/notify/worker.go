package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Sink persiste o entrega un aviso ya desencolado.
type Sink interface {
	Deliver(ctx context.Context, n NewMessage) error
}

// LogSink solo registra el aviso; sirve en desarrollo y cuando no hay base.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Deliver(_ context.Context, n NewMessage) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification delivered",
		zap.String("recipient_id", n.RecipientID),
		zap.String("conversation_id", n.ConversationID),
		zap.String("title", n.Title()),
		zap.String("text", n.Text()),
	)
	return nil
}

// PgSink inserta el aviso en la tabla notifications del marketplace.
type PgSink struct {
	pool *pgxpool.Pool
}

func NewPgSink(pool *pgxpool.Pool) *PgSink {
	return &PgSink{pool: pool}
}

func (s *PgSink) Deliver(ctx context.Context, n NewMessage) error {
	data, err := json.Marshal(map[string]string{
		"conversationId": n.ConversationID,
		"messageId":      n.MessageID,
		"action":         "new_message",
		"preview":        n.Preview,
	})
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO notifications (user_id, title, message, type, data)
		VALUES ($1::uuid, $2, $3, 'message', $4::jsonb)
	`
	_, err = s.pool.Exec(ctx, query, n.RecipientID, n.Title(), n.Text(), data)
	return err
}

// NewTaskHandler decodifica tareas notification:new_message y las pasa al sink.
// Un payload invalido se descarta con SkipRetry.
func NewTaskHandler(sink Sink, logger *zap.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var n NewMessage
		if err := json.Unmarshal(t.Payload(), &n); err != nil {
			logger.Warn("malformed notification payload", zap.Error(err))
			return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
		}
		if err := n.validate(); err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return sink.Deliver(ctx, n)
	}
}

// RegisterHandlers engancha los handlers de notificaciones en mux.
func RegisterHandlers(mux *asynq.ServeMux, sink Sink, logger *zap.Logger) {
	mux.Handle(TaskTypeNewMessage, NewTaskHandler(sink, logger))
}
