// Package notify avisa al destinatario de un mensaje nuevo por fuera del canal realtime.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TaskTypeNewMessage es el tipo de tarea asynq para avisos de mensaje nuevo.
const TaskTypeNewMessage = "notification:new_message"

// NewMessage es el payload del aviso. Preview ya viene recortado por el dispatcher.
type NewMessage struct {
	RecipientID    string    `json:"recipient_id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sent_at"`
}

// Title y Text arman el texto que ve el destinatario.
func (n NewMessage) Title() string {
	return "New message"
}

func (n NewMessage) Text() string {
	name := strings.TrimSpace(n.SenderName)
	if name == "" {
		name = "Someone"
	}
	return name + " sent you a new message"
}

func (n NewMessage) validate() error {
	if n.RecipientID == "" || n.ConversationID == "" || n.MessageID == "" {
		return errors.New("notification missing recipient, conversation or message")
	}
	return nil
}

// Notifier es el colaborador de notificaciones. Sus fallas nunca deben romper un envio.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, n NewMessage) error
}

// NopNotifier descarta los avisos; se usa sin Redis.
type NopNotifier struct{}

func (NopNotifier) NotifyNewMessage(context.Context, NewMessage) error { return nil }

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier encola el aviso en asynq; el worker lo materializa despues.
type QueueNotifier struct {
	client   enqueuer
	queue    string
	maxRetry int
	logger   *zap.Logger
}

func NewQueueNotifier(client *asynq.Client, queue string, logger *zap.Logger) *QueueNotifier {
	return newQueueNotifier(client, queue, logger)
}

func newQueueNotifier(client enqueuer, queue string, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queue == "" {
		queue = "notifications"
	}
	return &QueueNotifier{client: client, queue: queue, maxRetry: 5, logger: logger}
}

func (q *QueueNotifier) NotifyNewMessage(ctx context.Context, n NewMessage) error {
	if err := n.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	task := asynq.NewTask(TaskTypeNewMessage, payload)
	// Un aviso por mensaje y destinatario aunque el envio se reintente.
	taskID := n.MessageID + ":" + n.RecipientID
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.MaxRetry(q.maxRetry),
		asynq.TaskID(taskID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	q.logger.Debug("notification enqueued",
		zap.String("task_id", info.ID),
		zap.String("recipient_id", n.RecipientID),
		zap.String("conversation_id", n.ConversationID),
	)
	return nil
}
