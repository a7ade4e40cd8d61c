package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-chat/internal/domain"
)

type EventType string

const (
	EventMessage  EventType = "message"
	EventRead     EventType = "read"
	EventInbox    EventType = "inbox"
	EventDegraded EventType = "degraded"
	EventResync   EventType = "resync"
)

var ErrInvalidEvent = errors.New("invalid realtime event")

const (
	conversationTopicPrefix = "conversation:"
	userTopicPrefix         = "user:"
)

// ConversationTopic es el topico donde se publican mensajes y lecturas de una conversacion.
func ConversationTopic(conversationID string) string {
	return conversationTopicPrefix + conversationID
}

// UserTopic es el inbox de un usuario: cualquier cambio en sus conversaciones.
func UserTopic(userID string) string {
	return userTopicPrefix + userID
}

// Event es la unidad que viaja por el canal. Se valida en cada borde (publish, decode).
type Event struct {
	Type           EventType       `json:"type"`
	Topic          string          `json:"topic"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Message        *domain.Message `json:"message,omitempty"`
	ReaderID       string          `json:"reader_id,omitempty"`
	Marked         int64           `json:"marked,omitempty"`
	At             time.Time       `json:"at"`
}

func NewMessageEvent(msg domain.Message) Event {
	m := msg
	return Event{
		Type:           EventMessage,
		Topic:          ConversationTopic(msg.ConversationID),
		ConversationID: msg.ConversationID,
		Message:        &m,
		At:             msg.CreatedAt,
	}
}

func NewReadEvent(conversationID, readerID string, marked int64, at time.Time) Event {
	return Event{
		Type:           EventRead,
		Topic:          ConversationTopic(conversationID),
		ConversationID: conversationID,
		ReaderID:       readerID,
		Marked:         marked,
		At:             at,
	}
}

func NewInboxEvent(userID, conversationID string, at time.Time) Event {
	return Event{
		Type:           EventInbox,
		Topic:          UserTopic(userID),
		ConversationID: conversationID,
		At:             at,
	}
}

// Validate rechaza eventos mal formados. Los de liveness (degraded, resync) no llevan topico:
// el hub los reparte a todas las suscripciones.
func (e Event) Validate() error {
	switch e.Type {
	case EventMessage:
		if e.Message == nil || e.ConversationID == "" || e.Message.ConversationID != e.ConversationID {
			return fmt.Errorf("%w: message event without matching message", ErrInvalidEvent)
		}
		if e.Message.ID == "" || e.Message.SenderID == "" {
			return fmt.Errorf("%w: message without id or sender", ErrInvalidEvent)
		}
	case EventRead:
		if e.ConversationID == "" || e.ReaderID == "" {
			return fmt.Errorf("%w: read event without conversation or reader", ErrInvalidEvent)
		}
	case EventInbox:
		if !strings.HasPrefix(e.Topic, userTopicPrefix) {
			return fmt.Errorf("%w: inbox event outside a user topic", ErrInvalidEvent)
		}
		return nil
	case EventDegraded, EventResync:
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	if strings.TrimSpace(e.Topic) == "" {
		return fmt.Errorf("%w: missing topic", ErrInvalidEvent)
	}
	return nil
}

func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
