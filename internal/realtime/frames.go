package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"marketplace-chat/internal/domain"
)

// Tipos de frame de la sesion websocket. Los eventos (message, read, inbox, degraded, resync)
// viajan con su propio EventType.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FrameSend         = "send"
	FrameRead         = "read"
	FramePing         = "ping"
	FrameConnected    = "connected"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameAck          = "ack"
	FrameError        = "error"
	FramePong         = "pong"
)

// Frame es el sobre JSON de la sesion websocket en ambos sentidos.
type Frame struct {
	Type           string          `json:"type"`
	ClientID       string          `json:"client_id,omitempty"`
	Topic          string          `json:"topic,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Body           string          `json:"body,omitempty"`
	Kind           string          `json:"kind,omitempty"`
	AttachmentRef  *string         `json:"attachment_ref,omitempty"`
	AttachmentName *string         `json:"attachment_name,omitempty"`
	Message        *domain.Message `json:"message,omitempty"`
	ReaderID       string          `json:"reader_id,omitempty"`
	Marked         int64           `json:"marked,omitempty"`
	Code           string          `json:"code,omitempty"`
	Error          string          `json:"error,omitempty"`
	At             *time.Time      `json:"at,omitempty"`
}

// IsEvent reporta si el frame transporta un evento del canal.
func (f Frame) IsEvent() bool {
	switch EventType(f.Type) {
	case EventMessage, EventRead, EventInbox, EventDegraded, EventResync:
		return true
	}
	return false
}

// Event convierte el frame en un Event validado.
func (f Frame) Event() (Event, error) {
	if !f.IsEvent() {
		return Event{}, fmt.Errorf("%w: frame %q is not an event", ErrInvalidEvent, f.Type)
	}
	ev := Event{
		Type:           EventType(f.Type),
		Topic:          f.Topic,
		ConversationID: f.ConversationID,
		Message:        f.Message,
		ReaderID:       f.ReaderID,
		Marked:         f.Marked,
	}
	if f.At != nil {
		ev.At = *f.At
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// FrameFromEvent arma el frame saliente de un evento.
func FrameFromEvent(ev Event) Frame {
	at := ev.At
	return Frame{
		Type:           string(ev.Type),
		Topic:          ev.Topic,
		ConversationID: ev.ConversationID,
		Message:        ev.Message,
		ReaderID:       ev.ReaderID,
		Marked:         ev.Marked,
		At:             &at,
	}
}

func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: frame without type", ErrInvalidEvent)
	}
	return f, nil
}
