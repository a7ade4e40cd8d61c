package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

type MessageKind string

const (
	MessageKindText MessageKind = "text"
	MessageKindFile MessageKind = "file"
)

// ParseMessageKind acepta "" como texto.
func ParseMessageKind(raw string) (MessageKind, error) {
	switch MessageKind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MessageKindText:
		return MessageKindText, nil
	case MessageKindFile:
		return MessageKindFile, nil
	default:
		return "", ErrInvalidMessageKind
	}
}

// Message es inmutable salvo el flag Read. El orden de display es CreatedAt asignado por el servidor.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	Body           string         `json:"body"`
	Kind           MessageKind    `json:"kind"`
	AttachmentRef  *string        `json:"attachment_ref,omitempty"`
	AttachmentName *string        `json:"attachment_name,omitempty"`
	AttachmentURL  string         `json:"attachment_url,omitempty"`
	Read           bool           `json:"read"`
	CreatedAt      time.Time      `json:"created_at"`
	Sender         *PublicProfile `json:"sender,omitempty"`
}

// Validate chequea la forma del mensaje antes de persistirlo o aceptarlo del canal.
func (m Message) Validate() error {
	if strings.TrimSpace(m.ConversationID) == "" || strings.TrimSpace(m.SenderID) == "" {
		return ErrInvalidParticipants
	}
	switch m.Kind {
	case MessageKindText:
		if strings.TrimSpace(m.Body) == "" {
			return ErrEmptyMessage
		}
	case MessageKindFile:
		if m.AttachmentRef == nil || strings.TrimSpace(*m.AttachmentRef) == "" {
			return ErrEmptyMessage
		}
	default:
		return ErrInvalidMessageKind
	}
	return nil
}

// Before define el orden de display: CreatedAt y luego ID para desempatar.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Preview recorta el cuerpo a maxRunes runas.
func Preview(body string, maxRunes int) string {
	body = strings.TrimSpace(body)
	if maxRunes <= 0 || utf8.RuneCountInString(body) <= maxRunes {
		return body
	}
	runes := []rune(body)
	return string(runes[:maxRunes]) + "…"
}

// NextMessageTime devuelve el timestamp del servidor para un mensaje nuevo: nunca anterior a now
// y siempre estrictamente posterior al ultimo mensaje de la conversacion, con precision de microsegundos.
func NextMessageTime(now time.Time, last *time.Time) time.Time {
	now = now.UTC()
	ts := now.Truncate(time.Microsecond)
	if ts.Before(now) {
		ts = ts.Add(time.Microsecond)
	}
	if last != nil {
		floor := last.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
		if ts.Before(floor) {
			ts = floor
		}
	}
	return ts
}
