package domain

import "time"

type MessagePreview struct {
	MessageID string      `json:"message_id"`
	SenderID  string      `json:"sender_id"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

// ConversationSummary es una fila del inbox de un usuario. Se deriva siempre del estado de los mensajes.
type ConversationSummary struct {
	ConversationID string          `json:"conversation_id"`
	ProjectID      *string         `json:"project_id,omitempty"`
	Counterpart    PublicProfile   `json:"counterpart"`
	LastMessage    *MessagePreview `json:"last_message,omitempty"`
	LastMessageAt  *time.Time      `json:"last_message_at,omitempty"`
	UnreadCount    int             `json:"unread_count"`
	CreatedAt      time.Time       `json:"created_at"`
}
