package domain

import (
	"strings"
	"time"
)

// Conversation es el hilo durable entre exactamente dos participantes.
// El par es no ordenado: (A, B) y (B, A) identifican la misma conversacion.
type Conversation struct {
	ID            string     `json:"id"`
	ParticipantA  string     `json:"participant_a"`
	ParticipantB  string     `json:"participant_b"`
	ProjectID     *string    `json:"project_id,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasParticipant reporta si userID es uno de los dos participantes.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Counterpart devuelve el otro participante, o "" si userID no participa.
func (c Conversation) Counterpart(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	default:
		return ""
	}
}

// PairKey es la clave canonica del par no ordenado.
func (c Conversation) PairKey() string {
	return PairKey(c.ParticipantA, c.ParticipantB)
}

// CanonicalPair ordena el par para que el menor quede primero.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey arma "menor|mayor" para indices en memoria y cache.
func PairKey(a, b string) string {
	low, high := CanonicalPair(a, b)
	return low + "|" + high
}

// ValidatePair normaliza y valida los dos ids de usuario.
func ValidatePair(a, b string) (string, string, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return "", "", ErrInvalidParticipants
	}
	return a, b, nil
}
