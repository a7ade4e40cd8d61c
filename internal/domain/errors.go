package domain

import (
	"errors"
	"fmt"
)

// Taxonomia de errores del nucleo de mensajeria.
var (
	ErrInvalidParticipants  = errors.New("invalid participants")
	ErrNotAParticipant      = errors.New("not a participant")
	ErrEmptyMessage         = errors.New("empty message")
	ErrInvalidMessageKind   = errors.New("invalid message kind")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrStorage              = errors.New("storage error")
	ErrChannelDisconnected  = errors.New("channel disconnected")
)

// StorageError envuelve una falla de infraestructura para que el caller pueda reintentar.
func StorageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

// IsTransient indica si el error se puede reintentar con backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrChannelDisconnected)
}

// IsValidation indica errores de entrada que nunca deben reintentarse.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidParticipants) ||
		errors.Is(err, ErrNotAParticipant) ||
		errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrInvalidMessageKind)
}
