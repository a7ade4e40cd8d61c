// Package client es el SDK Go del chat: REST para comandos e historial, websocket para eventos.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketplace-chat/internal/domain"
)

// Client habla con la API REST en nombre de un usuario autenticado.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// Option ajusta un Client en New.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New construye un cliente apuntando a baseURL (ej: http://localhost:8080) con un access token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError es una respuesta de error del servidor. Unwrap la traduce al error de dominio equivalente
// para que el caller pueda usar errors.Is igual que del lado del servidor.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusForbidden:
		return domain.ErrNotAParticipant
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case http.StatusServiceUnavailable:
		return domain.ErrStorage
	}
	msg := strings.ToLower(e.Message)
	for _, sentinel := range []error{
		domain.ErrInvalidParticipants,
		domain.ErrEmptyMessage,
		domain.ErrInvalidMessageKind,
		domain.ErrConversationNotFound,
		domain.ErrMessageNotFound,
	} {
		if strings.Contains(msg, sentinel.Error()) {
			return sentinel
		}
	}
	return nil
}

// ResolveConversation obtiene o crea la conversacion con counterpartID.
func (c *Client) ResolveConversation(ctx context.Context, counterpartID string, projectID *string) (domain.Conversation, error) {
	req := map[string]any{"counterpart_id": counterpartID}
	if projectID != nil {
		req["project_id"] = *projectID
	}
	var resp struct {
		Conversation domain.Conversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &resp); err != nil {
		return domain.Conversation{}, err
	}
	return resp.Conversation, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var resp struct {
		Conversations []domain.ConversationSummary `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) SearchConversations(ctx context.Context, term string) ([]domain.ConversationSummary, error) {
	var resp struct {
		Conversations []domain.ConversationSummary `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations/search?q="+url.QueryEscape(term), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) TotalUnread(ctx context.Context) (int, error) {
	var resp struct {
		Unread int `json:"unread"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations/unread", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Unread, nil
}

// History trae hasta limit mensajes anteriores a before (nil = los mas recientes), en orden ascendente.
func (c *Client) History(ctx context.Context, conversationID string, limit int, before *time.Time) ([]domain.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != nil {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendRequest es el cuerpo de un envio; Kind vacio es texto.
type SendRequest struct {
	Body           string  `json:"body"`
	Kind           string  `json:"kind,omitempty"`
	AttachmentRef  *string `json:"attachment_ref,omitempty"`
	AttachmentName *string `json:"attachment_name,omitempty"`
}

func (c *Client) Send(ctx context.Context, conversationID string, req SendRequest) (domain.Message, error) {
	var resp struct {
		Message domain.Message `json:"message"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return domain.Message{}, err
	}
	return resp.Message, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	var resp struct {
		Marked int64 `json:"marked"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Marked, nil
}

// StreamURL arma la URL del websocket con el token en la query.
func (c *Client) StreamURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("access_token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChannelDisconnected, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload struct {
			Error     string `json:"error"`
			Code      string `json:"code"`
			Retryable bool   `json:"retryable"`
		}
		if json.Unmarshal(respBody, &payload) == nil {
			if payload.Error != "" {
				apiErr.Message = payload.Error
			}
			apiErr.Code = payload.Code
			apiErr.Retryable = payload.Retryable
		}
		c.logger.Debug("chat api error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// IsRetryable indica si conviene reintentar err con backoff.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return domain.IsTransient(err)
}
