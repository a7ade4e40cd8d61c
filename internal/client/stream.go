package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketplace-chat/internal/realtime"
)

// FrameHandler recibe cada frame del servidor y los frames sinteticos de estado
// (degraded al perder la conexion, resync al recuperarla). Corre en la goroutine de Run.
type FrameHandler func(realtime.Frame)

// Stream mantiene la sesion websocket viva: reconecta con backoff y vuelve a suscribir los topicos.
type Stream struct {
	client  *Client
	handler FrameHandler
	logger  *zap.Logger
	dialer  *websocket.Dialer

	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]struct{}

	writeMu sync.Mutex
}

func (c *Client) NewStream(handler FrameHandler) *Stream {
	if handler == nil {
		handler = func(realtime.Frame) {}
	}
	return &Stream{
		client:  c,
		handler: handler,
		logger:  c.logger,
		dialer:  websocket.DefaultDialer,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
		topics: make(map[string]struct{}),
	}
}

// Subscribe registra el topico; se reenvia en cada reconexion.
func (s *Stream) Subscribe(topic string) error {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.write(conn, realtime.Frame{Type: realtime.FrameSubscribe, Topic: topic})
}

func (s *Stream) Unsubscribe(topic string) error {
	s.mu.Lock()
	delete(s.topics, topic)
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.write(conn, realtime.Frame{Type: realtime.FrameUnsubscribe, Topic: topic})
}

// Connected reporta si hay una conexion abierta en este momento.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Run conecta y procesa frames hasta que ctx se cancela.
func (s *Stream) Run(ctx context.Context) error {
	wsURL, err := s.client.StreamURL()
	if err != nil {
		return err
	}

	b := s.newBackOff()
	everConnected := false
	for {
		conn, resp, err := s.dialer.DialContext(ctx, wsURL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			b.Reset()
			if everConnected {
				s.handler(realtime.Frame{Type: string(realtime.EventResync), At: timePtr(time.Now().UTC())})
			}
			everConnected = true
			err = s.serve(ctx, conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("chat stream disconnected", zap.Error(err))
			s.handler(realtime.Frame{Type: string(realtime.EventDegraded), At: timePtr(time.Now().UTC())})
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("chat stream dial failed", zap.Error(err))
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return errors.New("chat stream: backoff exhausted")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Stream) serve(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	s.conn = conn
	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for _, topic := range topics {
		if err := s.write(conn, realtime.Frame{Type: realtime.FrameSubscribe, Topic: topic}); err != nil {
			return err
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		frame, err := realtime.DecodeFrame(data)
		if err != nil {
			s.logger.Debug("drop undecodable frame", zap.Error(err))
			continue
		}
		s.handler(frame)
	}
}

func (s *Stream) write(conn *websocket.Conn, f realtime.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(f)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
