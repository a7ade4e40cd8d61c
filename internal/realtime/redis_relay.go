package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/metrics"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type relayReceiver interface {
	Receive(ctx context.Context) (interface{}, error)
	Close() error
}

// RedisRelay lleva los eventos entre nodos: Publish escribe en Redis y Run reenvia al Hub local
// todo lo que llega por PSUBSCRIBE. Si la suscripcion se cae, los suscriptores reciben degraded
// y, al volver, resync para que recarguen el historial.
type RedisRelay struct {
	hub        *Hub
	publisher  redisPublisher
	subscribe  func(ctx context.Context) relayReceiver
	prefix     string
	logger     *zap.Logger
	metrics    *metrics.Metrics
	newBackOff func() backoff.BackOff
	connected  atomic.Bool
}

func NewRedisRelay(client *redis.Client, hub *Hub, prefix string, logger *zap.Logger, m *metrics.Metrics) *RedisRelay {
	if prefix == "" {
		prefix = "chat:events:"
	}
	r := newRelay(client, hub, prefix, logger, m)
	r.subscribe = func(ctx context.Context) relayReceiver {
		return client.PSubscribe(ctx, prefix+"*")
	}
	return r
}

func newRelay(pub redisPublisher, hub *Hub, prefix string, logger *zap.Logger, m *metrics.Metrics) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		hub:       hub,
		publisher: pub,
		prefix:    prefix,
		logger:    logger,
		metrics:   m,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
	}
}

// Publish manda el evento al resto de los nodos (este incluido, via la propia suscripcion).
// Si Redis falla, se entrega solo localmente y se devuelve ErrChannelDisconnected.
func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := r.publisher.Publish(ctx, r.prefix+ev.Topic, payload).Err(); err != nil {
		if localErr := r.hub.Publish(ctx, ev); localErr != nil {
			r.logger.Warn("local fallback publish failed", zap.Error(localErr))
		}
		return fmt.Errorf("%w: %v", domain.ErrChannelDisconnected, err)
	}
	return nil
}

// Connected reporta si la suscripcion cross-node esta activa.
func (r *RedisRelay) Connected() bool {
	return r.connected.Load()
}

// Run consume la suscripcion hasta que ctx se cancele, reconectando con backoff exponencial.
func (r *RedisRelay) Run(ctx context.Context) error {
	b := r.newBackOff()
	degraded := false

	for ctx.Err() == nil {
		ps := r.subscribe(ctx)
		err := r.consume(ctx, ps, &degraded, b)
		_ = ps.Close()

		if ctx.Err() != nil {
			break
		}

		r.connected.Store(false)
		r.metrics.SetRelayConnected(false)
		if !degraded {
			degraded = true
			r.hub.Broadcast(Event{Type: EventDegraded, At: time.Now().UTC()})
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = 10 * time.Second
		}
		r.logger.Warn("realtime relay disconnected", zap.Error(err), zap.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	r.connected.Store(false)
	r.metrics.SetRelayConnected(false)
	return nil
}

func (r *RedisRelay) consume(ctx context.Context, ps relayReceiver, degraded *bool, b backoff.BackOff) error {
	for {
		msg, err := ps.Receive(ctx)
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			r.connected.Store(true)
			r.metrics.SetRelayConnected(true)
			b.Reset()
			if *degraded {
				*degraded = false
				r.metrics.RecordRelayReconnect()
				r.logger.Info("realtime relay reconnected")
				r.hub.Broadcast(Event{Type: EventResync, At: time.Now().UTC()})
			}
		case *redis.Message:
			ev, err := Decode([]byte(m.Payload))
			if err != nil {
				r.logger.Warn("dropping malformed relay event", zap.Error(err), zap.String("channel", m.Channel))
				continue
			}
			if topic := strings.TrimPrefix(m.Channel, r.prefix); topic != ev.Topic {
				r.logger.Warn("relay event topic mismatch", zap.String("channel", m.Channel), zap.String("topic", ev.Topic))
				continue
			}
			if err := r.hub.Publish(ctx, ev); err != nil {
				r.logger.Warn("relay deliver failed", zap.Error(err))
			}
		}
	}
}
