// Package realtime reparte eventos del chat a suscriptores locales y entre nodos via Redis.
package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-chat/internal/metrics"
)

var (
	ErrHubClosed    = errors.New("realtime hub closed")
	ErrInvalidTopic = errors.New("invalid topic")
)

// Handler recibe los eventos de una suscripcion, de a uno y en orden de publicacion.
type Handler func(Event)

// Publisher es lo que necesitan los servicios para emitir eventos.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Hub mantiene las suscripciones de este nodo agrupadas por topico.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[string]*Subscription
	closed  bool
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics:  make(map[string]map[string]*Subscription),
		logger:  logger,
		metrics: m,
	}
}

// Subscription es un handle de suscripcion. Cada una tiene su propia cola sin limite y su goroutine,
// asi un suscriptor lento no frena a los demas ni pierde eventos.
type Subscription struct {
	ID    string
	Topic string

	hub     *Hub
	handler Handler

	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

// Subscribe registra handler en topic. El handle devuelto se libera con Unsubscribe.
func (h *Hub) Subscribe(topic string, handler Handler) (*Subscription, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" || handler == nil {
		return nil, ErrInvalidTopic
	}

	sub := &Subscription{
		ID:      uuid.NewString(),
		Topic:   topic,
		hub:     h,
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.ID] = sub
	h.mu.Unlock()

	h.metrics.SubscriptionOpened()
	go sub.run()
	return sub, nil
}

// Publish entrega ev a las suscripciones locales de ev.Topic.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	for _, sub := range h.targets(ev.Topic) {
		sub.enqueue(ev)
	}
	return nil
}

// Broadcast entrega un evento de liveness a todas las suscripciones, con el topico de cada una.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	targets := make([]*Subscription, 0)
	for _, subs := range h.topics {
		for _, sub := range subs {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		out := ev
		out.Topic = sub.Topic
		sub.enqueue(out)
	}
}

// SubscriberCount devuelve cuantas suscripciones vivas tiene topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close da de baja todas las suscripciones y rechaza nuevas.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, subs := range h.topics {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Unsubscribe()
	}
}

func (h *Hub) targets(topic string) []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.topics[topic]
	out := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[sub.Topic]
	if !ok {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(h.topics, sub.Topic)
	}
}

// Unsubscribe es idempotente y no bloquea; se puede llamar desde dentro del propio handler.
// Un handler que ya esta corriendo termina, pero no se entregan mas eventos.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.hub.remove(s)
		s.hub.metrics.SubscriptionClosed()
		s.signal()
	})
}

// Done se cierra cuando la goroutine de entrega terminó.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) enqueue(ev Event) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	for range s.wake {
		for {
			if s.closed.Load() {
				return
			}
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.deliver(ev)
		}
	}
}

func (s *Subscription) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.hub.logger.Error("realtime handler panicked",
				zap.Any("panic", r),
				zap.String("topic", s.Topic),
				zap.String("subscription_id", s.ID),
			)
		}
	}()
	if s.closed.Load() {
		return
	}
	s.handler(ev)
	s.hub.metrics.RecordDelivery()
}
