// Package reconcile mantiene la vista local de una conversacion en el cliente: copias optimistas
// mientras el envio esta en vuelo y mensajes confirmados deduplicados por id del servidor.
package reconcile

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketplace-chat/internal/domain"
)

// Item es una fila renderizable. Pending indica una copia optimista todavia sin id del servidor.
type Item struct {
	Message  domain.Message
	ClientID string
	Pending  bool
}

type pendingEntry struct {
	clientID string
	senderID string
	body     string
	at       time.Time
}

// View es segura para uso concurrente: el push del canal y el retorno de Send llegan por goroutines distintas.
type View struct {
	conversationID string

	mu       sync.Mutex
	messages []domain.Message
	seen     map[string]struct{}
	pending  []pendingEntry
	now      func() time.Time
}

func NewView(conversationID string) *View {
	return &View{
		conversationID: conversationID,
		seen:           make(map[string]struct{}),
		now:            time.Now,
	}
}

func (v *View) ConversationID() string {
	return v.conversationID
}

// AddOptimistic registra un envio en vuelo y devuelve su client id.
func (v *View) AddOptimistic(senderID, body string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	clientID := uuid.NewString()
	v.pending = append(v.pending, pendingEntry{
		clientID: clientID,
		senderID: senderID,
		body:     body,
		at:       v.now(),
	})
	return clientID
}

// Confirm reemplaza la copia optimista por la autoritativa. Si el push llego antes,
// el mensaje ya esta en la vista y solo se descarta la copia.
func (v *View) Confirm(clientID string, msg domain.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropPending(clientID)
	return v.insert(msg)
}

// Fail descarta la copia optimista y devuelve el texto para restaurar el input del usuario.
func (v *View) Fail(clientID string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.dropPending(clientID)
	if !ok {
		return "", false
	}
	return entry.body, true
}

// Apply incorpora un mensaje recibido por cualquier camino. Devuelve false si ya estaba
// (entrega duplicada) o si pertenece a otra conversacion.
func (v *View) Apply(msg domain.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.insert(msg)
}

// Merge aplica una pagina de historial tras un resync y devuelve cuantos mensajes eran nuevos.
func (v *View) Merge(history []domain.Message) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	added := 0
	for _, msg := range history {
		if v.insert(msg) {
			added++
		}
	}
	return added
}

// ApplyRead refleja un evento read: los mensajes que readerID recibio quedan leidos.
func (v *View) ApplyRead(readerID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for i := range v.messages {
		if v.messages[i].SenderID != readerID && !v.messages[i].Read {
			v.messages[i].Read = true
			n++
		}
	}
	return n
}

func (v *View) Contains(messageID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.seen[messageID]
	return ok
}

// Latest devuelve el timestamp del ultimo mensaje confirmado.
func (v *View) Latest() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.messages) == 0 {
		return time.Time{}, false
	}
	return v.messages[len(v.messages)-1].CreatedAt, true
}

// Items devuelve la vista en orden de display: confirmados por (CreatedAt, ID) y al final los pendientes.
func (v *View) Items() []Item {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Item, 0, len(v.messages)+len(v.pending))
	for _, msg := range v.messages {
		out = append(out, Item{Message: msg})
	}
	for _, p := range v.pending {
		out = append(out, Item{
			ClientID: p.clientID,
			Pending:  true,
			Message: domain.Message{
				ConversationID: v.conversationID,
				SenderID:       p.senderID,
				Body:           p.body,
				Kind:           domain.MessageKindText,
				CreatedAt:      p.at,
			},
		})
	}
	return out
}

// Messages devuelve solo los mensajes confirmados.
func (v *View) Messages() []domain.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

func (v *View) insert(msg domain.Message) bool {
	if strings.TrimSpace(msg.ID) == "" || msg.ConversationID != v.conversationID {
		return false
	}
	if _, dup := v.seen[msg.ID]; dup {
		return false
	}
	v.seen[msg.ID] = struct{}{}

	idx := sort.Search(len(v.messages), func(i int) bool {
		return msg.Before(v.messages[i])
	})
	v.messages = append(v.messages, domain.Message{})
	copy(v.messages[idx+1:], v.messages[idx:])
	v.messages[idx] = msg
	return true
}

func (v *View) dropPending(clientID string) (pendingEntry, bool) {
	for i, p := range v.pending {
		if p.clientID == clientID {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			return p, true
		}
	}
	return pendingEntry{}, false
}
