package service

import "sync"

// conversationLocks serializa append+publish por conversacion dentro de este nodo,
// asi los eventos salen en el mismo orden en que se persistieron.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*lockEntry)}
}

// Lock bloquea la conversacion y devuelve la funcion que la libera.
func (c *conversationLocks) Lock(conversationID string) func() {
	c.mu.Lock()
	entry, ok := c.locks[conversationID]
	if !ok {
		entry = &lockEntry{}
		c.locks[conversationID] = entry
	}
	entry.refs++
	c.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		c.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(c.locks, conversationID)
		}
		c.mu.Unlock()
	}
}

func (c *conversationLocks) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
