package realtime

import (
	"sync"

	"github.com/vadim/neo-inbox/internal/domain/event/entity"
)

// Handler receives events pushed for one conversation
type Handler func(entity.Event)

// registry maps conversation ids to handlers, keeping registration order
// so replays after a reconnect are deterministic
type registry struct {
	mu       sync.RWMutex
	order    []string
	handlers map[string]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]Handler)}
}

// set registers or replaces the handler; a replaced id keeps its position
func (r *registry) set(conversationID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[conversationID]; !ok {
		r.order = append(r.order, conversationID)
	}
	r.handlers[conversationID] = h
}

func (r *registry) remove(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[conversationID]; !ok {
		return
	}
	delete(r.handlers, conversationID)
	for i, id := range r.order {
		if id == conversationID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *registry) has(conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[conversationID]
	return ok
}

func (r *registry) handler(conversationID string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[conversationID]
	return h, ok
}

func (r *registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = nil
	r.handlers = make(map[string]Handler)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
