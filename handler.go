package realtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// HandlerFunc handles one domain event. A returned error or a panic is
// logged and does not stop dispatch to the remaining handlers.
type HandlerFunc func(ev Event) error

// Subscription identifies one registration made with On. It is the only way
// to remove that registration.
type Subscription struct {
	Type string
	id   uuid.UUID
}

// Valid reports whether s was returned by On.
func (s Subscription) Valid() bool {
	return s.id != uuid.Nil
}

type handlerEntry struct {
	id uuid.UUID
	fn HandlerFunc
}

// handlerRegistry maps event types to handlers in registration order.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		handlers: make(map[string][]handlerEntry),
	}
}

func (r *handlerRegistry) add(eventType string, fn HandlerFunc) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := handlerEntry{id: uuid.New(), fn: fn}
	r.handlers[eventType] = append(r.handlers[eventType], entry)
	return Subscription{Type: eventType, id: entry.id}
}

// remove deletes exactly the registration identified by sub. Unknown
// subscriptions are ignored.
func (r *handlerRegistry) remove(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.handlers[sub.Type]
	for i, e := range entries {
		if e.id != sub.id {
			continue
		}
		rest := make([]handlerEntry, 0, len(entries)-1)
		rest = append(rest, entries[:i]...)
		rest = append(rest, entries[i+1:]...)
		if len(rest) == 0 {
			delete(r.handlers, sub.Type)
		} else {
			r.handlers[sub.Type] = rest
		}
		return true
	}
	return false
}

// lookup returns the handlers for eventType followed by the wildcard
// handlers. The result is a copy, so handlers may register or remove
// subscriptions while it is being walked.
func (r *handlerRegistry) lookup(eventType string) []handlerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	typed := r.handlers[eventType]
	var wild []handlerEntry
	if eventType != Wildcard {
		wild = r.handlers[Wildcard]
	}
	out := make([]handlerEntry, 0, len(typed)+len(wild))
	out = append(out, typed...)
	return append(out, wild...)
}

func (r *handlerRegistry) count(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}

func (r *handlerRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string][]handlerEntry)
}

// dispatch calls every handler for ev in order. Failures are collected per
// handler and returned to the caller for reporting.
func (r *handlerRegistry) dispatch(ev Event) []error {
	var errs []error
	for _, entry := range r.lookup(ev.Type) {
		if err := invoke(entry.fn, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func invoke(fn HandlerFunc, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	if fn == nil {
		return errors.New("nil handler")
	}
	return fn(ev)
}
