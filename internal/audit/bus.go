package audit

import (
	"sync"

	"github.com/revittco/mcpmux/internal/store"
)

const subscriberBuffer = 64

// Bus fans out audit records to live stream subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan *store.AuditRecord]chan *store.AuditRecord
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[<-chan *store.AuditRecord]chan *store.AuditRecord)}
}

// Subscribe registers a listener. Callers must Unsubscribe when done.
func (b *Bus) Subscribe() <-chan *store.AuditRecord {
	ch := make(chan *store.AuditRecord, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan *store.AuditRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
}

// Len reports the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers rec without blocking; full subscribers drop it.
func (b *Bus) Publish(rec *store.AuditRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}
