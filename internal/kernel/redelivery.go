package kernel

import (
	"sync"

	"otogi-invite/pkg/otogi"
)

// redeliveryWindow remembers the last N driver event keys in a ring.
// A nil window remembers nothing.
type redeliveryWindow struct {
	mu   sync.Mutex
	keys map[string]struct{}
	ring []string
	next int
}

func newRedeliveryWindow(size int) *redeliveryWindow {
	if size <= 0 {
		return nil
	}

	return &redeliveryWindow{
		keys: make(map[string]struct{}, size),
		ring: make([]string, size),
	}
}

// seen records event and reports whether an equal key is already in the window.
func (w *redeliveryWindow) seen(event *otogi.Event) bool {
	if w == nil || event == nil || event.ID == "" {
		return false
	}
	key := string(event.Kind) + "\x00" + string(event.Source.Platform) + "\x00" + event.Source.ID + "\x00" + event.ID

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.keys[key]; ok {
		return true
	}
	if evicted := w.ring[w.next]; evicted != "" {
		delete(w.keys, evicted)
	}
	w.ring[w.next] = key
	w.keys[key] = struct{}{}
	w.next = (w.next + 1) % len(w.ring)

	return false
}
