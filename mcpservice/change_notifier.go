package mcpservice

import "sync"

// ChangeNotifier fans out set-mutation signals to registered callbacks. The
// zero value is ready to use. Callbacks run synchronously on the mutating
// goroutine and must not block.
type ChangeNotifier struct {
	mu   sync.Mutex
	subs []func()
}

// Subscribe registers a callback for future changes.
func (n *ChangeNotifier) Subscribe(fn func()) {
	n.mu.Lock()
	n.subs = append(n.subs, fn)
	n.mu.Unlock()
}

// Changed invokes every registered callback.
func (n *ChangeNotifier) Changed() {
	n.mu.Lock()
	subs := make([]func(), len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
