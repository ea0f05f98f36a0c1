package audiocore

import "sync"

// ListenerSet is a DeviceWatcher building block: sources embed it and call
// Notify when the platform reports a default device change.
type ListenerSet struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func()
}

// Register adds onChange and returns a function removing it again. The
// returned function is safe to call more than once.
func (l *ListenerSet) Register(onChange func()) (unregister func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listeners == nil {
		l.listeners = make(map[int]func())
	}
	id := l.nextID
	l.nextID++
	l.listeners[id] = onChange

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.listeners, id)
			l.mu.Unlock()
		})
	}
}

// Notify calls every registered listener.
func (l *ListenerSet) Notify() {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Len returns the number of registered listeners.
func (l *ListenerSet) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.listeners)
}
