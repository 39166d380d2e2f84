package mirror

import (
	"sync"
)

// Op names a mirror mutation.
type Op string

const (
	OpPut    Op = "put"
	OpPush   Op = "push"
	OpDelete Op = "delete"
	// OpSeal is a delete that also refuses later writes. Watchers see it as OpDelete.
	OpSeal Op = "seal"
)

// Event is delivered to watchers after a mutation commits. Value is the stored
// encoding and is nil for deletes. Seq is set for pushes.
type Event struct {
	Op    Op
	Path  Path
	Seq   uint64
	Value []byte
}

// Watch is a live, path-prefix scoped subscription. Events arrive on C in commit
// order. C is closed when the watch is closed by the caller, by the store, or
// because the watcher fell behind; Err tells which.
type Watch struct {
	C <-chan Event

	c      chan Event
	prefix Path
	hub    *hub

	once sync.Once
	mu   sync.Mutex
	err  error
}

// Close stops the watch. It is safe to call more than once.
func (w *Watch) Close() {
	w.hub.remove(w, nil)
}

// Err returns why the watch ended, or nil if it is open or was closed by the caller.
func (w *Watch) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Watch) shutdown(err error) {
	w.once.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.c)
	})
}

// matches reports whether e concerns the watched subtree. Deleting an ancestor
// removes the subtree, so it matches too.
func (w *Watch) matches(e Event) bool {
	if e.Path.HasPrefix(w.prefix) {
		return true
	}
	return e.Op == OpDelete && w.prefix.HasPrefix(e.Path)
}

type hub struct {
	mu       sync.Mutex
	watchers map[*Watch]struct{}
	buffer   int
	closed   bool
}

func newHub(buffer int) *hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &hub{watchers: make(map[*Watch]struct{}), buffer: buffer}
}

func (h *hub) add(prefix Path) (*Watch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	c := make(chan Event, h.buffer)
	w := &Watch{C: c, c: c, prefix: prefix, hub: h}
	h.watchers[w] = struct{}{}
	return w, nil
}

func (h *hub) remove(w *Watch, err error) {
	h.mu.Lock()
	delete(h.watchers, w)
	h.mu.Unlock()
	w.shutdown(err)
}

// publish never blocks: a watcher with a full buffer is dropped with ErrSlowWatcher.
func (h *hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		if !w.matches(e) {
			continue
		}
		select {
		case w.c <- e:
		default:
			delete(h.watchers, w)
			w.shutdown(ErrSlowWatcher)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for w := range h.watchers {
		delete(h.watchers, w)
		w.shutdown(ErrClosed)
	}
}
