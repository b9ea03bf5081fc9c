package chat

import (
	"container/list"
	"sync"
)

// Link is an unbounded FIFO queue between exactly one producer and one
// consumer. Sending never blocks. Closing the link is the producer's way of
// telling the consumer that nothing more will arrive; items queued before the
// close are still handed out.
type Link[T any] struct {
	mu     sync.Mutex
	items  *list.List
	closed bool
	ready  chan struct{}
}

func NewLink[T any]() *Link[T] {
	return &Link[T]{
		items: list.New(),
		ready: make(chan struct{}, 1),
	}
}

// signal must be called with mu held.
func (l *Link[T]) signal() {
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *Link[T]) Send(v T) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.items.PushBack(v)
	l.signal()
	return nil
}

// Close marks the producer side as gone. It is safe to call more than once.
func (l *Link[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.signal()
}

func (l *Link[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items.Len()
}

// Ready fires whenever an item may be available or the link has been closed.
// After receiving from it, call TryRecv.
func (l *Link[T]) Ready() <-chan struct{} {
	return l.ready
}

// TryRecv takes the oldest item without blocking. ok is false when nothing
// was taken; err is ErrLinkClosed once the link is closed and empty.
func (l *Link[T]) TryRecv() (v T, ok bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e := l.items.Front(); e != nil {
		l.items.Remove(e)
		// keep Ready armed while there is something left to observe
		if l.items.Len() > 0 || l.closed {
			l.signal()
		}
		return e.Value.(T), true, nil
	}
	if l.closed {
		l.signal()
		return v, false, ErrLinkClosed
	}
	return v, false, nil
}

// Recv blocks until an item is available, the link is closed and drained, or
// done is closed. done is checked first, so a closed done channel wins over
// pending items.
func (l *Link[T]) Recv(done <-chan struct{}) (T, error) {
	var zero T
	for {
		select {
		case <-done:
			return zero, errShutdown
		default:
		}

		v, ok, err := l.TryRecv()
		if ok || err != nil {
			return v, err
		}

		select {
		case <-done:
			return zero, errShutdown
		case <-l.ready:
		}
	}
}
