package chat

import (
	"io"
	"sync/atomic"
)

// Event is produced by connection readers and consumed only by the Broker.
type Event interface {
	isEvent()
}

// NewPeer announces a connection that declared Name as its first line.
type NewPeer struct {
	Name   string
	ConnID string
	Conn   io.Writer
	// Shutdown is closed when the reader of this connection has stopped.
	// Nothing is ever sent on it.
	Shutdown <-chan struct{}
}

// Message is one routed line: Content goes to every name in To.
type Message struct {
	From    string
	To      []string
	Content string
}

func (NewPeer) isEvent() {}
func (Message) isEvent() {}

// Sender is a handle onto the Broker's inbound event stream. Every holder
// must Close its handle exactly once; the stream ends when the last handle is
// closed, which is what lets the Broker shut down.
type Sender struct {
	events *Link[Event]
	refs   *atomic.Int64
	closed atomic.Bool
}

func newSender(events *Link[Event]) *Sender {
	refs := &atomic.Int64{}
	refs.Store(1)
	return &Sender{events: events, refs: refs}
}

func (s *Sender) Send(ev Event) error {
	if s.closed.Load() {
		return ErrSenderClosed
	}
	return s.events.Send(ev)
}

// Clone returns a new handle sharing the same stream. It must be called on a
// handle that has not been closed yet.
func (s *Sender) Clone() *Sender {
	if s.closed.Load() {
		panic("chat: Clone called on a closed Sender")
	}
	s.refs.Add(1)
	return &Sender{events: s.events, refs: s.refs}
}

func (s *Sender) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.refs.Add(-1) == 0 {
		s.events.Close()
	}
}
