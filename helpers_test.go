package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineRecorder stands in for a client socket. The writer issues one Write
// per delivered line.
type lineRecorder struct {
	lines chan string

	mu   sync.Mutex
	fail error
}

func newLineRecorder() *lineRecorder {
	return &lineRecorder{lines: make(chan string, 256)}
}

func (r *lineRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		return 0, fail
	}
	r.lines <- string(p)
	return len(p), nil
}

func (r *lineRecorder) failWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func expectLine(t *testing.T, r *lineRecorder, want string) {
	t.Helper()
	select {
	case got := <-r.lines:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("expected %q, got nothing", want)
	}
}

func expectNoLine(t *testing.T, r *lineRecorder) {
	t.Helper()
	select {
	case got := <-r.lines:
		t.Fatalf("expected no line, got %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

type transitionLog struct {
	mu    sync.Mutex
	items []Transition
}

func (l *transitionLog) record(t Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, t)
}

func (l *transitionLog) snapshot() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transition(nil), l.items...)
}

func (l *transitionLog) count(connID, to string) int {
	n := 0
	for _, t := range l.snapshot() {
		if t.ConnID == connID && t.To == to {
			n++
		}
	}
	return n
}

func (l *transitionLog) waitFor(t *testing.T, connID, to string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return l.count(connID, to) > 0
	}, 2*time.Second, 5*time.Millisecond, "%s never reached %s", connID, to)
}

func discardHandler() slog.Handler {
	return slog.NewTextHandler(io.Discard, nil)
}

type runningBroker struct {
	*Broker
	events *Sender
	log    *transitionLog
	done   chan struct{}
}

func startBroker(t *testing.T, opts ...Option) *runningBroker {
	t.Helper()
	log := &transitionLog{}
	opts = append([]Option{
		WithLog(discardHandler()),
		WithMetricSink(&metrics.BlackholeSink{}),
		WithObserver(log.record),
	}, opts...)

	b, events, err := NewBroker(opts...)
	require.NoError(t, err)

	rb := &runningBroker{Broker: b, events: events, log: log, done: make(chan struct{})}
	go func() {
		defer close(rb.done)
		assert.NoError(t, b.Run())
	}()
	return rb
}

func (rb *runningBroker) stop(t *testing.T) {
	t.Helper()
	rb.events.Close()
	select {
	case <-rb.done:
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not stop")
	}
}

// connect announces a peer directly on the event stream and returns its
// socket stand-in together with the function that plays "reader stopped".
func (rb *runningBroker) connect(t *testing.T, name, connID string) (*lineRecorder, context.CancelFunc) {
	t.Helper()
	rec := newLineRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rb.events.Send(NewPeer{Name: name, ConnID: connID, Conn: rec, Shutdown: ctx.Done()}))
	return rec, cancel
}

func (rb *runningBroker) send(t *testing.T, from string, to []string, content string) {
	t.Helper()
	require.NoError(t, rb.events.Send(Message{From: from, To: to, Content: content}))
}

func counterValue(sink *metrics.InmemSink, key string) int {
	total := 0
	for _, intv := range sink.Data() {
		if v, ok := intv.Counters[key]; ok {
			total += v.Count
		}
	}
	return total
}
