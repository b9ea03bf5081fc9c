package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chat "github.com/kirides/chat-relay"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testRelay struct {
	broker *chat.Broker
	events *chat.Sender
	opts   Options
	done   chan struct{}
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks := chat.NewSupervisor(logger)

	broker, events, err := chat.NewBroker(
		chat.WithLog(logger.Handler()),
		chat.WithMetricSink(&metrics.BlackholeSink{}),
		chat.WithSupervisor(tasks),
	)
	require.NoError(t, err)

	r := &testRelay{
		broker: broker,
		events: events,
		opts:   Options{Logger: logger, Tasks: tasks},
		done:   make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		assert.NoError(t, broker.Run())
	}()
	return r
}

func (r *testRelay) waitForPeers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.broker.Peers()) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func (r *testRelay) waitStopped(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broker did not stop, still running: %v", r.opts.Tasks.Running())
	}
}

func dialTCP(t *testing.T, addr, name string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = io.WriteString(conn, name+"\n")
	require.NoError(t, err)
	return conn, bufio.NewReader(conn)
}

func TestServe_RelaysBetweenClients(t *testing.T) {
	relay := newTestRelay(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	tcpEvents := relay.events.Clone()
	go func() {
		served <- Serve(ctx, ln, tcpEvents, relay.opts)
	}()
	relay.events.Close()

	alice, _ := dialTCP(t, ln.Addr().String(), "alice")
	defer alice.Close()
	bob, bobIn := dialTCP(t, ln.Addr().String(), "bob")
	defer bob.Close()
	relay.waitForPeers(t, 2)

	_, err = io.WriteString(alice, "bob: hi\n")
	require.NoError(t, err)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bobIn.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "from alice: hi\n", line)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	relay.waitStopped(t)
	assert.Empty(t, relay.broker.Peers())
}

func TestServe_ClientLeaves(t *testing.T) {
	relay := newTestRelay(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Serve(ctx, ln, relay.events.Clone(), relay.opts)
	relay.events.Close()

	alice, _ := dialTCP(t, ln.Addr().String(), "alice")
	relay.waitForPeers(t, 1)

	alice.Close()
	relay.waitForPeers(t, 0)

	// the name is free again
	again, _ := dialTCP(t, ln.Addr().String(), "alice")
	defer again.Close()
	relay.waitForPeers(t, 1)

	cancel()
	relay.waitStopped(t)
}

func TestRouter_Endpoints(t *testing.T) {
	broker, events, err := chat.NewBroker(chat.WithLog(slog.New(slog.NewTextHandler(io.Discard, nil)).Handler()))
	require.NoError(t, err)
	defer events.Close()

	inm := metrics.NewInmemSink(time.Minute, time.Minute)
	inm.IncrCounter([]string{"chat", "test"}, 1)

	r := NewRouter(Deps{
		Broker:  broker,
		Tasks:   chat.NewSupervisor(nil),
		Metrics: inm,
	})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		return w
	}

	w := get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = get("/peers")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"peers":[]}`, w.Body.String())

	w = get("/tasks")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tasks":null}`, w.Body.String())

	w = get("/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat.test")

	w = get("/ws")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_OptionalRoutes(t *testing.T) {
	broker, events, err := chat.NewBroker(chat.WithLog(slog.New(slog.NewTextHandler(io.Discard, nil)).Handler()))
	require.NoError(t, err)
	defer events.Close()

	r := NewRouter(Deps{Broker: broker})
	for _, path := range []string{"/tasks", "/metrics", "/ws"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestGateway_RelaysOverWebSocket(t *testing.T) {
	relay := newTestRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := NewGateway(ctx, relay.events.Clone(), relay.opts)
	relay.events.Close()

	srv := httptest.NewServer(NewRouter(Deps{Broker: relay.broker, Gateway: gw, Logger: relay.opts.Logger}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	dial := func(name string) *websocket.Conn {
		c, _, err := websocket.Dial(ctx, wsURL, nil)
		require.NoError(t, err)
		require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(name+"\n")))
		return c
	}

	alice := dial("alice")
	bob := dial("bob")
	relay.waitForPeers(t, 2)

	require.NoError(t, alice.Write(ctx, websocket.MessageText, []byte("bob: hi\n")))

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	typ, data, err := bob.Read(readCtx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.Equal(t, "from alice: hi\n", string(data))

	alice.Close(websocket.StatusNormalClosure, "")
	bob.Close(websocket.StatusNormalClosure, "")
	relay.waitForPeers(t, 0)

	gw.Close()
	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	relay.waitStopped(t)
}

func TestGateway_AcceptLimit(t *testing.T) {
	relay := newTestRelay(t)

	opts := relay.opts
	opts.AcceptLimit = rate.NewLimiter(0, 0)
	gw := NewGateway(context.Background(), relay.events.Clone(), opts)
	relay.events.Close()

	r := NewRouter(Deps{Broker: relay.broker, Gateway: gw})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	gw.Close()
	relay.waitStopped(t)
}
