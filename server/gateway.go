package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	chat "github.com/kirides/chat-relay"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// Gateway serves the line protocol over WebSocket. Each text message from
// the client is appended to the line stream; each delivered line is sent as
// one text message.
type Gateway struct {
	ctx    context.Context
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	events *chat.Sender
}

// NewGateway takes ownership of events. Connections are closed once ctx is
// done.
func NewGateway(ctx context.Context, events *chat.Sender, opts Options) *Gateway {
	opts = opts.withDefaults()
	return &Gateway{
		ctx:    ctx,
		opts:   opts,
		logger: opts.Logger.With(logKeyCategory, "gateway"),
		events: events,
	}
}

// Close releases the gateway's handle onto the Broker. Upgrades after Close
// are refused; connections already open keep their own handle.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.events != nil {
		g.events.Close()
		g.events = nil
	}
}

func (g *Gateway) clone() (*chat.Sender, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.events == nil {
		return nil, false
	}
	return g.events.Clone(), true
}

func (g *Gateway) Handle(c *gin.Context) {
	if g.opts.AcceptLimit != nil && !g.opts.AcceptLimit.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return
	}

	reader, ok := g.clone()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: g.opts.OriginPatterns,
	})
	if err != nil {
		reader.Close()
		g.logger.Warn("websocket upgrade failed", chat.LabelError.L(err))
		return
	}

	id := uuid.NewString()
	g.logger.Info("Accepting from", slog.String("remote", c.Request.RemoteAddr), chat.LabelConnID.L(id))

	conn := websocket.NetConn(g.ctx, ws, websocket.MessageText)
	defer conn.Close()

	g.opts.Tasks.Run("websocket reader "+id, func() error {
		return chat.ServeConn(g.ctx, reader, chat.Conn{ID: id, RW: conn, MaxLineBytes: g.opts.MaxLineBytes})
	})
}
