package server

import (
	"context"
	"errors"
	"log/slog"
	"net"

	chat "github.com/kirides/chat-relay"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const logKeyCategory = "category"

var ErrPipeUnsupported = errors.New("server: named pipes are only available on windows")

// Options are shared by every way a client can reach the Broker.
type Options struct {
	Logger *slog.Logger
	Tasks  *chat.Supervisor
	// AcceptLimit throttles how fast new connections are taken. Nil means
	// no limit.
	AcceptLimit  *rate.Limiter
	MaxLineBytes int
	// OriginPatterns lists the cross-origin hosts the WebSocket gateway
	// accepts. The request host is always allowed.
	OriginPatterns []string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tasks == nil {
		o.Tasks = chat.NewSupervisor(o.Logger)
	}
	return o
}

// Serve accepts connections on ln until ctx is done and runs a reader for
// each of them. It owns events and closes it on return; every reader gets
// its own clone. Open connections are closed once ctx is done so their
// readers return.
func Serve(ctx context.Context, ln net.Listener, events *chat.Sender, opts Options) error {
	defer events.Close()
	opts = opts.withDefaults()
	logger := opts.Logger.With(logKeyCategory, "listener", slog.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	logger.Info("accepting connections")
	for {
		if opts.AcceptLimit != nil {
			if err := opts.AcceptLimit.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || isListenerClosed(err) {
				logger.Info("stopped accepting connections")
				return nil
			}
			return err
		}

		id := uuid.NewString()
		logger.Info("Accepting from", slog.String("remote", conn.RemoteAddr().String()), chat.LabelConnID.L(id))

		reader := events.Clone()
		opts.Tasks.Go("reader "+id, func() error {
			defer conn.Close()
			stopConn := context.AfterFunc(ctx, func() {
				conn.Close()
			})
			defer stopConn()

			return chat.ServeConn(ctx, reader, chat.Conn{ID: id, RW: conn, MaxLineBytes: opts.MaxLineBytes})
		})
	}
}

func isListenerClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || isPipeListenerClosed(err)
}
