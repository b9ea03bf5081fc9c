package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

const DefaultMaxLineBytes = 64 * 1024

// Conn is an accepted client connection as seen by ServeConn.
type Conn struct {
	ID string
	RW io.ReadWriter
	// MaxLineBytes caps a single protocol line. Zero means DefaultMaxLineBytes.
	MaxLineBytes int
}

// ServeConn reads the peer name from the first line of c, announces the
// peer to the Broker and forwards every following "to,to:text" line as a
// Message. It takes ownership of events and closes it before returning.
//
// Returning is the only way the peer's writer learns that this side is gone.
func ServeConn(ctx context.Context, events *Sender, c Conn) error {
	defer events.Close()

	maxLine := c.MaxLineBytes
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	scn := bufio.NewScanner(c.RW)
	scn.Buffer(make([]byte, 0, min(4096, maxLine)), maxLine)

	if !scn.Scan() {
		if err := scn.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrTransportRead, err)
		}
		return ErrPeerDisconnectedImmediately
	}
	name := scn.Text()

	// the token belongs to this reader alone, ctx only contributes its values
	shutdownCtx, shutdown := context.WithCancel(context.WithoutCancel(ctx))
	defer shutdown()

	if err := events.Send(NewPeer{
		Name:     name,
		ConnID:   c.ID,
		Conn:     c.RW,
		Shutdown: shutdownCtx.Done(),
	}); err != nil {
		return err
	}

	for scn.Scan() {
		to, content, ok := ParseLine(scn.Text())
		if !ok {
			continue
		}
		if err := events.Send(Message{From: name, To: to, Content: content}); err != nil {
			return err
		}
	}
	if err := scn.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportRead, err)
	}
	return nil
}
