package chat

import (
	"errors"
	"fmt"
	"io"
)

// writer drains one peer's outbound link into its connection.
type writer struct {
	name     string
	link     *Link[string]
	conn     io.Writer
	shutdown <-chan struct{}
	session  *session
	broker   *Broker
}

// run writes until the link is closed, the reader signals shutdown or a
// write fails, then hands the link back to the Broker. The Broker outlives
// every writer it spawned, so the final send always completes.
func (w *writer) run(notices chan<- disconnectNotice) error {
	err := w.loop()
	w.broker.fire(w.session, eventDisconnect)
	notices <- disconnectNotice{name: w.name, link: w.link}
	return err
}

func (w *writer) loop() error {
	for {
		line, err := w.link.Recv(w.shutdown)
		if errors.Is(err, ErrLinkClosed) || errors.Is(err, errShutdown) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := writeAll(w.conn, []byte(line)); err != nil {
			return fmt.Errorf("%w: %w", ErrTransportWrite, err)
		}
	}
}

func writeAll(dst io.Writer, data []byte) error {
	nw := 0
	for nw < len(data) {
		w, err := dst.Write(data[nw:])
		if err != nil {
			return err
		}
		nw += w
	}
	return nil
}
