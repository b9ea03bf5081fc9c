package client

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Run connects a terminal to a relay connection. If name is not empty it is
// sent as the first line; after that every line read from in is sent as is,
// and every line from the server is printed to out. Run returns when in or
// the server stream ends, or when ctx is done.
func Run(ctx context.Context, conn io.ReadWriter, name string, in io.Reader, out io.Writer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	done := make(chan struct{})
	defer close(done)

	if name != "" {
		if _, err := io.WriteString(conn, name+"\n"); err != nil {
			return fmt.Errorf("could not send name. %w", err)
		}
		logger.Debug("sent name", zap.String("name", name))
	}

	fromServer, serverErr := scanLines(conn, done)
	fromInput, inputErr := scanLines(in, done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-fromServer:
			if !ok {
				logger.Debug("server closed the connection")
				return <-serverErr
			}
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		case line, ok := <-fromInput:
			if !ok {
				logger.Debug("input closed")
				return <-inputErr
			}
			if _, err := io.WriteString(conn, line+"\n"); err != nil {
				return fmt.Errorf("could not send line. %w", err)
			}
		}
	}
}

// scanLines streams the lines of r until r ends or done is closed. The error
// channel yields exactly one value (possibly nil) after the line channel is
// closed.
func scanLines(r io.Reader, done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scn := bufio.NewScanner(r)
		for scn.Scan() {
			select {
			case lines <- scn.Text():
			case <-done:
				errc <- nil
				return
			}
		}
		errc <- scn.Err()
	}()
	return lines, errc
}
