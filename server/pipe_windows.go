//go:build windows

package server

import (
	"errors"
	"net"

	"github.com/Microsoft/go-winio"
)

// SIDInteractiveUser grants read/write to interactively logged on users.
const SIDInteractiveUser = `D:(A;;GWGR;;;IU)`

// ListenPipe listens on a named pipe such as `\\.\pipe\chat-relay`. The pipe
// runs in byte mode so the line protocol works unchanged.
func ListenPipe(path string) (net.Listener, error) {
	return winio.ListenPipe(path, &winio.PipeConfig{
		MessageMode:        false,
		SecurityDescriptor: SIDInteractiveUser,
	})
}

func isPipeListenerClosed(err error) bool {
	return errors.Is(err, winio.ErrPipeListenerClosed)
}
