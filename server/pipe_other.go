//go:build !windows

package server

import (
	"net"
)

func ListenPipe(path string) (net.Listener, error) {
	return nil, ErrPipeUnsupported
}

func isPipeListenerClosed(error) bool {
	return false
}
