package chat

import (
	"errors"
	"fmt"
)

var (
	ErrPeerDisconnectedImmediately = errors.New("chat: peer disconnected immediately")
	ErrTransportRead               = errors.New("chat: error reading from connection")
	ErrTransportWrite              = errors.New("chat: error writing to connection")
	ErrRegistryInvariant           = errors.New("chat: peer registry invariant violated")

	ErrLinkClosed   = errors.New("link: closed")
	ErrSenderClosed = errors.New("link: sender already closed")

	ErrInvalidCfg = errors.New("broker: invalid options")

	// errShutdown is returned by Link.Recv when the done channel closed first.
	errShutdown = errors.New("link: receive cancelled")
)

// RegistryInvariantError is the panic value raised by the Broker when its
// peer registry is about to be mutated in a way that can only result from a
// logic defect. It is never returned as a regular error.
type RegistryInvariantError struct {
	Name   string
	Reason string
}

func (e *RegistryInvariantError) Error() string {
	return fmt.Sprintf("%s: %q %s", ErrRegistryInvariant, e.Name, e.Reason)
}

func (e *RegistryInvariantError) Unwrap() error {
	return ErrRegistryInvariant
}
