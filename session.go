package chat

import (
	"context"
	"time"

	"github.com/looplab/fsm"
)

const (
	StateConnecting    = "connecting"
	StateRegistered    = "registered"
	StateRejected      = "rejected"
	StateDisconnecting = "disconnecting"
	StateReaped        = "reaped"
)

const (
	eventRegister   = "register"
	eventReject     = "reject"
	eventDisconnect = "disconnect"
	eventReap       = "reap"
)

// Transition describes one lifecycle step of a connection.
type Transition struct {
	Name   string
	ConnID string
	From   string
	To     string
}

// session tracks a single connection lifetime of a named peer. register and
// reject are fired by the Broker, disconnect by the Writer, reap by the
// Broker once the Writer has reported back.
type session struct {
	name   string
	connID string
	since  time.Time
	fsm    *fsm.FSM
}

func newSession(name, connID string, onTransition func(Transition)) *session {
	s := &session{
		name:   name,
		connID: connID,
		since:  time.Now(),
	}

	s.fsm = fsm.NewFSM(
		StateConnecting,
		fsm.Events{
			{Name: eventRegister, Src: []string{StateConnecting}, Dst: StateRegistered},
			{Name: eventReject, Src: []string{StateConnecting}, Dst: StateRejected},
			{Name: eventDisconnect, Src: []string{StateRegistered}, Dst: StateDisconnecting},
			{Name: eventReap, Src: []string{StateDisconnecting}, Dst: StateReaped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onTransition != nil {
					onTransition(Transition{Name: s.name, ConnID: s.connID, From: e.Src, To: e.Dst})
				}
			},
		},
	)
	return s
}

func (s *session) fire(event string) error {
	return s.fsm.Event(context.Background(), event)
}

func (s *session) State() string {
	return s.fsm.Current()
}
