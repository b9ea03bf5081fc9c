package chat

import (
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
)

// PeerInfo is a read-only copy of one registry entry.
type PeerInfo struct {
	Name   string    `json:"name"`
	ConnID string    `json:"conn_id"`
	Since  time.Time `json:"since"`
}

type peer struct {
	link    *Link[string]
	session *session
}

// registry maps a peer name to its outbound link. It is owned by Broker.Run
// and never leaves that goroutine.
type registry map[string]*peer

// remove deletes the entry that link belongs to. Anything other than a
// matching entry means two writers believed they owned the same name.
func (r registry) remove(name string, link *Link[string]) *peer {
	p, ok := r[name]
	if !ok {
		panic(&RegistryInvariantError{Name: name, Reason: "is not registered"})
	}
	if p.link != link {
		panic(&RegistryInvariantError{Name: name, Reason: "was reported by a writer that does not own it"})
	}
	delete(r, name)
	return p
}

type disconnectNotice struct {
	name string
	link *Link[string]
}

// Broker routes messages between named peers. It is the only owner of the
// peer registry and handles one event at a time.
type Broker struct {
	events      *Link[Event]
	disconnects chan disconnectNotice
	peers       atomic.Pointer[[]PeerInfo]

	logger   *slog.Logger
	msink    metrics.MetricSink
	tasks    *Supervisor
	observer func(Transition)
}

// NewBroker returns the Broker together with the first handle onto its
// event stream. Run returns once every handle has been closed and every
// writer has reported back.
func NewBroker(opts ...Option) (*Broker, *Sender, error) {
	cfg := config{}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, nil, err
		}
	}
	if cfg.logHandler == nil {
		cfg.logHandler = slog.Default().Handler()
	}
	if cfg.msink == nil {
		cfg.msink = metrics.Default()
	}
	if cfg.tasks == nil {
		cfg.tasks = NewSupervisor(slog.New(cfg.logHandler))
	}

	b := &Broker{
		events:      NewLink[Event](),
		disconnects: make(chan disconnectNotice),
		logger:      slog.New(cfg.logHandler).With(logKeyCategory, "broker"),
		msink:       cfg.msink,
		tasks:       cfg.tasks,
		observer:    cfg.observer,
	}
	empty := []PeerInfo{}
	b.peers.Store(&empty)

	return b, newSender(b.events), nil
}

// Peers returns the registered peers as of the last registry change,
// ordered by name.
func (b *Broker) Peers() []PeerInfo {
	return slices.Clone(*b.peers.Load())
}

func (b *Broker) Run() error {
	reg := make(registry)

loop:
	for {
		select {
		case <-b.events.Ready():
			ev, ok, err := b.events.TryRecv()
			if err != nil {
				break loop
			}
			if !ok {
				continue
			}
			b.handle(reg, ev)
		case notice := <-b.disconnects:
			b.reap(reg, notice)
		}
	}

	b.logger.Info("event stream closed, stopping writers", slog.Int("peers", len(reg)))
	for _, p := range reg {
		p.link.Close()
	}
	// every remaining entry has a running writer that is about to report
	for len(reg) > 0 {
		b.reap(reg, <-b.disconnects)
	}

	b.logger.Info("broker stopped")
	return nil
}

func (b *Broker) handle(reg registry, ev Event) {
	switch ev := ev.(type) {
	case NewPeer:
		b.register(reg, ev)
	case Message:
		b.route(reg, ev)
	default:
		b.logger.Error("unknown event", slog.Any("event", ev))
	}
}

func (b *Broker) register(reg registry, ev NewPeer) {
	logger := b.logger.With(LabelPeerName.L(ev.Name), LabelConnID.L(ev.ConnID))
	s := newSession(ev.Name, ev.ConnID, b.onTransition)

	if _, ok := reg[ev.Name]; ok {
		b.fire(s, eventReject)
		b.msink.IncrCounter(MetricPeersRejected, 1)
		logger.Info("name already taken, ignoring peer")
		return
	}

	p := &peer{link: NewLink[string](), session: s}
	reg[ev.Name] = p
	b.fire(s, eventRegister)
	b.msink.IncrCounter(MetricPeersRegistered, 1)
	b.publish(reg)
	logger.Info("peer registered")

	w := &writer{
		name:     ev.Name,
		link:     p.link,
		conn:     ev.Conn,
		shutdown: ev.Shutdown,
		session:  s,
		broker:   b,
	}
	b.tasks.Go("writer "+ev.Name, func() error {
		return w.run(b.disconnects)
	})
}

func (b *Broker) route(reg registry, msg Message) {
	line := FormatDelivery(msg.From, msg.Content)
	for _, name := range msg.To {
		p, ok := reg[name]
		if !ok {
			b.msink.IncrCounter(MetricMessagesDropped, 1)
			b.logger.Debug("recipient not connected", LabelPeerName.L(name), slog.String("from", msg.From))
			continue
		}
		if err := p.link.Send(line); err != nil {
			panic(&RegistryInvariantError{Name: name, Reason: "has a closed outbound link"})
		}
		b.msink.IncrCounter(MetricMessagesRouted, 1)
	}
}

func (b *Broker) reap(reg registry, notice disconnectNotice) {
	p := reg.remove(notice.name, notice.link)
	b.fire(p.session, eventReap)
	b.msink.IncrCounter(MetricPeersReaped, 1)
	b.publish(reg)

	logger := b.logger.With(LabelPeerName.L(notice.name), LabelConnID.L(p.session.connID))
	if n := notice.link.Len(); n > 0 {
		b.msink.IncrCounter(MetricUndeliveredDiscards, float32(n))
		logger.Debug("discarding undelivered lines", slog.Int("count", n))
	}
	logger.Info("peer disconnected")
}

func (b *Broker) publish(reg registry) {
	infos := make([]PeerInfo, 0, len(reg))
	for name, p := range reg {
		infos = append(infos, PeerInfo{Name: name, ConnID: p.session.connID, Since: p.session.since})
	}
	slices.SortFunc(infos, func(a, b PeerInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	b.peers.Store(&infos)
	b.msink.SetGauge(MetricPeersActive, float32(len(infos)))
}

func (b *Broker) fire(s *session, event string) {
	if err := s.fire(event); err != nil {
		b.logger.Error("invalid session transition",
			LabelPeerName.L(s.name), LabelConnID.L(s.connID), slog.String("event", event), LabelError.L(err))
	}
}

func (b *Broker) onTransition(t Transition) {
	b.msink.IncrCounterWithLabels(MetricSessionTransitions, 1, []metrics.Label{LabelState.M(t.To)})
	b.logger.Debug("session transition",
		LabelPeerName.L(t.Name), LabelConnID.L(t.ConnID), slog.String("from", t.From), slog.String("to", t.To))
	if b.observer != nil {
		b.observer(t)
	}
}
