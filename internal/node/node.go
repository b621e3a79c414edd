// Package node runs the single owning goroutine that serializes discovery,
// session and value events with commands from the user interface.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rudransh-shrivastava/peer-sync/internal/config"
	"github.com/rudransh-shrivastava/peer-sync/internal/discovery"
	"github.com/rudransh-shrivastava/peer-sync/internal/event"
	"github.com/rudransh-shrivastava/peer-sync/internal/logger"
	"github.com/rudransh-shrivastava/peer-sync/internal/metrics"
	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
	"github.com/rudransh-shrivastava/peer-sync/internal/session"
	"github.com/rudransh-shrivastava/peer-sync/internal/transport/webrtc"
	"github.com/rudransh-shrivastava/peer-sync/internal/valuesync"
	"github.com/sirupsen/logrus"
)

const (
	EventBuffer  = 256
	UpdateBuffer = 64
)

var (
	ErrUnknownPeer    = errors.New("unknown peer")
	ErrStopped        = errors.New("node stopped")
	ErrAlreadyRunning = errors.New("node already running")
)

// Discovery is the LAN visibility capability.
type Discovery interface {
	Advertise(ctx context.Context, self peer.Info, tag string) error
	Browse(ctx context.Context, self peer.Info, tag string) error
	Close() error
}

// Transport is the encrypted channel capability.
type Transport interface {
	session.Transport
	Listen() error
	Local() peer.Info
	Close() error
}

type Options struct {
	ServiceTag string
	Discovery  Discovery
	Transport  Transport
	Policy     session.Policy
	// Events is the channel Discovery and Transport emit on.
	Events  chan event.Event
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

// Node is the explicit context object shared by every handler. Only the
// goroutine inside Run touches its fields.
type Node struct {
	tag       string
	discovery Discovery
	transport Transport
	sessions  *session.Manager
	values    *valuesync.Synchronizer
	found     *discovery.Set
	metrics   *metrics.Metrics
	logger    *logrus.Entry

	events   chan event.Event
	commands chan func(context.Context)
	updates  chan event.Event
	done     chan struct{}
	running  atomic.Bool
}

func New(opts Options) *Node {
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	sessions := session.NewManager(opts.Transport, opts.Policy, log, opts.Metrics)
	return &Node{
		tag:       opts.ServiceTag,
		discovery: opts.Discovery,
		transport: opts.Transport,
		sessions:  sessions,
		values:    valuesync.New(sessions, log, opts.Metrics),
		found:     discovery.NewSet(),
		metrics:   opts.Metrics,
		logger:    log.WithField("component", "node"),
		events:    opts.Events,
		commands:  make(chan func(context.Context)),
		updates:   make(chan event.Event, UpdateBuffer),
		done:      make(chan struct{}),
	}
}

// FromConfig wires the UDP discovery service and the WebRTC transport
// described by cfg around self.
func FromConfig(cfg *config.Config, self peer.Info, log *logrus.Logger, m *metrics.Metrics) *Node {
	events := make(chan event.Event, EventBuffer)

	disc := discovery.New(discovery.Config{
		ListenAddr:   cfg.Discovery.ListenAddr,
		AnnounceAddr: cfg.Discovery.AnnounceAddr,
		Interval:     cfg.Discovery.Interval,
		StaleTimeout: cfg.Discovery.StaleTimeout,
	}, events, log)

	tr := webrtc.New(webrtc.Config{
		ListenAddr:      cfg.Session.ListenAddr,
		ICEServers:      cfg.Session.ICEServers,
		InviteTimeout:   cfg.Session.InviteTimeout,
		IncludeLoopback: cfg.Session.Loopback,
	}, self, events, log, m)

	var policy session.Policy = session.AcceptAll{}
	if cfg.Session.Pairing == config.PairingAllowlist {
		allow := make(session.Allowlist, 0, len(cfg.Session.Allow))
		for _, id := range cfg.Session.Allow {
			allow = append(allow, peer.ID(id))
		}
		policy = allow
	}

	return New(Options{
		ServiceTag: cfg.Discovery.Service,
		Discovery:  disc,
		Transport:  tr,
		Policy:     policy,
		Events:     events,
		Logger:     log,
		Metrics:    m,
	})
}

// Updates delivers consumer-facing events: PeerFound, PeerLost,
// DiscoveryFailed, StateChanged and ValueChanged. It is closed when Run
// returns. Updates are dropped if the consumer falls behind.
func (n *Node) Updates() <-chan event.Event {
	return n.updates
}

// Run owns the node until ctx is cancelled. It returns nil on cancellation
// and an error when the node cannot continue.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer n.shutdown()

	if err := n.transport.Listen(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	n.logger.WithField("addr", n.transport.Local().Addr).Info("Node is now running...")

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Shutting down node...")
			return nil
		case cmd := <-n.commands:
			cmd(ctx)
		case ev := <-n.events:
			if err := n.handleEvent(ev); err != nil {
				n.logger.Errorf("Fatal: %v", err)
				return err
			}
		}
	}
}

func (n *Node) shutdown() {
	close(n.done)
	n.sessions.Close()
	if err := n.discovery.Close(); err != nil {
		n.logger.Warnf("Failed to close discovery: %v", err)
	}
	if err := n.transport.Close(); err != nil {
		n.logger.Warnf("Failed to close transport: %v", err)
	}
	close(n.updates)
	n.logger.Info("Node stopped")
}

func (n *Node) handleEvent(ev event.Event) error {
	switch e := ev.(type) {
	case event.PeerFound:
		prev, known := n.found.Lookup(e.Peer.ID)
		n.found.Add(e.Peer)
		switch {
		case !known:
			n.metrics.IncPeerFound()
			n.logger.WithField("peer", e.Peer.String()).Info("Peer found")
			n.publish(e)
		case prev != e.Peer:
			n.logger.WithFields(logrus.Fields{"peer": e.Peer.String(), "addr": e.Peer.Addr}).Info("Peer updated")
			n.publish(e)
		}

	case event.PeerLost:
		if n.found.Remove(e.ID) {
			n.logger.WithField("peer", e.ID.Short()).Info("Peer lost")
			n.publish(e)
		}

	case event.DiscoveryFailed:
		n.logger.Warnf("Discovery %s failed: %v", e.Op, e.Err)
		n.publish(e)

	case event.InvitationReceived:
		e.Reply <- n.sessions.HandleInvitation(e.From, e.Context)

	case event.StateChanged:
		if err := n.sessions.HandleStateChange(e); err != nil {
			return err
		}
		if n.sessions.Accepts(e.SessionID) {
			e.Link = nil
			n.publish(e)
		}

	case event.DataReceived:
		if !n.sessions.Accepts(e.SessionID) {
			n.logger.WithField("session", e.SessionID).Debug("Dropping data for replaced session")
			return nil
		}
		v := n.values.OnRemoteValue(e.Data)
		n.publish(event.ValueChanged{Value: v, Remote: true})

	default:
		n.logger.Warnf("Unhandled event %s", ev.Kind())
	}
	return nil
}

// publish never blocks the owning goroutine.
func (n *Node) publish(ev event.Event) {
	select {
	case n.updates <- ev:
	default:
		n.logger.Warnf("Dropping %s update: consumer is not keeping up", ev.Kind())
	}
}

// do runs fn on the owning goroutine and waits for it.
func (n *Node) do(ctx context.Context, fn func(runCtx context.Context) error) error {
	result := make(chan error, 1)
	cmd := func(runCtx context.Context) { result <- fn(runCtx) }

	select {
	case n.commands <- cmd:
	case <-n.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-n.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
