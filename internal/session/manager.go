package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peer-sync/internal/event"
	"github.com/rudransh-shrivastava/peer-sync/internal/metrics"
	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoSession    = errors.New("no active session")
	ErrInviteFailed = errors.New("invitation failed")
)

// Transport is the encrypted channel capability the manager drives.
// Invitation outcomes arrive later as event.StateChanged.
type Transport interface {
	Invite(ctx context.Context, sessionID string, target peer.Info) error
	CloseSession(sessionID string)
}

// Manager is not safe for concurrent use.
type Manager struct {
	transport Transport
	policy    Policy
	logger    *logrus.Entry
	metrics   *metrics.Metrics
	current   *Session
}

func NewManager(transport Transport, policy Policy, log *logrus.Logger, m *metrics.Metrics) *Manager {
	if policy == nil {
		policy = AcceptAll{}
	}
	return &Manager{
		transport: transport,
		policy:    policy,
		logger:    log.WithField("component", "session"),
		metrics:   m,
	}
}

// CreateSession always builds a brand-new session. The previous one, if any,
// is torn down without draining: its links are closed and its pending
// handshakes abandoned.
func (m *Manager) CreateSession(local peer.Info) *Session {
	if prev := m.current; prev != nil {
		m.logger.WithField("session", prev.ID).Info("Replacing session")
		prev.close()
		m.transport.CloseSession(prev.ID)
	}

	m.current = newSession(local)
	m.metrics.IncSessionCreated()
	m.metrics.SetConnectedPeers(0)
	m.logger.WithField("session", m.current.ID).Info("Session created")
	return m.current
}

func (m *Manager) Current() *Session {
	return m.current
}

// Accepts reports whether sessionID is the live session.
func (m *Manager) Accepts(sessionID string) bool {
	return m.current != nil && m.current.ID == sessionID
}

// Invite asks target to join the current session. There is no
// acknowledgement beyond later connection-state events.
func (m *Manager) Invite(ctx context.Context, target peer.Info) error {
	s := m.current
	if s == nil {
		return ErrNoSession
	}

	if _, exists := s.conns[target.ID]; !exists {
		s.conns[target.ID] = &PeerConnection{Peer: target, State: peer.NotConnected}
	}

	m.logger.WithFields(logrus.Fields{"peer": target.String(), "session": s.ID}).Info("Inviting peer")
	if err := m.transport.Invite(ctx, s.ID, target); err != nil {
		delete(s.conns, target.ID)
		m.metrics.ObserveInvitation("sent", "failed")
		return fmt.Errorf("%w: %v", ErrInviteFailed, err)
	}
	m.metrics.ObserveInvitation("sent", "requested")
	return nil
}

// HandleInvitation binds an inbound invitation to the current session when
// the policy allows it. Without a session every invitation is declined.
func (m *Manager) HandleInvitation(from peer.Info, _ []byte) event.Decision {
	log := m.logger.WithField("peer", from.String())

	s := m.current
	if s == nil {
		log.Warnf("Declining invitation: %v", ErrNoSession)
		m.metrics.ObserveInvitation("received", "no_session")
		return event.Decision{}
	}

	if !m.policy.Allow(from) {
		log.Warn("Declining invitation: peer not allowed")
		m.metrics.ObserveInvitation("received", "declined")
		return event.Decision{}
	}

	if _, exists := s.conns[from.ID]; !exists {
		s.conns[from.ID] = &PeerConnection{Peer: from, State: peer.NotConnected}
	}
	log.WithField("session", s.ID).Info("Accepted invitation")
	m.metrics.ObserveInvitation("received", "accepted")
	return event.Decision{Accept: true, SessionID: s.ID}
}

// HandleStateChange applies a transition reported by the transport. Events
// for a replaced session are dropped. An unrecognized state is returned as
// peer.ErrUnrecognizedState and must be treated as fatal by the caller.
func (m *Manager) HandleStateChange(ev event.StateChanged) error {
	if err := ev.State.Validate(); err != nil {
		return fmt.Errorf("peer %s: %w", ev.Peer.ID, err)
	}

	log := m.logger.WithFields(logrus.Fields{"peer": ev.Peer.String(), "state": ev.State})

	if !m.Accepts(ev.SessionID) {
		log.WithField("session", ev.SessionID).Debug("Ignoring state change for replaced session")
		if ev.Link != nil {
			_ = ev.Link.Close()
		}
		return nil
	}

	s := m.current
	conn, exists := s.conns[ev.Peer.ID]

	switch ev.State {
	case peer.Connecting:
		if !exists {
			conn = &PeerConnection{Peer: ev.Peer}
			s.conns[ev.Peer.ID] = conn
		}
		conn.State = peer.Connecting
		log.Info("Connecting ...")

	case peer.Connected:
		if !exists {
			conn = &PeerConnection{Peer: ev.Peer}
			s.conns[ev.Peer.ID] = conn
		}
		if conn.link != nil && conn.link != ev.Link {
			_ = conn.link.Close()
		}
		conn.State = peer.Connected
		conn.link = ev.Link
		log.Info("Peer connected")

	case peer.NotConnected:
		if !exists {
			return nil
		}
		if conn.link != nil {
			_ = conn.link.Close()
		}
		delete(s.conns, ev.Peer.ID)
		log.Info("Peer disconnected")
	}

	m.metrics.SetConnectedPeers(len(s.connected()))
	return nil
}

// Broadcast sends payload to every Connected peer using the transport's
// unreliable mode. No connected peers is not an error.
func (m *Manager) Broadcast(payload []byte) error {
	s := m.current
	if s == nil {
		return ErrNoSession
	}

	targets := s.connected()
	m.logger.Debugf("Sending value to %d peer(s)", len(targets))

	var errs []error
	for _, c := range targets {
		if err := c.link.Send(payload); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", c.Peer.ID.Short(), err))
		}
	}
	return errors.Join(errs...)
}

// Connections returns the current session's records, or nil.
func (m *Manager) Connections() []PeerConnection {
	if m.current == nil {
		return nil
	}
	return m.current.Connections()
}

func (m *Manager) ConnectedCount() int {
	if m.current == nil {
		return 0
	}
	return len(m.current.connected())
}

// Close tears down the current session.
func (m *Manager) Close() {
	if m.current == nil {
		return
	}
	m.current.close()
	m.transport.CloseSession(m.current.ID)
	m.current = nil
}
