// Package discovery makes devices on the same LAN visible to one another
// before any session exists. Advertisers broadcast a beacon periodically;
// browsers listen for beacons carrying the same service tag.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-sync/internal/event"
	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
	"github.com/rudransh-shrivastava/peer-sync/internal/protocol"
	"github.com/sirupsen/logrus"
)

var (
	ErrStartAdvertising = errors.New("failed to start advertising")
	ErrStartBrowsing    = errors.New("failed to start browsing")
	ErrClosed           = errors.New("discovery service closed")
)

type Config struct {
	// ListenAddr is where browsing binds, e.g. ":50505".
	ListenAddr string
	// AnnounceAddr is where beacons are sent, normally the broadcast address.
	AnnounceAddr string
	Interval     time.Duration
	StaleTimeout time.Duration
}

// Service advertises the local device and browses for others. Found and lost
// peers are emitted as events; the service itself keeps only last-seen times.
type Service struct {
	cfg    Config
	events chan<- event.Event
	logger *logrus.Entry

	mu         sync.Mutex
	self       peer.Info
	advertTag  string
	browseTag  string
	sendConn   *net.UDPConn
	announceTo *net.UDPAddr
	listenConn *net.UDPConn
	lastSeen   map[peer.ID]sighting

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config, events chan<- event.Event, log *logrus.Logger) *Service {
	return &Service{
		cfg:      cfg,
		events:   events,
		logger:   log.WithField("component", "discovery"),
		lastSeen: make(map[peer.ID]sighting),
		done:     make(chan struct{}),
	}
}

// Advertise starts announcing self under tag. Calling it again while
// advertising replaces the announced identity and tag.
func (s *Service) Advertise(ctx context.Context, self peer.Info, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}

	s.self = self
	s.advertTag = tag

	if s.sendConn != nil {
		s.logger.WithField("service", tag).Debug("Advertisement updated")
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp4", s.cfg.AnnounceAddr)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %v", ErrStartAdvertising, s.cfg.AnnounceAddr, err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStartAdvertising, err)
	}
	s.sendConn = conn
	s.announceTo = addr

	s.wg.Add(1)
	go s.announceLoop(ctx)

	s.logger.WithFields(logrus.Fields{"service": tag, "to": addr}).Info("Started advertising")
	return nil
}

// Browse starts listening for beacons under tag. Every call forgets the
// peers seen so far, so each visible peer is reported again.
func (s *Service) Browse(ctx context.Context, self peer.Info, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}

	s.self = self
	s.browseTag = tag
	s.lastSeen = make(map[peer.ID]sighting)

	if s.listenConn != nil {
		s.logger.WithField("service", tag).Debug("Browsing restarted")
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp4", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %v", ErrStartBrowsing, s.cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStartBrowsing, err)
	}
	if err := conn.SetReadBuffer(protocol.MaxBeaconSize * 16); err != nil {
		s.logger.Warnf("Failed to set read buffer: %v", err)
	}
	s.listenConn = conn

	s.wg.Add(2)
	go s.listenLoop(ctx, conn)
	go s.cleanupLoop(ctx)

	s.logger.WithFields(logrus.Fields{"service": tag, "addr": conn.LocalAddr()}).Info("Started browsing")
	return nil
}

// ListenAddr returns the bound browse address, or nil before Browse.
func (s *Service) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listenConn == nil {
		return nil
	}
	return s.listenConn.LocalAddr()
}

// Close announces our departure when advertising and stops all loops.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.sendConn != nil {
			s.sendBeacon(true)
			_ = s.sendConn.Close()
		}
		if s.listenConn != nil {
			_ = s.listenConn.Close()
		}
		close(s.done)
		s.mu.Unlock()

		s.wg.Wait()
		s.logger.Info("Discovery stopped")
	})
	return nil
}

func (s *Service) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Service) announceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		s.sendBeacon(false)
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}
	}
}

// sendBeacon must be called with s.mu held.
func (s *Service) sendBeacon(leave bool) {
	data, err := protocol.EncodeBeacon(protocol.Beacon{
		Version: protocol.BeaconVersion,
		Service: s.advertTag,
		Peer: protocol.PeerInfo{
			ID:   string(s.self.ID),
			Name: s.self.Name,
			Addr: s.self.Addr,
		},
		Leave: leave,
	})
	if err != nil {
		s.logger.Errorf("Failed to encode beacon: %v", err)
		return
	}

	if _, err := s.sendConn.WriteToUDP(data, s.announceTo); err != nil && !s.isClosed() {
		// broadcast failures are common on some networks
		s.logger.Debugf("Beacon send failed: %v", err)
	}
}

func (s *Service) listenLoop(ctx context.Context, conn *net.UDPConn) {
	defer s.wg.Done()

	buf := make([]byte, protocol.MaxBeaconSize)
	for {
		if ctx.Err() != nil || s.isClosed() {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logger.Warnf("Read error: %v", err)
			s.emit(ctx, event.DiscoveryFailed{Op: "browse", Err: err})
			return
		}

		beacon, err := protocol.DecodeBeacon(buf[:n])
		if err != nil {
			s.logger.Debugf("Ignoring datagram from %s: %v", from, err)
			continue
		}

		if ev := s.handleBeacon(beacon, from); ev != nil {
			s.emit(ctx, ev)
		}
	}
}

// sighting is the last beacon content seen for a peer. A beacon that
// differs from it is reported again.
type sighting struct {
	info peer.Info
	at   time.Time
}

func (s *Service) handleBeacon(b protocol.Beacon, from *net.UDPAddr) event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := peer.ID(b.Peer.ID)
	if id == s.self.ID || b.Service != s.browseTag {
		return nil
	}

	if b.Leave {
		if _, known := s.lastSeen[id]; !known {
			return nil
		}
		delete(s.lastSeen, id)
		s.logger.WithField("peer", id.Short()).Info("Peer left")
		return event.PeerLost{ID: id}
	}

	info := peer.Info{ID: id, Name: b.Peer.Name, Addr: resolveAdvertised(b.Peer.Addr, from)}
	prev, known := s.lastSeen[id]
	s.lastSeen[id] = sighting{info: info, at: time.Now()}
	if known && prev.info == info {
		return nil
	}

	log := s.logger.WithFields(logrus.Fields{"peer": id.Short(), "name": info.Name, "addr": info.Addr})
	if known {
		log.Info("Peer changed")
	} else {
		log.Info("Found peer")
	}
	return event.PeerFound{Peer: info}
}

// resolveAdvertised fills in the sender's IP when the advertised address has
// an unspecified host, as happens when the invitation endpoint binds ":port".
func resolveAdvertised(advertised string, from *net.UDPAddr) string {
	host, port, err := net.SplitHostPort(advertised)
	if err != nil || from == nil {
		return advertised
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		return net.JoinHostPort(from.IP.String(), port)
	}
	return advertised
}

func (s *Service) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.StaleTimeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			for _, ev := range s.purgeStale() {
				s.emit(ctx, ev)
			}
		}
	}
}

func (s *Service) purgeStale() []event.Event {
	threshold := time.Now().Add(-s.cfg.StaleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	var lost []event.Event
	for id, seen := range s.lastSeen {
		if seen.at.Before(threshold) {
			delete(s.lastSeen, id)
			s.logger.WithField("peer", id.Short()).Infof("Peer stale (no beacon for %v)", s.cfg.StaleTimeout)
			lost = append(lost, event.PeerLost{ID: id})
		}
	}
	return lost
}

func (s *Service) emit(ctx context.Context, ev event.Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	case <-s.done:
	}
}
