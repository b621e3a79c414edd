// Package webrtc implements the encrypted channel between peers of a session.
// Each peer pair gets a pion peer connection carrying one unreliable data
// channel; invitations and SDP exchange travel over a websocket.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-sync/internal/event"
	"github.com/rudransh-shrivastava/peer-sync/internal/metrics"
	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
	"github.com/rudransh-shrivastava/peer-sync/internal/protocol"
	"github.com/sirupsen/logrus"
)

const (
	invitePath        = "/invite"
	signalReadTimeout = 10 * time.Second
	shutdownTimeout   = time.Second
	handshakeOutbound = "outbound"
	handshakeInbound  = "inbound"
)

var (
	ErrNoAddress = errors.New("peer has no invitation address")
	ErrDeclined  = errors.New("invitation declined")
	ErrClosed    = errors.New("transport closed")
)

// Transport implements session.Transport. All results are delivered as
// events; no callback touches session state.
type Transport struct {
	cfg      Config
	self     peer.Info
	api      *webrtc.API
	events   chan<- event.Event
	logger   *logrus.Entry
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	limiter  *inviteLimiter

	mu       sync.Mutex
	sessions map[string]map[peer.ID]*link
	listener net.Listener
	server   *http.Server

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config, self peer.Info, events chan<- event.Event, log *logrus.Logger, m *metrics.Metrics) *Transport {
	return &Transport{
		cfg:      cfg,
		self:     self,
		api:      cfg.api(),
		events:   events,
		logger:   log.WithField("component", "transport"),
		metrics:  m,
		limiter:  newInviteLimiter(inviteRate, inviteBurst),
		sessions: make(map[string]map[peer.ID]*link),
		done:     make(chan struct{}),
	}
}

// Listen starts serving invitations on cfg.ListenAddr.
func (t *Transport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isClosed() {
		return ErrClosed
	}
	if t.listener != nil {
		return nil
	}

	l, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.cfg.ListenAddr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(invitePath, t.handleInvite)
	t.listener = l
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: signalReadTimeout}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Errorf("Invitation server stopped: %v", err)
		}
	}()

	t.logger.Infof("Accepting invitations on %s", l.Addr())
	return nil
}

// Addr is the bound invitation address, or "" before Listen.
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Local is the identity peers should use to reach us.
func (t *Transport) Local() peer.Info {
	info := t.self
	info.Addr = t.Addr()
	return info
}

// Invite starts a handshake with target in the background. Progress is
// reported as StateChanged events tagged with sessionID.
func (t *Transport) Invite(ctx context.Context, sessionID string, target peer.Info) error {
	if target.Addr == "" {
		return fmt.Errorf("%w: %s", ErrNoAddress, target.ID.Short())
	}
	if t.isClosed() {
		return ErrClosed
	}

	l, err := t.newLink(sessionID, target)
	if err != nil {
		return err
	}

	dc, err := l.pc.CreateDataChannel(protocol.DataChannelTag, DataChannelConfig())
	if err != nil {
		l.Close()
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	l.attach(dc)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		l.emitState(peer.Connecting)
		if err := t.runInvite(l); err != nil {
			t.metrics.ObserveHandshake(handshakeOutbound, outcome(err))
			l.fail(err)
			return
		}
		t.metrics.ObserveHandshake(handshakeOutbound, "accepted")
		l.awaitOpen()
	}()
	return nil
}

func (t *Transport) runInvite(l *link) error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := l.setLocal(offer); err != nil {
		return err
	}

	url := "ws://" + l.remote.Addr + invitePath
	conn, _, err := websocket.DefaultDialer.DialContext(l.ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(l.ctx, func() { conn.Close() })
	defer stop()

	local := t.Local()
	inv := protocol.Invitation{
		Type:      protocol.MsgInvite,
		From:      protocol.PeerInfo{ID: string(local.ID), Name: local.Name, Addr: local.Addr},
		SessionID: l.sessionID,
		SDP:       l.pc.LocalDescription().SDP,
	}
	if err := conn.WriteJSON(inv); err != nil {
		return fmt.Errorf("failed to send invitation: %w", err)
	}

	var reply protocol.InvitationReply
	if err := conn.ReadJSON(&reply); err != nil {
		if l.ctx.Err() != nil {
			return l.ctx.Err()
		}
		return fmt.Errorf("failed to read invitation reply: %w", err)
	}
	if !reply.Accepted {
		return ErrDeclined
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: reply.SDP}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (t *Transport) handleInvite(w http.ResponseWriter, r *http.Request) {
	if !t.limiter.allow(remoteIP(r), time.Now()) {
		t.logger.Warnf("Rate limiting invitations from %s", r.RemoteAddr)
		http.Error(w, "too many invitations", http.StatusTooManyRequests)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warnf("Failed to upgrade invitation request: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(signalReadTimeout))
	var inv protocol.Invitation
	if err := conn.ReadJSON(&inv); err != nil {
		t.logger.Warnf("Failed to read invitation: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if inv.Type != protocol.MsgInvite || inv.From.ID == "" {
		t.logger.Warnf("Ignoring malformed invitation from %s", r.RemoteAddr)
		return
	}

	from := peer.Info{ID: peer.ID(inv.From.ID), Name: inv.From.Name, Addr: inv.From.Addr}
	decision, ok := t.askDecision(r.Context(), from, inv.Context)
	if !ok || !decision.Accept {
		t.metrics.ObserveHandshake(handshakeInbound, "declined")
		conn.WriteJSON(protocol.InvitationReply{Type: protocol.MsgInviteReply, From: t.localInfo()})
		return
	}

	l, err := t.newLink(decision.SessionID, from)
	if err != nil {
		t.logger.Errorf("Failed to accept invitation from %s: %v", from, err)
		conn.WriteJSON(protocol.InvitationReply{Type: protocol.MsgInviteReply, From: t.localInfo()})
		return
	}
	l.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != protocol.DataChannelTag {
			t.logger.Warnf("Ignoring unexpected data channel %q", dc.Label())
			return
		}
		l.attach(dc)
	})
	l.emitState(peer.Connecting)

	answerSDP, err := l.answer(inv.SDP)
	if err != nil {
		t.metrics.ObserveHandshake(handshakeInbound, "failed")
		conn.WriteJSON(protocol.InvitationReply{Type: protocol.MsgInviteReply, From: t.localInfo()})
		l.fail(err)
		return
	}

	reply := protocol.InvitationReply{
		Type:     protocol.MsgInviteReply,
		From:     t.localInfo(),
		Accepted: true,
		SDP:      answerSDP,
	}
	if err := conn.WriteJSON(reply); err != nil {
		t.metrics.ObserveHandshake(handshakeInbound, "failed")
		l.fail(fmt.Errorf("failed to send invitation reply: %w", err))
		return
	}
	t.metrics.ObserveHandshake(handshakeInbound, "accepted")

	if t.isClosed() {
		l.Close()
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		l.awaitOpen()
	}()
}

// askDecision hands the invitation to the owning goroutine and waits for its
// answer.
func (t *Transport) askDecision(ctx context.Context, from peer.Info, payload []byte) (event.Decision, bool) {
	reply := make(chan event.Decision, 1)
	ev := event.InvitationReceived{From: from, Context: payload, Reply: reply}

	select {
	case t.events <- ev:
	case <-ctx.Done():
		return event.Decision{}, false
	case <-t.done:
		return event.Decision{}, false
	}

	select {
	case d := <-reply:
		return d, true
	case <-ctx.Done():
		return event.Decision{}, false
	case <-t.done:
		return event.Decision{}, false
	}
}

func (t *Transport) localInfo() protocol.PeerInfo {
	local := t.Local()
	return protocol.PeerInfo{ID: string(local.ID), Name: local.Name, Addr: local.Addr}
}

// newLink registers a fresh peer connection for (sessionID, remote),
// replacing any previous one for the same pair.
func (t *Transport) newLink(sessionID string, remote peer.Info) (*link, error) {
	pc, err := t.api.NewPeerConnection(t.cfg.rtcConfiguration())
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if t.cfg.InviteTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), t.cfg.InviteTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	l := &link{
		t:         t,
		sessionID: sessionID,
		remote:    remote,
		pc:        pc,
		ctx:       ctx,
		cancel:    cancel,
		opened:    make(chan struct{}),
		logger: t.logger.WithFields(logrus.Fields{
			"session": sessionID,
			"peer":    remote.ID.Short(),
		}),
	}
	pc.OnConnectionStateChange(l.onConnectionStateChange)

	t.mu.Lock()
	links, ok := t.sessions[sessionID]
	if !ok {
		links = make(map[peer.ID]*link)
		t.sessions[sessionID] = links
	}
	prev := links[remote.ID]
	links[remote.ID] = l
	t.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return l, nil
}

func (t *Transport) registered(l *link) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[l.sessionID][l.remote.ID] == l
}

func (t *Transport) forget(l *link) {
	t.mu.Lock()
	defer t.mu.Unlock()

	links, ok := t.sessions[l.sessionID]
	if !ok || links[l.remote.ID] != l {
		return
	}
	delete(links, l.remote.ID)
	if len(links) == 0 {
		delete(t.sessions, l.sessionID)
	}
}

// CloseSession abandons every handshake and link of sessionID.
func (t *Transport) CloseSession(sessionID string) {
	t.mu.Lock()
	links := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()

	for _, l := range links {
		l.Close()
	}
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		server := t.server
		var links []*link
		for id, session := range t.sessions {
			for _, l := range session {
				links = append(links, l)
			}
			delete(t.sessions, id)
		}
		t.mu.Unlock()

		for _, l := range links {
			l.Close()
		}
		if server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				server.Close()
			}
		}
	})
	t.wg.Wait()
	return nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Transport) emit(ev event.Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrDeclined):
		return "declined"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "failed"
	}
}

// translateState maps a pion connection state onto peer.State. The second
// result is false for states that are reported elsewhere: Connecting is
// emitted when a handshake starts and Connected when the data channel opens.
// States pion may add later come back as an invalid peer.State.
func translateState(s webrtc.PeerConnectionState) (peer.State, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew,
		webrtc.PeerConnectionStateConnecting,
		webrtc.PeerConnectionStateConnected:
		return 0, false
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		return peer.NotConnected, true
	default:
		return peer.State(0), true
	}
}
