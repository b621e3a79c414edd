package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-sync/internal/event"
	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
	"github.com/sirupsen/logrus"
)

var ErrChannelNotOpen = errors.New("data channel not open")

// link is one peer connection of a session. It implements peer.Link once its
// data channel is open.
//
// State events for a link are serialized by stateMu and suppressed once the
// link has been replaced or closed, so a stale Connecting or NotConnected
// never reaches the session.
type link struct {
	t         *Transport
	sessionID string
	remote    peer.Info
	pc        *webrtc.PeerConnection
	logger    *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	opened chan struct{}

	mu     sync.Mutex
	dc     *webrtc.DataChannel
	isOpen bool

	stateMu sync.Mutex
	isDown  bool

	closeOnce sync.Once
}

func (l *link) Peer() peer.Info {
	return l.remote
}

func (l *link) Send(data []byte) error {
	l.mu.Lock()
	dc, open := l.dc, l.isOpen
	l.mu.Unlock()

	if dc == nil || !open {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

// Close tears down the peer connection without emitting events.
func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.t.forget(l)
		l.cancel()
		err = l.pc.Close()
	})
	return err
}

func (l *link) attach(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.logger.Debugf("Data channel '%s'-'%d' open", dc.Label(), dc.ID())
		l.onOpen()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.t.emit(event.DataReceived{
			SessionID: l.sessionID,
			From:      l.remote,
			Data:      append([]byte(nil), msg.Data...),
		})
	})

	dc.OnError(func(err error) {
		l.logger.Errorf("Data channel error: %v", err)
	})

	dc.OnClose(func() {
		l.logger.Debugf("Data channel '%s'-'%d' closed", dc.Label(), dc.ID())
		l.down()
	})
}

func (l *link) onOpen() {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.isDown || !l.t.registered(l) {
		return
	}

	l.mu.Lock()
	if l.isOpen {
		l.mu.Unlock()
		return
	}
	l.isOpen = true
	close(l.opened)
	l.mu.Unlock()

	l.logger.Infof("Connected to %s", l.remote)
	l.t.emit(event.StateChanged{
		SessionID: l.sessionID,
		Peer:      l.remote,
		State:     peer.Connected,
		Link:      l,
	})
}

func (l *link) onConnectionStateChange(s webrtc.PeerConnectionState) {
	l.logger.Debugf("Peer Connection State has changed: %s", s.String())

	state, ok := translateState(s)
	if !ok {
		return
	}
	if state == peer.NotConnected {
		l.down()
		return
	}
	l.emitState(state)
}

func (l *link) emitState(s peer.State) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.isDown || !l.t.registered(l) {
		return
	}
	l.t.emit(event.StateChanged{SessionID: l.sessionID, Peer: l.remote, State: s})
}

// down reports NotConnected once and releases the connection.
func (l *link) down() {
	l.stateMu.Lock()
	if l.isDown {
		l.stateMu.Unlock()
		return
	}
	l.isDown = true
	if l.t.registered(l) {
		l.logger.Infof("Disconnected from %s", l.remote)
		l.t.emit(event.StateChanged{SessionID: l.sessionID, Peer: l.remote, State: peer.NotConnected})
	}
	l.stateMu.Unlock()

	l.Close()
}

func (l *link) fail(err error) {
	l.logger.Warnf("Handshake failed: %v", err)
	l.down()
}

// awaitOpen bounds the handshake by the link context.
func (l *link) awaitOpen() {
	select {
	case <-l.opened:
		l.cancel()
	case <-l.ctx.Done():
		select {
		case <-l.opened:
		default:
			l.fail(l.ctx.Err())
		}
	}
}

// setLocal applies desc and waits for ICE gathering so the description
// carries every candidate.
func (l *link) setLocal(desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gathered:
		return nil
	case <-l.ctx.Done():
		return l.ctx.Err()
	}
}

func (l *link) answer(offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := l.setLocal(answer); err != nil {
		return "", err
	}
	return l.pc.LocalDescription().SDP, nil
}
