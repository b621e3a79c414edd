package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-sync/internal/event"
	"github.com/rudransh-shrivastava/peer-sync/internal/logger"
	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
	"github.com/rudransh-shrivastava/peer-sync/internal/protocol"
	"github.com/rudransh-shrivastava/peer-sync/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTag = "slider-sync"

type fakeDiscovery struct {
	mu         sync.Mutex
	advertised []peer.Info
	browsed    int
	advertErr  error
	browseErr  error
}

func (d *fakeDiscovery) Advertise(_ context.Context, self peer.Info, tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.advertErr != nil {
		return d.advertErr
	}
	if tag != testTag {
		return errors.New("unexpected tag " + tag)
	}
	d.advertised = append(d.advertised, self)
	return nil
}

func (d *fakeDiscovery) Browse(_ context.Context, _ peer.Info, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browseErr != nil {
		return d.browseErr
	}
	d.browsed++
	return nil
}

func (d *fakeDiscovery) Close() error { return nil }

type invite struct {
	sessionID string
	target    peer.Info
}

type fakeTransport struct {
	mu        sync.Mutex
	invites   []invite
	closed    []string
	listenErr error
}

func (f *fakeTransport) Invite(_ context.Context, sessionID string, target peer.Info) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, invite{sessionID, target})
	return nil
}

func (f *fakeTransport) CloseSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, sessionID)
}

func (f *fakeTransport) Listen() error { return f.listenErr }

func (f *fakeTransport) Local() peer.Info {
	return peer.Info{ID: "alice-id", Name: "alice", Addr: "127.0.0.1:4000"}
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) lastInvite(t *testing.T) invite {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.invites)
	return f.invites[len(f.invites)-1]
}

type fakeLink struct {
	mu   sync.Mutex
	info peer.Info
	sent [][]byte
}

func (l *fakeLink) Peer() peer.Info { return l.info }

func (l *fakeLink) Send(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, data)
	return nil
}

func (l *fakeLink) Close() error { return nil }

func (l *fakeLink) sentValues() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []float64
	for _, b := range l.sent {
		v, _ := protocol.DecodeValue(b)
		out = append(out, v)
	}
	return out
}

type harness struct {
	node      *Node
	disc      *fakeDiscovery
	transport *fakeTransport
	events    chan event.Event
	cancel    context.CancelFunc
	runErr    chan error
}

var bob = peer.Info{ID: "bob-id", Name: "bob", Addr: "127.0.0.1:5000"}

func newHarness(t *testing.T, transport *fakeTransport) *harness {
	t.Helper()

	if transport == nil {
		transport = &fakeTransport{}
	}
	h := &harness{
		disc:      &fakeDiscovery{},
		transport: transport,
		events:    make(chan event.Event, EventBuffer),
		runErr:    make(chan error, 1),
	}
	h.node = New(Options{
		ServiceTag: testTag,
		Discovery:  h.disc,
		Transport:  h.transport,
		Events:     h.events,
		Logger:     logger.Discard(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.node.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) waitUpdate(t *testing.T, match func(event.Event) bool) event.Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-h.node.Updates():
			require.True(t, ok, "updates closed")
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for update")
		}
	}
}

// found delivers a PeerFound and waits until the node has published it.
func (h *harness) found(t *testing.T, p peer.Info) {
	t.Helper()
	h.events <- event.PeerFound{Peer: p}
	h.waitUpdate(t, func(ev event.Event) bool {
		f, ok := ev.(event.PeerFound)
		return ok && f.Peer == p
	})
}

// connect joins bob and reports the connection as established.
func (h *harness) connect(t *testing.T, ctx context.Context) (string, *fakeLink) {
	t.Helper()

	h.found(t, bob)
	require.NoError(t, h.node.Join(ctx, bob.ID))
	sid := h.transport.lastInvite(t).sessionID

	link := &fakeLink{info: bob}
	h.events <- event.StateChanged{SessionID: sid, Peer: bob, State: peer.Connected, Link: link}
	h.waitUpdate(t, func(ev event.Event) bool {
		sc, ok := ev.(event.StateChanged)
		return ok && sc.State == peer.Connected
	})
	return sid, link
}

func TestStartAdvertisingCreatesSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.node.StartAdvertising(ctx))
	require.NoError(t, h.node.StartAdvertising(ctx))

	h.disc.mu.Lock()
	assert.Len(t, h.disc.advertised, 2)
	assert.Equal(t, "127.0.0.1:4000", h.disc.advertised[0].Addr)
	h.disc.mu.Unlock()

	// The second call replaced the first session.
	h.transport.mu.Lock()
	assert.Len(t, h.transport.closed, 1)
	h.transport.mu.Unlock()
}

func TestStartAdvertisingFailurePublishesDiscoveryFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.disc.mu.Lock()
	h.disc.advertErr = errors.New("bind: address in use")
	h.disc.mu.Unlock()

	err := h.node.StartAdvertising(context.Background())
	require.Error(t, err)

	ev := h.waitUpdate(t, func(ev event.Event) bool {
		_, ok := ev.(event.DiscoveryFailed)
		return ok
	})
	assert.Equal(t, "advertise", ev.(event.DiscoveryFailed).Op)
}

func TestPeerFoundAndLost(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.found(t, bob)
	peers, err := h.node.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []peer.Info{bob}, peers)

	h.events <- event.PeerLost{ID: bob.ID}
	h.waitUpdate(t, func(ev event.Event) bool {
		_, ok := ev.(event.PeerLost)
		return ok
	})

	peers, err = h.node.Peers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestDuplicatePeerFoundPublishedOnce(t *testing.T) {
	h := newHarness(t, nil)
	carol := peer.Info{ID: "carol-id", Name: "carol"}

	h.found(t, bob)
	h.events <- event.PeerFound{Peer: bob}
	h.events <- event.PeerFound{Peer: carol}

	select {
	case ev := <-h.node.Updates():
		assert.Equal(t, event.PeerFound{Peer: carol}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}

	peers, err := h.node.Peers(context.Background())
	require.NoError(t, err)
	assert.Len(t, peers, 2)
}

func TestPeerRefreshUpdatesJoinTarget(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.found(t, bob)
	moved := bob
	moved.Addr = "127.0.0.1:6000"
	h.found(t, moved)

	peers, err := h.node.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []peer.Info{moved}, peers)

	require.NoError(t, h.node.Join(ctx, bob.ID))
	assert.Equal(t, "127.0.0.1:6000", h.transport.lastInvite(t).target.Addr)
}

func TestStartBrowsingForgetsPeers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.found(t, bob)
	require.NoError(t, h.node.StartBrowsing(ctx))

	peers, err := h.node.Peers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)

	h.disc.mu.Lock()
	assert.Equal(t, 1, h.disc.browsed)
	h.disc.mu.Unlock()

	h.found(t, bob)
}

func TestJoinUnknownPeer(t *testing.T) {
	h := newHarness(t, nil)

	err := h.node.Join(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestJoinInvitesIntoFreshSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.found(t, bob)
	require.NoError(t, h.node.Join(ctx, bob.ID))
	first := h.transport.lastInvite(t)
	assert.Equal(t, bob.ID, first.target.ID)

	require.NoError(t, h.node.Join(ctx, bob.ID))
	second := h.transport.lastInvite(t)
	assert.NotEqual(t, first.sessionID, second.sessionID)

	conns, err := h.node.Connections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, peer.NotConnected, conns[0].State)
}

func TestInvitationReply(t *testing.T) {
	h := newHarness(t, nil)

	reply := make(chan event.Decision, 1)
	h.events <- event.InvitationReceived{From: bob, Reply: reply}
	d := <-reply
	assert.False(t, d.Accept, "no session yet")

	require.NoError(t, h.node.StartAdvertising(context.Background()))
	h.events <- event.InvitationReceived{From: bob, Reply: reply}
	d = <-reply
	assert.True(t, d.Accept)
	assert.NotEmpty(t, d.SessionID)
}

func TestRemoteValueIsAppliedAndNotEchoed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sid, link := h.connect(t, ctx)

	h.events <- event.DataReceived{SessionID: sid, From: bob, Data: protocol.EncodeValue(0.6)}
	ev := h.waitUpdate(t, func(ev event.Event) bool {
		_, ok := ev.(event.ValueChanged)
		return ok
	})
	assert.Equal(t, event.ValueChanged{Value: 0.6, Remote: true}, ev)

	v, err := h.node.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.6, v)

	// Rendering the remote value feeds it back as a local change.
	require.NoError(t, h.node.SetLocalValue(ctx, 0.6))
	assert.Empty(t, link.sentValues())

	require.NoError(t, h.node.SetLocalValue(ctx, 0.7))
	assert.Equal(t, []float64{0.7}, link.sentValues())
}

func TestDataForReplacedSessionIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.connect(t, ctx)

	h.events <- event.DataReceived{SessionID: "stale", From: bob, Data: protocol.EncodeValue(0.9)}
	h.events <- event.PeerFound{Peer: peer.Info{ID: "carol-id"}}

	ev := h.waitUpdate(t, func(ev event.Event) bool {
		switch ev.(type) {
		case event.ValueChanged, event.PeerFound:
			return true
		}
		return false
	})
	assert.IsType(t, event.PeerFound{}, ev)

	v, err := h.node.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestDisconnectRemovesConnection(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sid, _ := h.connect(t, ctx)

	h.events <- event.StateChanged{SessionID: sid, Peer: bob, State: peer.NotConnected}
	h.waitUpdate(t, func(ev event.Event) bool {
		sc, ok := ev.(event.StateChanged)
		return ok && sc.State == peer.NotConnected
	})

	conns, err := h.node.Connections(ctx)
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestUnrecognizedStateIsFatal(t *testing.T) {
	h := newHarness(t, nil)

	h.events <- event.StateChanged{SessionID: "any", Peer: bob, State: peer.State(42)}

	select {
	case err := <-h.runErr:
		assert.ErrorIs(t, err, peer.ErrUnrecognizedState)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	_, err := h.node.Value(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.cancel()

	select {
	case err := <-h.runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	_, ok := <-h.node.Updates()
	assert.False(t, ok)
	assert.ErrorIs(t, h.node.Run(context.Background()), ErrAlreadyRunning)
}

func TestRunFailsWhenTransportCannotListen(t *testing.T) {
	h := newHarness(t, &fakeTransport{listenErr: errors.New("address in use")})

	select {
	case err := <-h.runErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

var _ Transport = (*fakeTransport)(nil)
var _ session.Transport = (*fakeTransport)(nil)
