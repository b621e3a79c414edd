package node

import (
	"context"
	"fmt"

	"github.com/rudransh-shrivastava/peer-sync/internal/event"
	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
	"github.com/rudransh-shrivastava/peer-sync/internal/session"
)

// StartAdvertising creates a fresh session and makes this device visible to
// browsers. Advertising never happens without a session.
func (n *Node) StartAdvertising(ctx context.Context) error {
	return n.do(ctx, func(runCtx context.Context) error {
		self := n.transport.Local()
		n.sessions.CreateSession(self)
		if err := n.discovery.Advertise(runCtx, self, n.tag); err != nil {
			n.discoveryFailed("advertise", err)
			return err
		}
		return nil
	})
}

// StartBrowsing forgets every discovered peer and starts looking again.
func (n *Node) StartBrowsing(ctx context.Context) error {
	return n.do(ctx, func(runCtx context.Context) error {
		n.found.Reset()
		if err := n.discovery.Browse(runCtx, n.transport.Local(), n.tag); err != nil {
			n.discoveryFailed("browse", err)
			return err
		}
		return nil
	})
}

// Join starts a brand-new session and invites the discovered peer id into
// it. Success only means the invitation went out.
func (n *Node) Join(ctx context.Context, id peer.ID) error {
	return n.do(ctx, func(runCtx context.Context) error {
		target, ok := n.found.Lookup(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
		}
		n.sessions.CreateSession(n.transport.Local())
		return n.sessions.Invite(runCtx, target)
	})
}

// SetLocalValue records a local change and broadcasts it unless it is the
// echo of the last remote value.
func (n *Node) SetLocalValue(ctx context.Context, v float64) error {
	return n.do(ctx, func(context.Context) error {
		n.values.SetLocalValue(v)
		n.publish(event.ValueChanged{Value: v})
		return nil
	})
}

// Peers returns the discovered peers in discovery order.
func (n *Node) Peers(ctx context.Context) ([]peer.Info, error) {
	var out []peer.Info
	err := n.do(ctx, func(context.Context) error {
		out = n.found.Peers()
		return nil
	})
	return out, err
}

func (n *Node) Connections(ctx context.Context) ([]session.PeerConnection, error) {
	var out []session.PeerConnection
	err := n.do(ctx, func(context.Context) error {
		out = n.sessions.Connections()
		return nil
	})
	return out, err
}

func (n *Node) Value(ctx context.Context) (float64, error) {
	var v float64
	err := n.do(ctx, func(context.Context) error {
		v = n.values.Value()
		return nil
	})
	return v, err
}

func (n *Node) discoveryFailed(op string, err error) {
	n.logger.Errorf("Failed to start %s: %v", op, err)
	n.publish(event.DiscoveryFailed{Op: op, Err: err})
}
