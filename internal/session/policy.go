package session

import (
	"slices"

	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
)

// Policy decides whether an inbound invitation is accepted.
type Policy interface {
	Allow(from peer.Info) bool
}

// AcceptAll accepts every invitation. The channel is still encrypted but
// peers are not authenticated.
type AcceptAll struct{}

func (AcceptAll) Allow(peer.Info) bool { return true }

// Allowlist accepts invitations only from the listed peer ids.
type Allowlist []peer.ID

func (a Allowlist) Allow(from peer.Info) bool {
	return slices.Contains(a, from.ID)
}
