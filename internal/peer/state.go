package peer

import (
	"errors"
	"fmt"
)

// ErrUnrecognizedState is returned for a State outside the closed set.
var ErrUnrecognizedState = errors.New("unrecognized connection state")

// State is the connection state of a peer within a session. The zero value
// is not a valid state.
type State int

const (
	NotConnected State = iota + 1
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "NOT_CONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Validate returns ErrUnrecognizedState unless s is one of the three states.
func (s State) Validate() error {
	switch s {
	case NotConnected, Connecting, Connected:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnrecognizedState, int(s))
	}
}
