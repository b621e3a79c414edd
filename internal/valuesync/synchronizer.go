// Package valuesync keeps the shared slider value and decides which writes
// go out on the wire.
//
// Two copies are kept: the authoritative local value and a shadow of the last
// value applied from (or sent to) the network. A local write equal to the
// shadow is an echo of a remote update and is not broadcast, which is what
// stops two peers from bouncing the same value back and forth.
package valuesync

import (
	"github.com/rudransh-shrivastava/peer-sync/internal/metrics"
	"github.com/rudransh-shrivastava/peer-sync/internal/protocol"
	"github.com/sirupsen/logrus"
)

type Broadcaster interface {
	Broadcast(payload []byte) error
}

// Synchronizer is not safe for concurrent use.
type Synchronizer struct {
	local      float64
	lastRemote float64

	out     Broadcaster
	logger  *logrus.Entry
	metrics *metrics.Metrics
}

func New(out Broadcaster, log *logrus.Logger, m *metrics.Metrics) *Synchronizer {
	return &Synchronizer{
		out:     out,
		logger:  log.WithField("component", "valuesync"),
		metrics: m,
	}
}

// SetLocalValue records a locally originated write and broadcasts it unless
// it echoes the last remote value. Broadcast failures are logged; the local
// value is kept either way. It reports whether a broadcast was attempted.
func (s *Synchronizer) SetLocalValue(v float64) bool {
	s.local = v

	if v == s.lastRemote {
		s.metrics.IncEchoSuppressed()
		s.logger.WithField("value", v).Debug("Suppressed echo")
		return false
	}

	s.lastRemote = v
	s.metrics.IncBroadcast()
	if err := s.out.Broadcast(protocol.EncodeValue(v)); err != nil {
		s.metrics.IncBroadcastError()
		s.logger.WithField("value", v).Errorf("Broadcast failed: %v", err)
	}
	return true
}

// OnRemoteValue applies a payload received from a peer. Both copies are
// assigned directly so nothing is re-broadcast. A short payload is applied
// as 0. It returns the applied value.
func (s *Synchronizer) OnRemoteValue(payload []byte) float64 {
	v, ok := protocol.DecodeValue(payload)
	if !ok {
		s.metrics.IncDecodeFailure()
		s.logger.Debugf("Short payload (%d bytes), applying 0", len(payload))
		v = 0
	}

	s.lastRemote = v
	s.local = v
	s.metrics.IncRemoteApplied()
	return v
}

func (s *Synchronizer) Value() float64 {
	return s.local
}

func (s *Synchronizer) LastRemote() float64 {
	return s.lastRemote
}
