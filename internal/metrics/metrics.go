// Package metrics exposes prometheus counters for the sync protocol. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	broadcasts      prometheus.Counter
	broadcastErrors prometheus.Counter
	echoSuppressed  prometheus.Counter
	remoteApplied   prometheus.Counter
	decodeFailures  prometheus.Counter
	peersFound      prometheus.Counter
	sessionsCreated prometheus.Counter
	connectedPeers  prometheus.Gauge
	invitations     *prometheus.CounterVec
	handshakes      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "peersync", Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		registry:        reg,
		broadcasts:      factory("broadcasts_total", "Value payloads handed to the session for broadcast"),
		broadcastErrors: factory("broadcast_errors_total", "Broadcasts that failed to send"),
		echoSuppressed:  factory("echo_suppressed_total", "Local writes not broadcast because they echo a remote value"),
		remoteApplied:   factory("remote_values_applied_total", "Values received from peers and applied locally"),
		decodeFailures:  factory("decode_failures_total", "Payloads shorter than a value, applied as 0"),
		peersFound:      factory("peers_found_total", "Peers added to the discovery set"),
		sessionsCreated: factory("sessions_created_total", "Sessions created, including replacements"),
		connectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "peersync",
			Name:      "connected_peers",
			Help:      "Peers in the connected state in the current session",
		}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peersync",
			Name:      "invitations_total",
			Help:      "Invitations by direction and outcome",
		}, []string{"direction", "outcome"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peersync",
			Name:      "handshakes_total",
			Help:      "Encrypted channel handshakes by direction and outcome",
		}, []string{"direction", "outcome"}),
	}
	reg.MustRegister(m.connectedPeers, m.invitations, m.handshakes)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format. A nil
// *Metrics serves an empty registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncBroadcast() {
	if m != nil {
		m.broadcasts.Inc()
	}
}

func (m *Metrics) IncBroadcastError() {
	if m != nil {
		m.broadcastErrors.Inc()
	}
}

func (m *Metrics) IncEchoSuppressed() {
	if m != nil {
		m.echoSuppressed.Inc()
	}
}

func (m *Metrics) IncRemoteApplied() {
	if m != nil {
		m.remoteApplied.Inc()
	}
}

func (m *Metrics) IncDecodeFailure() {
	if m != nil {
		m.decodeFailures.Inc()
	}
}

func (m *Metrics) IncPeerFound() {
	if m != nil {
		m.peersFound.Inc()
	}
}

func (m *Metrics) IncSessionCreated() {
	if m != nil {
		m.sessionsCreated.Inc()
	}
}

func (m *Metrics) SetConnectedPeers(n int) {
	if m != nil {
		m.connectedPeers.Set(float64(n))
	}
}

// ObserveInvitation counts an invitation. direction is "sent" or "received".
func (m *Metrics) ObserveInvitation(direction, outcome string) {
	if m != nil {
		m.invitations.WithLabelValues(direction, outcome).Inc()
	}
}

// ObserveHandshake counts a transport handshake. direction is "outbound" or
// "inbound".
func (m *Metrics) ObserveHandshake(direction, outcome string) {
	if m != nil {
		m.handshakes.WithLabelValues(direction, outcome).Inc()
	}
}
