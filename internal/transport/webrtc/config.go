package webrtc

import (
	"time"

	"github.com/pion/webrtc/v3"
)

// Config describes the encrypted channel and its invitation endpoint.
type Config struct {
	// ListenAddr is where the invitation endpoint listens, e.g. ":0".
	ListenAddr string
	// ICEServers lists STUN/TURN URLs. Empty is fine on a LAN.
	ICEServers []string
	// InviteTimeout bounds a handshake from invitation to open channel.
	// Zero waits indefinitely.
	InviteTimeout time.Duration
	// IncludeLoopback gathers loopback ICE candidates, for peers on one host.
	IncludeLoopback bool
}

func (c Config) rtcConfiguration() webrtc.Configuration {
	cfg := webrtc.Configuration{
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
	if len(c.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return cfg
}

func (c Config) api() *webrtc.API {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(c.IncludeLoopback)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// DataChannelConfig is the unreliable mode values travel in: unordered and
// never retransmitted.
func DataChannelConfig() *webrtc.DataChannelInit {
	ordered := false
	maxRetransmits := uint16(0)
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	}
}
