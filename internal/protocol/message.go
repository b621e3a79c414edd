package protocol

// Invitation asks the receiver to join SessionID. SDP is the sender's
// complete offer; ICE candidates are gathered before it is sent.
type Invitation struct {
	Type      MessageType `json:"type"`
	From      PeerInfo    `json:"from"`
	SessionID string      `json:"session_id"`
	Context   []byte      `json:"context,omitempty"`
	SDP       string      `json:"sdp"`
}

type InvitationReply struct {
	Type     MessageType `json:"type"`
	From     PeerInfo    `json:"from"`
	Accepted bool        `json:"accepted"`
	SDP      string      `json:"sdp,omitempty"`
}

type PeerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Addr string `json:"addr"`
}
