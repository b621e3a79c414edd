package protocol

const (
	// ServiceTag is the default discovery namespace. Advertiser and browser
	// must use the exact same string.
	ServiceTag = "slider-sync"

	// ValueSize is the length of a value payload on the data channel.
	ValueSize = 8

	BeaconVersion  = 1
	MaxBeaconSize  = 1024
	DataChannelTag = "slider"
)

type MessageType uint16

const (
	MsgInvite      MessageType = 0x0010
	MsgInviteReply MessageType = 0x0011
)

func (t MessageType) String() string {
	switch t {
	case MsgInvite:
		return "INVITE"
	case MsgInviteReply:
		return "INVITE_REPLY"
	default:
		return "UNKNOWN"
	}
}
