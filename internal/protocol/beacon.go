package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrInvalidBeacon = errors.New("invalid beacon")

// Beacon is the UDP datagram a device broadcasts while advertising.
type Beacon struct {
	Version uint8
	Service string
	Peer    PeerInfo
	Leave   bool
}

// EncodeBeacon serializes b as a protobuf Struct.
func EncodeBeacon(b Beacon) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"version": float64(b.Version),
		"service": b.Service,
		"id":      b.Peer.ID,
		"name":    b.Peer.Name,
		"addr":    b.Peer.Addr,
		"leave":   b.Leave,
	})
	if err != nil {
		return nil, fmt.Errorf("building beacon: %w", err)
	}

	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshalling beacon: %w", err)
	}
	if len(data) > MaxBeaconSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidBeacon, len(data), MaxBeaconSize)
	}
	return data, nil
}

func DecodeBeacon(data []byte) (Beacon, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Beacon{}, fmt.Errorf("%w: %v", ErrInvalidBeacon, err)
	}

	fields := s.GetFields()
	if v := fields["version"].GetNumberValue(); v != float64(BeaconVersion) {
		return Beacon{}, fmt.Errorf("%w: version %v", ErrInvalidBeacon, v)
	}
	b := Beacon{
		Version: BeaconVersion,
		Service: fields["service"].GetStringValue(),
		Peer: PeerInfo{
			ID:   fields["id"].GetStringValue(),
			Name: fields["name"].GetStringValue(),
			Addr: fields["addr"].GetStringValue(),
		},
		Leave: fields["leave"].GetBoolValue(),
	}

	if b.Service == "" || b.Peer.ID == "" {
		return Beacon{}, fmt.Errorf("%w: missing service or id", ErrInvalidBeacon)
	}
	return b, nil
}
