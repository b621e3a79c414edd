package protocol

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestBeaconEncodeDecode(t *testing.T) {
	b := Beacon{
		Version: BeaconVersion,
		Service: ServiceTag,
		Peer:    PeerInfo{ID: "6f1c2d3e-peer", Name: "kitchen-ipad", Addr: "192.168.1.20:41000"},
	}

	data, err := EncodeBeacon(b)
	if err != nil {
		t.Fatalf("EncodeBeacon failed: %v", err)
	}

	decoded, err := DecodeBeacon(data)
	if err != nil {
		t.Fatalf("DecodeBeacon failed: %v", err)
	}

	if decoded != b {
		t.Errorf("Expected %+v, got %+v", b, decoded)
	}
}

func TestBeaconLeaveFlag(t *testing.T) {
	data, err := EncodeBeacon(Beacon{
		Version: BeaconVersion,
		Service: ServiceTag,
		Peer:    PeerInfo{ID: "leaving"},
		Leave:   true,
	})
	if err != nil {
		t.Fatalf("EncodeBeacon failed: %v", err)
	}

	decoded, err := DecodeBeacon(data)
	if err != nil {
		t.Fatalf("DecodeBeacon failed: %v", err)
	}

	if !decoded.Leave {
		t.Error("Expected Leave to be set")
	}
}

func TestDecodeBeaconGarbage(t *testing.T) {
	if _, err := DecodeBeacon([]byte{0xff, 0xff, 0xff}); !errors.Is(err, ErrInvalidBeacon) {
		t.Errorf("Expected ErrInvalidBeacon, got %v", err)
	}
}

func TestDecodeBeaconWrongVersion(t *testing.T) {
	// 257 and 1.5 both narrow to 1 as a uint8.
	for _, version := range []float64{7, 257, 1.5, -255} {
		s, err := structpb.NewStruct(map[string]any{
			"version": version,
			"service": ServiceTag,
			"id":      "peer",
		})
		if err != nil {
			t.Fatalf("NewStruct failed: %v", err)
		}
		data, err := proto.Marshal(s)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}

		if _, err := DecodeBeacon(data); !errors.Is(err, ErrInvalidBeacon) {
			t.Errorf("version %v: expected ErrInvalidBeacon, got %v", version, err)
		}
	}
}

func TestDecodeBeaconMissingID(t *testing.T) {
	data, err := EncodeBeacon(Beacon{Version: BeaconVersion, Service: ServiceTag})
	if err != nil {
		t.Fatalf("EncodeBeacon failed: %v", err)
	}

	if _, err := DecodeBeacon(data); !errors.Is(err, ErrInvalidBeacon) {
		t.Errorf("Expected ErrInvalidBeacon, got %v", err)
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		expected string
		msgType  MessageType
	}{
		{"INVITE", MsgInvite},
		{"INVITE_REPLY", MsgInviteReply},
		{"UNKNOWN", MessageType(0xFFFF)},
	}

	for _, tt := range tests {
		if got := tt.msgType.String(); got != tt.expected {
			t.Errorf("%v.String() = %s, want %s", tt.msgType, got, tt.expected)
		}
	}
}
