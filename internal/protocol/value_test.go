package protocol

import (
	"bytes"
	"math"
	"testing"
	"testing/quick"
)

func TestEncodeValueLayout(t *testing.T) {
	data := EncodeValue(1.0)

	if len(data) != ValueSize {
		t.Fatalf("Expected %d bytes, got %d", ValueSize, len(data))
	}

	// 1.0 is 0x3FF0000000000000, least significant byte first.
	expected := []byte{0, 0, 0, 0, 0, 0, 0xF0, 0x3F}
	if !bytes.Equal(data, expected) {
		t.Errorf("Expected % x, got % x", expected, data)
	}
}

func TestValueRoundTrip(t *testing.T) {
	values := []float64{
		0, 0.3, 0.7, 1, -1, math.SmallestNonzeroFloat64, math.MaxFloat64, -math.MaxFloat64, math.Copysign(0, -1),
	}

	for _, v := range values {
		got, ok := DecodeValue(EncodeValue(v))
		if !ok {
			t.Fatalf("DecodeValue(%v) reported short payload", v)
		}
		if math.Float64bits(got) != math.Float64bits(v) {
			t.Errorf("Round trip of %v returned %v", v, got)
		}
	}
}

func TestValueRoundTripQuick(t *testing.T) {
	roundTrip := func(v float64) bool {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
		got, ok := DecodeValue(EncodeValue(v))
		return ok && got == v
	}

	if err := quick.Check(roundTrip, nil); err != nil {
		t.Error(err)
	}
}

func TestDecodeValueShortBuffer(t *testing.T) {
	full := EncodeValue(0.5)

	for n := 0; n < ValueSize; n++ {
		if _, ok := DecodeValue(full[:n]); ok {
			t.Errorf("Expected ok=false for %d bytes", n)
		}
	}

	if _, ok := DecodeValue(nil); ok {
		t.Error("Expected ok=false for nil payload")
	}
}

func TestDecodeValueIgnoresTrailingBytes(t *testing.T) {
	data := append(EncodeValue(0.25), 0xAA, 0xBB)

	got, ok := DecodeValue(data)
	if !ok || got != 0.25 {
		t.Errorf("Expected (0.25, true), got (%v, %v)", got, ok)
	}
}

func TestDecodeValueAcceptsNonFinite(t *testing.T) {
	got, ok := DecodeValue(EncodeValue(math.Inf(1)))
	if !ok || !math.IsInf(got, 1) {
		t.Errorf("Expected +Inf, got (%v, %v)", got, ok)
	}

	got, ok = DecodeValue(EncodeValue(math.NaN()))
	if !ok || !math.IsNaN(got) {
		t.Errorf("Expected NaN, got (%v, %v)", got, ok)
	}
}
