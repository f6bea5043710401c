package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeEnvelopeRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	env := EncodeEnvelope(nil, KindVideo, 12.5, payload)

	kind, ts, got, err := DecodeEnvelope(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if kind != KindVideo {
		t.Fatalf("kind = %v, want KindVideo", kind)
	}
	if ts != 12.5 {
		t.Fatalf("timestamp = %v, want 12.5", ts)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %v, want %v", got, payload)
	}
}

func TestEncodeEnvelopeReusesBuffer(t *testing.T) {
	dst := make([]byte, 0, 64)
	env1 := EncodeEnvelope(dst, KindAudio, 1.0, []byte{9, 9})
	ptr1 := &env1[0]
	env2 := EncodeEnvelope(env1, KindAudio, 2.0, []byte{8, 8})
	ptr2 := &env2[0]
	if ptr1 != ptr2 {
		t.Fatalf("expected buffer reuse when capacity suffices")
	}
}

func TestDecodeEnvelopeTooShort(t *testing.T) {
	if _, _, _, err := DecodeEnvelope([]byte{0, 1, 2}); err == nil {
		t.Fatal("expected error for short envelope")
	}
}

func TestDecodeEnvelopeInvalidKind(t *testing.T) {
	env := EncodeEnvelope(nil, KindVideo, 1.0, []byte{1})
	env[0] = 7
	if _, _, _, err := DecodeEnvelope(env); err == nil {
		t.Fatal("expected error for invalid kind")
	}
}

func TestEncodeEnvelopeTimestampPrecision(t *testing.T) {
	env := EncodeEnvelope(nil, KindVideo, 3.141592653589, nil)
	_, ts, _, err := DecodeEnvelope(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := ts - 3.141593; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("timestamp = %v, want ~3.141593", ts)
	}
}
