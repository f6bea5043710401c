package protocol

import "fmt"

// FrameKind discriminates the binary decoded-frame envelope (spec §3).
type FrameKind byte

const (
	KindVideo FrameKind = 0
	KindAudio FrameKind = 1
)

const timestampWidth = 16

// EncodeEnvelope builds kind(1) ‖ timestamp_ascii(16, "%.6f" zero-padded
// tail) ‖ payload as a single contiguous buffer. dst, if large enough, is
// reused to avoid an allocation per frame (the engine's emit buffer is
// reused across frames per spec §4.3).
func EncodeEnvelope(dst []byte, kind FrameKind, timestampSec float64, payload []byte) []byte {
	total := 1 + timestampWidth + len(payload)
	if cap(dst) < total {
		dst = make([]byte, total)
	} else {
		dst = dst[:total]
	}
	dst[0] = byte(kind)
	ts := fmt.Sprintf("%.6f", timestampSec)
	if len(ts) > timestampWidth {
		ts = ts[:timestampWidth]
	}
	copy(dst[1:1+timestampWidth], ts)
	for i := 1 + len(ts); i < 1+timestampWidth; i++ {
		dst[i] = 0
	}
	copy(dst[1+timestampWidth:], payload)
	return dst
}

// DecodeEnvelope splits a received envelope back into its parts, used by
// tests to verify the round-trip property (spec §8 invariant 4).
func DecodeEnvelope(buf []byte) (kind FrameKind, timestampSec float64, payload []byte, err error) {
	if len(buf) < 1+timestampWidth {
		return 0, 0, nil, fmt.Errorf("envelope too short: %d bytes", len(buf))
	}
	kind = FrameKind(buf[0])
	if kind != KindVideo && kind != KindAudio {
		return 0, 0, nil, fmt.Errorf("invalid envelope kind %d", buf[0])
	}
	tsField := buf[1 : 1+timestampWidth]
	end := timestampWidth
	for i, b := range tsField {
		if b == 0 || b == ' ' {
			end = i
			break
		}
	}
	if _, err := fmt.Sscanf(string(tsField[:end]), "%f", &timestampSec); err != nil {
		return 0, 0, nil, fmt.Errorf("invalid timestamp field: %w", err)
	}
	return kind, timestampSec, buf[1+timestampWidth:], nil
}
