// Package codec models the external demux/decode library as an interface
// boundary (spec §6): "the design does not depend on which library; any
// equivalent suffices". The engine drives these interfaces; a concrete
// implementation (see codec/refcodec) is supplied for tests and as the
// default wiring, and a production deployment can substitute a real
// ffmpeg-equivalent binding without touching engine logic.
package codec

import (
	"errors"
	"io"
)

// ErrAgain signals "needs more input", mapped from the library's EAGAIN
// convention (spec §4.3 step 5).
var ErrAgain = errors.New("codec: need more input")

// PixelFormat discriminates decoded video plane layouts. Only 4:2:0 planar
// variants are accepted for emit (spec §4.3).
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatYUV420P             // 4:2:0 planar, TV range
	PixelFormatYUVJ420P            // 4:2:0 planar, JPEG (full) range
	PixelFormatOther
)

// SampleFormat discriminates decoded audio sample layouts. Planar formats
// are deinterleaved to their packed equivalent before emit (spec §3/§4.3).
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota
	SampleFormatS16
	SampleFormatS16Planar
	SampleFormatS32
	SampleFormatS32Planar
	SampleFormatFLT
	SampleFormatFLTPlanar
)

// Packed reports the non-planar equivalent of a sample format, and whether
// the native format was planar (needs deinterleaving).
func (f SampleFormat) Packed() (SampleFormat, bool) {
	switch f {
	case SampleFormatS16Planar:
		return SampleFormatS16, true
	case SampleFormatS32Planar:
		return SampleFormatS32, true
	case SampleFormatFLTPlanar:
		return SampleFormatFLT, true
	default:
		return f, false
	}
}

// BytesPerSample returns the width of one sample in one channel.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatS16, SampleFormatS16Planar:
		return 2
	case SampleFormatS32, SampleFormatS32Planar, SampleFormatFLT, SampleFormatFLTPlanar:
		return 4
	default:
		return 0
	}
}

// StreamKind discriminates the two media kinds this system handles.
type StreamKind int

const (
	StreamVideo StreamKind = iota
	StreamAudio
)

// StreamInfo describes one stream discovered by the demuxer during open.
type StreamInfo struct {
	Index     int
	Kind      StreamKind
	TimeBase  float64 // seconds per tick of Packet.PTS/Frame.PTS
	Width     int
	Height    int
	PixFmt    PixelFormat
	Channels  int
	SampleFmt SampleFormat
	SampleRate int
	DurationTicks int64
}

// Packet is one demuxed, still-compressed unit of one stream.
type Packet struct {
	StreamIndex int
	PTS         int64
	Data        []byte
}

// Frame is one decoded, raw unit of one stream.
type Frame struct {
	StreamIndex  int
	PTS          int64
	Planes       [][]byte
	Linesize     []int
	NbSamples    int
	Channels     int
	SampleFormat SampleFormat
	PixelFormat  PixelFormat
}

// Bridge is the seekable byte source the demuxer reads from. It is
// implemented by internal/iobridge and backed by the upload buffer.
type Bridge interface {
	io.Reader
	// Seek mirrors the AVIOContext seek callback: whence is io.SeekStart/
	// Current/End, plus a size-query convention handled by the bridge
	// itself (AVSEEK_SIZE in spec terms) via SeekSize.
	Seek(offset int64, whence int) (int64, error)
	// SeekSize reports the total stream size, or -1 if unknown (stream
	// mode) — the AVSEEK_SIZE equivalent named in spec §4.1.
	SeekSize() int64
}

// Demuxer parses container bytes into packets tagged by stream.
type Demuxer interface {
	Open(bridge Bridge) ([]StreamInfo, error)
	ReadPacket() (Packet, error) // io.EOF when the container is exhausted
	Seek(streamIndex int, tsUsec int64, backward bool) error
	Close() error
}

// Decoder turns packets of one stream into raw frames.
type Decoder interface {
	SendPacket(Packet) error
	// ReceiveFrame drains one decoded frame, or ErrAgain if the decoder
	// needs another SendPacket before it can produce one (spec §4.3 step 5).
	ReceiveFrame() (Frame, error)
	Flush()
	Close() error
}

// DemuxerFactory constructs a fresh Demuxer, letting the engine stay
// decoupled from a concrete codec library implementation.
type DemuxerFactory func() Demuxer

// DecoderFactory constructs a fresh Decoder for the given stream info.
type DecoderFactory func(StreamInfo) (Decoder, error)
