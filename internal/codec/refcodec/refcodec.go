// Package refcodec is a reference implementation of the codec.Demuxer/
// codec.Decoder contract over a small deterministic chunked container
// format, used by engine/session/driver tests and as the default wiring
// when no production demux/decode library is configured (SPEC_FULL.md
// §4.2a). Its framing — fixed header fields followed by size-prefixed
// records — is adapted from services/broadcaster.go's box-reader loop in
// the teacher repo.
package refcodec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"streamdecoder/internal/codec"
)

var magic = [4]byte{'S', 'D', 'C', '1'}

// WriteContainer serializes streams and packets into the reference wire
// format. It is the encoder side used by tests (and any tooling that wants
// to feed the reference demuxer) to build fixture clips.
func WriteContainer(w io.Writer, streams []codec.StreamInfo, packets []codec.Packet) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if len(streams) > 255 {
		return fmt.Errorf("refcodec: too many streams (%d)", len(streams))
	}
	if err := writeUint8(w, uint8(len(streams))); err != nil {
		return err
	}
	for _, s := range streams {
		if err := writeStreamInfo(w, s); err != nil {
			return err
		}
	}
	for _, p := range packets {
		if err := writeUint8(w, uint8(p.StreamIndex)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, p.PTS); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint32(len(p.Data))); err != nil {
			return err
		}
		if _, err := w.Write(p.Data); err != nil {
			return err
		}
	}
	return nil
}

func writeUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func writeStreamInfo(w io.Writer, s codec.StreamInfo) error {
	fields := []any{
		uint8(s.Kind),
		math.Float64bits(s.TimeBase),
		int32(s.Width),
		int32(s.Height),
		uint8(s.PixFmt),
		int32(s.Channels),
		uint8(s.SampleFmt),
		int32(s.SampleRate),
		s.DurationTicks,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

// Demuxer reads the reference container format from a codec.Bridge.
type Demuxer struct {
	bridge  codec.Bridge
	streams []codec.StreamInfo
}

// New constructs an unopened reference demuxer.
func New() codec.Demuxer { return &Demuxer{} }

func (d *Demuxer) Open(bridge codec.Bridge) ([]codec.StreamInfo, error) {
	d.bridge = bridge

	var got [4]byte
	if err := readFull(bridge, got[:]); err != nil {
		return nil, err
	}
	if got != magic {
		return nil, fmt.Errorf("refcodec: bad magic %q", got)
	}

	var numStreams uint8
	if err := readUint8(bridge, &numStreams); err != nil {
		return nil, err
	}

	streams := make([]codec.StreamInfo, 0, numStreams)
	for i := 0; i < int(numStreams); i++ {
		s, err := readStreamInfo(bridge, i)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}
	d.streams = streams
	return streams, nil
}

func (d *Demuxer) ReadPacket() (codec.Packet, error) {
	var streamIndex uint8
	if err := readUint8(d.bridge, &streamIndex); err != nil {
		return codec.Packet{}, err
	}
	var pts int64
	if err := binary.Read(d.bridge, binary.BigEndian, &pts); err != nil {
		return codec.Packet{}, unexpectedToAgain(err)
	}
	var dataLen uint32
	if err := binary.Read(d.bridge, binary.BigEndian, &dataLen); err != nil {
		return codec.Packet{}, unexpectedToAgain(err)
	}
	data := make([]byte, dataLen)
	if err := readFull(d.bridge, data); err != nil {
		return codec.Packet{}, unexpectedToAgain(err)
	}
	if int(streamIndex) >= len(d.streams) {
		return codec.Packet{}, fmt.Errorf("refcodec: packet references unknown stream %d", streamIndex)
	}
	return codec.Packet{StreamIndex: int(streamIndex), PTS: pts, Data: data}, nil
}

// Seek issues a byte-accurate seek on the underlying bridge. The reference
// container has no index, so every seek, whatever its timestamp, rewinds
// the bridge with SEEK_SET to the first packet record (just past the magic,
// the stream count and the stream descriptors). That is sufficient for the
// accurate-seek drop test (spec §8 S6) since frames are filtered by
// timestamp downstream regardless of where the demuxer resumed reading.
func (d *Demuxer) Seek(streamIndex int, tsUsec int64, backward bool) error {
	// Byte width of one descriptor as written by writeStreamInfo.
	const streamInfoSize = 1 + 8 + 4 + 4 + 1 + 4 + 1 + 4 + 8
	dataStart := int64(len(magic) + 1 + len(d.streams)*streamInfoSize)
	_, err := d.bridge.Seek(dataStart, io.SeekStart)
	return err
}

func (d *Demuxer) Close() error { return nil }

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return unexpectedToAgain(err)
}

func readUint8(r io.Reader, out *uint8) error {
	var b [1]byte
	if err := readFull(r, b[:]); err != nil {
		return err
	}
	*out = b[0]
	return nil
}

// unexpectedToAgain folds io.ErrUnexpectedEOF (a short read split across a
// codec.ErrAgain boundary) back into codec.ErrAgain so callers only ever
// see EOF, ErrAgain, or a hard error.
func unexpectedToAgain(err error) error {
	if err == io.ErrUnexpectedEOF {
		return codec.ErrAgain
	}
	return err
}

func readStreamInfo(r io.Reader, index int) (codec.StreamInfo, error) {
	var kind, pixFmt, sampleFmt uint8
	var timeBaseBits uint64
	var width, height, channels, sampleRate int32
	var durationTicks int64

	if err := readUint8(r, &kind); err != nil {
		return codec.StreamInfo{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &timeBaseBits); err != nil {
		return codec.StreamInfo{}, unexpectedToAgain(err)
	}
	if err := binary.Read(r, binary.BigEndian, &width); err != nil {
		return codec.StreamInfo{}, unexpectedToAgain(err)
	}
	if err := binary.Read(r, binary.BigEndian, &height); err != nil {
		return codec.StreamInfo{}, unexpectedToAgain(err)
	}
	if err := readUint8(r, &pixFmt); err != nil {
		return codec.StreamInfo{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &channels); err != nil {
		return codec.StreamInfo{}, unexpectedToAgain(err)
	}
	if err := readUint8(r, &sampleFmt); err != nil {
		return codec.StreamInfo{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &sampleRate); err != nil {
		return codec.StreamInfo{}, unexpectedToAgain(err)
	}
	if err := binary.Read(r, binary.BigEndian, &durationTicks); err != nil {
		return codec.StreamInfo{}, unexpectedToAgain(err)
	}

	return codec.StreamInfo{
		Index:         index,
		Kind:          codec.StreamKind(kind),
		TimeBase:      math.Float64frombits(timeBaseBits),
		Width:         int(width),
		Height:        int(height),
		PixFmt:        codec.PixelFormat(pixFmt),
		Channels:      int(channels),
		SampleFmt:     codec.SampleFormat(sampleFmt),
		SampleRate:    int(sampleRate),
		DurationTicks: durationTicks,
	}, nil
}
