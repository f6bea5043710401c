package refcodec

import (
	"fmt"

	"streamdecoder/internal/codec"
)

// Decoder is a reference single-frame-latency decoder: SendPacket treats
// the packet payload as already-raw sample/plane data (tightly packed per
// the stream's declared geometry) and the next ReceiveFrame hands it back
// as a decoded Frame. This is enough to exercise the engine's plane-copy,
// deinterleave, timestamp-drop and EAGAIN-handling logic without a real
// H.264/AAC implementation (spec §6 treats the codec library as opaque).
type Decoder struct {
	info    codec.StreamInfo
	pending *codec.Frame
}

// NewDecoder builds a reference decoder for one stream.
func NewDecoder(info codec.StreamInfo) (codec.Decoder, error) {
	return &Decoder{info: info}, nil
}

func (d *Decoder) SendPacket(p codec.Packet) error {
	if d.pending != nil {
		return fmt.Errorf("refcodec: decoder already has a pending frame")
	}
	frame := codec.Frame{
		StreamIndex:  p.StreamIndex,
		PTS:          p.PTS,
		SampleFormat: d.info.SampleFmt,
		PixelFormat:  d.info.PixFmt,
		Channels:     d.info.Channels,
	}
	switch d.info.Kind {
	case codec.StreamVideo:
		frame.Planes, frame.Linesize = splitYUV420Planes(p.Data, d.info.Width, d.info.Height)
	case codec.StreamAudio:
		frame.Planes, frame.NbSamples = splitAudioPlanes(p.Data, d.info.Channels, d.info.SampleFmt)
	}
	d.pending = &frame
	return nil
}

func (d *Decoder) ReceiveFrame() (codec.Frame, error) {
	if d.pending == nil {
		return codec.Frame{}, codec.ErrAgain
	}
	f := *d.pending
	d.pending = nil
	return f, nil
}

func (d *Decoder) Flush() { d.pending = nil }

func (d *Decoder) Close() error { return nil }

// splitYUV420Planes slices a tightly-packed I420 buffer (Y, then U, then V,
// each plane tightly strided to its own dimensions) into three planes.
func splitYUV420Planes(data []byte, width, height int) ([][]byte, []int) {
	ySize := width * height
	cWidth, cHeight := (width+1)/2, (height+1)/2
	cSize := cWidth * cHeight

	planes := make([][]byte, 3)
	linesize := []int{width, cWidth, cWidth}

	if len(data) < ySize+2*cSize {
		// Short packet: hand back whatever is present rather than panic;
		// the engine's pixel-format validation runs on the declared
		// format, not on payload length.
		planes[0] = data
		return planes, linesize
	}
	planes[0] = data[0:ySize]
	planes[1] = data[ySize : ySize+cSize]
	planes[2] = data[ySize+cSize : ySize+2*cSize]
	return planes, linesize
}

// splitAudioPlanes slices a packet payload into one plane per channel when
// the declared format is planar, or a single interleaved plane otherwise.
func splitAudioPlanes(data []byte, channels int, format codec.SampleFormat) ([][]byte, int) {
	bps := format.BytesPerSample()
	if bps == 0 || channels == 0 {
		return [][]byte{data}, 0
	}
	_, planar := format.Packed()
	if !planar {
		nbSamples := len(data) / (bps * channels)
		return [][]byte{data}, nbSamples
	}
	perChannel := len(data) / channels
	nbSamples := perChannel / bps
	planes := make([][]byte, channels)
	for ch := 0; ch < channels; ch++ {
		planes[ch] = data[ch*perChannel : (ch+1)*perChannel]
	}
	return planes, nbSamples
}
