package refcodec

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"streamdecoder/internal/buffer"
	"streamdecoder/internal/codec"
	"streamdecoder/internal/iobridge"
)

func sampleStreams() []codec.StreamInfo {
	return []codec.StreamInfo{
		{
			Index: 0, Kind: codec.StreamVideo, TimeBase: 1.0 / 30,
			Width: 4, Height: 4, PixFmt: codec.PixelFormatYUV420P,
			DurationTicks: 90,
		},
		{
			Index: 1, Kind: codec.StreamAudio, TimeBase: 1.0 / 48000,
			Channels: 2, SampleFmt: codec.SampleFormatS16,
			SampleRate: 48000, DurationTicks: 144000,
		},
	}
}

func yuvPacket(w, h int) []byte {
	ySize := w * h
	cSize := (w / 2) * (h / 2)
	return make([]byte, ySize+2*cSize)
}

func TestDemuxerOpenDiscoversStreams(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteContainer(&buf, sampleStreams(), nil); err != nil {
		t.Fatalf("write container: %v", err)
	}

	fb, err := buffer.NewFileBuffer(t.TempDir(), "t1", int64(buf.Len()), nil)
	if err != nil {
		t.Fatalf("new filebuffer: %v", err)
	}
	defer fb.Close()
	if _, err := fb.Append(buf.Bytes()); err != nil {
		t.Fatalf("append: %v", err)
	}

	d := New()
	streams, err := d.Open(iobridge.New(fb))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(streams))
	}
	if streams[0].Kind != codec.StreamVideo || streams[1].Kind != codec.StreamAudio {
		t.Fatalf("stream kinds = %+v", streams)
	}
}

func TestDemuxerReadPacketThenEOF(t *testing.T) {
	packets := []codec.Packet{
		{StreamIndex: 0, PTS: 0, Data: yuvPacket(4, 4)},
		{StreamIndex: 0, PTS: 3, Data: yuvPacket(4, 4)},
	}
	var buf bytes.Buffer
	if err := WriteContainer(&buf, sampleStreams(), packets); err != nil {
		t.Fatalf("write container: %v", err)
	}

	fb, err := buffer.NewFileBuffer(t.TempDir(), "t2", int64(buf.Len()), nil)
	if err != nil {
		t.Fatalf("new filebuffer: %v", err)
	}
	defer fb.Close()
	if _, err := fb.Append(buf.Bytes()); err != nil {
		t.Fatalf("append: %v", err)
	}

	d := New()
	if _, err := d.Open(iobridge.New(fb)); err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 2; i++ {
		pkt, err := d.ReadPacket()
		if err != nil {
			t.Fatalf("readPacket %d: %v", i, err)
		}
		if pkt.StreamIndex != 0 || pkt.PTS != packets[i].PTS {
			t.Fatalf("packet %d = %+v, want pts %d", i, pkt, packets[i].PTS)
		}
	}

	if _, err := d.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("readPacket past end = %v, want io.EOF", err)
	}
}

func TestDecoderSendReceiveRoundTrip(t *testing.T) {
	info := codec.StreamInfo{Kind: codec.StreamVideo, PixFmt: codec.PixelFormatYUV420P, Width: 4, Height: 4}
	dec, err := NewDecoder(info)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	if err := dec.SendPacket(codec.Packet{PTS: 7, Data: yuvPacket(4, 4)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	frame, err := dec.ReceiveFrame()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if frame.PTS != 7 || len(frame.Planes) != 3 {
		t.Fatalf("frame = %+v, want pts 7 and 3 planes", frame)
	}

	if _, err := dec.ReceiveFrame(); !errors.Is(err, codec.ErrAgain) {
		t.Fatalf("second receive = %v, want ErrAgain", err)
	}
}

func TestDecoderAudioInterleaveDetection(t *testing.T) {
	info := codec.StreamInfo{Kind: codec.StreamAudio, Channels: 2, SampleFmt: codec.SampleFormatS16Planar}
	dec, err := NewDecoder(info)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	// 4 samples/channel, 2 channels, 2 bytes/sample, planar layout.
	data := make([]byte, 4*2*2)
	if err := dec.SendPacket(codec.Packet{Data: data}); err != nil {
		t.Fatalf("send: %v", err)
	}
	frame, err := dec.ReceiveFrame()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(frame.Planes) != 2 {
		t.Fatalf("planes = %d, want 2 for planar audio", len(frame.Planes))
	}
	if frame.NbSamples != 4 {
		t.Fatalf("nbSamples = %d, want 4", frame.NbSamples)
	}
}
