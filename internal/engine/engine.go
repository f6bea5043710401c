// Package engine implements the per-session decode state machine (spec
// §4.3): init/open/start/sendData/seek/close/uninit, and the pullOne
// primitive the decode driver invokes on its tick. It is deliberately
// decoupled from the control-frame transport and from any concrete codec
// library — both arrive through the codec package's interfaces.
package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"

	"streamdecoder/internal/buffer"
	"streamdecoder/internal/codec"
	"streamdecoder/internal/container"
	"streamdecoder/internal/iobridge"
	"streamdecoder/internal/protocol"
)

const (
	defaultWaitHeaderLength = 512 * 1024
	headerScanLimit         = 2 * 1024 * 1024 // spec §4.2b: bounded scan over the first 2 MiB
	defaultCrashDumpTail    = 1024 * 1024     // spec §4.8: up to the last 1 MiB of the upload buffer
)

// VideoSink and AudioSink receive one encoded envelope per decoded frame
// (spec §4.3: "sinks MUST consume or copy synchronously"). RequestSink is
// invoked when the upload buffer cannot serve a read/seek and the client
// should be asked to resend from a given offset.
type VideoSink func(envelope []byte)
type AudioSink func(envelope []byte)
type RequestSink func(offset, available int64)

// Config wires an Engine to its upload-buffer storage and codec factories.
// TempDir backs file-mode sessions. Both factories must be set: nil ones
// are not replaced by a default.
type Config struct {
	TempDir        string
	SessionID      string
	DemuxerFactory codec.DemuxerFactory
	DecoderFactory codec.DecoderFactory
	// OnCodecError is an optional hook for surfacing decode-loop failures
	// to diagnostics (SPEC_FULL.md §4.8); never called on ordinary EAGAIN.
	OnCodecError func(err error)
}

// CodecInfo is what open() reports back to the client (spec §4.3).
type CodecInfo struct {
	DurationMs      int64
	VideoPixFmt     codec.PixelFormat
	VideoWidth      int
	VideoHeight     int
	AudioSampleFmt  codec.SampleFormat
	AudioChannels   int
	AudioSampleRate int
}

// Engine is one session's decode state machine. All public operations take
// the same mutex pullOne does, so the driver goroutine and the session's
// control-frame dispatch never race over decoder/demuxer state.
type Engine struct {
	cfg Config

	mu    sync.Mutex
	state State

	buf              buffer.UploadBuffer
	bridge           codec.Bridge
	demuxer          codec.Demuxer
	waitHeaderLength int64
	fileMode         bool
	headerBoxSeen    bool

	videoStream *codec.StreamInfo
	audioStream *codec.StreamInfo
	videoDec    codec.Decoder
	audioDec    codec.Decoder
	videoFmtBad bool

	videoSink   VideoSink
	audioSink   AudioSink
	requestSink RequestSink

	decoding        bool
	accurate        bool
	beginTimeOffset float64

	emitBuf []byte
	pcmBuf  []byte
}

// New builds an Engine in state Idle. It uses cfg as given and does not
// fill in missing factories; the session package supplies the refcodec
// ones.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, state: StateIdle}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Init allocates the upload buffer for the declared mode (spec §4.3/§4.1).
func (e *Engine) Init(fileSize int64, waitHeaderLength int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return protocol.NewError(protocol.InvalidState, "init called in state %s", e.state)
	}

	whl := defaultWaitHeaderLength
	if waitHeaderLength > 0 {
		whl = int(waitHeaderLength)
	}
	e.waitHeaderLength = int64(whl)

	if fileSize >= 0 {
		fb, err := buffer.NewFileBuffer(e.cfg.TempDir, e.cfg.SessionID, fileSize, e.onBufferRequestData)
		if err != nil {
			return protocol.NewError(protocol.OpenFileError, "init: %v", err)
		}
		e.buf = fb
		e.fileMode = true
	} else {
		e.buf = buffer.NewRingBuffer()
		e.fileMode = false
	}
	e.headerBoxSeen = false

	e.state = StateInitialized
	return nil
}

func (e *Engine) onBufferRequestData(offset, available int64) {
	if e.requestSink != nil {
		e.requestSink(offset, available)
	}
}

// Open runs the header probe and opens per-kind decoders (spec §4.3).
func (e *Engine) Open(hasVideo, hasAudio bool, videoSink VideoSink, audioSink AudioSink, requestSink RequestSink) (CodecInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInitialized {
		return CodecInfo{}, protocol.NewError(protocol.InvalidState, "open called in state %s", e.state)
	}

	e.videoSink = videoSink
	e.audioSink = audioSink
	e.requestSink = requestSink

	e.bridge = iobridge.New(e.buf)
	e.demuxer = e.cfg.DemuxerFactory()

	streams, err := e.demuxer.Open(e.bridge)
	if err != nil {
		if errors.Is(err, codec.ErrAgain) {
			// Not enough header bytes yet; ask the client for more and let
			// it retry open once sendData has delivered past waitHeaderLength
			// (spec §2's general requestData contract, generalized beyond
			// §4.1's file-mode seek-window wording to cover stream mode,
			// where no seek ever occurs before the first open attempt).
			if e.requestSink != nil {
				e.requestSink(e.buf.ReadPos(), e.buf.WritePos())
			}
			return CodecInfo{}, protocol.NewError(protocol.CodecError, "open: insufficient header data")
		}
		return CodecInfo{}, protocol.NewError(protocol.CodecError, "open: demux: %v", err)
	}

	var video, audio *codec.StreamInfo
	for i := range streams {
		s := streams[i]
		switch s.Kind {
		case codec.StreamVideo:
			if hasVideo && video == nil {
				video = &s
			}
		case codec.StreamAudio:
			if hasAudio && audio == nil {
				audio = &s
			}
		}
	}
	if hasVideo && video == nil {
		return CodecInfo{}, protocol.NewError(protocol.InvalidData, "open: no video stream found")
	}
	if hasAudio && audio == nil {
		return CodecInfo{}, protocol.NewError(protocol.InvalidData, "open: no audio stream found")
	}

	if video != nil {
		dec, err := e.cfg.DecoderFactory(*video)
		if err != nil {
			return CodecInfo{}, protocol.NewError(protocol.CodecError, "open: video decoder: %v", err)
		}
		e.videoDec = dec
		e.videoStream = video
	}
	if audio != nil {
		dec, err := e.cfg.DecoderFactory(*audio)
		if err != nil {
			return CodecInfo{}, protocol.NewError(protocol.CodecError, "open: audio decoder: %v", err)
		}
		e.audioDec = dec
		e.audioStream = audio
	}

	primary := 0
	if video != nil {
		primary = video.Index
	} else if audio != nil {
		primary = audio.Index
	}
	_ = e.demuxer.Seek(primary, 0, true) // initial seek-to-zero; best-effort

	info := CodecInfo{}
	if video != nil {
		info.VideoPixFmt = video.PixFmt
		info.VideoWidth = video.Width
		info.VideoHeight = video.Height
		info.DurationMs = durationMs(*video, info.DurationMs)
	}
	if audio != nil {
		packed, _ := audio.SampleFmt.Packed()
		info.AudioSampleFmt = packed
		info.AudioChannels = audio.Channels
		info.AudioSampleRate = audio.SampleRate
		info.DurationMs = durationMs(*audio, info.DurationMs)
	}

	e.state = StateOpened
	return info, nil
}

// durationMs converts a stream's tick-based duration to milliseconds,
// rounded up to the next 5 ms, keeping whichever of video/audio is longer.
func durationMs(s codec.StreamInfo, current int64) int64 {
	secs := float64(s.DurationTicks) * s.TimeBase
	ms := int64(math.Ceil(secs*1000/5) * 5)
	if ms > current {
		return ms
	}
	return current
}

// Start toggles the decoding flag (spec §4.3: "independent of state; safe
// to toggle in Opened or Decoding").
func (e *Engine) Start(flag bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateOpened && e.state != StateDecoding {
		return protocol.NewError(protocol.InvalidState, "start called in state %s", e.state)
	}
	e.decoding = flag
	if flag {
		e.state = StateDecoding
	} else {
		e.state = StateOpened
	}
	return nil
}

// SendData appends received bytes to the upload buffer (spec §4.3/§4.1).
func (e *Engine) SendData(data []byte) error {
	e.mu.Lock()
	buf := e.buf
	state := e.state
	fileMode := e.fileMode
	headerSeen := e.headerBoxSeen
	e.mu.Unlock()

	if state != StateInitialized && state != StateOpened && state != StateDecoding {
		return protocol.NewError(protocol.InvalidState, "sendData called in state %s", state)
	}
	if buf == nil {
		return protocol.NewError(protocol.NullPointer, "sendData before init")
	}
	if _, err := buf.Append(data); err != nil {
		return protocol.NewError(protocol.Other, "sendData: %v", err)
	}

	if fileMode && !headerSeen {
		e.scanForHeaderBox(buf)
	}
	return nil
}

// scanForHeaderBox runs the bounded box scan (spec §4.2b) over whatever has
// landed in the first headerScanLimit bytes of a file-mode buffer and logs
// once when an ftyp or moov box becomes visible. It reads via PeekHeader so
// it never disturbs the read cursor the demuxer depends on.
func (e *Engine) scanForHeaderBox(buf buffer.UploadBuffer) {
	peeker, ok := buf.(buffer.HeaderPeeker)
	if !ok {
		return
	}
	data, err := peeker.PeekHeader(headerScanLimit)
	if err != nil || len(data) == 0 {
		return
	}
	headers, err := container.ScanBoxes(bytes.NewReader(data))
	if err != nil || !container.HasHeaderBox(headers) {
		return
	}

	e.mu.Lock()
	alreadyLogged := e.headerBoxSeen
	e.headerBoxSeen = true
	e.mu.Unlock()
	if !alreadyLogged {
		log.Printf("engine %s: container header box visible after %d bytes", e.cfg.SessionID, len(data))
	}
}

// Tail returns a snapshot of the last up to defaultCrashDumpTail bytes of
// unconsumed upload-buffer bytes, for the crash-dump archiver (spec §4.8's
// CrashDump.Body: "the unconsumed tail of the upload buffer"). Returns nil
// if there is no buffer yet or the buffer doesn't support peeking.
func (e *Engine) Tail() io.Reader {
	e.mu.Lock()
	buf := e.buf
	e.mu.Unlock()

	if buf == nil {
		return nil
	}
	peeker, ok := buf.(buffer.TailPeeker)
	if !ok {
		return nil
	}
	data := peeker.PeekTail(defaultCrashDumpTail)
	if len(data) == 0 {
		return nil
	}
	return bytes.NewReader(data)
}

// Seek performs an absolute seek and arms accurate-mode frame dropping
// (spec §4.3).
func (e *Engine) Seek(ms int64, accurate bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateOpened && e.state != StateDecoding {
		return protocol.NewError(protocol.InvalidState, "seek called in state %s", e.state)
	}
	if e.demuxer == nil {
		return protocol.NewError(protocol.NullPointer, "seek before open")
	}

	primary := 0
	if e.videoStream != nil {
		primary = e.videoStream.Index
	} else if e.audioStream != nil {
		primary = e.audioStream.Index
	}

	tsUsec := ms * 1000
	if err := e.demuxer.Seek(primary, tsUsec, true); err != nil && !errors.Is(err, codec.ErrAgain) {
		return protocol.NewError(protocol.CodecError, "seek: %v", err)
	}

	if e.videoDec != nil {
		e.videoDec.Flush()
	}
	if e.audioDec != nil {
		e.audioDec.Flush()
	}
	_, _ = e.demuxer.ReadPacket() // arm the bridge; errors here are routine

	e.accurate = accurate
	e.beginTimeOffset = float64(ms) / 1000.0
	e.videoFmtBad = false
	return nil
}

// Close tears down decoders/demuxer but keeps the upload buffer alive
// (spec §4.3: "releases the I/O bridge buffer, closes the demuxer").
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateOpened && e.state != StateDecoding {
		return protocol.NewError(protocol.InvalidState, "close called in state %s", e.state)
	}
	if e.videoDec != nil {
		e.videoDec.Close()
		e.videoDec = nil
	}
	if e.audioDec != nil {
		e.audioDec.Close()
		e.audioDec = nil
	}
	if e.demuxer != nil {
		e.demuxer.Close()
		e.demuxer = nil
	}
	e.bridge = nil
	e.videoStream = nil
	e.audioStream = nil
	e.decoding = false
	e.state = StateInitialized
	return nil
}

// Uninit releases the upload buffer's backing storage (spec §4.3).
func (e *Engine) Uninit() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInitialized {
		return protocol.NewError(protocol.InvalidState, "uninit called in state %s", e.state)
	}
	if e.buf != nil {
		if err := e.buf.Close(); err != nil {
			return protocol.NewError(protocol.Other, "uninit: %v", err)
		}
		e.buf = nil
	}
	e.state = StateIdle
	return nil
}

// PullOne is the decode-loop primitive the driver ticks (spec §4.3).
// It returns nil on every routine outcome (nothing to do, EAGAIN, EOF);
// callers that want to know EOF happened can watch State() for no change
// plus repeated no-op ticks, matching the spec's "EOF ... is terminal but
// does not itself transition engine state" note in §9.
func (e *Engine) PullOne() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateDecoding || !e.decoding || e.demuxer == nil {
		return nil
	}
	if e.buf.WritePos()-e.buf.ReadPos() <= 0 {
		return nil
	}

	pkt, err := e.demuxer.ReadPacket()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, codec.ErrAgain) {
			return nil
		}
		e.reportCodecError(fmt.Errorf("pullOne: demux read: %w", err))
		return nil
	}

	var dec codec.Decoder
	var stream *codec.StreamInfo
	switch {
	case e.videoStream != nil && pkt.StreamIndex == e.videoStream.Index:
		dec, stream = e.videoDec, e.videoStream
	case e.audioStream != nil && pkt.StreamIndex == e.audioStream.Index:
		dec, stream = e.audioDec, e.audioStream
	default:
		return nil // packet for a stream we didn't open; ignore
	}

	if err := dec.SendPacket(pkt); err != nil {
		e.reportCodecError(fmt.Errorf("pullOne: send packet: %w", err))
		return nil
	}

	for {
		frame, err := dec.ReceiveFrame()
		if err != nil {
			if !errors.Is(err, codec.ErrAgain) {
				e.reportCodecError(fmt.Errorf("pullOne: receive frame: %w", err))
			}
			break
		}
		e.emitFrame(stream, frame)
	}
	return nil
}

func (e *Engine) reportCodecError(err error) {
	if e.cfg.OnCodecError != nil {
		e.cfg.OnCodecError(err)
	}
}

func (e *Engine) emitFrame(stream *codec.StreamInfo, frame codec.Frame) {
	ts := float64(frame.PTS) * stream.TimeBase

	if stream.Kind == codec.StreamVideo {
		if frame.PixelFormat != codec.PixelFormatYUV420P && frame.PixelFormat != codec.PixelFormatYUVJ420P {
			if !e.videoFmtBad {
				e.videoFmtBad = true
				e.reportCodecError(protocol.NewError(protocol.InvalidFormat, "unsupported pixel format %v", frame.PixelFormat))
			}
			return
		}
	}

	if e.accurate && ts < e.beginTimeOffset {
		return // dropped as an OldFrame; never surfaced to the client
	}

	switch stream.Kind {
	case codec.StreamVideo:
		payload := compactPlanes(frame.Planes, frame.Linesize, stream.Width, stream.Height)
		e.emitBuf = protocol.EncodeEnvelope(e.emitBuf, protocol.KindVideo, ts, payload)
		if e.videoSink != nil {
			e.videoSink(e.emitBuf)
		}
	case codec.StreamAudio:
		payload := e.interleaveAudio(frame)
		e.emitBuf = protocol.EncodeEnvelope(e.emitBuf, protocol.KindAudio, ts, payload)
		if e.audioSink != nil {
			e.audioSink(e.emitBuf)
		}
	}
}

// interleaveAudio deinterleaves planar frames into a single packed buffer
// (spec §4.3: "if the native format is planar, interleave samples across
// channels"), growing the scratch buffer as needed.
func (e *Engine) interleaveAudio(frame codec.Frame) []byte {
	bps := frame.SampleFormat.BytesPerSample()
	_, planar := frame.SampleFormat.Packed()
	needed := frame.NbSamples * frame.Channels * bps
	needed = ((needed + 3) / 4) * 4
	if cap(e.pcmBuf) < needed {
		e.pcmBuf = make([]byte, needed)
	}
	out := e.pcmBuf[:needed]

	if !planar || len(frame.Planes) <= 1 {
		src := frame.Planes[0]
		n := copy(out, src)
		for i := n; i < needed; i++ {
			out[i] = 0
		}
		return out
	}

	for s := 0; s < frame.NbSamples; s++ {
		for ch := 0; ch < frame.Channels; ch++ {
			srcOff := s * bps
			dstOff := (s*frame.Channels + ch) * bps
			if srcOff+bps > len(frame.Planes[ch]) || dstOff+bps > len(out) {
				continue
			}
			copy(out[dstOff:dstOff+bps], frame.Planes[ch][srcOff:srcOff+bps])
		}
	}
	return out
}

// compactPlanes copies each plane row-by-row from its decoder-reported
// linesize stride down to its declared width, concatenating Y, U, V in
// order (spec §4.3: "copy Y/U/V planes plane-by-plane ... stride-compacted").
func compactPlanes(planes [][]byte, linesize []int, width, height int) []byte {
	dims := [][2]int{{width, height}, {(width + 1) / 2, (height + 1) / 2}, {(width + 1) / 2, (height + 1) / 2}}
	var total int
	for i := range planes {
		if i >= len(dims) {
			break
		}
		total += dims[i][0] * dims[i][1]
	}
	out := make([]byte, 0, total)
	for i, plane := range planes {
		if i >= len(dims) {
			break
		}
		w, h := dims[i][0], dims[i][1]
		stride := w
		if i < len(linesize) && linesize[i] > 0 {
			stride = linesize[i]
		}
		for row := 0; row < h; row++ {
			start := row * stride
			end := start + w
			if end > len(plane) {
				end = len(plane)
			}
			if start > len(plane) {
				start = len(plane)
			}
			out = append(out, plane[start:end]...)
			if end-start < w {
				out = append(out, make([]byte, w-(end-start))...)
			}
		}
	}
	return out
}
