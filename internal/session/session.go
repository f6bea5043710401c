// Package session holds one connection's decode state machine and
// dispatches its control-frame command table (spec §4.5) onto an engine.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamdecoder/internal/audit"
	"streamdecoder/internal/codec"
	"streamdecoder/internal/codec/refcodec"
	"streamdecoder/internal/diagnostics"
	"streamdecoder/internal/engine"
	"streamdecoder/internal/protocol"
)

// Sender is the transport-facing half of a session: however the control
// and data frames actually reach the client. Implemented by
// transport.wsConn; kept as an interface here so session has no
// dependency on gorilla/websocket.
type Sender interface {
	SendText(data []byte) error
	SendBinary(data []byte) error
}

// DecodeGate bounds how many sessions may be in StateDecoding at once
// (spec §5's fixed-size-worker-pool equivalent, config.MaxConcurrentSessions).
// Implemented by *Registry. A nil gate (tests that don't care about the
// cap) leaves startDecode ungated.
type DecodeGate interface {
	TryAcquire() bool
	Release()
}

// Session is one connection's worth of decode state. All control-frame
// handling on a session happens on the transport's single read goroutine,
// so Session itself does not need a mutex for command dispatch — only the
// stats snapshot read by the diagnostics endpoint and registry sweep does.
type Session struct {
	ID     string
	sender Sender
	eng    *engine.Engine
	driver *engine.Driver
	auditS audit.Store
	archiv *diagnostics.Archiver
	gate   DecodeGate

	shutdownOnce sync.Once

	statsMu         sync.Mutex
	mode            string
	openedAt        time.Time
	bytesIn         int64
	videoFrames     int64
	audioFrames     int64
	active          bool
	holdsDecodeSlot bool
}

// New constructs a Session in engine state Idle, wired to sender for
// outbound frames and to the shared audit/diagnostics backends. gate may be
// nil, in which case startDecode is never capacity-limited.
func New(tempDir string, sender Sender, auditS audit.Store, archiv *diagnostics.Archiver, gate DecodeGate) *Session {
	id := uuid.New().String()
	s := &Session{
		ID:       id,
		sender:   sender,
		auditS:   auditS,
		archiv:   archiv,
		gate:     gate,
		openedAt: time.Now(),
		active:   true,
	}
	s.eng = engine.New(engine.Config{
		TempDir:        tempDir,
		SessionID:      id,
		DemuxerFactory: func() codec.Demuxer { return refcodec.New() },
		DecoderFactory: refcodec.NewDecoder,
		OnCodecError:   s.onCodecError,
	})
	s.driver = engine.NewDriver(s.eng)
	return s
}

func (s *Session) onCodecError(err error) {
	de := protocol.AsError(err)
	log.Printf("session %s: codec error: %v", s.ID, de)
	s.auditS.RecordError(audit.ErrorEvent{SessionID: s.ID, Code: int(de.Code), Message: de.Msg, At: time.Now()})
	if s.archiv != nil && s.archiv.Enabled() {
		tail := s.eng.Tail()
		go s.archiv.ArchiveError(context.Background(), s.ID, tail, de)
	}
}

// HandleText parses and dispatches one text control frame (spec §4.5/§4.6).
func (s *Session) HandleText(raw []byte) {
	frame, err := protocol.ParseFrame(raw)
	if err != nil {
		s.sendError("", err)
		return
	}

	var replyErr error
	reply := protocol.NewReply(frame.Cmd)

	switch frame.Cmd {
	case "initDecoder":
		replyErr = s.handleInit(frame)
	case "uninitDecoder":
		replyErr = s.eng.Uninit()
	case "openDecoder":
		replyErr = s.handleOpen(frame, reply)
	case "closeDecoder":
		replyErr = s.eng.Close()
		s.releaseDecodeSlot()
	case "startDecode":
		replyErr = s.startDecode()
	case "stopDecode":
		replyErr = s.eng.Start(false)
		s.releaseDecodeSlot()
	case "seek":
		replyErr = s.handleSeek(frame)
	default:
		log.Printf("session %s: unknown command %q, ignoring", s.ID, frame.Cmd)
		return
	}

	if replyErr != nil {
		s.sendError(frame.Cmd, replyErr)
		return
	}
	reply.Set("code", int(protocol.Success))
	if b, err := reply.Marshal(); err == nil {
		_ = s.sender.SendText(b)
	}
}

func (s *Session) handleInit(frame *protocol.Frame) error {
	fileSize, err := frame.Int64("fileSize")
	if err != nil {
		return err
	}
	waitHeaderLength := frame.OptionalInt64("waitHeaderLength", 0)
	if err := s.eng.Init(fileSize, waitHeaderLength); err != nil {
		return err
	}
	s.statsMu.Lock()
	if fileSize >= 0 {
		s.mode = "file"
	} else {
		s.mode = "stream"
	}
	s.statsMu.Unlock()
	return nil
}

func (s *Session) handleOpen(frame *protocol.Frame, reply *protocol.Reply) error {
	hasVideo, err := frame.Bool("hasVideo")
	if err != nil {
		return err
	}
	hasAudio, err := frame.Bool("hasAudio")
	if err != nil {
		return err
	}

	info, err := s.eng.Open(hasVideo, hasAudio, s.emitVideo, s.emitAudio, s.requestData)
	if err != nil {
		return err
	}

	reply.Set("duration", info.DurationMs).
		Set("videoPixFmt", int(info.VideoPixFmt)).
		Set("videoWidth", info.VideoWidth).
		Set("videoHeight", info.VideoHeight).
		Set("audioSampleFmt", int(info.AudioSampleFmt)).
		Set("audioChannels", info.AudioChannels).
		Set("audioSampleRate", info.AudioSampleRate)

	s.driver.Start()
	return nil
}

func (s *Session) emitVideo(envelope []byte) {
	s.statsMu.Lock()
	s.videoFrames++
	s.statsMu.Unlock()
	if err := s.sender.SendBinary(envelope); err != nil {
		log.Printf("session %s: send video frame: %v", s.ID, err)
	}
}

func (s *Session) emitAudio(envelope []byte) {
	s.statsMu.Lock()
	s.audioFrames++
	s.statsMu.Unlock()
	if err := s.sender.SendBinary(envelope); err != nil {
		log.Printf("session %s: send audio frame: %v", s.ID, err)
	}
}

func (s *Session) requestData(offset, available int64) {
	b, err := protocol.RequestDataFrame(offset, available)
	if err != nil {
		return
	}
	_ = s.sender.SendText(b)
}

// HandleBinary treats an inbound binary frame as sendData (spec §4.5).
func (s *Session) HandleBinary(data []byte) {
	s.statsMu.Lock()
	s.bytesIn += int64(len(data))
	s.statsMu.Unlock()
	if err := s.eng.SendData(data); err != nil {
		s.sendError("sendData", err)
	}
}

func (s *Session) sendError(cmd string, err error) {
	de := protocol.AsError(err)
	b, mErr := protocol.ErrorReply(cmd, de)
	if mErr != nil {
		return
	}
	_ = s.sender.SendText(b)
}

// startDecode acquires this process's bounded decode slot before letting
// the engine transition into StateDecoding (spec §5: a fixed-size pool
// bounds concurrently-decoding sessions, default 4). Holding the slot
// across repeated startDecode calls is idempotent — only the first call
// after a release actually acquires.
func (s *Session) startDecode() error {
	if s.gate != nil {
		s.statsMu.Lock()
		held := s.holdsDecodeSlot
		s.statsMu.Unlock()
		if !held {
			if !s.gate.TryAcquire() {
				return protocol.NewError(protocol.Other, "max concurrent decoding sessions reached")
			}
			s.statsMu.Lock()
			s.holdsDecodeSlot = true
			s.statsMu.Unlock()
		}
	}
	if err := s.eng.Start(true); err != nil {
		s.releaseDecodeSlot()
		return err
	}
	return nil
}

// releaseDecodeSlot frees this session's decode slot, if held. Safe to call
// unconditionally (stopDecode, closeDecoder, Shutdown all call it).
func (s *Session) releaseDecodeSlot() {
	if s.gate == nil {
		return
	}
	s.statsMu.Lock()
	held := s.holdsDecodeSlot
	s.holdsDecodeSlot = false
	s.statsMu.Unlock()
	if held {
		s.gate.Release()
	}
}

func (s *Session) handleSeek(frame *protocol.Frame) error {
	ms, err := frame.Int64("ms")
	if err != nil {
		return err
	}
	accurate := frame.OptionalBool("accurate", false)
	return s.eng.Seek(ms, accurate)
}

// Shutdown force-closes the session's engine regardless of its current
// state, used by the registry sweep and by transport teardown. It never
// returns an error: whatever state the engine is in, Shutdown drives it
// back to Idle best-effort.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.releaseDecodeSlot()
		s.driver.Stop()
		st := s.eng.State()
		if st == engine.StateDecoding || st == engine.StateOpened {
			_ = s.eng.Close()
		}
		if s.eng.State() == engine.StateInitialized {
			_ = s.eng.Uninit()
		}

		s.statsMu.Lock()
		s.active = false
		rec := audit.Record{
			SessionID:   s.ID,
			Mode:        s.mode,
			OpenedAt:    s.openedAt,
			ClosedAt:    time.Now(),
			BytesIn:     s.bytesIn,
			VideoFrames: s.videoFrames,
			AudioFrames: s.audioFrames,
		}
		s.statsMu.Unlock()

		s.auditS.RecordSession(rec)
	})
}

// IsActive reports whether the transport connection backing this session
// is still believed to be live (cleared by Shutdown).
func (s *Session) IsActive() bool {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.active
}

// Snapshot is the diagnostics-endpoint view of a session (SPEC_FULL.md §4.5b).
type Snapshot struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	Mode          string `json:"mode"`
	BytesBuffered int64  `json:"bytesBuffered"`
	Decoding      bool   `json:"decoding"`
}

// SnapshotView builds a read-only diagnostics view of the session's current state.
func (s *Session) SnapshotView() Snapshot {
	st := s.eng.State()
	s.statsMu.Lock()
	mode := s.mode
	s.statsMu.Unlock()
	return Snapshot{
		ID:            s.ID,
		State:         st.String(),
		Mode:          mode,
		BytesBuffered: s.bytesBuffered(),
		Decoding:      st == engine.StateDecoding,
	}
}

func (s *Session) bytesBuffered() int64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.bytesIn
}
