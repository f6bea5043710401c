package session

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"streamdecoder/internal/audit"
	"streamdecoder/internal/codec"
	"streamdecoder/internal/codec/refcodec"
)

type fakeSender struct {
	mu     sync.Mutex
	texts  [][]byte
	binary [][]byte
}

func (f *fakeSender) SendText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.texts = append(f.texts, cp)
	return nil
}

func (f *fakeSender) SendBinary(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.binary = append(f.binary, cp)
	return nil
}

func (f *fakeSender) lastText() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return nil
	}
	var m map[string]any
	json.Unmarshal(f.texts[len(f.texts)-1], &m)
	return m
}

func videoContainer(t *testing.T, frames int) []byte {
	t.Helper()
	streams := []codec.StreamInfo{{
		Index: 0, Kind: codec.StreamVideo, TimeBase: 1.0 / 30,
		Width: 4, Height: 4, PixFmt: codec.PixelFormatYUV420P,
		DurationTicks: int64(frames) * 3,
	}}
	var packets []codec.Packet
	for i := 0; i < frames; i++ {
		data := make([]byte, 4*4+2*2*2)
		packets = append(packets, codec.Packet{StreamIndex: 0, PTS: int64(i) * 3, Data: data})
	}
	var buf bytes.Buffer
	if err := refcodec.WriteContainer(&buf, streams, packets); err != nil {
		t.Fatalf("write container: %v", err)
	}
	return buf.Bytes()
}

func cmdFrame(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestSessionUnknownCommandIsIgnored(t *testing.T) {
	sender := &fakeSender{}
	s := New(t.TempDir(), sender, audit.NoopStore{}, nil, nil)
	s.HandleText(cmdFrame(t, map[string]any{"cmd": "doSomethingWeird"}))
	if len(sender.texts) != 0 {
		t.Fatalf("expected no reply for unknown command, got %d", len(sender.texts))
	}
}

func TestSessionMissingFieldProducesErrorReply(t *testing.T) {
	sender := &fakeSender{}
	s := New(t.TempDir(), sender, audit.NoopStore{}, nil, nil)
	s.HandleText(cmdFrame(t, map[string]any{"cmd": "initDecoder"})) // missing fileSize

	reply := sender.lastText()
	if reply == nil {
		t.Fatal("expected an error reply")
	}
	if reply["cmd"] != "initDecoder" {
		t.Fatalf("reply cmd = %v, want initDecoder", reply["cmd"])
	}
	if int(reply["code"].(float64)) != 1 { // InvalidParam
		t.Fatalf("reply code = %v, want 1 (InvalidParam)", reply["code"])
	}
}

func TestSessionFullLifecycleEmitsFramesAndReturnsToIdle(t *testing.T) {
	data := videoContainer(t, 2)
	sender := &fakeSender{}
	s := New(t.TempDir(), sender, audit.NoopStore{}, nil, nil)

	s.HandleText(cmdFrame(t, map[string]any{"cmd": "initDecoder", "fileSize": float64(len(data))}))
	s.HandleBinary(data)
	s.HandleText(cmdFrame(t, map[string]any{"cmd": "openDecoder", "hasVideo": true, "hasAudio": false}))

	reply := sender.lastText()
	if reply["cmd"] != "openDecoder" || int(reply["code"].(float64)) != 0 {
		t.Fatalf("openDecoder reply = %+v", reply)
	}

	s.HandleText(cmdFrame(t, map[string]any{"cmd": "startDecode"}))
	for i := 0; i < 5; i++ {
		s.eng.PullOne()
	}

	sender.mu.Lock()
	nBinary := len(sender.binary)
	sender.mu.Unlock()
	if nBinary != 2 {
		t.Fatalf("binary frames sent = %d, want 2", nBinary)
	}

	s.HandleText(cmdFrame(t, map[string]any{"cmd": "stopDecode"}))
	s.HandleText(cmdFrame(t, map[string]any{"cmd": "closeDecoder"}))
	s.HandleText(cmdFrame(t, map[string]any{"cmd": "uninitDecoder"}))

	view := s.SnapshotView()
	if view.State != "Idle" {
		t.Fatalf("state after full lifecycle = %s, want Idle", view.State)
	}
}

func TestSessionShutdownIsIdempotentAndRecordsAudit(t *testing.T) {
	rec := &recordingStore{}
	sender := &fakeSender{}
	s := New(t.TempDir(), sender, rec, nil, nil)
	s.HandleText(cmdFrame(t, map[string]any{"cmd": "initDecoder", "fileSize": float64(10)}))

	s.Shutdown()
	s.Shutdown() // idempotent

	if len(rec.records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(rec.records))
	}
	if s.IsActive() {
		t.Fatal("expected session inactive after Shutdown")
	}
}

type recordingStore struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *recordingStore) RecordSession(rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}
func (r *recordingStore) RecordError(audit.ErrorEvent) {}
func (r *recordingStore) Close() error                 { return nil }
