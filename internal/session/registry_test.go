package session

import (
	"os"
	"path/filepath"
	"testing"

	"streamdecoder/internal/audit"
)

func TestSessionIDFromTempName(t *testing.T) {
	cases := map[string]string{
		"tmp-abc-123-456.mp4": "abc-123",
		"tmp-xyz-789.mp4":     "xyz",
		"tmp-nomillis.mp4":    "",
	}
	for name, want := range cases {
		if got := sessionIDFromTempName(name); got != want {
			t.Errorf("sessionIDFromTempName(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry(t.TempDir(), 4)
	s := New(t.TempDir(), &fakeSender{}, audit.NoopStore{}, nil, nil)
	r.Add(s)

	if _, ok := r.Get(s.ID); !ok {
		t.Fatal("expected session to be found after Add")
	}
	r.Remove(s.ID)
	if _, ok := r.Get(s.ID); ok {
		t.Fatal("expected session to be gone after Remove")
	}
}

func TestSweepForceClosesDeadSessionsAndRecordsAudit(t *testing.T) {
	rec := &recordingStore{}
	r := NewRegistry(t.TempDir(), 4)
	s := New(t.TempDir(), &fakeSender{}, rec, nil, nil)
	r.Add(s)

	// Simulate a dropped transport connection: active cleared without the
	// registry having been told to Remove the session yet.
	s.statsMu.Lock()
	s.active = false
	s.statsMu.Unlock()

	r.sweep()

	if _, ok := r.Get(s.ID); ok {
		t.Fatal("expected dead session to be removed by sweep")
	}
	if len(rec.records) != 1 {
		t.Fatalf("audit records after sweep = %d, want 1", len(rec.records))
	}
}

func TestSweepLeavesActiveSessionsAlone(t *testing.T) {
	r := NewRegistry(t.TempDir(), 4)
	s := New(t.TempDir(), &fakeSender{}, audit.NoopStore{}, nil, nil)
	r.Add(s)

	r.sweep()

	if _, ok := r.Get(s.ID); !ok {
		t.Fatal("expected active session to survive sweep")
	}
}

func TestGcOrphanedTempFilesRemovesOnlyUnknownSessions(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, 4)
	live := New(dir, &fakeSender{}, audit.NoopStore{}, nil, nil)
	r.Add(live)

	liveFile := filepath.Join(dir, "tmp-"+live.ID+"-111.mp4")
	orphanFile := filepath.Join(dir, "tmp-some-other-id-222.mp4")
	for _, p := range []string{liveFile, orphanFile} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	r.gcOrphanedTempFiles()

	if _, err := os.Stat(liveFile); err != nil {
		t.Fatalf("expected live session's temp file to survive gc, stat err: %v", err)
	}
	if _, err := os.Stat(orphanFile); !os.IsNotExist(err) {
		t.Fatalf("expected orphaned temp file to be removed, stat err: %v", err)
	}
}

func TestDecodeGateCapsConcurrentDecoding(t *testing.T) {
	r := NewRegistry(t.TempDir(), 1)

	if !r.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if r.TryAcquire() {
		t.Fatal("expected second acquire to fail at capacity 1")
	}
	r.Release()
	if !r.TryAcquire() {
		t.Fatal("expected acquire to succeed again after release")
	}
}

func TestSessionStartDecodeRejectedWhenGateSaturated(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, 1)
	r.Start()
	defer r.Stop()

	data := videoContainer(t, 1)
	s1 := New(dir, &fakeSender{}, audit.NoopStore{}, nil, r)
	s1.HandleText(cmdFrame(t, map[string]any{"cmd": "initDecoder", "fileSize": float64(len(data))}))
	s1.HandleBinary(data)
	s1.HandleText(cmdFrame(t, map[string]any{"cmd": "openDecoder", "hasVideo": true, "hasAudio": false}))
	s1.HandleText(cmdFrame(t, map[string]any{"cmd": "startDecode"}))

	sender2 := &fakeSender{}
	s2 := New(dir, sender2, audit.NoopStore{}, nil, r)
	s2.HandleText(cmdFrame(t, map[string]any{"cmd": "initDecoder", "fileSize": float64(len(data))}))
	s2.HandleBinary(data)
	s2.HandleText(cmdFrame(t, map[string]any{"cmd": "openDecoder", "hasVideo": true, "hasAudio": false}))
	s2.HandleText(cmdFrame(t, map[string]any{"cmd": "startDecode"}))

	reply := sender2.lastText()
	if reply["cmd"] != "startDecode" || int(reply["code"].(float64)) == 0 {
		t.Fatalf("expected startDecode to fail on the saturated gate, got %+v", reply)
	}

	s1.HandleText(cmdFrame(t, map[string]any{"cmd": "stopDecode"}))
	sender2.mu.Lock()
	sender2.texts = nil
	sender2.mu.Unlock()
	s2.HandleText(cmdFrame(t, map[string]any{"cmd": "startDecode"}))
	reply = sender2.lastText()
	if reply["cmd"] != "startDecode" || int(reply["code"].(float64)) != 0 {
		t.Fatalf("expected startDecode to succeed once the slot freed up, got %+v", reply)
	}
}

func TestRegistryStopShutsDownAllRemainingSessions(t *testing.T) {
	rec := &recordingStore{}
	r := NewRegistry(t.TempDir(), 4)
	s1 := New(t.TempDir(), &fakeSender{}, rec, nil, nil)
	s2 := New(t.TempDir(), &fakeSender{}, rec, nil, nil)
	r.Add(s1)
	r.Add(s2)

	r.Start()
	r.Stop()

	if len(rec.records) != 2 {
		t.Fatalf("audit records after Stop = %d, want 2", len(rec.records))
	}
	if s1.IsActive() || s2.IsActive() {
		t.Fatal("expected both sessions inactive after registry Stop")
	}
}
