package session

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const sweepInterval = 5 * time.Second

// Registry tracks every live session and periodically reconciles it
// against reality (spec §4.5a): sessions whose transport connection has
// gone away get force-closed, and orphaned temp files get removed.
// Grounded on state/channel_manager.go's map-under-RWMutex shape and
// services/sync_service.go's periodic-reconciliation ticker loop in the
// teacher repo.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	tempDir  string

	decodeSlots chan struct{}

	stop chan struct{}
	done sync.WaitGroup
}

// NewRegistry builds a registry that GCs orphaned tmp-*.mp4 files under
// tempDir during its sweep and bounds concurrently-Decoding sessions at
// maxConcurrentSessions (spec §5), mirroring the fixed-size worker pool the
// spec's original design used for decode ticks.
func NewRegistry(tempDir string, maxConcurrentSessions int) *Registry {
	if maxConcurrentSessions <= 0 {
		maxConcurrentSessions = 1
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		tempDir:     tempDir,
		decodeSlots: make(chan struct{}, maxConcurrentSessions),
	}
}

// TryAcquire reserves one of the bounded decode slots, returning false if
// the pool is already saturated (implements session.DecodeGate).
func (r *Registry) TryAcquire() bool {
	select {
	case r.decodeSlots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a previously-acquired decode slot. Safe to call only after
// a successful TryAcquire; callers track their own held/not-held state so
// Release is never called spuriously.
func (r *Registry) Release() {
	select {
	case <-r.decodeSlots:
	default:
	}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Remove unregisters a session, typically once its transport has torn
// down and Shutdown has already been called.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the live session for id, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Snapshot returns a diagnostics view of every live session (SPEC_FULL.md §4.5b).
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.SnapshotView())
	}
	return out
}

// Start launches the housekeeping sweep goroutine.
func (r *Registry) Start() {
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.done.Add(1)
	go r.run()
}

func (r *Registry) run() {
	defer r.done.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	var dead []*Session
	r.mu.RLock()
	for _, s := range r.sessions {
		if !s.IsActive() {
			dead = append(dead, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range dead {
		s.Shutdown()
		r.Remove(s.ID)
	}

	r.gcOrphanedTempFiles()
}

// gcOrphanedTempFiles removes tmp-<sessionID>-*.mp4 files whose session is
// no longer registered — leftovers from a connection that dropped before
// its own uninit ran.
func (r *Registry) gcOrphanedTempFiles() {
	if r.tempDir == "" {
		return
	}
	entries, err := os.ReadDir(r.tempDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "tmp-") || !strings.HasSuffix(name, ".mp4") {
			continue
		}
		id := sessionIDFromTempName(name)
		if id == "" {
			continue
		}
		if _, live := r.Get(id); live {
			continue
		}
		path := filepath.Join(r.tempDir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("registry: gc %s: %v", path, err)
		}
	}
}

// sessionIDFromTempName extracts the uuid out of "tmp-<id>-<millis>.mp4".
func sessionIDFromTempName(name string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "tmp-"), ".mp4")
	idx := strings.LastIndex(trimmed, "-")
	if idx <= 0 {
		return ""
	}
	return trimmed[:idx]
}

// Stop halts the sweep goroutine and force-shuts-down every remaining
// session, used on server shutdown.
func (r *Registry) Stop() {
	if r.stop != nil {
		close(r.stop)
		r.done.Wait()
		r.stop = nil
	}

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Shutdown()
	}
}
