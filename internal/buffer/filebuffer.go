package buffer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileBuffer is the bounded, random-access upload buffer for a connection
// that declared a known container size at init (spec §3 FileMode).
// Grounded on services/broadcaster.go's direct os.Open/Seek/ReadAt file
// plumbing in the teacher repo.
type FileBuffer struct {
	mu sync.Mutex

	size                 int64
	path                 string
	file                 *os.File
	writePos             int64
	readPos              int64
	lastRequestedOffset  int64
	onRequestData        RequestDataFunc
}

// NewFileBuffer creates the backing temp file "tmp-<sessionID>-
// <monotonic-ms>.mp4" in dir and returns a ready buffer.
func NewFileBuffer(dir string, sessionID string, size int64, onRequestData RequestDataFunc) (*FileBuffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("filebuffer: negative size %d", size)
	}
	name := fmt.Sprintf("tmp-%s-%d.mp4", sessionID, time.Now().UnixMilli())
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filebuffer: create temp file: %w", err)
	}
	return &FileBuffer{
		size:          size,
		path:          path,
		file:          f,
		onRequestData: onRequestData,
	}, nil
}

func (b *FileBuffer) Append(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.size - b.writePos
	if room <= 0 {
		return 0, nil // overflow beyond declared size is silently discarded
	}
	n := int64(len(p))
	if n > room {
		n = room
	}
	if _, err := b.file.WriteAt(p[:n], b.writePos); err != nil {
		return 0, fmt.Errorf("filebuffer: write: %w", err)
	}
	b.writePos += n
	return int(n), nil
}

func (b *FileBuffer) Read(dst []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	avail := b.writePos - b.readPos
	if avail <= 0 {
		if b.readPos >= b.size {
			return 0, io.EOF // every declared byte has been consumed
		}
		return 0, nil // non-blocking: nothing available yet, more may arrive
	}
	n := int64(len(dst))
	if n > avail {
		n = avail
	}
	rn, err := b.file.ReadAt(dst[:n], b.readPos)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("filebuffer: read: %w", err)
	}
	b.readPos += int64(rn)
	return rn, nil
}

func (b *FileBuffer) Seek(offset int64, whence int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = b.readPos + offset
	case io.SeekEnd:
		target = b.size + offset
	default:
		return -1, fmt.Errorf("filebuffer: invalid whence %d", whence)
	}

	if target < b.lastRequestedOffset || target > b.writePos {
		b.lastRequestedOffset = target
		available := b.writePos
		if b.onRequestData != nil {
			b.onRequestData(target, available)
		}
		return -1, ErrSeekNeedsData
	}
	b.readPos = target
	return target, nil
}

func (b *FileBuffer) SeekSize() int64 { return b.size }

func (b *FileBuffer) WritePos() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writePos
}

func (b *FileBuffer) ReadPos() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readPos
}

// PeekHeader reads up to maxBytes from the start of the file without
// touching the read cursor (spec §4.2b's bounded header-box scan runs after
// each file-mode append until a header box has been seen, and must not
// steal bytes from the decode path).
func (b *FileBuffer) PeekHeader(maxBytes int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.writePos
	if n > int64(maxBytes) {
		n = int64(maxBytes)
	}
	if n <= 0 || b.file == nil {
		return nil, nil
	}
	out := make([]byte, n)
	if _, err := b.file.ReadAt(out, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("filebuffer: peek header: %w", err)
	}
	return out, nil
}

// PeekTail returns the last up to maxBytes of not-yet-consumed bytes for
// crash-dump capture (spec §4.8), read directly off disk so the decode
// cursor (readPos) is untouched.
func (b *FileBuffer) PeekTail(maxBytes int64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.readPos
	if b.writePos-start > maxBytes {
		start = b.writePos - maxBytes
	}
	if start < 0 {
		start = 0
	}
	n := b.writePos - start
	if n <= 0 || b.file == nil {
		return nil
	}
	out := make([]byte, n)
	if _, err := b.file.ReadAt(out, start); err != nil && err != io.EOF {
		return nil
	}
	return out
}

func (b *FileBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	if rmErr := os.Remove(b.path); rmErr != nil && err == nil {
		err = rmErr
	}
	b.file = nil
	return err
}
