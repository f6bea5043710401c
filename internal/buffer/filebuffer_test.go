package buffer

import (
	"errors"
	"io"
	"os"
	"testing"
)

func TestFileBufferAppendCapsAtDeclaredSize(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBuffer(dir, "s1", 8, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer fb.Close()

	n, err := fb.Append([]byte("0123456789"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if n != 8 {
		t.Fatalf("append returned %d, want 8 (capped at declared size)", n)
	}
}

func TestFileBufferReadWaitsThenEOF(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBuffer(dir, "s2", 4, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer fb.Close()

	buf := make([]byte, 4)
	n, err := fb.Read(buf)
	if n != 0 || err != nil {
		t.Fatalf("read before data = (%d, %v), want (0, nil)", n, err)
	}

	if _, err := fb.Append([]byte("abcd")); err != nil {
		t.Fatalf("append: %v", err)
	}
	n, err = fb.Read(buf)
	if n != 4 || err != nil {
		t.Fatalf("read after data = (%d, %v), want (4, nil)", n, err)
	}

	n, err = fb.Read(buf)
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("read at declared size = (%d, %v), want (0, io.EOF)", n, err)
	}
}

func TestFileBufferSeekOutsideWindowRequestsData(t *testing.T) {
	dir := t.TempDir()
	var gotOffset, gotAvailable int64 = -1, -1
	fb, err := NewFileBuffer(dir, "s3", 100, func(offset, available int64) {
		gotOffset, gotAvailable = offset, available
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer fb.Close()

	if _, err := fb.Append(make([]byte, 10)); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err = fb.Seek(50, io.SeekStart)
	if !errors.Is(err, ErrSeekNeedsData) {
		t.Fatalf("seek past writePos err = %v, want ErrSeekNeedsData", err)
	}
	if gotOffset != 50 || gotAvailable != 10 {
		t.Fatalf("requestData callback got (%d, %d), want (50, 10)", gotOffset, gotAvailable)
	}
}

func TestFileBufferPeekHeaderDoesNotDisturbReadCursor(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBuffer(dir, "s5", 100, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer fb.Close()

	if _, err := fb.Append([]byte("ftypmp42rest-of-the-container")); err != nil {
		t.Fatalf("append: %v", err)
	}

	header, err := fb.PeekHeader(8)
	if err != nil {
		t.Fatalf("peek header: %v", err)
	}
	if string(header) != "ftypmp42" {
		t.Fatalf("peek header = %q, want %q", header, "ftypmp42")
	}
	if fb.ReadPos() != 0 {
		t.Fatalf("readPos after peek = %d, want 0 (peek must not consume)", fb.ReadPos())
	}

	buf := make([]byte, 4)
	n, err := fb.Read(buf)
	if err != nil || n != 4 || string(buf) != "ftyp" {
		t.Fatalf("read after peek = (%d,%q,%v), want the real read cursor to still start at 0", n, buf, err)
	}
}

func TestFileBufferPeekTailReturnsUnconsumedWindow(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBuffer(dir, "s6", 20, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer fb.Close()

	if _, err := fb.Append([]byte("0123456789abcdefghij")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := fb.Read(make([]byte, 10)); err != nil {
		t.Fatalf("read: %v", err)
	}

	tail := fb.PeekTail(4)
	if string(tail) != "ghij" {
		t.Fatalf("peek tail = %q, want %q", tail, "ghij")
	}
	if fb.ReadPos() != 10 {
		t.Fatalf("readPos after peek tail = %d, want 10 (peek must not consume)", fb.ReadPos())
	}
}

func TestFileBufferCloseRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBuffer(dir, "s4", 10, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	path := fb.path
	if err := fb.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected temp file removed, stat err = %v", err)
	}
}
