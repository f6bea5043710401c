// Package iobridge adapts the upload buffer into the seekable byte source
// the codec contract's Demuxer expects (spec §4.2). It retains no state of
// its own — every call delegates straight to the buffer, which owns the
// actual read/write cursors and their lock (spec §5).
package iobridge

import (
	"errors"
	"io"

	"streamdecoder/internal/buffer"
	"streamdecoder/internal/codec"
)

// Bridge implements codec.Bridge over an buffer.UploadBuffer.
type Bridge struct {
	buf buffer.UploadBuffer
}

// New wraps buf as a codec.Bridge.
func New(buf buffer.UploadBuffer) *Bridge {
	return &Bridge{buf: buf}
}

// Read maps the buffer's EAGAIN/non-blocking-empty convention onto the
// codec package's sentinel so the demuxer sees a single, consistent
// "try again" signal regardless of which upload mode backs the session.
func (b *Bridge) Read(p []byte) (int, error) {
	n, err := b.buf.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, io.EOF // hard EOF: every declared byte consumed
		}
		if errors.Is(err, buffer.ErrAgain) {
			return 0, codec.ErrAgain
		}
		return 0, err
	}
	if n == 0 {
		return 0, codec.ErrAgain
	}
	return n, nil
}

// Seek maps the buffer's "needs more data" / "rejected" results onto
// io.EOF-adjacent errors the demuxer can distinguish from a hard failure.
func (b *Bridge) Seek(offset int64, whence int) (int64, error) {
	pos, err := b.buf.Seek(offset, whence)
	if err != nil {
		if errors.Is(err, buffer.ErrSeekNeedsData) {
			return -1, codec.ErrAgain
		}
		if errors.Is(err, buffer.ErrSeekRejected) {
			return -1, io.ErrUnexpectedEOF
		}
		return -1, err
	}
	return pos, nil
}

// SeekSize reports the declared total size, or -1 for a live stream.
func (b *Bridge) SeekSize() int64 { return b.buf.SeekSize() }
