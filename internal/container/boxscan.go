// Package container implements a best-effort ISO-BMFF ("MP4-family") box
// walker used only for header-readiness logging (SPEC_FULL.md §4.2b). It is
// adapted from services/broadcaster.go's readBox/buildInitSegment in the
// teacher repo, which walked moof/mdat pairs to extract a replayable init
// segment; here it is repurposed to answer one question: "has enough of
// the container header arrived to be worth attempting a demux open?"
package container

import (
	"encoding/binary"
	"errors"
	"io"
)

// BoxHeader describes one parsed box without its payload.
type BoxHeader struct {
	Type string
	Size int64 // total box size including its header, as declared on wire
}

// ErrIncomplete is returned when a 64-bit size extension is cut short or a
// box declares a size smaller than its own header. Running out of bytes in
// a box's 8-byte header or in its payload is not an error: the scan just
// stops there, which is routine while the container is still streaming in.
var ErrIncomplete = errors.New("container: incomplete box")

// ScanBoxes walks top-level boxes from r until EOF or a partial box is hit,
// returning the header of every box whose payload fully arrived (a box cut
// short is not included; a size-0 "to EOF" box is included as soon as its
// header is seen). Payloads are skipped, never kept.
func ScanBoxes(r io.Reader) ([]BoxHeader, error) {
	var headers []BoxHeader
	for {
		hdr := make([]byte, 8)
		if _, err := io.ReadFull(r, hdr); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return headers, nil
			}
			return headers, err
		}
		size32 := binary.BigEndian.Uint32(hdr[:4])
		typ := string(hdr[4:8])

		var size int64
		switch size32 {
		case 0:
			// box extends to EOF; nothing more to scan after it
			headers = append(headers, BoxHeader{Type: typ, Size: -1})
			return headers, nil
		case 1:
			ext := make([]byte, 8)
			if _, err := io.ReadFull(r, ext); err != nil {
				return headers, ErrIncomplete
			}
			size = int64(binary.BigEndian.Uint64(ext))
		default:
			size = int64(size32)
		}

		payloadSize := size - 8
		if size32 == 1 {
			payloadSize = size - 16
		}
		if payloadSize < 0 {
			return headers, ErrIncomplete
		}
		if _, err := io.CopyN(io.Discard, r, payloadSize); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return headers, nil
			}
			return headers, err
		}
		headers = append(headers, BoxHeader{Type: typ, Size: size})
	}
}

// HasHeaderBox reports whether a header-bearing box (ftyp or moov) appears
// among the scanned boxes — the signal used to log header-readiness.
func HasHeaderBox(headers []BoxHeader) bool {
	for _, h := range headers {
		if h.Type == "ftyp" || h.Type == "moov" {
			return true
		}
	}
	return false
}
