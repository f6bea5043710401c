package container

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func box(typ string, payload []byte) []byte {
	var buf bytes.Buffer
	size := uint32(8 + len(payload))
	binary.Write(&buf, binary.BigEndian, size)
	buf.WriteString(typ)
	buf.Write(payload)
	return buf.Bytes()
}

func TestScanBoxesCompleteContainer(t *testing.T) {
	data := append(box("ftyp", []byte("isom")), box("moov", make([]byte, 16))...)
	headers, err := ScanBoxes(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(headers) != 2 || headers[0].Type != "ftyp" || headers[1].Type != "moov" {
		t.Fatalf("headers = %+v, want ftyp then moov", headers)
	}
	if !HasHeaderBox(headers) {
		t.Fatal("expected HasHeaderBox true for ftyp+moov")
	}
}

func TestScanBoxesIncompletePayloadStopsCleanly(t *testing.T) {
	full := box("moov", make([]byte, 32))
	truncated := full[:len(full)-10]
	headers, err := ScanBoxes(bytes.NewReader(truncated))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(headers) != 0 {
		t.Fatalf("headers = %+v, want none for a box whose payload never fully arrived", headers)
	}
}

func TestScanBoxesNoHeaderBoxYet(t *testing.T) {
	data := box("mdat", []byte("not a header box"))
	headers, err := ScanBoxes(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if HasHeaderBox(headers) {
		t.Fatal("expected HasHeaderBox false when no ftyp/moov present")
	}
}

func TestScanBoxesEmptyReader(t *testing.T) {
	headers, err := ScanBoxes(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(headers) != 0 {
		t.Fatalf("headers = %+v, want empty", headers)
	}
}
