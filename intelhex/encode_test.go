package intelhex

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	image := make([]byte, 200)
	for i := range image {
		image[i] = byte(i)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, 0x10000, image); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	stream := buf.Bytes()
	var segment uint32
	var gotImage []byte
	var sawEOF bool

	for len(stream) > 0 {
		status, consumed, rec := Parse(stream)
		if status != Success {
			t.Fatalf("Parse returned status %v, consumed %d", status, consumed)
		}
		switch rec.Type {
		case ExtLinearAddress:
			segment = uint32(rec.Data[0])<<24 | uint32(rec.Data[1])<<16
		case Data:
			abs := segment + uint32(rec.Address)
			if abs < 0x10000 {
				t.Fatalf("unexpected address below base: 0x%x", abs)
			}
			offset := abs - 0x10000
			for int(offset)+len(rec.Data) > len(gotImage) {
				gotImage = append(gotImage, 0)
			}
			copy(gotImage[offset:], rec.Data)
		case EndOfFile:
			sawEOF = true
		}
		stream = stream[consumed:]
	}

	if !sawEOF {
		t.Fatal("expected EOF record")
	}
	if !bytes.Equal(gotImage, image) {
		t.Fatalf("round trip mismatch: got %v want %v", gotImage, image)
	}
}

func TestEncodeSplitsAtSegmentBoundary(t *testing.T) {
	data := make([]byte, 64)
	var buf bytes.Buffer
	if err := Encode(&buf, 0xfffe, data); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	stream := buf.Bytes()
	segments := 0
	for len(stream) > 0 {
		status, consumed, rec := Parse(stream)
		if status != Success {
			t.Fatalf("Parse: status %v", status)
		}
		if rec.Type == ExtLinearAddress {
			segments++
		}
		stream = stream[consumed:]
	}
	if segments != 2 {
		t.Fatalf("expected 2 segment-address records crossing the 64KiB boundary, got %d", segments)
	}
}
