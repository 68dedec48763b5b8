package main

import (
	"bytes"
	"testing"

	"github.com/SPlatform/SPBootloader/firmware"
	"github.com/SPlatform/SPBootloader/intelhex"
)

func TestDecodeRegionRoundTrip(t *testing.T) {
	const base = 0x10000
	image := []byte("firmware-bytes-go-here")

	region := make([]byte, firmware.MetadataLength+len(image))
	header := firmware.Header{ImageSize: uint32(len(image)), ImageOffset: base + firmware.MetadataLength}
	header.Encode(region[:firmware.MetadataLength])
	copy(region[firmware.MetadataLength:], image)

	var buf bytes.Buffer
	if err := intelhex.Encode(&buf, base, region); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := decodeRegion(buf.Bytes(), base)
	if err != nil {
		t.Fatalf("decodeRegion: %v", err)
	}
	if !bytes.Equal(decoded, region) {
		t.Fatalf("decoded region mismatch")
	}

	gotHeader, err := firmware.DecodeHeader(decoded)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if gotHeader.ImageSize != uint32(len(image)) {
		t.Fatalf("ImageSize = %d, want %d", gotHeader.ImageSize, len(image))
	}
}

func TestDecodeRegionRejectsMalformedStream(t *testing.T) {
	_, err := decodeRegion([]byte(":not-a-real-record\n"), 0)
	if err == nil {
		t.Fatal("expected error for malformed stream")
	}
}
