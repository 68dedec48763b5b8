// Package firmware describes the persisted layout of the firmware region:
// header, signature, and image bytes within a fixed flash offset.
package firmware

import (
	"encoding/binary"
	"fmt"
)

// SignatureLength is the RSA-2048 signature size in bytes.
const SignatureLength = 256

// MetadataLength is the size of the header+signature region preceding the
// image bytes.
const MetadataLength = SignatureLength + SignatureLength // header (8 bytes) padded to 256, plus signature

func init() {
	if MetadataLength != 512 {
		panic("firmware: MetadataLength must be 512")
	}
}

// headerSize is the encoded size of Header before padding to
// SignatureLength.
const headerSize = 8

// Header is the little-endian-encoded prefix of the firmware region.
type Header struct {
	ImageSize   uint32
	ImageOffset uint32
}

// Encode writes h into the first headerSize bytes of out, zero-padding the
// remainder up to MetadataLength.
func (h Header) Encode(out []byte) {
	if len(out) < MetadataLength {
		panic("firmware: Encode: out shorter than MetadataLength")
	}
	binary.LittleEndian.PutUint32(out[0:4], h.ImageSize)
	binary.LittleEndian.PutUint32(out[4:8], h.ImageOffset)
	for i := headerSize; i < MetadataLength; i++ {
		out[i] = 0
	}
}

// DecodeHeader reads a Header from the first headerSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("firmware: buffer too short for header: %d < %d", len(buf), headerSize)
	}
	return Header{
		ImageSize:   binary.LittleEndian.Uint32(buf[0:4]),
		ImageOffset: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// Layout holds the build-time constants describing where the firmware
// region lives and how big the device's flash is.
type Layout struct {
	// Start is the absolute flash offset (FIRMWARE_START) where the
	// region's header begins.
	Start uint32
	// FlashSize is the total addressable flash size in bytes.
	FlashSize uint32
}

// ExpectedImageOffset is FIRMWARE_START + MetadataLength, the only legal
// value for a valid Header.ImageOffset.
func (l Layout) ExpectedImageOffset() uint32 {
	return l.Start + MetadataLength
}

// ValidateHeader checks the two layout invariants from the data model:
// imageOffset must equal Start+MetadataLength, and the image must fit
// within the device.
func (l Layout) ValidateHeader(h Header) error {
	if h.ImageOffset != l.ExpectedImageOffset() {
		return fmt.Errorf("%w: imageOffset 0x%x != expected 0x%x", ErrIncompatibleFWOffset, h.ImageOffset, l.ExpectedImageOffset())
	}
	if uint64(h.ImageOffset)+uint64(h.ImageSize) > uint64(l.FlashSize) {
		return fmt.Errorf("%w: imageOffset+imageSize 0x%x exceeds flash size 0x%x", ErrFWExceedsFlash, uint64(h.ImageOffset)+uint64(h.ImageSize), l.FlashSize)
	}
	return nil
}

// SignatureOffset returns the absolute flash offset of the signature: the
// header occupies bytes 0..255 of the region (zero-padded past
// headerSize), and the signature occupies bytes 256..511.
func (l Layout) SignatureOffset() uint32 {
	return l.Start + (MetadataLength - SignatureLength)
}

// ImageOffset returns the absolute flash offset of the image bytes,
// derived from Layout rather than a parsed Header.
func (l Layout) ImageOffset() uint32 {
	return l.ExpectedImageOffset()
}
