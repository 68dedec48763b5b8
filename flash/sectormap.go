// Package flash models the device's sectored flash layout and the
// façade the upgrade engine drives to prepare, erase, and program it.
package flash

import "fmt"

const (
	smallSectorSize  = 4 * 1024
	smallSectorCount = 16
	largeSectorSize  = 32 * 1024

	smallRegionEnd = smallSectorSize * smallSectorCount // 0x10000
)

// SectorMap translates byte addresses to erase-block numbers and back, for
// a device laid out as 16 x 4 KiB sectors followed by N x 32 KiB sectors.
type SectorMap struct {
	size uint32
}

// NewSectorMap builds a sector map for a device of the given total flash
// size in bytes. size must be large enough to contain the 16 small sectors.
func NewSectorMap(size uint32) (*SectorMap, error) {
	if size < smallRegionEnd {
		return nil, fmt.Errorf("flash: device size %d smaller than small-sector region %d", size, smallRegionEnd)
	}
	if (size-smallRegionEnd)%largeSectorSize != 0 {
		return nil, fmt.Errorf("flash: device size %d does not align to %d-byte large sectors past %d", size, largeSectorSize, smallRegionEnd)
	}
	return &SectorMap{size: size}, nil
}

// Size returns the total addressable flash size in bytes.
func (m *SectorMap) Size() uint32 {
	return m.size
}

// BlockOf returns the erase-block number containing address.
func (m *SectorMap) BlockOf(address uint32) (int, error) {
	if address >= m.size {
		return 0, fmt.Errorf("%w: address 0x%x >= size 0x%x", ErrOutOfRange, address, m.size)
	}
	if address < smallRegionEnd {
		return int(address / smallSectorSize), nil
	}
	return smallSectorCount + int((address-smallRegionEnd)/largeSectorSize), nil
}

// BaseOf returns the starting address of the given block number.
func (m *SectorMap) BaseOf(block int) (uint32, error) {
	if block < 0 {
		return 0, fmt.Errorf("%w: block %d negative", ErrOutOfRange, block)
	}
	var base uint32
	if block < smallSectorCount {
		base = uint32(block) * smallSectorSize
	} else {
		base = smallRegionEnd + uint32(block-smallSectorCount)*largeSectorSize
	}
	if base >= m.size {
		return 0, fmt.Errorf("%w: block %d resolves past size 0x%x", ErrOutOfRange, block, m.size)
	}
	return base, nil
}

// BlockCount returns the total number of erase blocks on the device.
func (m *SectorMap) BlockCount() int {
	return smallSectorCount + int((m.size-smallRegionEnd)/largeSectorSize)
}
