package flash

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned by SectorMap operations on an address or block
// number that falls outside the device.
var ErrOutOfRange = errors.New("flash: address out of range")

// ErrBusy indicates the underlying IAP mechanism is mid-operation; the
// caller should retry.
var ErrBusy = errors.New("flash: device busy")

// ErrFailure is a fatal, non-retryable failure from the underlying IAP
// mechanism.
var ErrFailure = errors.New("flash: operation failed")

// legalWriteLengths are the device's page sizes; Write requires len(data)
// to be one of these and address aligned to it.
var legalWriteLengths = [...]int{256, 512, 1024, 4096}

// Device is the narrow façade the upgrade engine drives. Implementations
// own their own critical section: Prepare, Erase, and Write must run with
// interrupts disabled for their entire duration, since the on-chip IAP
// routines cannot be interrupted.
type Device interface {
	// Prepare unlocks [startBlock, endBlock] for a subsequent erase/write.
	// Returns ErrBusy if the device is mid-operation; callers retry.
	Prepare(startBlock, endBlock int) error

	// Erase erases [startBlock, endBlock], which must have been prepared.
	Erase(startBlock, endBlock int) error

	// Write programs data at address, which must be page-aligned to
	// len(data) and within a previously prepared sector.
	Write(address uint32, data []byte) error

	// Size returns the total device flash size in bytes.
	Size() uint32
}

// ValidateWrite checks the length/alignment precondition Write must
// enforce before delegating to hardware: len(data) must be one of the
// device's legal page sizes and address must be aligned to it.
func ValidateWrite(address uint32, data []byte) error {
	n := len(data)
	for _, legal := range legalWriteLengths {
		if n == legal {
			if address%uint32(legal) != 0 {
				return fmt.Errorf("flash: address 0x%x not aligned to write length %d", address, legal)
			}
			return nil
		}
	}
	return fmt.Errorf("flash: write length %d not one of %v", n, legalWriteLengths)
}
