//go:build tinygo

package mcu

import "unsafe"

// flashBase is the memory-mapped (XIP) base address flash contents appear
// at when read as ordinary memory on this target.
const flashBase = 0x00000000

// uintptrOf returns the address of data's backing array, for handing to
// the IAP ROM call as its RAM source pointer.
func uintptrOf(data []byte) uintptr {
	if len(data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&data[0]))
}

// flashMappedBytes returns a slice over n bytes of flash memory-mapped at
// address, for the boot controller's verification reads through ReadAt.
func flashMappedBytes(address uint32, n int) []byte {
	ptr := unsafe.Pointer(uintptr(flashBase) + uintptr(address))
	return unsafe.Slice((*byte)(ptr), n)
}
