//go:build tinygo

// Package mcu provides the tinygo hardware implementations of the flash,
// uart, timer, and cpu façades for an LPC17xx-class Cortex-M target. It
// reaches through cgo and inline assembly to the chip's IAP ROM routines
// and interrupt mask, the same technique used for this target family's
// ROM-function-table access and critical sections, adapted here from A/B
// partition OTA to a single firmware region.
package mcu

/*
#include <stdint.h>

// IAP entry point is a fixed address on this family; calling through it
// invokes the mask ROM IAP command interpreter.
typedef void (*iap_entry_fn)(unsigned long *cmd, unsigned long *result);
#define IAP_INTERFACE_ADDRESS 0x1fff1ff1

enum {
    IAP_CMD_PREPARE_SECTOR     = 50,
    IAP_CMD_COPY_RAM_TO_FLASH  = 51,
    IAP_CMD_ERASE_SECTORS      = 52,
};

enum {
    IAP_STATUS_SUCCESS = 0,
    IAP_STATUS_BUSY    = 11,
};

static void iap_call(unsigned long *cmd, unsigned long *result) {
    iap_entry_fn entry = (iap_entry_fn)IAP_INTERFACE_ADDRESS;
    entry(cmd, result);
}

static unsigned long iap_prepare(unsigned long startBlock, unsigned long endBlock) {
    unsigned long cmd[5] = {IAP_CMD_PREPARE_SECTOR, startBlock, endBlock, 0, 0};
    unsigned long result[3] = {0, 0, 0};
    __asm__ volatile ("cpsid i");
    iap_call(cmd, result);
    __asm__ volatile ("cpsie i");
    return result[0];
}

static unsigned long iap_erase(unsigned long startBlock, unsigned long endBlock, unsigned long cpuKHz) {
    unsigned long cmd[5] = {IAP_CMD_ERASE_SECTORS, startBlock, endBlock, cpuKHz, 0};
    unsigned long result[3] = {0, 0, 0};
    __asm__ volatile ("cpsid i");
    iap_call(cmd, result);
    __asm__ volatile ("cpsie i");
    return result[0];
}

static unsigned long iap_write(unsigned long destination, unsigned long source, unsigned long byteCount, unsigned long cpuKHz) {
    unsigned long cmd[5] = {IAP_CMD_COPY_RAM_TO_FLASH, destination, source, byteCount, cpuKHz};
    unsigned long result[3] = {0, 0, 0};
    __asm__ volatile ("cpsid i");
    iap_call(cmd, result);
    __asm__ volatile ("cpsie i");
    return result[0];
}
*/
import "C"

import (
	"github.com/SPlatform/SPBootloader/flash"
)

const flashSize = 512 * 1024

// Flash is the IAP-backed flash.Device for this target.
type Flash struct {
	freqHz uint32
}

// NewFlash returns a Flash driven by the IAP ROM interface, using cpuFreqHz
// for the clock-dependent IAP timing parameter.
func NewFlash(cpuFreqHz uint32) *Flash {
	return &Flash{freqHz: cpuFreqHz}
}

// Prepare implements flash.Device.
func (f *Flash) Prepare(startBlock, endBlock int) error {
	status := C.iap_prepare(C.ulong(startBlock), C.ulong(endBlock))
	return iapStatusToError(status)
}

// Erase implements flash.Device.
func (f *Flash) Erase(startBlock, endBlock int) error {
	status := C.iap_erase(C.ulong(startBlock), C.ulong(endBlock), C.ulong(f.freqHz/1000))
	return iapStatusToError(status)
}

// Write implements flash.Device.
func (f *Flash) Write(address uint32, data []byte) error {
	if err := flash.ValidateWrite(address, data); err != nil {
		return err
	}
	status := C.iap_write(C.ulong(address), C.ulong(uintptrOf(data)), C.ulong(len(data)), C.ulong(f.freqHz/1000))
	return iapStatusToError(status)
}

// Size implements flash.Device.
func (f *Flash) Size() uint32 {
	return flashSize
}

// ReadAt implements the optional flashReader capability bootctl uses to
// verify the firmware region: on this target flash is memory-mapped
// (XIP), so a read is a plain memory copy.
func (f *Flash) ReadAt(address uint32, out []byte) error {
	copy(out, flashMappedBytes(address, len(out)))
	return nil
}

func iapStatusToError(status C.ulong) error {
	switch status {
	case C.IAP_STATUS_SUCCESS:
		return nil
	case C.IAP_STATUS_BUSY:
		return flash.ErrBusy
	default:
		return flash.ErrFailure
	}
}
