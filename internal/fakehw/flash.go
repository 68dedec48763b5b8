// Package fakehw provides in-memory implementations of the flash, uart,
// timer, and cpu façades for host-side tests, mirroring the separate
// mock driver tree a hardware-mocked build would otherwise require.
package fakehw

import (
	"fmt"
	"sort"

	"github.com/SPlatform/SPBootloader/flash"
)

// Flash is an in-memory flash.Device. Erase fills a block range with 0xFF;
// Write requires the destination to have been prepared and (per the
// façade contract) does not itself check "erased" — callers are expected
// to erase before writing, exactly like real IAP flash.
type Flash struct {
	Map     *flash.SectorMap
	Mem     []byte
	prepped []blockRange

	// WriteLog records every successful Write call, in order, for tests
	// that assert on write ordering (upgrade determinism).
	WriteLog []WriteRecord

	// BusyCountdown, if > 0, makes the next that-many Prepare/Erase/Write
	// calls return flash.ErrBusy before succeeding.
	BusyCountdown int
	// FailNext, if true, makes the next call return flash.ErrFailure.
	FailNext bool
}

type blockRange struct{ start, end int }

// WriteRecord captures one successful Write call.
type WriteRecord struct {
	Address uint32
	Data    []byte
}

// NewFlash allocates a fake device of the given size, initialized to 0xFF
// (erased) everywhere.
func NewFlash(size uint32) (*Flash, error) {
	m, err := flash.NewSectorMap(size)
	if err != nil {
		return nil, err
	}
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Flash{Map: m, Mem: mem}, nil
}

func (f *Flash) takeFault() error {
	if f.FailNext {
		f.FailNext = false
		return flash.ErrFailure
	}
	if f.BusyCountdown > 0 {
		f.BusyCountdown--
		return flash.ErrBusy
	}
	return nil
}

// Prepare implements flash.Device.
func (f *Flash) Prepare(startBlock, endBlock int) error {
	if err := f.takeFault(); err != nil {
		return err
	}
	if startBlock > endBlock {
		return fmt.Errorf("flash: Prepare: start %d > end %d", startBlock, endBlock)
	}
	f.prepped = append(f.prepped, blockRange{startBlock, endBlock})
	return nil
}

func (f *Flash) isPrepared(block int) bool {
	for _, r := range f.prepped {
		if block >= r.start && block <= r.end {
			return true
		}
	}
	return false
}

// Erase implements flash.Device.
func (f *Flash) Erase(startBlock, endBlock int) error {
	if err := f.takeFault(); err != nil {
		return err
	}
	if !f.isPrepared(startBlock) || !f.isPrepared(endBlock) {
		return fmt.Errorf("flash: Erase: range [%d,%d] not prepared", startBlock, endBlock)
	}
	for b := startBlock; b <= endBlock; b++ {
		base, err := f.Map.BaseOf(b)
		if err != nil {
			return err
		}
		var end uint32
		if next, err := f.Map.BaseOf(b + 1); err == nil {
			end = next
		} else {
			end = f.Map.Size()
		}
		for i := base; i < end; i++ {
			f.Mem[i] = 0xFF
		}
	}
	return nil
}

// Write implements flash.Device.
func (f *Flash) Write(address uint32, data []byte) error {
	if err := flash.ValidateWrite(address, data); err != nil {
		return err
	}
	if err := f.takeFault(); err != nil {
		return err
	}
	block, err := f.Map.BlockOf(address)
	if err != nil {
		return err
	}
	if !f.isPrepared(block) {
		return fmt.Errorf("flash: Write: block %d not prepared", block)
	}
	copy(f.Mem[address:int(address)+len(data)], data)
	f.WriteLog = append(f.WriteLog, WriteRecord{Address: address, Data: append([]byte(nil), data...)})
	return nil
}

// Size implements flash.Device.
func (f *Flash) Size() uint32 {
	return f.Map.Size()
}

// ReadAt copies len(out) bytes starting at address out of the backing
// memory, satisfying the optional flash reader capability bootctl uses to
// read the firmware region back for verification.
func (f *Flash) ReadAt(address uint32, out []byte) error {
	if uint64(address)+uint64(len(out)) > uint64(len(f.Mem)) {
		return fmt.Errorf("flash: ReadAt: range [0x%x, 0x%x) exceeds device size", address, uint64(address)+uint64(len(out)))
	}
	copy(out, f.Mem[address:])
	return nil
}

// SortedWriteAddresses returns the addresses written, sorted, useful for
// asserting write ordering in tests.
func (f *Flash) SortedWriteAddresses() []uint32 {
	addrs := make([]uint32, len(f.WriteLog))
	for i, w := range f.WriteLog {
		addrs[i] = w.Address
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
