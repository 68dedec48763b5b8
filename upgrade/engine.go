// Package upgrade drives a push-driven streaming firmware upgrade: it
// resynchronizes Intel HEX framing out of a noisy byte stream, decodes
// records, accumulates 4 KiB flash pages, and programs them through the
// flash façade while enforcing layout and timeout rules.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/SPlatform/SPBootloader/firmware"
	"github.com/SPlatform/SPBootloader/flash"
	"github.com/SPlatform/SPBootloader/intelhex"
	"github.com/SPlatform/SPBootloader/timer"
	"github.com/SPlatform/SPBootloader/uart"
)

// pageSize is the flash page the engine accumulates and programs at a
// time.
const pageSize = 4096

// DefaultInactivityTimeoutMs is the one-shot timer duration armed after
// every receive; the session aborts if it fires before the next byte
// arrives.
const DefaultInactivityTimeoutMs = 1000

// pollInterval bounds how long the main loop sleeps between polling the
// ISR-visible flags when neither has fired yet. This sleep stands in for
// the bare-metal "spin the outer loop" suspension point and runs on every
// target, the tinygo build included.
const pollInterval = time.Millisecond

var (
	ErrBadRecord      = errors.New("upgrade: malformed record, data length exceeds allowed maximum")
	ErrUpgradeTimeout = errors.New("upgrade: inactivity timeout")
)

// CheckAndWaitForUpgradeAttempt is the policy hook described in the boot
// controller design: its signal source (GPIO, magic byte, empty flash) is
// a deployment decision, not part of this package.
type CheckAndWaitForUpgradeAttempt func(ctx context.Context) bool

// Engine owns one upgrade session's state: the staging buffer, the
// current flash page accumulator, and the façades it drives.
type Engine struct {
	port   uart.Port
	dev    flash.Device
	sector *flash.SectorMap
	tmr    timer.Timer
	layout firmware.Layout
	log    *slog.Logger

	timeoutMs int

	dataReceived   atomic.Bool
	upgradeTimeout atomic.Bool

	staging []byte

	segmentBase      uint32
	pageBase         uint32 // absolute region offset of writeBuffer[0]
	writeBuffer      [pageSize]byte
	bufferFill       int
	metadataComplete bool
	erasedBlocks     map[int]bool
	preparedRange    *blockRange
	header           firmware.Header
}

type blockRange struct{ start, end int }

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithLogger attaches a structured logger; if omitted, a no-op logger is
// used.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTimeoutMs overrides DefaultInactivityTimeoutMs.
func WithTimeoutMs(ms int) Option {
	return func(e *Engine) { e.timeoutMs = ms }
}

// New builds an Engine ready to run one upgrade session.
func New(port uart.Port, dev flash.Device, sector *flash.SectorMap, tmr timer.Timer, layout firmware.Layout, opts ...Option) *Engine {
	e := &Engine{
		port:         port,
		dev:          dev,
		sector:       sector,
		tmr:          tmr,
		layout:       layout,
		timeoutMs:    DefaultInactivityTimeoutMs,
		erasedBlocks: make(map[int]bool),
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives the engine to completion, returning nil on a successful EOF
// or an error identifying why the session aborted. ctx supplements the
// inactivity timer as a host-side cancellation path.
func (e *Engine) Run(ctx context.Context) error {
	e.port.SetDataCallback(func() { e.dataReceived.Store(true) })
	e.tmr.SetCallback(func() { e.upgradeTimeout.Store(true) })
	// Bytes that arrived before the callback was installed raise no
	// callback of their own, so the port is polled once at session start.
	e.dataReceived.Store(true)
	e.tmr.Start(e.timeoutMs)
	defer e.tmr.Stop()

	readBuf := make([]byte, 512)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.upgradeTimeout.Load() {
			e.log.Warn("upgrade inactivity timeout")
			return ErrUpgradeTimeout
		}

		if !e.dataReceived.CompareAndSwap(true, false) {
			time.Sleep(pollInterval)
			continue
		}

		e.tmr.Start(e.timeoutMs)

		// The callback fires only on the empty-to-non-empty transition, so
		// the port is read until it reports nothing pending.
		for {
			n, err := e.port.Receive(readBuf)
			if err != nil {
				return fmt.Errorf("upgrade: uart receive: %w", err)
			}
			if n == 0 {
				break
			}
			e.staging = append(e.staging, readBuf[:n]...)

			done, err := e.drain()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// drain resynchronizes on ':' and repeatedly parses records out of the
// staging buffer, dispatching each. It returns done=true once an EOF
// record has been fully processed.
func (e *Engine) drain() (done bool, err error) {
	idx := -1
	for i, b := range e.staging {
		if b == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.staging = e.staging[:0]
		return false, nil
	}
	if idx > 0 {
		e.staging = append(e.staging[:0], e.staging[idx:]...)
	}

	offset := 0
	for offset < len(e.staging) {
		status, consumed, rec := intelhex.Parse(e.staging[offset:])
		switch status {
		case intelhex.Success:
			offset += consumed
			isEOF, derr := e.dispatch(rec)
			if derr != nil {
				return false, derr
			}
			if isEOF {
				return true, nil
			}
		case intelhex.MissingLine:
			goto flush
		case intelhex.CRCError, intelhex.IncompleteLine:
			offset += consumed
		case intelhex.DataLengthExceedsAllowed:
			return false, ErrBadRecord
		default:
			return false, fmt.Errorf("upgrade: unexpected parse status %v", status)
		}
	}
flush:
	e.staging = append(e.staging[:0], e.staging[offset:]...)
	return false, nil
}

// dispatch applies one successfully parsed record to engine state.
// Returns isEOF=true once the session should terminate successfully.
func (e *Engine) dispatch(rec *intelhex.Record) (isEOF bool, err error) {
	switch rec.Type {
	case intelhex.ExtLinearAddress:
		if len(rec.Data) < 2 {
			return false, fmt.Errorf("%w: short EXT_LINEAR_ADDRESS payload", ErrBadRecord)
		}
		e.segmentBase = (uint32(rec.Data[0])<<8 | uint32(rec.Data[1])) * 65536
		return false, nil

	case intelhex.Data:
		return false, e.dispatchData(rec)

	case intelhex.EndOfFile:
		return true, e.dispatchEOF()

	default:
		// EXT_SEGMENT_ADDRESS, START_LINEAR_ADDRESS, and anything else
		// unrecognized are tolerated without error.
		return false, nil
	}
}

func (e *Engine) dispatchData(rec *intelhex.Record) error {
	absPos := e.segmentBase + uint32(rec.Address)

	pageIdx := absPos / pageSize
	currentPageIdx := e.pageBase / pageSize
	if pageIdx != currentPageIdx {
		if err := e.flushPage(); err != nil {
			return err
		}
		e.pageBase = pageIdx * pageSize
	}

	offsetInPage := int(absPos - e.pageBase)
	if offsetInPage > e.bufferFill {
		for i := e.bufferFill; i < offsetInPage; i++ {
			e.writeBuffer[i] = 0xFF
		}
	}
	n := copy(e.writeBuffer[offsetInPage:], rec.Data)
	end := offsetInPage + n
	if end > e.bufferFill {
		e.bufferFill = end
	}

	if !e.metadataComplete && e.pageBase == 0 && e.bufferFill >= firmware.MetadataLength {
		if err := e.completeMetadata(); err != nil {
			return err
		}
	}

	if e.bufferFill == pageSize {
		return e.flushPage()
	}
	return nil
}

func (e *Engine) completeMetadata() error {
	header, err := firmware.DecodeHeader(e.writeBuffer[:firmware.MetadataLength])
	if err != nil {
		return err
	}
	if err := e.layout.ValidateHeader(header); err != nil {
		return err
	}
	e.header = header

	firstBlockAddr := e.layout.Start
	lastByteAddr := header.ImageOffset + header.ImageSize - 1
	startBlock, err := e.sector.BlockOf(firstBlockAddr)
	if err != nil {
		return err
	}
	endBlock, err := e.sector.BlockOf(lastByteAddr)
	if err != nil {
		return err
	}

	if err := e.prepareWithRetry(startBlock, endBlock); err != nil {
		return err
	}
	e.metadataComplete = true
	e.log.Info("upgrade metadata complete", slog.Int("startBlock", startBlock), slog.Int("endBlock", endBlock), slog.Uint64("imageSize", uint64(header.ImageSize)))
	return nil
}

func (e *Engine) prepareWithRetry(startBlock, endBlock int) error {
	for {
		err := e.dev.Prepare(startBlock, endBlock)
		if err == nil {
			e.preparedRange = &blockRange{startBlock, endBlock}
			return nil
		}
		if errors.Is(err, flash.ErrBusy) {
			continue
		}
		return fmt.Errorf("upgrade: flash prepare: %w", err)
	}
}

// ensureErased erases the block containing pageAddress the first time this
// engine is about to write into it, per block, immediately before that
// block's first programming. It re-prepares the block first: on the
// device's IAP mechanism a prepare unlocks a range for exactly the next
// operation, so each subsequent page needs its own prepare even though
// the whole image range was already prepared once when metadata
// completed.
func (e *Engine) ensureErased(pageAddress uint32) error {
	block, err := e.sector.BlockOf(pageAddress)
	if err != nil {
		return err
	}
	if e.erasedBlocks[block] {
		return nil
	}
	if err := e.prepareWithRetry(block, block); err != nil {
		return err
	}
	if err := e.dev.Erase(block, block); err != nil {
		return fmt.Errorf("upgrade: flash erase block %d: %w", block, err)
	}
	e.erasedBlocks[block] = true
	return nil
}

// flushPage pads any unfilled tail of the current page with 0xFF, erases
// its block if needed, and writes it, then resets the accumulator for the
// next page.
func (e *Engine) flushPage() error {
	if e.bufferFill == 0 {
		return nil
	}
	for i := e.bufferFill; i < pageSize; i++ {
		e.writeBuffer[i] = 0xFF
	}

	address := e.layout.Start + e.pageBase
	if err := e.ensureErased(address); err != nil {
		return err
	}
	block, err := e.sector.BlockOf(address)
	if err != nil {
		return err
	}
	if err := e.prepareWithRetry(block, block); err != nil {
		return err
	}
	if err := e.dev.Write(address, e.writeBuffer[:]); err != nil {
		return fmt.Errorf("upgrade: flash write at 0x%x: %w", address, err)
	}
	e.log.Debug("upgrade page written", slog.Uint64("address", uint64(address)))

	e.bufferFill = 0
	e.pageBase += pageSize
	return nil
}

func (e *Engine) dispatchEOF() error {
	return e.flushPage()
}
