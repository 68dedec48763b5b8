// Package bootctl orchestrates the boot sequence: initialize hardware,
// optionally run an upgrade, verify the firmware region, and jump to it.
// It never transfers control to an unverified image.
package bootctl

import (
	"context"
	"log/slog"
	"time"

	"github.com/SPlatform/SPBootloader/cpu"
	"github.com/SPlatform/SPBootloader/firmware"
	"github.com/SPlatform/SPBootloader/flash"
	"github.com/SPlatform/SPBootloader/timer"
	"github.com/SPlatform/SPBootloader/uart"
	"github.com/SPlatform/SPBootloader/upgrade"
	"github.com/SPlatform/SPBootloader/verify"
)

// retryBackoffDuration bounds how long the boot loop waits after a failed
// verification before re-attempting, so a persistently bad image does not
// spin the CPU at full rate while waiting for an operator-triggered
// upgrade.
const retryBackoffDuration = 50 * time.Millisecond

func retryBackoff(ctx context.Context) {
	t := time.NewTimer(retryBackoffDuration)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// UpgradeRunner runs one upgrade session to completion. upgrade.Engine.Run
// satisfies this.
type UpgradeRunner interface {
	Run(ctx context.Context) error
}

// Controller wires the façades and policy hook together and drives the
// reset-time boot sequence.
type Controller struct {
	port     uart.Port
	dev      flash.Device
	sector   *flash.SectorMap
	tmr      timer.Timer
	cpuCtl   cpu.Controller
	layout   firmware.Layout
	verifier *verify.Verifier
	log      *slog.Logger

	checkUpgrade upgrade.CheckAndWaitForUpgradeAttempt
	newEngine    func() UpgradeRunner
}

// Option configures optional Controller behavior.
type Option func(*Controller)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithUpgradeEngineFactory overrides how a fresh upgrade.Engine is built
// for each loop iteration; tests substitute a fake that returns
// pre-determined results instead of driving a real uart.Port.
func WithUpgradeEngineFactory(f func() UpgradeRunner) Option {
	return func(c *Controller) { c.newEngine = f }
}

// New builds a Controller. checkUpgrade decides, each loop iteration,
// whether to attempt an upgrade before re-verifying.
func New(port uart.Port, dev flash.Device, sector *flash.SectorMap, tmr timer.Timer, cpuCtl cpu.Controller, layout firmware.Layout, verifier *verify.Verifier, checkUpgrade upgrade.CheckAndWaitForUpgradeAttempt, opts ...Option) *Controller {
	c := &Controller{
		port:         port,
		dev:          dev,
		sector:       sector,
		tmr:          tmr,
		cpuCtl:       cpuCtl,
		layout:       layout,
		verifier:     verifier,
		checkUpgrade: checkUpgrade,
		log:          slog.Default(),
	}
	c.newEngine = func() UpgradeRunner {
		return upgrade.New(c.port, c.dev, c.sector, c.tmr, c.layout, upgrade.WithLogger(c.log))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the boot sequence to the point of a successful verification
// and then jumps to the firmware image. It returns only if ctx is
// canceled before a successful verification is reached; a verified image
// always ends in a call to cpu.Controller.JumpToImage, which does not
// return on real hardware.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info("boot: hardware initialized")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if c.checkUpgrade(ctx) {
			c.log.Info("boot: upgrade requested")
			engine := c.newEngine()
			if err := engine.Run(ctx); err != nil {
				c.log.Warn("boot: upgrade session aborted", slog.String("error", err.Error()))
			} else {
				c.log.Info("boot: upgrade session completed")
			}
		}

		if err := c.verifyFirmwareRegion(); err != nil {
			c.log.Warn("boot: verification failed, retrying", slog.String("error", err.Error()))
			retryBackoff(ctx)
			continue
		}

		c.log.Info("boot: verification succeeded, jumping to image", slog.Uint64("address", uint64(c.layout.ImageOffset())))
		c.cpuCtl.JumpToImage(c.layout.ImageOffset())
		return nil
	}
}

// verifyFirmwareRegion reads the header, signature, and image bytes back
// from flash and runs the verifier against them. It never calls
// JumpToImage itself; Run only does so immediately after this returns nil.
func (c *Controller) verifyFirmwareRegion() error {
	region := make([]byte, firmware.MetadataLength)
	if err := c.readFlash(c.layout.Start, region); err != nil {
		return err
	}
	header, err := firmware.DecodeHeader(region)
	if err != nil {
		return err
	}
	if err := c.layout.ValidateHeader(header); err != nil {
		return err
	}

	sigOffset := c.layout.SignatureOffset() - c.layout.Start
	signature := region[sigOffset : sigOffset+firmware.SignatureLength]

	image := make([]byte, header.ImageSize)
	if err := c.readFlash(header.ImageOffset, image); err != nil {
		return err
	}

	return c.verifier.Verify(image, signature)
}

// readFlash is a thin helper over dev reads; flash.Device has no Read
// method of its own (the core only ever writes flash), so Controller
// reads the backing memory through a ReaderAt-style side channel exposed
// by the concrete device when available, falling back to an explicit
// error otherwise.
func (c *Controller) readFlash(address uint32, out []byte) error {
	r, ok := c.dev.(flashReader)
	if !ok {
		return errNoFlashReader
	}
	return r.ReadAt(address, out)
}

// flashReader is an optional capability a flash.Device implementation may
// provide to let the boot controller read back the firmware region for
// verification. Both the hardware driver and the host fake implement it.
type flashReader interface {
	ReadAt(address uint32, out []byte) error
}
