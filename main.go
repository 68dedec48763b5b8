//go:build tinygo

package main

import (
	"context"
	"log/slog"
	"machine"
	"time"

	"github.com/SPlatform/SPBootloader/bootctl"
	"github.com/SPlatform/SPBootloader/config"
	"github.com/SPlatform/SPBootloader/drivers/mcu"
	"github.com/SPlatform/SPBootloader/firmware"
	"github.com/SPlatform/SPBootloader/flash"
	"github.com/SPlatform/SPBootloader/telemetry"
	"github.com/SPlatform/SPBootloader/uart"
	"github.com/SPlatform/SPBootloader/upgrade"
	"github.com/SPlatform/SPBootloader/verify"
	"github.com/SPlatform/SPBootloader/version"
)

// cpuFrequencyHz is this target's core clock, used by the IAP driver's
// timing parameter.
const cpuFrequencyHz = 100_000_000

// upgradePin is pulled low at reset to request an upgrade session instead
// of booting the resident image.
var upgradePin = machine.D7

// upgradeWindow is how long the boot controller waits on upgradePin before
// falling back to booting the resident image.
const upgradeWindow = 500 * time.Millisecond

func main() {
	logger := slog.New(telemetry.NewSlogHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("boot", slog.String("version", version.Version))

	upgradePin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	cpuCtl := mcu.NewCPU(cpuFrequencyHz)
	dev := mcu.NewFlash(cpuFrequencyHz)
	sector, err := flash.NewSectorMap(dev.Size())
	if err != nil {
		logger.Error("flash:sector-map-invalid", slog.String("err", err.Error()))
		return
	}
	tmr := mcu.NewTimer()

	hwUART := machine.UART0
	port, err := mcu.NewUART(hwUART, uart.DefaultConfig)
	if err != nil {
		logger.Error("uart:init-failed", slog.String("err", err.Error()))
		return
	}

	layout := firmware.Layout{
		Start:     config.FirmwareStart(),
		FlashSize: dev.Size(),
	}

	nHex, eHex := config.PublicKeyHex()
	verifier, err := verify.NewVerifier(nHex, eHex)
	if err != nil {
		logger.Error("verify:key-invalid", slog.String("err", err.Error()))
		return
	}

	checkUpgrade := func(ctx context.Context) bool {
		deadline := time.Now().Add(upgradeWindow)
		for time.Now().Before(deadline) {
			if !upgradePin.Get() {
				return true
			}
			select {
			case <-ctx.Done():
				return false
			case <-time.After(5 * time.Millisecond):
			}
		}
		return false
	}

	ctl := bootctl.New(port, dev, sector, tmr, cpuCtl, layout, verifier, checkUpgrade,
		bootctl.WithLogger(logger),
		bootctl.WithUpgradeEngineFactory(func() bootctl.UpgradeRunner {
			return upgrade.New(port, dev, sector, tmr, layout,
				upgrade.WithLogger(logger),
				upgrade.WithTimeoutMs(config.InactivityTimeoutMs()),
			)
		}),
	)

	if err := ctl.Run(context.Background()); err != nil {
		logger.Error("boot:failed", slog.String("err", err.Error()))
	}
}
