//go:build tinygo

package mcu

import (
	"device/arm"
	"machine"
	"runtime/interrupt"

	"github.com/SPlatform/SPBootloader/uart"
)

// UART is the tinygo machine.UART-backed uart.Port used for the upgrade
// wire protocol.
type UART struct {
	hw *machine.UART
	cb uart.DataCallback

	wasEmpty bool
}

// NewUART configures hw at the given baud rate and wires its RX interrupt
// to observe the empty-to-non-empty transition the façade contract
// requires.
func NewUART(hw *machine.UART, cfg uart.Config) (*UART, error) {
	hw.Configure(machine.UARTConfig{BaudRate: uint32(cfg.BaudRate)})

	u := &UART{hw: hw, wasEmpty: true}

	intr := interrupt.New(machine.UART0_IRQ, func(interrupt.Interrupt) {
		u.handleRxInterrupt()
	})
	intr.SetPriority(0xc0)
	intr.Enable()

	return u, nil
}

func (u *UART) handleRxInterrupt() {
	if u.hw.Buffered() == 0 {
		return
	}
	wasEmpty := u.wasEmpty
	u.wasEmpty = false
	if wasEmpty && u.cb != nil {
		u.cb()
	}
}

// Receive implements uart.Port.
func (u *UART) Receive(buf []byte) (int, error) {
	state := arm.DisableInterrupts()
	n := u.hw.Buffered()
	if n > len(buf) {
		n = len(buf)
	}
	arm.EnableInterrupts(state)

	for i := 0; i < n; i++ {
		b, err := u.hw.ReadByte()
		if err != nil {
			return i, err
		}
		buf[i] = b
	}
	if u.hw.Buffered() == 0 {
		u.wasEmpty = true
	}
	return n, nil
}

// Send implements uart.Port.
func (u *UART) Send(buf []byte) (int, error) {
	n, err := u.hw.Write(buf)
	return n, err
}

// SetDataCallback implements uart.Port.
func (u *UART) SetDataCallback(cb uart.DataCallback) {
	u.cb = cb
}

// Release implements uart.Port.
func (u *UART) Release() error {
	return nil
}
