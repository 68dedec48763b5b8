//go:build tinygo

package mcu

/*
#include <stdint.h>

// Generic 32-bit down-counting timer peripheral, one-shot mode.
#define TIMER_BASE       0x40004000
#define TIMER_LOAD       (*(volatile uint32_t *)(TIMER_BASE + 0x00))
#define TIMER_VALUE      (*(volatile uint32_t *)(TIMER_BASE + 0x04))
#define TIMER_CTRL       (*(volatile uint32_t *)(TIMER_BASE + 0x08))
#define TIMER_INTCLR     (*(volatile uint32_t *)(TIMER_BASE + 0x0c))

#define TIMER_CTRL_ENABLE    (1u << 7)
#define TIMER_CTRL_ONESHOT   (1u << 0)
#define TIMER_CTRL_INT_EN    (1u << 5)

static void timer_arm(uint32_t ticks) {
    TIMER_CTRL = 0;
    TIMER_LOAD = ticks;
    TIMER_CTRL = TIMER_CTRL_ENABLE | TIMER_CTRL_ONESHOT | TIMER_CTRL_INT_EN;
}

static void timer_disarm(void) {
    TIMER_CTRL = 0;
}

static void timer_clear_interrupt(void) {
    TIMER_INTCLR = 1;
}
*/
import "C"

import (
	"runtime/interrupt"

	"github.com/SPlatform/SPBootloader/timer"
)

// timerIRQ is the NVIC line the generic timer raises on expiry. Chosen to
// match TIMER_BASE's peripheral instance on this target family.
const timerIRQ = 1

// ticksPerMs is the timer's tick rate, derived from the peripheral clock
// this target runs it from.
const ticksPerMs = 1000

// Timer is the one-shot timer.Timer used to enforce the upgrade engine's
// inactivity timeout.
type Timer struct {
	cb timer.Callback
}

// NewTimer registers the ISR for the generic timer peripheral described
// above.
func NewTimer() *Timer {
	t := &Timer{}
	intr := interrupt.New(timerIRQ, func(interrupt.Interrupt) {
		C.timer_clear_interrupt()
		if t.cb != nil {
			t.cb()
		}
	})
	intr.Enable()
	return t
}

// SetCallback implements timer.Timer.
func (t *Timer) SetCallback(cb timer.Callback) {
	t.cb = cb
}

// Start implements timer.Timer.
func (t *Timer) Start(timeoutMs int) {
	C.timer_arm(C.uint32_t(timeoutMs * ticksPerMs))
}

// Stop implements timer.Timer.
func (t *Timer) Stop() {
	C.timer_disarm()
}

// Release implements timer.Timer.
func (t *Timer) Release() {
	t.Stop()
}
