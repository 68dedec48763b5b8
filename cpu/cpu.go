// Package cpu defines the CPU-control primitives the core needs from the
// target: interrupt masking and the irreversible jump into a flashed
// application image.
package cpu

// Controller is the façade over the CPU's interrupt mask and reset
// behavior. The flash façade implementations do not go through it: the
// hardware driver masks interrupts inline around each IAP call.
type Controller interface {
	// DisableInterrupts masks interrupts and returns the previous mask
	// state, so callers can restore it with EnableInterrupts.
	DisableInterrupts() (prev bool)

	// EnableInterrupts restores the interrupt mask to prev.
	EnableInterrupts(prev bool)

	// JumpToImage sets the stack pointer from the image's vector table and
	// branches to its reset handler. It does not return.
	JumpToImage(address uint32)

	// FrequencyHz returns the CPU clock frequency in Hz.
	FrequencyHz() uint32
}
