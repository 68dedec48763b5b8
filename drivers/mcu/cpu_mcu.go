//go:build tinygo

package mcu

/*
static unsigned long cpu_disable_interrupts(void) {
    unsigned long primask;
    __asm__ volatile ("mrs %0, primask" : "=r" (primask));
    __asm__ volatile ("cpsid i");
    return primask;
}

static void cpu_restore_interrupts(unsigned long primask) {
    __asm__ volatile ("msr primask, %0" : : "r" (primask));
}

// cpu_jump_to_image sets the main stack pointer from the image's vector
// table and branches to its reset handler. It does not return.
static void cpu_jump_to_image(unsigned long imageAddress) {
    typedef void (*reset_handler_fn)(void);

    unsigned long *vectorTable = (unsigned long *)imageAddress;
    unsigned long stackPointer = vectorTable[0];
    reset_handler_fn resetHandler = (reset_handler_fn)vectorTable[1];

    __asm__ volatile ("msr msp, %0" : : "r" (stackPointer));
    resetHandler();
}
*/
import "C"

// CPU is the cpu.Controller for this target.
type CPU struct {
	freqHz uint32
}

// NewCPU returns a CPU controller reporting the given core clock.
func NewCPU(freqHz uint32) *CPU {
	return &CPU{freqHz: freqHz}
}

// DisableInterrupts implements cpu.Controller.
func (c *CPU) DisableInterrupts() bool {
	primask := C.cpu_disable_interrupts()
	return primask != 0
}

// EnableInterrupts implements cpu.Controller.
func (c *CPU) EnableInterrupts(prev bool) {
	var primask C.ulong
	if prev {
		primask = 1
	} else {
		primask = 0
	}
	C.cpu_restore_interrupts(primask)
}

// JumpToImage implements cpu.Controller. It does not return.
func (c *CPU) JumpToImage(address uint32) {
	C.cpu_jump_to_image(C.ulong(address))
}

// FrequencyHz implements cpu.Controller.
func (c *CPU) FrequencyHz() uint32 {
	return c.freqHz
}
