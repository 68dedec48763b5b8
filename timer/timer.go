// Package timer defines the one-shot hardware timer façade used to enforce
// the upgrade engine's inactivity timeout.
package timer

// Callback fires once when an armed timer expires. Like uart.DataCallback
// it must be tiny: set a flag and return.
type Callback func()

// Timer is a re-armable one-shot timer.
type Timer interface {
	// SetCallback installs the function invoked on expiry.
	SetCallback(cb Callback)

	// Start (re-)arms the timer to fire Callback after timeoutMs
	// milliseconds, canceling any previously pending fire.
	Start(timeoutMs int)

	// Stop cancels a pending fire, if any.
	Stop()

	// Release tears down the timer.
	Release()
}
