package fakehw

import (
	"sync"

	"github.com/SPlatform/SPBootloader/uart"
)

// UART is an in-memory uart.Port. Tests call Deliver to simulate bytes
// arriving on the wire; Deliver invokes the installed DataCallback exactly
// as a real ISR would on the empty-to-non-empty transition.
type UART struct {
	mu      sync.Mutex
	pending []byte
	sent    []byte
	cb      uart.DataCallback
	closed  bool
}

// NewUART returns an empty fake port.
func NewUART() *UART {
	return &UART{}
}

// Deliver appends bytes to the port's receive buffer, as if they had just
// arrived over the wire.
func (u *UART) Deliver(b []byte) {
	u.mu.Lock()
	wasEmpty := len(u.pending) == 0
	u.pending = append(u.pending, b...)
	cb := u.cb
	u.mu.Unlock()

	if wasEmpty && len(b) > 0 && cb != nil {
		cb()
	}
}

// Receive implements uart.Port.
func (u *UART) Receive(buf []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := copy(buf, u.pending)
	u.pending = u.pending[n:]
	return n, nil
}

// Send implements uart.Port.
func (u *UART) Send(buf []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sent = append(u.sent, buf...)
	return len(buf), nil
}

// SetDataCallback implements uart.Port.
func (u *UART) SetDataCallback(cb uart.DataCallback) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cb = cb
}

// Release implements uart.Port.
func (u *UART) Release() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return nil
}

// Sent returns every byte ever passed to Send, for test assertions.
func (u *UART) Sent() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]byte(nil), u.sent...)
}
