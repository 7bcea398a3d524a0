package smc

import "fmt"

// UART status bits as seen by the guest.
const (
	UARTStatusDataIn = 0x1 // a received byte is waiting
	UARTStatusEmpty  = 0x2 // transmit path is idle
)

// UARTConfig is handed to a backend when the guest (or the auto-init path)
// programs the port.
type UARTConfig struct {
	Word       uint32 // raw guest config word, e.g. 0x1E6 for 115200 8N1
	SocketIP   string
	SocketPort int
	COMPort    string
	Echo       bool // mirror guest transmit bytes to stdout
}

// UARTBackend is the transport behind the SMC's serial registers. Backends
// are owned by the SMC and called with its lock held; they must not call
// back into the device.
type UARTBackend interface {
	Init(cfg UARTConfig) error
	Shutdown() error

	// Read pops one received byte; ok is false when nothing is waiting.
	Read() (b byte, ok bool)
	Write(b byte) error
	ReadStatus() uint32

	// SetupNeeded reports that Init has not succeeded yet.
	SetupNeeded() bool
}

// NullUART discards transmits and never receives.
type NullUART struct {
	ready bool
}

func (u *NullUART) Init(UARTConfig) error { u.ready = true; return nil }
func (u *NullUART) Shutdown() error       { return nil }
func (u *NullUART) Read() (byte, bool)    { return 0, false }
func (u *NullUART) Write(byte) error      { return nil }
func (u *NullUART) ReadStatus() uint32    { return UARTStatusEmpty }
func (u *NullUART) SetupNeeded() bool     { return !u.ready }

func newUARTBackend(kind string) (UARTBackend, error) {
	switch kind {
	case "", "null":
		return &NullUART{}, nil
	case "print", "socket":
		return &SockUART{}, nil
	case "vcom":
		return newVComUART(), nil
	}
	return nil, fmt.Errorf("smc: unknown uart system %q", kind)
}

var (
	_ UARTBackend = (*NullUART)(nil)
	_ UARTBackend = (*SockUART)(nil)
)
