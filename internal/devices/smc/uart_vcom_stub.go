//go:build !linux

package smc

import "fmt"

// Host serial passthrough needs termios; off Linux the SMC keeps retrying
// init, so select the null or socket system instead.
type vcomUnsupported struct{}

func newVComUART() UARTBackend { return vcomUnsupported{} }

func (vcomUnsupported) Init(UARTConfig) error {
	return fmt.Errorf("smc: vcom uart is not supported on this platform")
}
func (vcomUnsupported) Shutdown() error    { return nil }
func (vcomUnsupported) Read() (byte, bool) { return 0, false }
func (vcomUnsupported) Write(byte) error   { return nil }
func (vcomUnsupported) ReadStatus() uint32 { return UARTStatusEmpty }
func (vcomUnsupported) SetupNeeded() bool  { return true }
