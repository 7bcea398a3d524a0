//go:build linux

package smc

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// VComUART drives a host serial device (e.g. /dev/ttyUSB0) raw. The guest
// config word selects the line parameters; everything XeLL and the kernel
// actually program maps to 115200 8N1.
type VComUART struct {
	mu    sync.Mutex
	port  *os.File
	rx    chan byte
	ready bool
	done  chan struct{}
}

func newVComUART() UARTBackend { return &VComUART{} }

func baudFromWord(word uint32) uint32 {
	switch word {
	case 0x1E6:
		return unix.B115200
	case 0x1BB2:
		return unix.B38400
	case 0x163:
		return unix.B19200
	}
	return unix.B115200
}

func (u *VComUART) Init(cfg UARTConfig) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ready {
		return nil
	}
	if cfg.COMPort == "" {
		return fmt.Errorf("smc: vcom uart needs a com port path")
	}

	port, err := os.OpenFile(cfg.COMPort, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return fmt.Errorf("smc: vcom uart open: %w", err)
	}

	baud := baudFromWord(cfg.Word)
	tio := unix.Termios{
		Cflag:  unix.CS8 | unix.CREAD | unix.CLOCAL | baud,
		Ispeed: baud,
		Ospeed: baud,
	}
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 1
	if err := unix.IoctlSetTermios(int(port.Fd()), unix.TCSETS, &tio); err != nil {
		port.Close()
		return fmt.Errorf("smc: vcom uart termios: %w", err)
	}

	u.port = port
	u.rx = make(chan byte, 512)
	u.done = make(chan struct{})
	u.ready = true

	slog.Info("smc: vcom uart attached", "port", cfg.COMPort, "config", fmt.Sprintf("%#x", cfg.Word))
	go u.readLoop(port)
	return nil
}

func (u *VComUART) readLoop(port *os.File) {
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		for i := 0; i < n; i++ {
			select {
			case u.rx <- buf[i]:
			case <-u.done:
				return
			default:
			}
		}
		if err != nil {
			select {
			case <-u.done:
			default:
				slog.Error("smc: vcom uart read failed", "err", err)
			}
			return
		}
	}
}

func (u *VComUART) Shutdown() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.ready {
		return nil
	}
	close(u.done)
	err := u.port.Close()
	u.ready = false
	return err
}

func (u *VComUART) Read() (byte, bool) {
	u.mu.Lock()
	rx := u.rx
	u.mu.Unlock()
	select {
	case b := <-rx:
		return b, true
	default:
		return 0, false
	}
}

func (u *VComUART) Write(b byte) error {
	u.mu.Lock()
	port := u.port
	u.mu.Unlock()
	if port == nil {
		return nil
	}
	if _, err := port.Write([]byte{b}); err != nil {
		return fmt.Errorf("smc: vcom uart write: %w", err)
	}
	return nil
}

func (u *VComUART) ReadStatus() uint32 {
	u.mu.Lock()
	rx := u.rx
	u.mu.Unlock()
	status := uint32(UARTStatusEmpty)
	if len(rx) > 0 {
		status |= UARTStatusDataIn
	}
	return status
}

func (u *VComUART) SetupNeeded() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.ready
}

var _ UARTBackend = (*VComUART)(nil)
