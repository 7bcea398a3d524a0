package machine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Xphalnos/Xenon/internal/bus"
	"github.com/Xphalnos/Xenon/internal/config"
	"github.com/Xphalnos/Xenon/internal/devices/nand"
	"github.com/Xphalnos/Xenon/internal/devices/pci"
	"github.com/Xphalnos/Xenon/internal/devices/ram"
	"github.com/Xphalnos/Xenon/internal/devices/smc"
	"github.com/Xphalnos/Xenon/internal/iic"
	"github.com/Xphalnos/Xenon/internal/lifecycle"
)

// NAND gateway window.
const (
	nandBase = 0xC8000000
	nandEnd  = 0xCC000000
)

// Machine wires the fabric together in construction order: the PCI bridge
// (with the IIC attached) and the host bridge first, then leaf devices. It is built before any CPU thread starts and
// torn down only after every worker joined.
type Machine struct {
	mu sync.Mutex

	cfg *config.Config

	Bus    *bus.RootBus
	Host   *pci.HostBridge
	Bridge *pci.Bridge
	RAM    *ram.RAM
	NAND   *nand.NAND

	smcDev *smc.SMC
	ctrl   iic.Controller
}

// New builds the machine. ctrl receives routed interrupts; flash backs the
// NAND gateway.
func New(cfg *config.Config, ctrl iic.Controller, flash nand.FlashController) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ctrl == nil {
		return nil, fmt.Errorf("machine: an interrupt controller is required")
	}
	if flash == nil {
		return nil, fmt.Errorf("machine: a flash controller is required")
	}

	m := &Machine{cfg: cfg, ctrl: ctrl}

	m.Bridge = pci.NewBridge(cfg.Revision.BridgeRevisionID())
	m.Bridge.RegisterIIC(ctrl)

	ramBytes := uint64(cfg.RAMSizeMB) << 20
	m.Host = pci.NewHostBridge(uint32(ramBytes))
	m.Host.RegisterPCIBridge(m.Bridge)

	m.Bus = bus.NewRootBus()
	m.Bus.SetFallback(m.Host)

	m.RAM = ram.New("RAM", 0, ramBytes)
	if err := m.Bus.Register(m.RAM); err != nil {
		return nil, err
	}

	m.NAND = nand.New("NAND", flash, nandBase, nandEnd, true)
	if err := m.Bus.Register(m.NAND); err != nil {
		return nil, err
	}

	m.smcDev = m.newSMC(cfg.SMC.PowerOnReason)
	if err := m.Bridge.AddDevice(m.smcDev); err != nil {
		return nil, err
	}

	slog.Info("machine: built",
		"revision", cfg.Revision, "ramMB", cfg.RAMSizeMB, "uart", cfg.SMC.UARTSystem)
	return m, nil
}

func (m *Machine) newSMC(powerOnReason uint8) *smc.SMC {
	opts := smc.Options{
		UARTSystem:    m.cfg.SMC.UARTSystem,
		SocketIP:      m.cfg.SMC.SocketIP,
		SocketPort:    m.cfg.SMC.SocketPort,
		COMPort:       m.cfg.SMC.COMPort,
		AVPack:        m.cfg.SMC.AVPackType,
		PowerOnReason: powerOnReason,
		Slim:          m.cfg.Revision.Slim(),
		Fingerprint:   m.cfg.Revision.HANAFingerprint(),
	}
	var extra []smc.Option
	if m.cfg.SMC.ClockPeriodMs > 0 {
		extra = append(extra, smc.WithClockPeriod(time.Duration(m.cfg.SMC.ClockPeriodMs)*time.Millisecond))
	}
	return smc.New(opts, m.Bridge, lifecycle.RequestShutdown, m.Reboot, extra...)
}

// SMC returns the current system management controller instance.
func (m *Machine) SMC() *smc.SMC {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.smcDev
}

// Start spawns the peripheral workers.
func (m *Machine) Start() {
	m.SMC().Start()
}

// Stop joins every worker and records the completed teardown.
func (m *Machine) Stop() {
	m.SMC().Stop()
	lifecycle.SignalShutdownComplete()
	slog.Info("machine: stopped")
}

// Reboot services a guest reboot request: the SMC is replaced in place with
// a fresh instance reporting the requested power-on reason. It returns
// immediately; the swap happens off the caller's thread because the request
// originates inside the old SMC's worker.
func (m *Machine) Reboot(reason uint8) {
	slog.Info("machine: reboot requested", "reason", fmt.Sprintf("%#x", reason))
	go func() {
		m.mu.Lock()
		old := m.smcDev
		m.mu.Unlock()

		old.Stop()

		fresh := m.newSMC(reason)
		if err := m.Bridge.ResetDevice(fresh); err != nil {
			slog.Error("machine: reboot failed", "err", err)
			return
		}
		m.mu.Lock()
		m.smcDev = fresh
		m.mu.Unlock()
		fresh.Start()
	}()
}
