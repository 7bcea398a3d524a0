package pci

import (
	"fmt"
	"log/slog"
	"sync"
)

// GPU is the Xenos collaborator the host bridge forwards into when an
// access lands in the GPU's BAR.
type GPU interface {
	Read(addr uint64, data []byte) error
	Write(addr uint64, data []byte) error
	MemSet(addr uint64, value byte, size uint64) error
	IsAddressMappedInBAR(addr uint32) bool
}

const (
	hostRegsBase = 0xE0020000
	hostRegsEnd  = 0xE0030000

	biuRegsBase = 0xE1000000
	biuRegsEnd  = 0xE2000000
)

// hostBridgeRegs is the small interrupt-control register group.
type hostBridgeRegs struct {
	regE0020000 uint32
	regE0020004 uint32
}

// biuRegs is the bus-interface-unit register group. Firmware pokes these
// during early bring-up; most only need to hold their last written value.
type biuRegs struct {
	regE1003000 uint32
	regE1003100 uint32
	regE1003200 uint32
	regE1003300 uint32
	regE1010000 uint32
	regE1010010 uint32
	regE1010020 uint32
	regE1013000 uint32
	regE1013100 uint32
	regE1013200 uint32
	regE1013300 uint32
	regE1018000 uint32
	regE1018020 uint32
	regE1020000 uint32
	regE1020004 uint32
	regE1020008 uint32
	ramSize     uint32
	regE1040074 uint32
	regE1040078 uint32
}

// HostBridge is the CPU-side entry into the fabric: it satisfies its own
// register windows, steers GPU BAR hits to the Xenos collaborator, and
// forwards everything else to the PCI bridge.
type HostBridge struct {
	mu sync.Mutex

	regs hostBridgeRegs
	biu  biuRegs

	gpu    GPU
	bridge *Bridge
}

// NewHostBridge builds the host bridge; ramSize seeds the BIU mirror the
// kernel reads during memory sizing.
func NewHostBridge(ramSize uint32) *HostBridge {
	return &HostBridge{biu: biuRegs{ramSize: ramSize}}
}

// RegisterGPU wires the Xenos collaborator.
func (h *HostBridge) RegisterGPU(gpu GPU) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gpu = gpu
}

// RegisterPCIBridge wires the downstream PCI bridge.
func (h *HostBridge) RegisterPCIBridge(b *Bridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

func (h *HostBridge) ownWindow(addr uint64) bool {
	return (addr >= hostRegsBase && addr < hostRegsEnd) ||
		(addr >= biuRegsBase && addr < biuRegsEnd)
}

func (h *HostBridge) collaborators() (GPU, *Bridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gpu, h.bridge
}

// Read services a CPU-side MMIO read.
func (h *HostBridge) Read(addr uint64, data []byte) bool {
	if h.ownWindow(addr) {
		h.readReg(addr, data)
		return true
	}
	gpu, bridge := h.collaborators()
	if gpu != nil && gpu.IsAddressMappedInBAR(uint32(addr)) {
		if err := gpu.Read(addr, data); err != nil {
			slog.Error("hostbridge: gpu read failed", "err", err)
		}
		return true
	}
	if bridge == nil {
		return false
	}
	return bridge.Read(addr, data)
}

// Write services a CPU-side MMIO write.
func (h *HostBridge) Write(addr uint64, data []byte) bool {
	if h.ownWindow(addr) {
		h.writeReg(addr, word(data))
		return true
	}
	gpu, bridge := h.collaborators()
	if gpu != nil && gpu.IsAddressMappedInBAR(uint32(addr)) {
		if err := gpu.Write(addr, data); err != nil {
			slog.Error("hostbridge: gpu write failed", "err", err)
		}
		return true
	}
	if bridge == nil {
		return false
	}
	return bridge.Write(addr, data)
}

// MemSet services a CPU-side MMIO fill.
func (h *HostBridge) MemSet(addr uint64, value byte, size uint64) bool {
	if h.ownWindow(addr) {
		h.writeReg(addr, fillWord(value))
		return true
	}
	gpu, bridge := h.collaborators()
	if gpu != nil && gpu.IsAddressMappedInBAR(uint32(addr)) {
		if err := gpu.MemSet(addr, value, size); err != nil {
			slog.Error("hostbridge: gpu fill failed", "err", err)
		}
		return true
	}
	if bridge == nil {
		return false
	}
	return bridge.MemSet(addr, value, size)
}

// ConfigRead forwards a configuration read to the PCI bridge.
func (h *HostBridge) ConfigRead(addr ConfigAddress, data []byte) bool {
	_, bridge := h.collaborators()
	if bridge == nil {
		fillFF(data)
		return false
	}
	return bridge.ConfigRead(addr, data)
}

// ConfigWrite forwards a configuration write to the PCI bridge.
func (h *HostBridge) ConfigWrite(addr ConfigAddress, data []byte) bool {
	_, bridge := h.collaborators()
	if bridge == nil {
		return false
	}
	return bridge.ConfigWrite(addr, data)
}

func (h *HostBridge) reg(addr uint64) *uint32 {
	switch addr {
	case 0xE0020000:
		return &h.regs.regE0020000
	case 0xE0020004:
		return &h.regs.regE0020004
	case 0xE1003000:
		return &h.biu.regE1003000
	case 0xE1003100:
		return &h.biu.regE1003100
	case 0xE1003200:
		return &h.biu.regE1003200
	case 0xE1003300:
		return &h.biu.regE1003300
	case 0xE1010000:
		return &h.biu.regE1010000
	case 0xE1010010:
		return &h.biu.regE1010010
	case 0xE1010020:
		return &h.biu.regE1010020
	case 0xE1013000:
		return &h.biu.regE1013000
	case 0xE1013100:
		return &h.biu.regE1013100
	case 0xE1013200:
		return &h.biu.regE1013200
	case 0xE1013300:
		return &h.biu.regE1013300
	case 0xE1018000:
		return &h.biu.regE1018000
	case 0xE1018020:
		return &h.biu.regE1018020
	case 0xE1020000:
		return &h.biu.regE1020000
	case 0xE1020004:
		return &h.biu.regE1020004
	case 0xE1020008:
		return &h.biu.regE1020008
	case 0xE1040000:
		return &h.biu.ramSize
	case 0xE1040074:
		return &h.biu.regE1040074
	case 0xE1040078:
		return &h.biu.regE1040078
	}
	return nil
}

func (h *HostBridge) readReg(addr uint64, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.reg(addr); r != nil {
		putWord(data, *r)
		return
	}
	slog.Error("hostbridge: unknown register read", "addr", fmt.Sprintf("%#x", addr))
	putWord(data, 0)
}

func (h *HostBridge) writeReg(addr uint64, value uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.reg(addr); r != nil {
		*r = value
		return
	}
	slog.Error("hostbridge: unknown register write",
		"addr", fmt.Sprintf("%#x", addr), "value", fmt.Sprintf("%#x", value))
}
