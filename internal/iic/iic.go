package iic

import (
	"log/slog"
	"sync"
)

// NumThreads is the number of hardware threads on the Xenon package: three
// cores, two threads each.
const NumThreads = 6

// Interrupt priorities as seen by the integrated interrupt controller.
// Peripherals never invent these; they arrive from the PCI bridge's
// per-source routing registers or from the graphics pipeline.
const (
	PrioIPI4     uint8 = 0x08
	PrioIPI3     uint8 = 0x10
	PrioSMM      uint8 = 0x14
	PrioSFCX     uint8 = 0x18
	PrioSATAHDD  uint8 = 0x20
	PrioSATAODD  uint8 = 0x24
	PrioOHCI0    uint8 = 0x2C
	PrioEHCI0    uint8 = 0x30
	PrioOHCI1    uint8 = 0x34
	PrioEHCI1    uint8 = 0x38
	PrioXMA      uint8 = 0x40
	PrioAudio    uint8 = 0x44
	PrioEnet     uint8 = 0x4C
	PrioXPS      uint8 = 0x54
	PrioGraphics uint8 = 0x58
	PrioProfiler uint8 = 0x60
	PrioBIU      uint8 = 0x64
	PrioIOC      uint8 = 0x68
	PrioFSB      uint8 = 0x6C
	PrioIPI2     uint8 = 0x70
	PrioClock    uint8 = 0x74
	PrioIPI1     uint8 = 0x78
)

// Controller delivers per-priority interrupts to a target CPU thread. It
// must be callable from any peripheral thread and may not block the caller
// beyond flag-and-wake work.
type Controller interface {
	GenInterrupt(prio uint8, cpu uint8)
	CancelInterrupt(prio uint8, cpu uint8)
}

// WakeFunc is invoked, outside any Block lock, when an interrupt becomes
// pending for a CPU thread.
type WakeFunc func(cpu uint8)

// Block is an in-process Controller: a per-thread pending set with a wakeup
// hook. The CPU interpreter drains it via Pending/Ack.
type Block struct {
	mu      sync.Mutex
	pending [NumThreads]map[uint8]bool
	wake    WakeFunc
}

func NewBlock(wake WakeFunc) *Block {
	b := &Block{wake: wake}
	for i := range b.pending {
		b.pending[i] = make(map[uint8]bool)
	}
	return b
}

// GenInterrupt implements Controller.
func (b *Block) GenInterrupt(prio uint8, cpu uint8) {
	if cpu >= NumThreads {
		slog.Error("iic: interrupt for out-of-range cpu", "prio", prio, "cpu", cpu)
		return
	}
	b.mu.Lock()
	b.pending[cpu][prio] = true
	wake := b.wake
	b.mu.Unlock()
	if wake != nil {
		wake(cpu)
	}
}

// CancelInterrupt implements Controller.
func (b *Block) CancelInterrupt(prio uint8, cpu uint8) {
	if cpu >= NumThreads {
		slog.Error("iic: cancel for out-of-range cpu", "prio", prio, "cpu", cpu)
		return
	}
	b.mu.Lock()
	delete(b.pending[cpu], prio)
	b.mu.Unlock()
}

// Pending returns the highest pending priority for the thread, if any.
func (b *Block) Pending(cpu uint8) (uint8, bool) {
	if cpu >= NumThreads {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var best uint8
	found := false
	for prio := range b.pending[cpu] {
		if !found || prio > best {
			best = prio
			found = true
		}
	}
	return best, found
}

// Ack clears a delivered priority for the thread.
func (b *Block) Ack(cpu uint8, prio uint8) {
	b.CancelInterrupt(prio, cpu)
}

var _ Controller = (*Block)(nil)
