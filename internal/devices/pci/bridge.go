package pci

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Xphalnos/Xenon/internal/iic"
)

const (
	// BridgeBase is the bridge's internal MMIO window.
	BridgeBase = 0xEA000000
	BridgeSize = 0x10000

	// NoTargetCPU is the sentinel for "caller supplied no target thread".
	NoTargetCPU = 0xFF

	regBusStatus0 = BridgeBase + 0x00
	regBusStatus1 = BridgeBase + 0x04
	regBusIRQL    = BridgeBase + 0x0C

	// Software writes regBusIRQL to enable bus interrupts.
	busIRQLDefault = 0x7CFF
)

// priorityRegister is the routing state for one interrupt source. The raw
// word is kept verbatim so reads return exactly what firmware wrote; the
// derived fields are recomputed on every write.
type priorityRegister struct {
	raw       uint32
	enabled   bool
	latched   bool
	targetCPU uint8
	cpuIRQ    uint8
}

func (r *priorityRegister) store(word uint32) {
	r.raw = word
	r.enabled = word>>23&1 != 0
	r.latched = word>>21&1 != 0
	r.targetCPU = uint8(word>>8) & 0x3F
	r.cpuIRQ = uint8(word<<2) & 0xFC
}

type prioritySource struct {
	offset uint64 // 0: no MMIO register (graphics pair)
	prio   uint8
	name   string
}

var prioritySources = []prioritySource{
	{BridgeBase + 0x10, iic.PrioClock, "CLOCK"},
	{BridgeBase + 0x14, iic.PrioSATAODD, "SATA_ODD"},
	{BridgeBase + 0x18, iic.PrioSATAHDD, "SATA_HDD"},
	{BridgeBase + 0x1C, iic.PrioSMM, "SMM"},
	{BridgeBase + 0x20, iic.PrioOHCI0, "OHCI0"},
	{BridgeBase + 0x24, iic.PrioOHCI1, "OHCI1"},
	{BridgeBase + 0x28, iic.PrioEHCI0, "EHCI0"},
	{BridgeBase + 0x2C, iic.PrioEHCI1, "EHCI1"},
	{BridgeBase + 0x38, iic.PrioEnet, "ENET"},
	{BridgeBase + 0x3C, iic.PrioXMA, "XMA"},
	{BridgeBase + 0x40, iic.PrioAudio, "AUDIO"},
	{BridgeBase + 0x44, iic.PrioSFCX, "SFCX"},
	{0, iic.PrioGraphics, "GRAPHICS"},
	{0, iic.PrioXPS, "XPS"},
}

// Bridge hosts the bus-0 device catalog and the per-source interrupt
// routing register file, and forwards BAR-window accesses to its devices.
type Bridge struct {
	mu sync.Mutex

	cfg *ConfigSpace

	busStatus0 uint32
	busStatus1 uint32
	busIRQL    uint32

	prio map[uint8]*priorityRegister

	// Insertion order matters: BAR dispatch takes the first match.
	devices []Device

	ctrl iic.Controller
}

// Bridge type-1 header template. BAR0/BAR1 cover the internal window.
var bridgeConfigWords = []uint32{
	0x58301414, // vendor/device
	0x00100006, // command/status
	0x06040000, // class: PCI-PCI bridge (revision patched per console)
	0x00010000, // header type 1
}

// NewBridge builds the bridge with the config-space revision personality of
// the given console generation.
func NewBridge(revisionID uint8) *Bridge {
	b := &Bridge{
		cfg:     NewConfigSpace(bridgeConfigWords, [barCount]uint32{BridgeSize, BridgeSize}),
		busIRQL: busIRQLDefault,
		prio:    make(map[uint8]*priorityRegister),
	}
	b.cfg.SetRevisionID(revisionID)
	for _, src := range prioritySources {
		b.prio[src.prio] = &priorityRegister{}
	}
	return b
}

// RegisterIIC wires the interrupt controller all routed interrupts land on.
func (b *Bridge) RegisterIIC(ctrl iic.Controller) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctrl = ctrl
}

// AddDevice registers a device in the catalog. A device with the same name
// replaces the previous registration atomically.
func (b *Bridge) AddDevice(dev Device) error {
	if dev == nil {
		return fmt.Errorf("pci: cannot attach a nil device")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, d := range b.devices {
		if d.Name() == dev.Name() {
			b.devices[i] = dev
			slog.Info("pci: replaced device", "name", dev.Name())
			return nil
		}
	}
	b.devices = append(b.devices, dev)
	slog.Info("pci: attached device", "name", dev.Name())
	return nil
}

// ResetDevice swaps in a fresh instance of an already-registered device.
func (b *Bridge) ResetDevice(dev Device) error {
	if dev == nil {
		return fmt.Errorf("pci: cannot reset a nil device")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, d := range b.devices {
		if d.Name() == dev.Name() {
			b.devices[i] = dev
			slog.Info("pci: reset device", "name", dev.Name())
			return nil
		}
	}
	return fmt.Errorf("pci: cannot reset %q, it was never attached", dev.Name())
}

// Lookup returns the catalog entry with the given name, or nil.
func (b *Bridge) Lookup(name string) Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Priority returns the raw routing word for an interrupt source.
func (b *Bridge) Priority(prio uint8) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reg, ok := b.prio[prio]; ok {
		return reg.raw
	}
	return 0
}

// RouteInterrupt raises prio on the source's configured target thread. The
// graphics pair carries no routing register and instead uses targetCPU,
// which must not be the sentinel.
func (b *Bridge) RouteInterrupt(prio uint8, targetCPU uint8) error {
	b.mu.Lock()
	ctrl := b.ctrl
	reg, known := b.prio[prio]
	var (
		deliver bool
		cpu     uint8
	)
	switch prio {
	case iic.PrioGraphics, iic.PrioXPS:
		deliver = targetCPU != NoTargetCPU
		cpu = targetCPU
	default:
		if known {
			deliver = reg.enabled
			cpu = reg.targetCPU
		}
	}
	b.mu.Unlock()

	if !known {
		slog.Error("pci: unknown interrupt routed", "prio", prio)
		return fmt.Errorf("pci: unknown interrupt priority %#x", prio)
	}
	if prio == iic.PrioGraphics || prio == iic.PrioXPS {
		if !deliver {
			slog.Error("pci: graphics interrupt routed without a target cpu", "prio", prio)
			return fmt.Errorf("pci: graphics interrupt needs an explicit target cpu")
		}
	}
	if deliver && ctrl != nil {
		ctrl.GenInterrupt(prio, cpu)
	}
	return nil
}

// CancelInterrupt retracts prio from the source's configured target thread.
func (b *Bridge) CancelInterrupt(prio uint8) {
	b.mu.Lock()
	ctrl := b.ctrl
	reg, known := b.prio[prio]
	deliver := known && reg.enabled
	var cpu uint8
	if known {
		cpu = reg.targetCPU
	}
	b.mu.Unlock()

	if !known {
		slog.Error("pci: unknown interrupt cancelled", "prio", prio)
		return
	}
	if deliver && ctrl != nil {
		ctrl.CancelInterrupt(prio, cpu)
	}
}

func (b *Bridge) inWindow(addr uint64) bool {
	return addr >= BridgeBase && addr < BridgeBase+BridgeSize
}

// word assembles the little-endian value carried by an MMIO write.
func word(data []byte) uint32 {
	var buf [8]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint32(buf[:])
}

func fillWord(value byte) uint32 {
	return uint32(value) | uint32(value)<<8 | uint32(value)<<16 | uint32(value)<<24
}

// Read satisfies an access in the bridge window or in one of the connected
// devices' BAR windows. A miss fills 0xFF and returns false.
func (b *Bridge) Read(addr uint64, data []byte) bool {
	if b.inWindow(addr) {
		b.readReg(addr, data)
		return true
	}

	if dev := b.deviceForAddr(addr); dev != nil {
		if err := dev.Read(addr, data); err != nil {
			slog.Error("pci: device read failed", "device", dev.Name(), "err", err)
		}
		return true
	}
	for i := range data {
		data[i] = 0xFF
	}
	return false
}

// Write satisfies an access in the bridge window or in one of the connected
// devices' BAR windows. Misses have no side effects.
func (b *Bridge) Write(addr uint64, data []byte) bool {
	if b.inWindow(addr) {
		b.writeReg(addr, word(data))
		return true
	}

	if dev := b.deviceForAddr(addr); dev != nil {
		if err := dev.Write(addr, data); err != nil {
			slog.Error("pci: device write failed", "device", dev.Name(), "err", err)
		}
		return true
	}
	return false
}

// MemSet fills size bytes at addr with value.
func (b *Bridge) MemSet(addr uint64, value byte, size uint64) bool {
	if b.inWindow(addr) {
		b.writeReg(addr, fillWord(value))
		return true
	}

	if dev := b.deviceForAddr(addr); dev != nil {
		if err := dev.MemSet(addr, value, size); err != nil {
			slog.Error("pci: device fill failed", "device", dev.Name(), "err", err)
		}
		return true
	}
	return false
}

func (b *Bridge) deviceForAddr(addr uint64) Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, dev := range b.devices {
		if dev.IsAddressMappedInBAR(uint32(addr)) {
			return dev
		}
	}
	return nil
}

func (b *Bridge) readReg(addr uint64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var value uint32
	switch addr {
	case regBusStatus0:
		value = b.busStatus0
	case regBusStatus1:
		value = b.busStatus1
	case regBusIRQL:
		value = b.busIRQL
	default:
		for _, src := range prioritySources {
			if src.offset != 0 && src.offset == addr {
				value = b.prio[src.prio].raw
				putWord(data, value)
				return
			}
		}
		slog.Error("pci: unknown bridge register read", "addr", fmt.Sprintf("%#x", addr))
		putWord(data, 0)
		return
	}
	putWord(data, value)
}

func (b *Bridge) writeReg(addr uint64, value uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch addr {
	case regBusStatus0:
		b.busStatus0 = value
	case regBusStatus1:
		b.busStatus1 = value
	case regBusIRQL:
		b.busIRQL = value
	default:
		for _, src := range prioritySources {
			if src.offset != 0 && src.offset == addr {
				b.prio[src.prio].store(value)
				return
			}
		}
		slog.Error("pci: unknown bridge register write",
			"addr", fmt.Sprintf("%#x", addr), "value", fmt.Sprintf("%#x", value))
	}
}

func putWord(data []byte, value uint32) {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	copy(data, buf[:])
}

// ConfigRead dispatches a configuration read through the catalog. Absent
// slots read as 0xFF.
func (b *Bridge) ConfigRead(addr ConfigAddress, data []byte) bool {
	if addr.BusNum() == 0 && addr.DevNum() == 0 {
		if err := b.cfg.Read(addr.RegOffset(), data); err != nil {
			slog.Error("pci: bridge config read failed", "err", err)
		}
		return true
	}

	name, ok := SlotName(addr.DevNum(), addr.FuncNum())
	if !ok {
		slog.Error("pci: config read from unknown slot",
			"dev", addr.DevNum(), "func", addr.FuncNum(), "offset", fmt.Sprintf("%#x", addr.RegOffset()))
		fillFF(data)
		return false
	}

	dev := b.Lookup(name)
	if dev == nil {
		slog.Error("pci: config read from unimplemented device", "name", name)
		fillFF(data)
		return false
	}
	if err := dev.ConfigRead(addr.RegOffset(), data); err != nil {
		slog.Error("pci: device config read failed", "device", name, "err", err)
	}
	return true
}

// ConfigWrite dispatches a configuration write through the catalog. Writes
// to absent slots are dropped.
func (b *Bridge) ConfigWrite(addr ConfigAddress, data []byte) bool {
	if addr.BusNum() == 0 && addr.DevNum() == 0 {
		if err := b.cfg.Write(addr.RegOffset(), data); err != nil {
			slog.Error("pci: bridge config write failed", "err", err)
		}
		return true
	}

	name, ok := SlotName(addr.DevNum(), addr.FuncNum())
	if !ok {
		slog.Error("pci: config write to unknown slot",
			"dev", addr.DevNum(), "func", addr.FuncNum(),
			"offset", fmt.Sprintf("%#x", addr.RegOffset()), "value", fmt.Sprintf("%#x", word(data)))
		return false
	}

	dev := b.Lookup(name)
	if dev == nil {
		slog.Error("pci: config write to unimplemented device",
			"name", name, "value", fmt.Sprintf("%#x", word(data)))
		return false
	}
	if err := dev.ConfigWrite(addr.RegOffset(), data); err != nil {
		slog.Error("pci: device config write failed", "device", name, "err", err)
	}
	return true
}

func fillFF(data []byte) {
	for i := range data {
		data[i] = 0xFF
	}
}
