package bus

import (
	"fmt"
	"log/slog"
	"sync"
)

// DeviceInfo identifies a device on the system bus. Start/End form a
// half-open range of guest physical addresses; Name is unique within a bus.
type DeviceInfo struct {
	Name      string
	StartAddr uint64
	EndAddr   uint64
	SOC       bool
}

// Contains reports whether addr falls inside the device range.
func (i DeviceInfo) Contains(addr uint64) bool {
	return addr >= i.StartAddr && addr < i.EndAddr
}

// Device is the contract every directly routed device implements. Read and
// Write move len(data) bytes at addr; MemSet stores size copies of value.
type Device interface {
	DeviceInfo() DeviceInfo

	Read(addr uint64, data []byte) error
	Write(addr uint64, data []byte) error
	MemSet(addr uint64, value byte, size uint64) error
}

// BaseDevice carries the shared identity attributes. Concrete devices embed
// it and provide the access methods.
type BaseDevice struct {
	info DeviceInfo
}

func NewBaseDevice(name string, startAddr, endAddr uint64, soc bool) BaseDevice {
	return BaseDevice{info: DeviceInfo{
		Name:      name,
		StartAddr: startAddr,
		EndAddr:   endAddr,
		SOC:       soc,
	}}
}

func (d *BaseDevice) DeviceInfo() DeviceInfo { return d.info }

// Fallback handles accesses no registered device range covers. The host
// bridge sits here: its forwarding targets (GPU BARs, PCI BARs) are assigned
// at runtime and cannot be expressed as static ranges.
type Fallback interface {
	Read(addr uint64, data []byte) bool
	Write(addr uint64, data []byte) bool
	MemSet(addr uint64, value byte, size uint64) bool
}

// RootBus routes guest physical accesses to the device whose range covers
// the address. Devices are scanned in registration order; the first match
// wins.
type RootBus struct {
	mu       sync.Mutex
	devices  []Device
	fallback Fallback
}

func NewRootBus() *RootBus {
	return &RootBus{}
}

// Register adds a device to the routing list. Names must be unique.
func (b *RootBus) Register(dev Device) error {
	if dev == nil {
		return fmt.Errorf("bus: cannot register a nil device")
	}
	info := dev.DeviceInfo()
	if info.EndAddr <= info.StartAddr {
		return fmt.Errorf("bus: device %q has an empty range", info.Name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices {
		if d.DeviceInfo().Name == info.Name {
			return fmt.Errorf("bus: device %q already registered", info.Name)
		}
	}
	b.devices = append(b.devices, dev)
	return nil
}

// SetFallback installs the handler consulted when no range matches.
func (b *RootBus) SetFallback(f Fallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback = f
}

// Lookup returns the registered device with the given name, or nil.
func (b *RootBus) Lookup(name string) Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices {
		if d.DeviceInfo().Name == name {
			return d
		}
	}
	return nil
}

func validSize(n int) bool {
	switch n {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

func (b *RootBus) route(addr uint64) (Device, Fallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices {
		if d.DeviceInfo().Contains(addr) {
			return d, nil
		}
	}
	return nil, b.fallback
}

// Read fills data from the device covering addr. On a miss the buffer is
// filled with 0xFF, the PCI convention for absent hardware, and false is
// returned.
func (b *RootBus) Read(addr uint64, data []byte) bool {
	if !validSize(len(data)) {
		slog.Error("bus: invalid read size", "addr", fmt.Sprintf("%#x", addr), "size", len(data))
		return false
	}
	dev, fb := b.route(addr)
	if dev != nil {
		if err := dev.Read(addr, data); err != nil {
			slog.Error("bus: device read failed", "device", dev.DeviceInfo().Name, "err", err)
		}
		return true
	}
	if fb != nil && fb.Read(addr, data) {
		return true
	}
	for i := range data {
		data[i] = 0xFF
	}
	slog.Warn("bus: read from unmapped address", "addr", fmt.Sprintf("%#x", addr))
	return false
}

// Write stores data to the device covering addr. Misses have no side
// effects.
func (b *RootBus) Write(addr uint64, data []byte) bool {
	if !validSize(len(data)) {
		slog.Error("bus: invalid write size", "addr", fmt.Sprintf("%#x", addr), "size", len(data))
		return false
	}
	dev, fb := b.route(addr)
	if dev != nil {
		if err := dev.Write(addr, data); err != nil {
			slog.Error("bus: device write failed", "device", dev.DeviceInfo().Name, "err", err)
		}
		return true
	}
	if fb != nil && fb.Write(addr, data) {
		return true
	}
	slog.Warn("bus: write to unmapped address", "addr", fmt.Sprintf("%#x", addr))
	return false
}

// Fill stores size copies of value starting at addr.
func (b *RootBus) Fill(addr uint64, value byte, size uint64) bool {
	if !validSize(int(size)) {
		slog.Error("bus: invalid fill size", "addr", fmt.Sprintf("%#x", addr), "size", size)
		return false
	}
	dev, fb := b.route(addr)
	if dev != nil {
		if err := dev.MemSet(addr, value, size); err != nil {
			slog.Error("bus: device fill failed", "device", dev.DeviceInfo().Name, "err", err)
		}
		return true
	}
	if fb != nil && fb.MemSet(addr, value, size) {
		return true
	}
	slog.Warn("bus: fill of unmapped address", "addr", fmt.Sprintf("%#x", addr))
	return false
}
