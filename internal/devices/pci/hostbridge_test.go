package pci

import (
	"encoding/binary"
	"testing"
)

func hostWrite32(t *testing.T, h *HostBridge, addr uint64, value uint32) {
	t.Helper()
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	if !h.Write(addr, buf) {
		t.Fatalf("host bridge write at %#x failed", addr)
	}
}

func hostRead32(t *testing.T, h *HostBridge, addr uint64) uint32 {
	t.Helper()
	buf := make([]byte, 4)
	if !h.Read(addr, buf) {
		t.Fatalf("host bridge read at %#x failed", addr)
	}
	return binary.LittleEndian.Uint32(buf)
}

func TestHostBridgeLocalRegisters(t *testing.T) {
	h := NewHostBridge(512 << 20)

	hostWrite32(t, h, 0xE0020000, 0xA5A5A5A5)
	if got := hostRead32(t, h, 0xE0020000); got != 0xA5A5A5A5 {
		t.Fatalf("host reg readback: got %#x", got)
	}

	hostWrite32(t, h, 0xE1013000, 0x77)
	if got := hostRead32(t, h, 0xE1013000); got != 0x77 {
		t.Fatalf("biu reg readback: got %#x", got)
	}
}

func TestHostBridgeRAMSizeMirror(t *testing.T) {
	h := NewHostBridge(512 << 20)
	if got := hostRead32(t, h, 0xE1040000); got != 512<<20 {
		t.Fatalf("ram size mirror: got %#x want %#x", got, uint32(512<<20))
	}
}

func TestHostBridgeUnknownRegisterReadsZero(t *testing.T) {
	h := NewHostBridge(512 << 20)
	hostWrite32(t, h, 0xE0025555, 0xDEADBEEF) // dropped
	if got := hostRead32(t, h, 0xE0025555); got != 0 {
		t.Fatalf("unknown reg: got %#x want 0", got)
	}
}

func TestHostBridgeForwardsToPCIBridge(t *testing.T) {
	h := NewHostBridge(512 << 20)
	b := NewBridge(0x90)
	h.RegisterPCIBridge(b)

	hostWrite32(t, h, BridgeBase+0x10, 0x00800200)
	if got := hostRead32(t, h, BridgeBase+0x10); got != 0x00800200 {
		t.Fatalf("forwarded readback: got %#x", got)
	}
}

// stubGPU exposes one fixed BAR window.
type stubGPU struct {
	base, size uint32
	regs       map[uint64]uint32
}

func (g *stubGPU) IsAddressMappedInBAR(addr uint32) bool {
	return addr >= g.base && addr < g.base+g.size
}

func (g *stubGPU) Read(addr uint64, data []byte) error {
	binary.LittleEndian.PutUint32(data, g.regs[addr])
	return nil
}

func (g *stubGPU) Write(addr uint64, data []byte) error {
	g.regs[addr] = binary.LittleEndian.Uint32(data)
	return nil
}

func (g *stubGPU) MemSet(addr uint64, value byte, size uint64) error {
	g.regs[addr] = uint32(value)
	return nil
}

func TestHostBridgeSteersGPUBAR(t *testing.T) {
	h := NewHostBridge(512 << 20)
	h.RegisterPCIBridge(NewBridge(0x90))
	gpu := &stubGPU{base: 0xEC800000, size: 0x10000, regs: make(map[uint64]uint32)}
	h.RegisterGPU(gpu)

	hostWrite32(t, h, 0xEC800710, 0x1234)
	if got := hostRead32(t, h, 0xEC800710); got != 0x1234 {
		t.Fatalf("gpu readback: got %#x", got)
	}
	if gpu.regs[0xEC800710] != 0x1234 {
		t.Fatalf("write did not reach the gpu")
	}
}

func TestHostBridgeConfigForwarding(t *testing.T) {
	h := NewHostBridge(512 << 20)
	b := NewBridge(0x60)
	h.RegisterPCIBridge(b)

	buf := make([]byte, 1)
	if !h.ConfigRead(MakeConfigAddress(0, 0, 0, CfgRevisionID), buf) {
		t.Fatalf("config read failed")
	}
	if buf[0] != 0x60 {
		t.Fatalf("config forwarding: got %#x want 0x60", buf[0])
	}
}
