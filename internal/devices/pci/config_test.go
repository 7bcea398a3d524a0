package pci

import (
	"encoding/binary"
	"testing"
)

func TestConfigSpaceTypedOverlay(t *testing.T) {
	cs := NewConfigSpace([]uint32{0x580D1414, 0x02300006}, [6]uint32{})
	if got := cs.VendorID(); got != 0x1414 {
		t.Fatalf("vendor id: got %#x", got)
	}
	if got := cs.DeviceID(); got != 0x580D {
		t.Fatalf("device id: got %#x", got)
	}
	if got := cs.Command(); got != 0x0006 {
		t.Fatalf("command: got %#x", got)
	}
	if got := cs.Status(); got != 0x0230 {
		t.Fatalf("status: got %#x", got)
	}
}

func readBAR(t *testing.T, cs *ConfigSpace, index int) uint32 {
	t.Helper()
	buf := make([]byte, 4)
	if err := cs.Read(uint8(0x10+index*4), buf); err != nil {
		t.Fatalf("bar read failed: %v", err)
	}
	return binary.LittleEndian.Uint32(buf)
}

func writeBAR(t *testing.T, cs *ConfigSpace, index int, value uint32) {
	t.Helper()
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	if err := cs.Write(uint8(0x10+index*4), buf); err != nil {
		t.Fatalf("bar write failed: %v", err)
	}
}

func TestBARSizeDiscovery(t *testing.T) {
	cs := NewConfigSpace(nil, [6]uint32{0x1000})

	writeBAR(t, cs, 0, 0xFFFFFFFF)
	if got := readBAR(t, cs, 0); got != 0xFFFFF000 {
		t.Fatalf("size probe: got %#x want 0xFFFFF000", got)
	}

	// The register reverts on the next normal write.
	writeBAR(t, cs, 0, 0xEA010000)
	if got := readBAR(t, cs, 0); got != 0xEA010000 {
		t.Fatalf("post-probe write: got %#x want 0xEA010000", got)
	}
}

func TestBARSizeDiscoveryMasks(t *testing.T) {
	for _, tt := range []struct {
		size uint32
		want uint32
	}{
		{0x100, 0xFFFFFF00},
		{0x1000, 0xFFFFF000},
		{0x10000, 0xFFFF0000},
		{0x1000000, 0xFF000000},
	} {
		cs := NewConfigSpace(nil, [6]uint32{tt.size})
		writeBAR(t, cs, 0, 0xFFFFFFFF)
		if got := readBAR(t, cs, 0); got != tt.want {
			t.Fatalf("size %#x: got %#x want %#x", tt.size, got, tt.want)
		}
	}
}

func TestUnimplementedBARReadsZero(t *testing.T) {
	cs := NewConfigSpace(nil, [6]uint32{0x1000})
	writeBAR(t, cs, 3, 0xFFFFFFFF)
	if got := readBAR(t, cs, 3); got != 0 {
		t.Fatalf("unimplemented bar: got %#x", got)
	}
	writeBAR(t, cs, 3, 0x12345678)
	if got := readBAR(t, cs, 3); got != 0 {
		t.Fatalf("unimplemented bar after write: got %#x", got)
	}
}

func TestExpansionROMNeverImplemented(t *testing.T) {
	cs := NewConfigSpace(nil, [6]uint32{0x1000})
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if err := cs.Write(0x30, buf); err != nil {
		t.Fatalf("rom write failed: %v", err)
	}
	if err := cs.Read(0x30, buf); err != nil {
		t.Fatalf("rom read failed: %v", err)
	}
	if got := binary.LittleEndian.Uint32(buf); got != 0 {
		t.Fatalf("expansion rom: got %#x", got)
	}
}

func TestConfigSpaceBounds(t *testing.T) {
	cs := NewConfigSpace(nil, [6]uint32{})
	if err := cs.Read(0xFE, make([]byte, 4)); err == nil {
		t.Fatalf("out-of-bank read accepted")
	}
	if err := cs.Write(0xFE, make([]byte, 4)); err == nil {
		t.Fatalf("out-of-bank write accepted")
	}
}

func TestConfigAddressEncoding(t *testing.T) {
	addr := MakeConfigAddress(1, 0xA, 0x1, 0x3C)
	if addr.BusNum() != 1 || addr.DevNum() != 0xA || addr.FuncNum() != 0x1 || addr.RegOffset() != 0x3C {
		t.Fatalf("roundtrip mismatch: bus=%d dev=%#x fn=%d off=%#x",
			addr.BusNum(), addr.DevNum(), addr.FuncNum(), addr.RegOffset())
	}
}

func TestSlotNameTable(t *testing.T) {
	for _, tt := range []struct {
		dev, fn uint8
		want    string
	}{
		{0x0, 0, NameXMA},
		{0x1, 0, NameCDROM},
		{0x2, 0, NameHDD},
		{0x4, 0, NameOHCI0},
		{0x4, 1, NameEHCI0},
		{0x5, 0, NameOHCI1},
		{0x5, 1, NameEHCI1},
		{0x7, 0, NameEthernet},
		{0x8, 0, NameSFCX},
		{0x9, 0, NameAudioCtrlr},
		{0xA, 0, NameSMC},
		{0xF, 0, Name5841},
	} {
		got, ok := SlotName(tt.dev, tt.fn)
		if !ok || got != tt.want {
			t.Fatalf("slot %#x.%d: got %q ok=%v want %q", tt.dev, tt.fn, got, ok, tt.want)
		}
	}
	if _, ok := SlotName(0x3, 0); ok {
		t.Fatalf("nonexistent slot resolved")
	}
	if _, ok := SlotName(0x4, 2); ok {
		t.Fatalf("nonexistent function resolved")
	}
}
