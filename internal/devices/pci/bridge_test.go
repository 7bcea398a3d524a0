package pci

import (
	"encoding/binary"
	"testing"

	"github.com/Xphalnos/Xenon/internal/iic"
)

// recordingIIC captures interrupt deliveries for assertions.
type recordingIIC struct {
	gen    []iicCall
	cancel []iicCall
}

type iicCall struct {
	prio uint8
	cpu  uint8
}

func (r *recordingIIC) GenInterrupt(prio, cpu uint8) { r.gen = append(r.gen, iicCall{prio, cpu}) }
func (r *recordingIIC) CancelInterrupt(prio, cpu uint8) {
	r.cancel = append(r.cancel, iicCall{prio, cpu})
}

func newTestBridge() (*Bridge, *recordingIIC) {
	ctrl := &recordingIIC{}
	b := NewBridge(0x90)
	b.RegisterIIC(ctrl)
	return b, ctrl
}

func write32(t *testing.T, b *Bridge, addr uint64, value uint32) {
	t.Helper()
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	if !b.Write(addr, buf) {
		t.Fatalf("bridge write at %#x failed", addr)
	}
}

func read32(t *testing.T, b *Bridge, addr uint64) uint32 {
	t.Helper()
	buf := make([]byte, 4)
	if !b.Read(addr, buf) {
		t.Fatalf("bridge read at %#x failed", addr)
	}
	return binary.LittleEndian.Uint32(buf)
}

// enableWord builds a priority register word with the interrupt enabled and
// the given target thread.
func enableWord(cpu uint8) uint32 {
	return 1<<23 | uint32(cpu)<<8
}

func TestPriorityRegisterDerivation(t *testing.T) {
	b, _ := newTestBridge()

	word := uint32(1<<23 | 1<<21 | 3<<8 | 0x15)
	write32(t, b, BridgeBase+0x10, word)

	if got := read32(t, b, BridgeBase+0x10); got != word {
		t.Fatalf("raw readback: got %#x want %#x", got, word)
	}

	b.mu.Lock()
	reg := b.prio[iic.PrioClock]
	b.mu.Unlock()
	if !reg.enabled || !reg.latched {
		t.Fatalf("enable/latch bits not derived: %+v", reg)
	}
	if reg.targetCPU != 3 {
		t.Fatalf("target cpu: got %d want 3", reg.targetCPU)
	}
	if reg.cpuIRQ != uint8(0x15<<2)&0xFC {
		t.Fatalf("cpu irq: got %#x", reg.cpuIRQ)
	}
}

func TestRouteInterruptDelivers(t *testing.T) {
	b, ctrl := newTestBridge()
	write32(t, b, BridgeBase+0x1C, enableWord(2)) // SMM → thread 2

	if err := b.RouteInterrupt(iic.PrioSMM, NoTargetCPU); err != nil {
		t.Fatalf("route failed: %v", err)
	}
	if len(ctrl.gen) != 1 || ctrl.gen[0] != (iicCall{iic.PrioSMM, 2}) {
		t.Fatalf("unexpected deliveries: %+v", ctrl.gen)
	}
}

func TestRouteInterruptGatedByEnable(t *testing.T) {
	b, ctrl := newTestBridge()
	// Target set but enable bit clear.
	write32(t, b, BridgeBase+0x1C, 2<<8)

	if err := b.RouteInterrupt(iic.PrioSMM, NoTargetCPU); err != nil {
		t.Fatalf("route failed: %v", err)
	}
	if len(ctrl.gen) != 0 {
		t.Fatalf("disabled source delivered: %+v", ctrl.gen)
	}
}

func TestGraphicsInterruptNeedsTarget(t *testing.T) {
	b, ctrl := newTestBridge()

	if err := b.RouteInterrupt(iic.PrioGraphics, NoTargetCPU); err == nil {
		t.Fatalf("sentinel target accepted")
	}
	if len(ctrl.gen) != 0 {
		t.Fatalf("sentinel target reached the iic: %+v", ctrl.gen)
	}

	if err := b.RouteInterrupt(iic.PrioGraphics, 4); err != nil {
		t.Fatalf("explicit target rejected: %v", err)
	}
	if len(ctrl.gen) != 1 || ctrl.gen[0] != (iicCall{iic.PrioGraphics, 4}) {
		t.Fatalf("unexpected deliveries: %+v", ctrl.gen)
	}

	if err := b.RouteInterrupt(iic.PrioXPS, NoTargetCPU); err == nil {
		t.Fatalf("xps sentinel target accepted")
	}
}

func TestCancelInterrupt(t *testing.T) {
	b, ctrl := newTestBridge()
	write32(t, b, BridgeBase+0x10, enableWord(1)) // CLOCK → thread 1

	b.CancelInterrupt(iic.PrioClock)
	if len(ctrl.cancel) != 1 || ctrl.cancel[0] != (iicCall{iic.PrioClock, 1}) {
		t.Fatalf("unexpected cancels: %+v", ctrl.cancel)
	}

	// Disabled sources cancel nothing.
	write32(t, b, BridgeBase+0x10, 1<<8)
	b.CancelInterrupt(iic.PrioClock)
	if len(ctrl.cancel) != 1 {
		t.Fatalf("disabled source cancelled: %+v", ctrl.cancel)
	}
}

func TestBridgeStatusRegisters(t *testing.T) {
	b, _ := newTestBridge()

	if got := read32(t, b, regBusIRQL); got != busIRQLDefault {
		t.Fatalf("bus irql default: got %#x want %#x", got, busIRQLDefault)
	}
	write32(t, b, regBusStatus0, 0x12345678)
	if got := read32(t, b, regBusStatus0); got != 0x12345678 {
		t.Fatalf("status readback: got %#x", got)
	}
}

func TestBridgeRevisionPersonality(t *testing.T) {
	for _, rev := range []uint8{0x02, 0x60, 0x90} {
		b := NewBridge(rev)
		buf := make([]byte, 1)
		if !b.ConfigRead(MakeConfigAddress(0, 0, 0, CfgRevisionID), buf) {
			t.Fatalf("bridge config read failed")
		}
		if buf[0] != rev {
			t.Fatalf("revision: got %#x want %#x", buf[0], rev)
		}
	}
}

// barDevice is a minimal leaf with one implemented BAR.
type barDevice struct {
	BaseDevice
	regs [0x100]byte
}

func newBARDevice(name string, barSize uint32) *barDevice {
	return &barDevice{
		BaseDevice: NewBaseDevice(name, NewConfigSpace([]uint32{0x58011414}, [6]uint32{barSize})),
	}
}

func (d *barDevice) Read(addr uint64, data []byte) error {
	copy(data, d.regs[uint8(addr):])
	return nil
}

func (d *barDevice) Write(addr uint64, data []byte) error {
	copy(d.regs[uint8(addr):], data)
	return nil
}

func (d *barDevice) MemSet(addr uint64, value byte, size uint64) error {
	off := uint8(addr)
	for i := uint64(0); i < size && int(off)+int(i) < len(d.regs); i++ {
		d.regs[int(off)+int(i)] = value
	}
	return nil
}

func TestConfigDispatchThroughCatalog(t *testing.T) {
	b, _ := newTestBridge()
	dev := newBARDevice(NameSMC, 0x100)
	if err := b.AddDevice(dev); err != nil {
		t.Fatalf("add device: %v", err)
	}

	buf := make([]byte, 2)
	if !b.ConfigRead(MakeConfigAddress(0, 0xA, 0, CfgVendorID), buf) {
		t.Fatalf("config read failed")
	}
	if got := binary.LittleEndian.Uint16(buf); got != 0x1414 {
		t.Fatalf("vendor through catalog: got %#x", got)
	}
}

func TestConfigReadAbsentSlotReturnsFF(t *testing.T) {
	b, _ := newTestBridge()

	buf := make([]byte, 4)
	if b.ConfigRead(MakeConfigAddress(0, 0x1, 0, 0), buf) {
		t.Fatalf("absent slot read reported success")
	}
	for i, v := range buf {
		if v != 0xFF {
			t.Fatalf("byte %d: got %#x want 0xFF", i, v)
		}
	}

	// Unknown device numbers behave the same.
	buf = []byte{0, 0, 0, 0}
	if b.ConfigRead(MakeConfigAddress(0, 0x3, 0, 0), buf) {
		t.Fatalf("unknown slot read reported success")
	}
	if buf[0] != 0xFF {
		t.Fatalf("unknown slot not filled: got %#x", buf[0])
	}
}

func TestConfigWriteAbsentSlotDropped(t *testing.T) {
	b, _ := newTestBridge()
	if b.ConfigWrite(MakeConfigAddress(0, 0x1, 0, 0x10), []byte{1, 2, 3, 4}) {
		t.Fatalf("absent slot write reported success")
	}
}

func TestBARWindowDispatch(t *testing.T) {
	b, _ := newTestBridge()
	dev := newBARDevice(NameSMC, 0x100)
	if err := b.AddDevice(dev); err != nil {
		t.Fatalf("add device: %v", err)
	}

	// Firmware points BAR0 at a window outside the bridge's own registers.
	bar := make([]byte, 4)
	binary.LittleEndian.PutUint32(bar, 0xD0010000)
	if !b.ConfigWrite(MakeConfigAddress(0, 0xA, 0, 0x10), bar) {
		t.Fatalf("bar program failed")
	}

	write32(t, b, 0xD0010020, 0xCAFEBABE)
	if got := read32(t, b, 0xD0010020); got != 0xCAFEBABE {
		t.Fatalf("bar window readback: got %#x", got)
	}
}

func TestAddDeviceReplaces(t *testing.T) {
	b, _ := newTestBridge()
	first := newBARDevice(NameSMC, 0x100)
	second := newBARDevice(NameSMC, 0x100)
	if err := b.AddDevice(first); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := b.AddDevice(second); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if b.Lookup(NameSMC) != second {
		t.Fatalf("replacement did not take")
	}
}

func TestResetDeviceRequiresExisting(t *testing.T) {
	b, _ := newTestBridge()
	if err := b.ResetDevice(newBARDevice(NameSMC, 0x100)); err == nil {
		t.Fatalf("reset of never-attached device accepted")
	}

	dev := newBARDevice(NameSMC, 0x100)
	if err := b.AddDevice(dev); err != nil {
		t.Fatalf("add: %v", err)
	}
	fresh := newBARDevice(NameSMC, 0x100)
	if err := b.ResetDevice(fresh); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if b.Lookup(NameSMC) != fresh {
		t.Fatalf("reset did not swap the instance")
	}
}
