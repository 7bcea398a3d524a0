package ram

import (
	"fmt"
	"sync"

	"github.com/Xphalnos/Xenon/internal/bus"
)

// RAM is main memory, routed like any other device so JIT-emitted loads and
// stores funnel through the address-space router.
type RAM struct {
	bus.BaseDevice

	mu   sync.Mutex
	data []byte
}

func New(name string, startAddr uint64, size uint64) *RAM {
	return &RAM{
		BaseDevice: bus.NewBaseDevice(name, startAddr, startAddr+size, true),
		data:       make([]byte, size),
	}
}

func (r *RAM) offset(addr uint64, n uint64) (uint64, error) {
	info := r.DeviceInfo()
	if addr < info.StartAddr || addr+n > info.EndAddr {
		return 0, fmt.Errorf("ram: access at %#x+%d outside backing store", addr, n)
	}
	return addr - info.StartAddr, nil
}

func (r *RAM) Read(addr uint64, data []byte) error {
	off, err := r.offset(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(data, r.data[off:])
	return nil
}

func (r *RAM) Write(addr uint64, data []byte) error {
	off, err := r.offset(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(r.data[off:], data)
	return nil
}

func (r *RAM) MemSet(addr uint64, value byte, size uint64) error {
	off, err := r.offset(addr, size)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := uint64(0); i < size; i++ {
		r.data[off+i] = value
	}
	return nil
}

// PointerToAddress exposes the backing bytes from a guest physical address
// to the end of memory. The CPU interpreter uses it for direct page access;
// callers must not hold it across a reset.
func (r *RAM) PointerToAddress(addr uint64) []byte {
	off, err := r.offset(addr, 1)
	if err != nil {
		return nil
	}
	return r.data[off:]
}

var _ bus.Device = (*RAM)(nil)
