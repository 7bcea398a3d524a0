package nand

import (
	"fmt"
	"sync"
)

// MemFlash is a flash controller over an in-memory image, used when no
// backing file is supplied and by tests. Addresses are taken relative to
// the gateway's window base.
type MemFlash struct {
	mu   sync.Mutex
	base uint64
	data []byte
}

func NewMemFlash(base uint64, size uint64) *MemFlash {
	img := make([]byte, size)
	// Erased flash reads all-ones.
	for i := range img {
		img[i] = 0xFF
	}
	return &MemFlash{base: base, data: img}
}

func (f *MemFlash) offset(addr uint64, n uint64) (uint64, error) {
	if addr < f.base || addr+n > f.base+uint64(len(f.data)) {
		return 0, fmt.Errorf("nand: flash access at %#x+%d outside image", addr, n)
	}
	return addr - f.base, nil
}

func (f *MemFlash) ReadRaw(addr uint64, data []byte) error {
	off, err := f.offset(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(data, f.data[off:])
	return nil
}

func (f *MemFlash) WriteRaw(addr uint64, data []byte) error {
	off, err := f.offset(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.data[off:], data)
	return nil
}

func (f *MemFlash) MemSetRaw(addr uint64, value byte, size uint64) error {
	off, err := f.offset(addr, size)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint64(0); i < size; i++ {
		f.data[off+i] = value
	}
	return nil
}

var _ FlashController = (*MemFlash)(nil)
