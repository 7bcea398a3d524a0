package nand

import (
	"github.com/Xphalnos/Xenon/internal/bus"
)

// FlashController is the SFCX collaborator that owns the flash image and
// its page layout. The gateway treats the image as an opaque byte array.
type FlashController interface {
	ReadRaw(addr uint64, data []byte) error
	WriteRaw(addr uint64, data []byte) error
	MemSetRaw(addr uint64, value byte, size uint64) error
}

// NAND registers the flash under a named MMIO range and forwards every
// access to the flash controller unchanged.
type NAND struct {
	bus.BaseDevice
	sfcx FlashController
}

func New(name string, sfcx FlashController, startAddr, endAddr uint64, soc bool) *NAND {
	return &NAND{
		BaseDevice: bus.NewBaseDevice(name, startAddr, endAddr, soc),
		sfcx:       sfcx,
	}
}

func (n *NAND) Read(addr uint64, data []byte) error {
	return n.sfcx.ReadRaw(addr, data)
}

func (n *NAND) Write(addr uint64, data []byte) error {
	return n.sfcx.WriteRaw(addr, data)
}

func (n *NAND) MemSet(addr uint64, value byte, size uint64) error {
	return n.sfcx.MemSetRaw(addr, value, size)
}

var _ bus.Device = (*NAND)(nil)
