package nand

import "testing"

const flashBase = 0xC8000000

func TestMemFlashErasedReadsOnes(t *testing.T) {
	flash := NewMemFlash(flashBase, 0x1000)
	buf := make([]byte, 8)
	if err := flash.ReadRaw(flashBase+0x200, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	for i, v := range buf {
		if v != 0xFF {
			t.Fatalf("erased byte %d: %#x", i, v)
		}
	}
}

func TestGatewayForwardsToFlash(t *testing.T) {
	flash := NewMemFlash(flashBase, 0x1000)
	gw := New("NAND", flash, flashBase, flashBase+0x1000, true)

	if err := gw.Write(flashBase+0x10, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4)
	if err := gw.Read(flashBase+0x10, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	for i, want := range []byte{1, 2, 3, 4} {
		if buf[i] != want {
			t.Fatalf("byte %d: got %#x want %#x", i, buf[i], want)
		}
	}

	if err := gw.MemSet(flashBase+0x10, 0, 4); err != nil {
		t.Fatalf("memset: %v", err)
	}
	if err := gw.Read(flashBase+0x10, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("memset missed byte %d: %#x", i, v)
		}
	}
}

func TestFlashRejectsOutOfImage(t *testing.T) {
	flash := NewMemFlash(flashBase, 0x1000)
	if err := flash.ReadRaw(flashBase+0x1000, make([]byte, 4)); err == nil {
		t.Fatalf("out-of-image read accepted")
	}
	if err := flash.WriteRaw(flashBase-4, make([]byte, 4)); err == nil {
		t.Fatalf("below-image write accepted")
	}
}
