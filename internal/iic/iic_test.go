package iic

import "testing"

func TestBlockDeliversToTargetThread(t *testing.T) {
	var woken []uint8
	b := NewBlock(func(cpu uint8) { woken = append(woken, cpu) })

	b.GenInterrupt(PrioClock, 3)

	prio, ok := b.Pending(3)
	if !ok || prio != PrioClock {
		t.Fatalf("pending: prio=%#x ok=%v", prio, ok)
	}
	if _, ok := b.Pending(0); ok {
		t.Fatalf("interrupt leaked to another thread")
	}
	if len(woken) != 1 || woken[0] != 3 {
		t.Fatalf("wake calls: %v", woken)
	}
}

func TestBlockHighestPriorityWins(t *testing.T) {
	b := NewBlock(nil)
	b.GenInterrupt(PrioSMM, 0)
	b.GenInterrupt(PrioClock, 0)

	prio, ok := b.Pending(0)
	if !ok || prio != PrioClock {
		t.Fatalf("pending: prio=%#x ok=%v", prio, ok)
	}
}

func TestBlockCancelAndAck(t *testing.T) {
	b := NewBlock(nil)
	b.GenInterrupt(PrioSMM, 1)
	b.CancelInterrupt(PrioSMM, 1)
	if _, ok := b.Pending(1); ok {
		t.Fatalf("cancel did not clear")
	}

	b.GenInterrupt(PrioSMM, 1)
	b.Ack(1, PrioSMM)
	if _, ok := b.Pending(1); ok {
		t.Fatalf("ack did not clear")
	}
}

func TestBlockRejectsOutOfRangeThread(t *testing.T) {
	b := NewBlock(nil)
	b.GenInterrupt(PrioSMM, NumThreads)
	for cpu := uint8(0); cpu < NumThreads; cpu++ {
		if _, ok := b.Pending(cpu); ok {
			t.Fatalf("out-of-range delivery landed on thread %d", cpu)
		}
	}
}
