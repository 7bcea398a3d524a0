package lifecycle

import "testing"

func TestFlagDefaults(t *testing.T) {
	defer Reset()

	if !Running() {
		t.Fatalf("machine not running at startup")
	}
	if Paused() {
		t.Fatalf("machine paused at startup")
	}
	if ShutdownSignaled() {
		t.Fatalf("shutdown already signaled at startup")
	}
}

func TestShutdownProtocolFlags(t *testing.T) {
	defer Reset()

	RequestShutdown()
	if Running() {
		t.Fatalf("running after shutdown request")
	}

	SignalShutdownComplete()
	if !ShutdownSignaled() {
		t.Fatalf("shutdown completion not recorded")
	}

	Reset()
	if !Running() || ShutdownSignaled() {
		t.Fatalf("reset did not re-arm the flags")
	}
}

func TestPausedIsSticky(t *testing.T) {
	defer SetPaused(false)

	SetPaused(true)
	if !Paused() {
		t.Fatalf("pause not observed")
	}
	SetPaused(true)
	if !Paused() {
		t.Fatalf("pause cleared unexpectedly")
	}
	SetPaused(false)
	if Paused() {
		t.Fatalf("pause not cleared")
	}
}
