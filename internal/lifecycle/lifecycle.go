package lifecycle

import (
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// The three process-wide flags. They exist because OS signal handlers must
// reach them; everything else threads state explicitly. All are set before
// any worker thread is spawned.
var (
	running  atomic.Bool
	paused   atomic.Bool
	shutdown atomic.Bool // one-shot: workers have been torn down

	hup atomic.Bool
)

func init() {
	running.Store(true)
}

// Running reports whether worker loops should keep going.
func Running() bool { return running.Load() }

// RequestShutdown asks every worker loop to exit at its next loop head.
func RequestShutdown() { running.Store(false) }

// Reset re-arms the flags for a fresh run. A guest reboot does not go
// through here; running stays set while the SMC is replaced.
func Reset() {
	running.Store(true)
	shutdown.Store(false)
}

// Paused reports whether the operator is sitting at a prompt.
func Paused() bool { return paused.Load() }

// SetPaused marks the operator prompt state; it is sticky until the prompt
// is acknowledged.
func SetPaused(v bool) { paused.Store(v) }

// ShutdownSignaled reports that teardown completed.
func ShutdownSignaled() bool { return shutdown.Load() }

// SignalShutdownComplete records that all workers observed the stop and
// joined.
func SignalShutdownComplete() { shutdown.Store(true) }

// shutdownGrace is how long workers get to notice the stop before the
// signal handler gives up on a clean exit.
const shutdownGrace = 15 * time.Second

// InstallSignalHandler arranges for OS termination signals to drive the
// shutdown protocol: force-exit while paused, clean stop on the first
// signal, forced exit on the second or after the grace period.
func InstallSignalHandler() {
	ch := make(chan os.Signal, 1)
	signalNotify(ch)
	go func() {
		for range ch {
			handleSignal()
		}
	}()
}

func handleSignal() {
	// The operator is waiting at a prompt; a clean shutdown cannot be
	// negotiated from here.
	if Paused() {
		os.Exit(1)
	}
	if !hup.CompareAndSwap(false, true) {
		slog.Error("lifecycle: unable to clean shutdown, forcing exit")
		os.Exit(1)
	}

	slog.Info("lifecycle: attempting clean shutdown")
	RequestShutdown()

	go func() {
		time.Sleep(shutdownGrace)
		if !ShutdownSignaled() {
			slog.Error("lifecycle: workers did not exit within the grace period, forcing exit",
				"grace", shutdownGrace)
			os.Exit(1)
		}
	}()
}
