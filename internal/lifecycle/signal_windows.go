//go:build windows

package lifecycle

import (
	"os"
	"os/signal"
	"syscall"
)

func signalNotify(ch chan<- os.Signal) {
	// The runtime delivers CTRL_C_EVENT as os.Interrupt and CTRL_CLOSE_EVENT
	// as SIGTERM.
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}
