package smc

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"golang.org/x/term"
)

// SockUART bridges the guest serial port to a TCP listener. One client at a
// time; guest transmits are dropped while nobody is connected. With Echo set
// the transmit stream is additionally mirrored to stdout, which is how the
// "print" UART system works.
type SockUART struct {
	mu     sync.Mutex
	ln     net.Listener
	conn   net.Conn
	rx     chan byte
	echo   bool
	isTerm bool
	ready  bool
	done   chan struct{}
}

func (u *SockUART) Init(cfg UARTConfig) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ready {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.SocketIP, cfg.SocketPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("smc: uart socket listen on %s: %w", addr, err)
	}

	u.ln = ln
	u.rx = make(chan byte, 512)
	u.done = make(chan struct{})
	u.echo = cfg.Echo
	u.isTerm = term.IsTerminal(int(os.Stdout.Fd()))
	u.ready = true

	slog.Info("smc: uart socket listening", "addr", ln.Addr().String(), "echo", u.echo)
	go u.acceptLoop(ln)
	return nil
}

func (u *SockUART) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-u.done:
			default:
				slog.Error("smc: uart socket accept failed", "err", err)
			}
			return
		}
		u.mu.Lock()
		if u.conn != nil {
			u.conn.Close()
		}
		u.conn = conn
		u.mu.Unlock()
		go u.readLoop(conn)
	}
}

func (u *SockUART) readLoop(conn net.Conn) {
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			select {
			case u.rx <- buf[i]:
			case <-u.done:
				return
			default:
				// Receive overrun: the guest is not draining. Hardware would
				// drop bytes too.
			}
		}
		if err != nil {
			u.mu.Lock()
			if u.conn == conn {
				u.conn = nil
			}
			u.mu.Unlock()
			return
		}
	}
}

func (u *SockUART) Shutdown() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.ready {
		return nil
	}
	close(u.done)
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
	err := u.ln.Close()
	u.ready = false
	return err
}

func (u *SockUART) Read() (byte, bool) {
	u.mu.Lock()
	rx := u.rx
	u.mu.Unlock()
	select {
	case b := <-rx:
		return b, true
	default:
		return 0, false
	}
}

func (u *SockUART) Write(b byte) error {
	u.mu.Lock()
	conn := u.conn
	echo := u.echo
	isTerm := u.isTerm
	u.mu.Unlock()

	if echo {
		// An interactive terminal advances the line on its own; keep the
		// carriage returns when the output is piped.
		if !(isTerm && b == '\r') {
			os.Stdout.Write([]byte{b})
		}
	}
	if conn == nil {
		return nil
	}
	if _, err := conn.Write([]byte{b}); err != nil {
		return fmt.Errorf("smc: uart socket write: %w", err)
	}
	return nil
}

func (u *SockUART) ReadStatus() uint32 {
	u.mu.Lock()
	rx := u.rx
	u.mu.Unlock()
	status := uint32(UARTStatusEmpty)
	if len(rx) > 0 {
		status |= UARTStatusDataIn
	}
	return status
}

func (u *SockUART) SetupNeeded() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.ready
}
