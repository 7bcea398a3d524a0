package smc

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Xphalnos/Xenon/internal/devices/pci"
)

// Register offsets inside BAR0.
const (
	regUARTOut    = 0x10
	regUARTIn     = 0x14
	regUARTStatus = 0x18
	regUARTConfig = 0x1C

	regSMIStatus  = 0x50
	regSMIAck     = 0x58
	regSMIEnabled = 0x5C

	regClockEnabled = 0x64
	regClockStatus  = 0x6C

	regFIFOInData   = 0x80
	regFIFOInStatus = 0x84

	regFIFOOutData   = 0x90
	regFIFOOutStatus = 0x94
)

const (
	fifoStatusReady = 0x4
	fifoStatusBusy  = 0x0

	smiIntEnabled = 0xC
	smiIntNone    = 0x0
	smiIntPending = 0x10000000

	clockIntEnabled = 0x10000000
	clockIntReady   = 0x1
	clockIntTaken   = 0x3

	fifoSize = 16

	// The config word XeLL never writes: 115200 baud, 8N1. Applied when the
	// guest polls UART status before configuring the port.
	defaultUARTWord = 0x1E6
)

// Tray states reported by QUERY_TRAY_STATE.
const (
	TrayOpen        = 0x60
	TrayOpenRequest = 0x61
	TrayClosed      = 0x62
	TrayOpening     = 0x63
	TrayClosing     = 0x64
	TrayUnloading   = 0x65
	TraySpinup      = 0x66
)

// Power-on reasons reported by PWRON_TYPE.
const (
	PowerOnButton = 0x11
	PowerOnEject  = 0x12
	PowerOnAlarm  = 0x15
	PowerOnRemote = 0x20
	PowerOnReset  = 0x30
)

// Options selects the SMC personality at construction.
type Options struct {
	UARTSystem    string // "null", "print", "socket", "vcom"
	SocketIP      string
	SocketPort    int
	COMPort       string
	AVPack        uint8
	PowerOnReason uint8

	// HANA baseline selection: slim vs fat image, plus the revision
	// fingerprint stamped into register 0xFE (zero keeps the image default).
	Slim        bool
	Fingerprint uint8
}

// SMC models the system management controller: a register file behind BAR0
// serviced synchronously, plus a worker that runs the FIFO command protocol,
// the periodic clock interrupt and the UART bridge.
type SMC struct {
	pci.BaseDevice

	mu sync.Mutex

	bridge   *pci.Bridge
	powerOff func()
	reboot   func(reason uint8)

	uartOut    uint32
	uartIn     uint32
	uartConfig uint32

	smiPending uint32
	smiAck     uint32
	smiEnabled uint32

	clockEnabled uint32
	clockStatus  uint32

	fifoInStatus  uint32
	fifoOutStatus uint32
	fifo          [fifoSize]byte
	fifoPos       int

	avPack        uint8
	powerOnReason uint8
	trayState     uint8
	hana          [256]uint32

	uart     UARTBackend
	uartOpts Options

	clockPeriod  time.Duration
	pollInterval time.Duration
	now          func() time.Time

	wg   sync.WaitGroup
	stop chan struct{}
}

// Option customises an SMC instance, mainly for tests.
type Option func(*SMC)

// WithClockPeriod overrides the 500 ms guest clock tick.
func WithClockPeriod(d time.Duration) Option {
	return func(s *SMC) {
		if d > 0 {
			s.clockPeriod = d
		}
	}
}

// WithNow overrides the time base used by the clock tick.
func WithNow(now func() time.Time) Option {
	return func(s *SMC) {
		if now != nil {
			s.now = now
		}
	}
}

// WithUARTBackend injects a UART backend, bypassing the kind registry.
func WithUARTBackend(b UARTBackend) Option {
	return func(s *SMC) {
		if b != nil {
			s.uart = b
		}
	}
}

var smcConfigWords = []uint32{
	0x580D1414, // vendor/device
	0x02300006, // command/status
	0x0B001001, // class/revision
	0x00000000,
}

// New builds the SMC. bridge routes interrupts, powerOff services a guest
// shutdown request and reboot services a guest reboot request.
func New(opts Options, bridge *pci.Bridge, powerOff func(), reboot func(reason uint8), extra ...Option) *SMC {
	s := &SMC{
		BaseDevice: pci.NewBaseDevice(pci.NameSMC,
			pci.NewConfigSpace(smcConfigWords, [6]uint32{0x100})),
		bridge:        bridge,
		powerOff:      powerOff,
		reboot:        reboot,
		uartOpts:      opts,
		avPack:        opts.AVPack,
		powerOnReason: opts.PowerOnReason,
		trayState:     TrayClosed,
		fifoInStatus:  fifoStatusReady,
		hana:          hanaImage(opts.Slim, opts.Fingerprint),
		clockPeriod:   500 * time.Millisecond,
		pollInterval:  time.Millisecond,
		now:           time.Now,
	}
	for _, opt := range extra {
		opt(s)
	}
	if s.uart == nil {
		backend, err := newUARTBackend(opts.UARTSystem)
		if err != nil {
			slog.Error("smc: invalid uart system, defaulting to null", "kind", opts.UARTSystem, "err", err)
			backend = &NullUART{}
		}
		s.uart = backend
	}
	return s
}

// Read implements pci.Device.
func (s *SMC) Read(addr uint64, data []byte) error {
	off := uint8(addr)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch off {
	case regUARTOut:
		if b, ok := s.uart.Read(); ok {
			s.uartOut = uint32(b)
		}
		putWord(data, s.uartOut)
	case regUARTStatus:
		// XeLL reads status before ever configuring the port; bring the
		// backend up with the default word the first time that happens.
		if s.uart.SetupNeeded() {
			s.setupUARTLocked(defaultUARTWord)
		}
		putWord(data, s.uart.ReadStatus())
	case regUARTConfig:
		putWord(data, s.uartConfig)
	case regSMIStatus:
		putWord(data, s.smiPending)
	case regSMIAck:
		putWord(data, s.smiAck)
	case regSMIEnabled:
		putWord(data, s.smiEnabled)
	case regClockEnabled:
		putWord(data, s.clockEnabled)
	case regClockStatus:
		putWord(data, s.clockStatus)
	case regFIFOInStatus:
		putWord(data, s.fifoInStatus)
	case regFIFOOutStatus:
		putWord(data, s.fifoOutStatus)
	case regFIFOOutData:
		s.readFIFOLocked(data)
	default:
		slog.Error("smc: unknown register read", "offset", fmt.Sprintf("%#x", off))
		putWord(data, 0)
	}
	return nil
}

// Write implements pci.Device.
func (s *SMC) Write(addr uint64, data []byte) error {
	off := uint8(addr)
	value := word(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch off {
	case regUARTIn:
		s.uartIn = value
		if err := s.uart.Write(data[0]); err != nil {
			slog.Error("smc: uart write failed", "err", err)
		}
	case regUARTConfig:
		s.uartConfig = value
		if s.uart.SetupNeeded() {
			s.setupUARTLocked(value)
		}
	case regSMIStatus:
		s.smiPending = value
	case regSMIAck:
		s.smiAck = value
	case regSMIEnabled:
		s.smiEnabled = value
	case regClockEnabled:
		s.clockEnabled = value
	case regClockStatus:
		s.clockStatus = value
	case regFIFOInStatus:
		s.fifoInStatus = value
		if value == fifoStatusReady {
			// The guest is about to send: present a clean buffer.
			s.fifo = [fifoSize]byte{}
			s.fifoPos = 0
		}
	case regFIFOOutStatus:
		s.fifoOutStatus = value
		if value == fifoStatusReady {
			// The guest is about to read the reply from the top.
			s.fifoPos = 0
		}
	case regFIFOInData:
		s.writeFIFOLocked(data)
	default:
		slog.Error("smc: unknown register write",
			"offset", fmt.Sprintf("%#x", off), "value", fmt.Sprintf("%#x", value))
	}
	return nil
}

// MemSet implements pci.Device.
func (s *SMC) MemSet(addr uint64, value byte, size uint64) error {
	if size == 0 {
		return nil
	}
	if size > 8 {
		size = 8
	}
	pattern := make([]byte, size)
	for i := range pattern {
		pattern[i] = value
	}
	return s.Write(addr, pattern)
}

func (s *SMC) readFIFOLocked(data []byte) {
	n := len(data)
	if s.fifoPos+n > fifoSize {
		slog.Error("smc: fifo read past the message buffer", "pos", s.fifoPos, "size", n)
		putWord(data, 0)
		return
	}
	copy(data, s.fifo[s.fifoPos:])
	s.fifoPos += 4
}

func (s *SMC) writeFIFOLocked(data []byte) {
	n := len(data)
	if s.fifoPos+n > fifoSize {
		slog.Error("smc: fifo write past the message buffer", "pos", s.fifoPos, "size", n)
		return
	}
	copy(s.fifo[s.fifoPos:], data)
	s.fifoPos += 4
}

func (s *SMC) setupUARTLocked(configWord uint32) {
	cfg := UARTConfig{
		Word:       configWord,
		SocketIP:   s.uartOpts.SocketIP,
		SocketPort: s.uartOpts.SocketPort,
		COMPort:    s.uartOpts.COMPort,
		Echo:       s.uartOpts.UARTSystem == "print",
	}
	if err := s.uart.Init(cfg); err != nil {
		// Leave SetupNeeded standing so the next status poll retries.
		slog.Error("smc: uart init failed", "kind", s.uartOpts.UARTSystem, "err", err)
		return
	}
	slog.Info("smc: uart initialized", "kind", s.uartOpts.UARTSystem, "config", fmt.Sprintf("%#x", configWord))
}

// TrayState reports the current simulated tray position.
func (s *SMC) TrayState() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trayState
}

// SetTrayState changes the simulated tray position.
func (s *SMC) SetTrayState(state uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trayState = state
}

func word(data []byte) uint32 {
	var buf [8]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint32(buf[:])
}

func putWord(data []byte, value uint32) {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	copy(data, buf[:])
}

var _ pci.Device = (*SMC)(nil)
