package smc

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/Xphalnos/Xenon/internal/devices/pci"
	"github.com/Xphalnos/Xenon/internal/iic"
	"github.com/Xphalnos/Xenon/internal/lifecycle"
)

// FIFO command IDs. The first response byte always echoes the command.
const (
	cmdQueryVersion    = 0x01
	cmdQueryRTC        = 0x04
	cmdQueryTempSensor = 0x07
	cmdQueryTrayState  = 0x0A
	cmdQueryAVPack     = 0x0F
	cmdI2CReadWrite    = 0x11
	cmdPowerOnType     = 0x12
	cmdFIFOTest        = 0x13
	cmdQueryIRAddress  = 0x16
	cmdQueryTiltSensor = 0x17
	cmdRead82Int       = 0x1E
	cmdRead8EInt       = 0x20
	cmdSetStandby      = 0x82
	cmdSetTime         = 0x85
	cmdSetFanAlgorithm = 0x88
	cmdSetFanSpeedCPU  = 0x89
	cmdSetDVDTray      = 0x8B
	cmdSetPowerLED     = 0x8C
	cmdSetAudioMute    = 0x8D
	cmdArgonRelated    = 0x90
	cmdSetFanSpeedGPU  = 0x94
	cmdSetIRAddress    = 0x95
	cmdSetDVDTraySec   = 0x98
	cmdSetFPLEDs       = 0x99
	cmdSetRTCWake      = 0x9A
	cmdANARelated      = 0x9B
	cmdSetAsyncOp      = 0x9C
	cmdSet82Int        = 0x9D
	cmdSet9FInt        = 0x9F
)

// I2C_READ_WRITE sub-operations carried in byte 1.
const (
	i2cDDCLock    = 0x03
	i2cDDCUnlock  = 0x05
	i2cReadSMBus  = 0x10
	i2cDDCRead    = 0x11
	i2cWrite      = 0x20
	i2cDDCWrite   = 0x21
	i2cWriteSMBus = 0x60
)

// Start launches the worker thread. Devices are constructed before any CPU
// thread runs, so Start is the last step of machine bring-up.
func (s *SMC) Start() {
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()
}

// Stop terminates the worker and shuts the UART backend down.
func (s *SMC) Stop() {
	if s.stop != nil {
		close(s.stop)
		s.wg.Wait()
		s.stop = nil
	}
	if err := s.uart.Shutdown(); err != nil {
		slog.Error("smc: uart shutdown failed", "err", err)
	}
}

func (s *SMC) run() {
	defer s.wg.Done()

	lastTick := s.now()
	for lifecycle.Running() {
		select {
		case <-s.stop:
			return
		case <-time.After(s.pollInterval):
		}
		s.serviceFIFO()
		s.serviceClock(&lastTick)
	}
}

// serviceFIFO runs one round of the command protocol: when the guest has
// marked the inbound message complete, process it and publish the reply.
// The response data becomes visible before FIFO_OUT_STATUS flips to READY;
// guest pollers rely on that ordering.
func (s *SMC) serviceFIFO() {
	s.mu.Lock()
	if s.fifoInStatus != fifoStatusBusy {
		s.mu.Unlock()
		return
	}

	// The guest polls out-status for the reply, so park it busy first, then
	// free the inbound register for the next message.
	s.fifoOutStatus = fifoStatusBusy
	s.fifoInStatus = fifoStatusReady

	noResponse := s.dispatchLocked()

	s.fifoOutStatus = fifoStatusReady

	raiseSMI := s.smiEnabled&smiIntEnabled != 0 && !noResponse
	if raiseSMI {
		s.smiPending = smiIntPending
	}
	s.mu.Unlock()

	// Interrupt routing takes the bridge lock; never call it with ours held.
	if raiseSMI {
		if err := s.bridge.RouteInterrupt(iic.PrioSMM, pci.NoTargetCPU); err != nil {
			slog.Error("smc: smi routing failed", "err", err)
		}
	}
}

func (s *SMC) serviceClock(lastTick *time.Time) {
	now := s.now()

	s.mu.Lock()
	fire := s.clockEnabled == clockIntEnabled &&
		s.clockStatus == clockIntReady &&
		now.Sub(*lastTick) >= s.clockPeriod
	if fire {
		*lastTick = now
		s.clockStatus = clockIntTaken
	}
	s.mu.Unlock()

	if fire {
		if err := s.bridge.RouteInterrupt(iic.PrioClock, pci.NoTargetCPU); err != nil {
			slog.Error("smc: clock routing failed", "err", err)
		}
	}
}

// dispatchLocked interprets the 16-byte message and rewrites the buffer with
// the response. It reports whether the reply (and its SMI) is suppressed.
func (s *SMC) dispatchLocked() bool {
	cmd := s.fifo[0]
	switch cmd {
	case cmdPowerOnType:
		s.fifo = [fifoSize]byte{}
		s.fifo[0] = cmdPowerOnType
		s.fifo[1] = s.powerOnReason

	case cmdQueryRTC:
		s.fifo = [fifoSize]byte{}
		s.fifo[0] = cmdQueryRTC
		s.fifo[1] = 0

	case cmdQueryTempSensor:
		// CPU, GPU, eDRAM and chassis, 16-bit little-endian each.
		s.fifo[0] = cmdQueryTempSensor
		s.fifo[1] = 0x24
		s.fifo[2] = 0x1B
		s.fifo[3] = 0x2F
		s.fifo[4] = 0xA4
		s.fifo[5] = 0x2C
		s.fifo[6] = 0x24
		s.fifo[7] = 0x26
		s.fifo[8] = 0x2C

	case cmdQueryTrayState:
		s.fifo[0] = cmdQueryTrayState
		s.fifo[1] = s.trayState

	case cmdQueryAVPack:
		s.fifo[0] = cmdQueryAVPack
		s.fifo[1] = s.avPack

	case cmdQueryVersion:
		s.fifo[0] = cmdQueryVersion
		s.fifo[1] = 0x41
		s.fifo[2] = 0x02
		s.fifo[3] = 0x03

	case cmdI2CReadWrite:
		s.dispatchI2CLocked()

	case cmdSetStandby:
		s.fifo[0] = cmdSetStandby
		switch s.fifo[1] {
		case 0x01:
			slog.Info("smc: guest requested shutdown")
			if s.powerOff != nil {
				s.powerOff()
			}
		case 0x04:
			slog.Info("smc: guest requested reboot", "reason", s.fifo[2])
			if s.reboot != nil {
				reason := s.fifo[2]
				// The reboot path tears devices down and may re-enter MMIO.
				s.mu.Unlock()
				s.reboot(reason)
				s.mu.Lock()
			}
		default:
			slog.Warn("smc: unimplemented standby subtype", "subtype", s.fifo[1])
		}

	case cmdSetFPLEDs:
		// The front-panel LED command never answers; replying would wedge
		// kernels that do not wait on it.
		slog.Warn("smc: unimplemented command", "cmd", "SET_FP_LEDS")
		return true

	case cmdFIFOTest, cmdQueryIRAddress, cmdQueryTiltSensor, cmdRead82Int,
		cmdRead8EInt, cmdSetTime, cmdSetFanAlgorithm, cmdSetFanSpeedCPU,
		cmdSetDVDTray, cmdSetPowerLED, cmdSetAudioMute, cmdArgonRelated,
		cmdSetFanSpeedGPU, cmdSetIRAddress, cmdSetDVDTraySec, cmdSetRTCWake,
		cmdANARelated, cmdSetAsyncOp, cmdSet82Int, cmdSet9FInt:
		slog.Warn("smc: unimplemented command", "cmd", fmt.Sprintf("%#x", cmd))

	default:
		slog.Warn("smc: unknown command", "cmd", fmt.Sprintf("%#x", cmd))
	}
	return false
}

func (s *SMC) dispatchI2CLocked() {
	sub := s.fifo[1]
	switch sub {
	case i2cDDCLock:
		slog.Info("smc: ddc lock requested")
		s.fifo[0] = cmdI2CReadWrite
		s.fifo[1] = 0

	case i2cDDCUnlock:
		slog.Info("smc: ddc unlock requested")
		s.fifo[0] = cmdI2CReadWrite
		s.fifo[1] = 0

	case i2cReadSMBus:
		s.fifo[0] = cmdI2CReadWrite
		s.fifo[1] = 0
		if s.fifo[5] == 0xF0 {
			// HANA register read over SMBus. Latch the index before the
			// response overwrites it.
			idx := s.fifo[6]
			binary.LittleEndian.PutUint32(s.fifo[4:8], s.hana[idx])
		} else {
			s.readI2CLocked()
		}

	case i2cDDCRead:
		slog.Warn("smc: ddc read stub", "addr", fmt.Sprintf("%#x", uint16(s.fifo[6])+0x1D0))
		s.fifo[0] = cmdI2CReadWrite
		s.fifo[1] = 0
		s.fifo[3] = 0
		s.fifo[4] = 0
		s.fifo[5] = 0
		s.fifo[6] = 0

	case i2cWrite:
		slog.Warn("smc: i2c write stub", "addr", fmt.Sprintf("%#x", s.i2cAddrLocked()), "value", s.fifo[7])
		s.fifo[0] = cmdI2CReadWrite
		s.fifo[1] = 0

	case i2cDDCWrite:
		slog.Warn("smc: ddc write stub", "addr", fmt.Sprintf("%#x", uint16(s.fifo[6])+0x1D0), "value", s.fifo[7])
		s.fifo[0] = cmdI2CReadWrite
		s.fifo[1] = 0

	case i2cWriteSMBus:
		s.fifo[0] = cmdI2CReadWrite
		s.fifo[1] = 0
		s.hana[s.fifo[6]] = binary.LittleEndian.Uint32(s.fifo[8:12])

	default:
		slog.Warn("smc: unimplemented i2c sub-operation", "sub", fmt.Sprintf("%#x", sub))
		s.fifo[0] = cmdI2CReadWrite
		s.fifo[1] = 1
	}
}

// i2cAddrLocked derives the bus address of a plain I2C transfer: byte 6
// indexes within a bank selected by byte 3.
func (s *SMC) i2cAddrLocked() uint16 {
	base := uint16(0x100)
	if s.fifo[3] == 0x8D {
		base = 0x200
	}
	return uint16(s.fifo[6]) + base
}

func (s *SMC) readI2CLocked() {
	addr := s.i2cAddrLocked()
	switch addr {
	case 0x102:
		s.fifo[3] = 0x53
		s.fifo[4] = 0x92
		s.fifo[5] = 0
		s.fifo[6] = 0
	default:
		slog.Warn("smc: unimplemented i2c read, returning zero", "addr", fmt.Sprintf("%#x", addr))
		s.fifo[3] = 0
		s.fifo[4] = 0
		s.fifo[5] = 0
		s.fifo[6] = 0
	}
}

// HANA returns the current value of a HANA register; SMBus traffic from the
// guest mutates these.
func (s *SMC) HANA(index uint8) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hana[index]
}
