//go:build (rp2040 || rp2350) && !psram_bitbang

package main

import (
	"machine"
	"runtime"
	"time"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"picopsram/backend/fifo"
	"picopsram/core"
)

// Program origins in PIO0 instruction memory. Jumps are absolute, so every
// program is loaded at a fixed address.
const (
	spiOrigin       = 0
	quadWriteOrigin = 2
	quadReadOrigin  = 4
)

// pioClockDiv divides the system clock for every state machine; each bit
// takes two PIO cycles, so the serial clock runs at sysclk/4
const pioClockDiv = 2

// State machines on PIO0
const (
	smSPI8 = iota
	smSPI32
	smQuadWrite
	smQuadRead
)

// The clock is side-set by every program and idles low
var asm = rp2pio.AssemblerV0{SidesetBits: 1}

// buildSPIProgram is SPI mode 0: data out on SIO0 while the clock is low,
// sampled from SIO1 on the rising edge. Autopull and autopush frame the
// words, so one program serves both the 8- and 32-bit engines.
func buildSPIProgram() []uint16 {
	return []uint16{
		// .wrap_target
		asm.Out(rp2pio.OutDestPins, 1).Side(0).Delay(1).Encode(), // 0: out pins, 1 side 0 [1]
		asm.In(rp2pio.InSrcPins, 1).Side(1).Delay(1).Encode(),    // 1: in pins, 1 side 1 [1]
		// .wrap
	}
}

// buildQuadWriteProgram shifts a nibble onto SIO0-3 per clock
func buildQuadWriteProgram() []uint16 {
	return []uint16{
		// .wrap_target
		asm.Out(rp2pio.OutDestPins, 4).Side(0).Delay(1).Encode(),           // 2: out pins, 4 side 0 [1]
		asm.Mov(rp2pio.MovDestY, rp2pio.MovSrcY).Side(1).Delay(1).Encode(), // 3: nop side 1 [1]
		// .wrap
	}
}

// buildQuadReadProgram takes a nibble count minus one, clocks that many
// nibbles in from SIO0-3 and pushes them two at a time
func buildQuadReadProgram() []uint16 {
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Side(0).Encode(),                             // 4: pull block side 0
		asm.Out(rp2pio.OutDestX, 32).Side(0).Encode(),                      // 5: out x, 32 side 0
		asm.Mov(rp2pio.MovDestY, rp2pio.MovSrcY).Side(0).Delay(1).Encode(), // 6: nop side 0 [1]
		asm.In(rp2pio.InSrcPins, 4).Side(1).Encode(),                       // 7: in pins, 4 side 1
		asm.Jmp(quadReadOrigin+2, rp2pio.JmpXNZeroDec).Side(1).Encode(),    // 8: jmp x--, 6 side 1
		// .wrap
	}
}

// pioPins moves the data lines between the host and the chip. Pin
// directions belong to the PIO block, so any of its state machines can
// set them.
type pioPins struct {
	sm  rp2pio.StateMachine
	sio [4]machine.Pin
}

// SetDataDirs implements fifo.PinControl
func (p *pioPins) SetDataDirs(outMask uint8) error {
	for i, pin := range p.sio {
		p.sm.SetPindirsConsecutive(pin, 1, outMask&(1<<i) != 0)
	}
	return nil
}

// newBackend claims PIO0, loads the four programs and returns the FIFO
// backend driving them
func newBackend(gpio *pinDriver) (core.Backend, error) {
	block := rp2pio.PIO0
	clock := machine.Pin(pinClock)
	var sio [4]machine.Pin
	for i, p := range pinSIO {
		sio[i] = machine.Pin(p)
	}

	spiOffset, err := block.AddProgram(buildSPIProgram(), spiOrigin)
	if err != nil {
		return nil, err
	}
	qwOffset, err := block.AddProgram(buildQuadWriteProgram(), quadWriteOrigin)
	if err != nil {
		return nil, err
	}
	qrProgram := buildQuadReadProgram()
	qrOffset, err := block.AddProgram(qrProgram, quadReadOrigin)
	if err != nil {
		return nil, err
	}

	mode := machine.PinConfig{Mode: block.PinMode()}
	clock.Configure(mode)
	gpio.release(pinClock)
	for i, pin := range sio {
		pin.Configure(mode)
		gpio.release(pinSIO[i])
	}

	sms := [4]rp2pio.StateMachine{}
	for i := range sms {
		sms[i] = block.StateMachine(uint8(i))
		sms[i].TryClaim()
	}

	// spi engines: autopull and autopush, MSB first
	for i, bits := range [2]uint16{8, 32} {
		cfg := rp2pio.DefaultStateMachineConfig()
		cfg.SetOutPins(sio[0], 1)
		cfg.SetInPins(sio[1], 1)
		cfg.SetSidesetPins(clock)
		cfg.SetSidesetParams(1, false, false)
		cfg.SetOutShift(false, true, bits)
		cfg.SetInShift(false, true, bits)
		cfg.SetWrap(spiOffset+1, spiOffset)
		cfg.SetClkDivIntFrac(pioClockDiv, 0)
		sms[smSPI8+i].Init(spiOffset, cfg)
	}

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetOutPins(sio[0], 4)
	cfg.SetSidesetPins(clock)
	cfg.SetSidesetParams(1, false, false)
	cfg.SetOutShift(false, true, 8)
	cfg.SetWrap(qwOffset+1, qwOffset)
	cfg.SetClkDivIntFrac(pioClockDiv, 0)
	sms[smQuadWrite].Init(qwOffset, cfg)

	cfg = rp2pio.DefaultStateMachineConfig()
	cfg.SetInPins(sio[0], 4)
	cfg.SetSidesetPins(clock)
	cfg.SetSidesetParams(1, false, false)
	cfg.SetOutShift(false, false, 32)
	cfg.SetInShift(false, true, 8)
	cfg.SetWrap(qrOffset+uint8(len(qrProgram))-1, qrOffset)
	cfg.SetClkDivIntFrac(pioClockDiv, 0)
	sms[smQuadRead].Init(qrOffset, cfg)

	// pin directions only after Init; clock and MOSI out, the rest in
	sms[smSPI8].SetPindirsConsecutive(clock, 1, true)
	sms[smSPI8].SetPinsConsecutive(clock, 1, false)
	pins := &pioPins{sm: sms[smSPI8], sio: sio}
	if err := pins.SetDataDirs(0x01); err != nil {
		return nil, err
	}

	for _, sm := range sms {
		sm.SetEnabled(true)
	}

	return fifo.New(fifo.Machines{
		SPI8:      sms[smSPI8],
		SPI32:     sms[smSPI32],
		QuadWrite: sms[smQuadWrite],
		QuadRead:  sms[smQuadRead],
	}, pins, fifo.Config{
		Yield: runtime.Gosched,
		// last word still in the output shift register
		Settle: func() { time.Sleep(time.Microsecond) },
	}), nil
}
