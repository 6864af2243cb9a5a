// Package bitbang implements the PSRAM transport by toggling GPIO pins
// directly. It works with any core.GPIODriver and is the fallback when no
// programmable I/O block is available.
package bitbang

import (
	"time"

	"picopsram/core"
)

// Pins is the data and clock wiring. SIO[0] is MOSI and SIO[1] is MISO in
// SPI mode; all four carry nibbles in QSPI with SIO[3] as the MSB.
type Pins struct {
	Clock core.Pin
	SIO   [4]core.Pin
}

// Config holds backend timing
type Config struct {
	// HalfPeriod is the delay after each clock edge (zero for none)
	HalfPeriod time.Duration

	// Sleep waits for HalfPeriod (time.Sleep if nil)
	Sleep func(time.Duration)
}

// Backend drives the bus with one GPIO call per line change. SPI runs in
// mode 0: data is set and sampled while the clock is low, then the clock is
// pulsed high.
type Backend struct {
	gpio core.GPIODriver
	pins Pins
	cfg  Config
}

// New returns a bit-bang backend. Call ConfigureLines (done by core.NewBus)
// before transferring.
func New(gpio core.GPIODriver, pins Pins, cfg Config) *Backend {
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Backend{
		gpio: gpio,
		pins: pins,
		cfg:  cfg,
	}
}

// ConfigureLines sets line directions: clock and SIO0 out for SPI, all of
// SIO0-3 out for QSPI
func (b *Backend) ConfigureLines(mode core.WireMode) error {
	if err := b.gpio.ConfigureOutput(b.pins.Clock); err != nil {
		return err
	}
	if err := b.gpio.SetPin(b.pins.Clock, false); err != nil {
		return err
	}

	for i, pin := range b.pins.SIO {
		var err error
		if i == 0 || mode == core.ModeQSPI {
			err = b.gpio.ConfigureOutput(pin)
		} else {
			err = b.gpio.ConfigureInput(pin)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// TransferByte shifts v out MSB first on SIO0 while sampling SIO1
func (b *Backend) TransferByte(v byte) (byte, error) {
	var in byte
	for bit := 7; bit >= 0; bit-- {
		if err := b.gpio.SetPin(b.pins.SIO[0], v&(1<<bit) != 0); err != nil {
			return 0, err
		}
		level, err := b.gpio.GetPin(b.pins.SIO[1])
		if err != nil {
			return 0, err
		}
		if level {
			in |= 1 << bit
		}
		if err := b.pulse(); err != nil {
			return 0, err
		}
	}
	return in, nil
}

// TransferWord32 shifts four bytes MSB first
func (b *Backend) TransferWord32(w uint32) (uint32, error) {
	var in uint32
	for shift := 24; shift >= 0; shift -= 8 {
		v, err := b.TransferByte(byte(w >> shift))
		if err != nil {
			return 0, err
		}
		in |= uint32(v) << shift
	}
	return in, nil
}

// WriteNibblePair drives the upper then the lower nibble on SIO0-3
func (b *Backend) WriteNibblePair(v byte) error {
	if err := b.writeNibble(v >> 4); err != nil {
		return err
	}
	return b.writeNibble(v & 0x0F)
}

// ReadNibblePair samples two nibbles from SIO0-3
func (b *Backend) ReadNibblePair() (byte, error) {
	hi, err := b.readNibble()
	if err != nil {
		return 0, err
	}
	lo, err := b.readNibble()
	if err != nil {
		return 0, err
	}
	return hi<<4 | lo, nil
}

// Turnaround releases SIO0-3 and clocks the wait states
func (b *Backend) Turnaround(cycles int) error {
	for _, pin := range b.pins.SIO {
		if err := b.gpio.ConfigureInput(pin); err != nil {
			return err
		}
	}
	for i := 0; i < cycles; i++ {
		if err := b.pulse(); err != nil {
			return err
		}
	}
	return nil
}

// Drain is a no-op; every GPIO write has completed when it returns
func (b *Backend) Drain() error {
	return nil
}

func (b *Backend) writeNibble(n byte) error {
	for i, pin := range b.pins.SIO {
		if err := b.gpio.SetPin(pin, n&(1<<i) != 0); err != nil {
			return err
		}
	}
	return b.pulse()
}

func (b *Backend) readNibble() (byte, error) {
	var n byte
	for i, pin := range b.pins.SIO {
		level, err := b.gpio.GetPin(pin)
		if err != nil {
			return 0, err
		}
		if level {
			n |= 1 << i
		}
	}
	return n, b.pulse()
}

// pulse raises and lowers the clock once
func (b *Backend) pulse() error {
	if err := b.gpio.SetPin(b.pins.Clock, true); err != nil {
		return err
	}
	b.delay()
	if err := b.gpio.SetPin(b.pins.Clock, false); err != nil {
		return err
	}
	b.delay()
	return nil
}

func (b *Backend) delay() {
	if b.cfg.HalfPeriod > 0 {
		b.cfg.Sleep(b.cfg.HalfPeriod)
	}
}
