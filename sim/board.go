package sim

import (
	"fmt"
	"sync"

	"picopsram/core"
)

// Pins is the wiring of a simulated board. Chip select i selects chip i;
// chip selects are active low.
type Pins struct {
	ChipSelects []core.Pin
	Clock       core.Pin
	SIO         [4]core.Pin
}

// DefaultPins matches the reference wiring used by the firmware target
func DefaultPins() Pins {
	return Pins{
		ChipSelects: []core.Pin{13, 14},
		Clock:       12,
		SIO:         [4]core.Pin{8, 9, 10, 11},
	}
}

// Board connects simulated chips to a shared clock and data bus and exposes
// the host side as a core.GPIODriver
type Board struct {
	mu    sync.Mutex
	pins  Pins
	chips []*Chip

	level  map[core.Pin]bool // host-driven level
	output map[core.Pin]bool // pin configured as host output

	contentions int
	clocks      int
}

// NewBoard returns a board with one chip of size bytes per chip select
func NewBoard(pins Pins, size int) *Board {
	b := &Board{
		pins:   pins,
		level:  make(map[core.Pin]bool),
		output: make(map[core.Pin]bool),
	}
	for i := range pins.ChipSelects {
		b.chips = append(b.chips, NewChip(size, DefaultID+uint64(i)))
	}
	return b
}

// Pins returns the board wiring
func (b *Board) Pins() Pins {
	return b.pins
}

// Chip returns the chip behind chip select i
func (b *Board) Chip(i int) *Chip {
	return b.chips[i]
}

// Contentions counts clock edges on which the host and a chip drove the same
// data line
func (b *Board) Contentions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contentions
}

// Clocks counts rising clock edges seen while any chip was selected
func (b *Board) Clocks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clocks
}

// ConfigureOutput implements core.GPIODriver
func (b *Board) ConfigureOutput(pin core.Pin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPin(pin); err != nil {
		return err
	}
	b.output[pin] = true
	return nil
}

// ConfigureInput implements core.GPIODriver
func (b *Board) ConfigureInput(pin core.Pin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPin(pin); err != nil {
		return err
	}
	b.output[pin] = false
	return nil
}

// SetPin implements core.GPIODriver. Chip-select edges start and end chip
// transactions; a rising clock edge shifts the data lines into every
// selected chip.
func (b *Board) SetPin(pin core.Pin, value bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPin(pin); err != nil {
		return err
	}

	prev := b.level[pin]
	b.level[pin] = value
	if !b.output[pin] {
		// latched but not driven until configured as output
		return nil
	}

	for i, cs := range b.pins.ChipSelects {
		if pin != cs || prev == value {
			continue
		}
		if value {
			b.chips[i].deselect()
		} else {
			b.chips[i].selectChip()
		}
	}

	if pin == b.pins.Clock && value && !prev {
		b.risingEdge()
	}
	return nil
}

// GetPin implements core.GPIODriver. A data line driven by a selected chip
// reads the chip's output bit; anything else reads the host level.
func (b *Board) GetPin(pin core.Pin) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPin(pin); err != nil {
		return false, err
	}

	for sio, p := range b.pins.SIO {
		if p != pin {
			continue
		}
		for _, c := range b.chips {
			if level, driven := c.output(sio); driven {
				return level, nil
			}
		}
	}
	return b.level[pin], nil
}

func (b *Board) risingEdge() {
	var in byte
	for sio, p := range b.pins.SIO {
		if b.output[p] && b.level[p] {
			in |= 1 << sio
		}
	}

	active := false
	for _, c := range b.chips {
		if !c.selected {
			continue
		}
		active = true
		for sio, p := range b.pins.SIO {
			if _, driven := c.output(sio); driven && b.output[p] {
				b.contentions++
			}
		}
		c.clock(in)
	}
	if active {
		b.clocks++
	}
}

func (b *Board) checkPin(pin core.Pin) error {
	if pin == b.pins.Clock {
		return nil
	}
	for _, p := range b.pins.SIO {
		if p == pin {
			return nil
		}
	}
	for _, p := range b.pins.ChipSelects {
		if p == pin {
			return nil
		}
	}
	return fmt.Errorf("sim: pin %d not wired", pin)
}
