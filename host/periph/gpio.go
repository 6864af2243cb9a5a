// Package periph connects the PSRAM bus to pins and SPI ports of a Linux
// board through periph.io
package periph

import (
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"picopsram/core"
)

// GPIO implements core.GPIODriver over periph.io GPIO lines. Pins are looked
// up by their global GPIO number.
type GPIO struct {
	mu     sync.Mutex
	lookup func(name string) gpio.PinIO
	pins   map[core.Pin]gpio.PinIO
	levels map[core.Pin]gpio.Level
}

// NewGPIO initialises the periph.io host drivers and returns a driver for
// the board's GPIO lines
func NewGPIO() (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph: host init: %w", err)
	}
	return newGPIO(gpioreg.ByName), nil
}

func newGPIO(lookup func(name string) gpio.PinIO) *GPIO {
	return &GPIO{
		lookup: lookup,
		pins:   make(map[core.Pin]gpio.PinIO),
		levels: make(map[core.Pin]gpio.Level),
	}
}

func (g *GPIO) pin(p core.Pin) (gpio.PinIO, error) {
	if pin, ok := g.pins[p]; ok {
		return pin, nil
	}
	pin := g.lookup(strconv.Itoa(int(p)))
	if pin == nil {
		return nil, fmt.Errorf("periph: no gpio %d", p)
	}
	g.pins[p] = pin
	return pin, nil
}

// ConfigureOutput drives the pin at the level last passed to SetPin (low if
// none), so that an idle chip select set before configuration never glitches
func (g *GPIO) ConfigureOutput(p core.Pin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	pin, err := g.pin(p)
	if err != nil {
		return err
	}
	return pin.Out(g.levels[p])
}

// ConfigureInput implements core.GPIODriver
func (g *GPIO) ConfigureInput(p core.Pin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	pin, err := g.pin(p)
	if err != nil {
		return err
	}
	return pin.In(gpio.Float, gpio.NoEdge)
}

// SetPin implements core.GPIODriver
func (g *GPIO) SetPin(p core.Pin, value bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	pin, err := g.pin(p)
	if err != nil {
		return err
	}
	l := gpio.Low
	if value {
		l = gpio.High
	}
	g.levels[p] = l
	return pin.Out(l)
}

// GetPin implements core.GPIODriver
func (g *GPIO) GetPin(p core.Pin) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pin, err := g.pin(p)
	if err != nil {
		return false, err
	}
	return pin.Read() == gpio.High, nil
}
