//go:build rp2040 || rp2350

package main

import (
	"machine"

	"picopsram/core"
)

// pinDriver implements core.GPIODriver over machine pins. Direction is
// tracked so repeated configuration (the bit-bang backend flips the data
// lines on every turnaround) skips the pad setup.
type pinDriver struct {
	outputs uint32 // bit n set: GPIOn is configured as output
	inputs  uint32
}

func newPinDriver() *pinDriver {
	return &pinDriver{}
}

func (d *pinDriver) check(pin core.Pin) (machine.Pin, error) {
	if pin >= 30 {
		return 0, core.ErrInvalidConfig
	}
	return machine.Pin(pin), nil
}

// ConfigureOutput implements core.GPIODriver
func (d *pinDriver) ConfigureOutput(pin core.Pin) error {
	p, err := d.check(pin)
	if err != nil {
		return err
	}
	if d.outputs&(1<<pin) != 0 {
		return nil
	}
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	d.outputs |= 1 << pin
	d.inputs &^= 1 << pin
	return nil
}

// ConfigureInput implements core.GPIODriver
func (d *pinDriver) ConfigureInput(pin core.Pin) error {
	p, err := d.check(pin)
	if err != nil {
		return err
	}
	if d.inputs&(1<<pin) != 0 {
		return nil
	}
	p.Configure(machine.PinConfig{Mode: machine.PinInput})
	d.inputs |= 1 << pin
	d.outputs &^= 1 << pin
	return nil
}

// SetPin implements core.GPIODriver
func (d *pinDriver) SetPin(pin core.Pin, value bool) error {
	p, err := d.check(pin)
	if err != nil {
		return err
	}
	p.Set(value)
	return nil
}

// GetPin implements core.GPIODriver
func (d *pinDriver) GetPin(pin core.Pin) (bool, error) {
	p, err := d.check(pin)
	if err != nil {
		return false, err
	}
	return p.Get(), nil
}

// release forgets the cached direction of pin after another peripheral has
// taken it over
func (d *pinDriver) release(pin core.Pin) {
	d.outputs &^= 1 << pin
	d.inputs &^= 1 << pin
}
