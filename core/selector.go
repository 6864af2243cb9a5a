package core

import (
	"sync"

	"go.uber.org/multierr"
)

// Broadcast selects every chip-select line at once. It is only used for
// write-only commands that every device on the bus must see (reset, burst
// length, quad mode entry and exit) since several devices driving SIO1 at
// once would contend.
const Broadcast = -1

// ChipSelector frames transactions on one of N chip-select lines.
// At most one selection is held per bus at any time; the data lines and the
// clock are shared, so even different CS lines may not overlap.
type ChipSelector struct {
	mu         sync.Mutex
	gpio       GPIODriver
	pins       []Pin
	activeHigh bool
	held       *Selection
}

// Selection is a held chip select. Release deasserts the line and is safe to
// call more than once.
type Selection struct {
	cs       *ChipSelector
	id       int
	released bool
}

// NewChipSelector creates a selector for the given CS pins. Index i in pins is
// chip-select id i.
func NewChipSelector(gpio GPIODriver, pins []Pin, activeHigh bool) *ChipSelector {
	p := make([]Pin, len(pins))
	copy(p, pins)
	return &ChipSelector{
		gpio:       gpio,
		pins:       p,
		activeHigh: activeHigh,
	}
}

// Init configures every CS pin as an output and deasserts it
func (c *ChipSelector) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pin := range c.pins {
		if err := c.gpio.ConfigureOutput(pin); err != nil {
			return err
		}
		if err := c.gpio.SetPin(pin, !c.activeHigh); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of chip-select lines
func (c *ChipSelector) Count() int {
	return len(c.pins)
}

// Select asserts chip select id, or every line for Broadcast. It fails with
// ErrBusBusy if any selection is currently held, without waiting.
func (c *ChipSelector) Select(id int) (*Selection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.held != nil {
		return nil, ErrBusBusy
	}
	if id != Broadcast && (id < 0 || id >= len(c.pins)) {
		return nil, ErrInvalidChipSelect
	}

	if err := c.drive(id, c.activeHigh); err != nil {
		// Leave the lines deasserted whatever state the failed write left them in
		return nil, multierr.Append(err, c.drive(id, !c.activeHigh))
	}

	sel := &Selection{cs: c, id: id}
	c.held = sel
	return sel, nil
}

// WithSelection runs fn with chip select id asserted and deasserts it on every
// exit path, including a panic in fn
func (c *ChipSelector) WithSelection(id int, fn func() error) (err error) {
	sel, err := c.Select(id)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, sel.Release())
	}()
	return fn()
}

// Held reports whether a selection is active
func (c *ChipSelector) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held != nil
}

// ForceRelease deasserts every CS line and drops any held selection.
// Used to put the bus back into a known state after a transport failure.
func (c *ChipSelector) ForceRelease() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.held != nil {
		c.held.released = true
		c.held = nil
	}

	return c.drive(Broadcast, !c.activeHigh)
}

// ID returns the chip-select index of the selection
func (s *Selection) ID() int {
	return s.id
}

// Release deasserts the selected line
func (s *Selection) Release() error {
	c := s.cs
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true
	if c.held == s {
		c.held = nil
	}
	return c.drive(s.id, !c.activeHigh)
}

// drive sets the line for id, or every line for Broadcast
func (c *ChipSelector) drive(id int, level bool) error {
	if id != Broadcast {
		return c.gpio.SetPin(c.pins[id], level)
	}
	var err error
	for _, pin := range c.pins {
		err = multierr.Append(err, c.gpio.SetPin(pin, level))
	}
	return err
}
