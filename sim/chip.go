// Package sim models APS6404-class serial PSRAM chips at the pin level so the
// command protocol and the bit-level backends can be exercised without
// hardware.
package sim

import "picopsram/core"

// DefaultSize is the capacity of an APS6404L (64 Mbit)
const DefaultSize = 8 << 20

// DefaultID is the id a chip reports unless configured otherwise:
// manufacturer 0x0D, known-good-die 0x5D, arbitrary EID
const DefaultID uint64 = 0x0D5D_4A3B_2C1D_0E0F

const (
	pageSize  = 1024
	wrapShort = 32
)

type phase uint8

const (
	phaseCommand phase = iota
	phaseAddress
	phaseDummy
	phaseWrite
	phaseRead
	phaseID
	phaseIgnore
)

// Chip is one simulated device. It is driven by a Board and is not safe for
// concurrent use on its own.
type Chip struct {
	mem []byte
	id  uint64

	qpi        bool
	wrap       uint32
	resetArmed bool

	selected bool
	phase    phase
	cmd      byte
	shift    byte
	bits     int
	addr     uint32
	addrLeft int
	dummy    int
	next     phase

	out     byte
	outBits int
	idIndex int

	// applied when the chip select rises
	pending func()

	commands []byte
}

// NewChip returns a chip of size bytes (a power of two) in SPI mode
func NewChip(size int, id uint64) *Chip {
	if size <= 0 {
		size = DefaultSize
	}
	return &Chip{
		mem:  make([]byte, size),
		id:   id,
		wrap: pageSize,
	}
}

// QPI reports whether the chip is in quad mode
func (c *Chip) QPI() bool {
	return c.qpi
}

// Wrap returns the current burst wrap boundary in bytes
func (c *Chip) Wrap() int {
	return int(c.wrap)
}

// Commands returns every opcode the chip has received, in order
func (c *Chip) Commands() []byte {
	return append([]byte(nil), c.commands...)
}

// Peek returns a copy of n bytes of memory at addr
func (c *Chip) Peek(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = c.mem[c.index(addr+uint32(i))]
	}
	return out
}

// Poke stores p at addr directly
func (c *Chip) Poke(addr uint32, p []byte) {
	for i, v := range p {
		c.mem[c.index(addr+uint32(i))] = v
	}
}

func (c *Chip) index(addr uint32) uint32 {
	return addr & uint32(len(c.mem)-1)
}

func (c *Chip) bitsPerClock() int {
	if c.qpi {
		return 4
	}
	return 1
}

func (c *Chip) selectChip() {
	c.selected = true
	c.phase = phaseCommand
	c.shift = 0
	c.bits = 0
	c.pending = nil
}

// deselect ends the transaction; mode, reset and wrap changes take effect here
func (c *Chip) deselect() {
	if !c.selected {
		return
	}
	c.selected = false
	if c.phase == phaseCommand {
		// no complete opcode, nothing happened
		return
	}
	if c.cmd != core.OpResetEnable {
		c.resetArmed = false
	}
	if c.pending != nil {
		c.pending()
		c.pending = nil
	}
}

func (c *Chip) reset() {
	c.qpi = false
	c.wrap = pageSize
	c.resetArmed = false
}

// driving reports whether the chip is shifting data out
func (c *Chip) driving() bool {
	return c.selected && (c.phase == phaseRead || c.phase == phaseID)
}

// output returns the level the chip presents on data line sio for the
// upcoming clock
func (c *Chip) output(sio int) (level, driven bool) {
	if !c.driving() {
		return false, false
	}
	if c.qpi {
		return c.out>>(c.outBits-4+sio)&1 == 1, true
	}
	if sio != 1 {
		return false, false
	}
	return c.out>>(c.outBits-1)&1 == 1, true
}

// clock handles one rising edge; in holds SIO3..SIO0 as sampled by the chip
func (c *Chip) clock(in byte) {
	if !c.selected {
		return
	}

	switch c.phase {
	case phaseCommand, phaseAddress, phaseWrite:
		if c.qpi {
			c.shift = c.shift<<4 | in&0x0F
			c.bits += 4
		} else {
			c.shift = c.shift<<1 | in&0x01
			c.bits++
		}
		if c.bits == 8 {
			v := c.shift
			c.shift = 0
			c.bits = 0
			c.onByte(v)
		}

	case phaseDummy:
		c.dummy--
		if c.dummy == 0 {
			c.phase = phaseRead
			c.loadData()
		}

	case phaseRead:
		c.outBits -= c.bitsPerClock()
		if c.outBits == 0 {
			c.loadData()
		}

	case phaseID:
		c.outBits -= c.bitsPerClock()
		if c.outBits == 0 {
			c.idIndex++
			c.loadID()
		}
	}
}

func (c *Chip) onByte(v byte) {
	switch c.phase {
	case phaseCommand:
		c.cmd = v
		c.commands = append(c.commands, v)
		c.onCommand(v)

	case phaseAddress:
		c.addr = c.addr<<8 | uint32(v)
		c.addrLeft--
		if c.addrLeft > 0 {
			return
		}
		c.addr &= core.MaxAddress
		c.phase = c.next
		switch c.phase {
		case phaseRead:
			c.loadData()
		case phaseID:
			c.idIndex = 0
			c.loadID()
		}

	case phaseWrite:
		c.mem[c.index(c.addr)] = v
		c.addr = c.advance(c.addr)
	}
}

func (c *Chip) onCommand(op byte) {
	c.phase = phaseIgnore

	switch {
	case op == core.OpResetEnable:
		c.pending = func() { c.resetArmed = true }

	case op == core.OpReset:
		if c.resetArmed {
			c.pending = c.reset
		}

	case op == core.OpToggleBurstLength:
		c.pending = func() {
			if c.wrap == pageSize {
				c.wrap = wrapShort
			} else {
				c.wrap = pageSize
			}
		}

	case op == core.OpReadID && !c.qpi:
		c.expectAddress(phaseID)

	case op == core.OpFastRead && !c.qpi:
		c.dummy = core.FastReadWaitCycles
		c.expectAddress(phaseDummy)

	case op == core.OpFastReadQuad && c.qpi:
		c.dummy = core.QuadReadWaitCycles
		c.expectAddress(phaseDummy)

	case op == core.OpWrite, op == core.OpWriteQuad && c.qpi:
		c.expectAddress(phaseWrite)

	case op == core.OpEnterQuad && !c.qpi:
		c.pending = func() { c.qpi = true }

	case op == core.OpExitQuad && c.qpi:
		c.pending = func() { c.qpi = false }
	}
}

func (c *Chip) expectAddress(next phase) {
	c.phase = phaseAddress
	c.addr = 0
	c.addrLeft = core.AddressBytes
	c.next = next
}

func (c *Chip) loadData() {
	c.out = c.mem[c.index(c.addr)]
	c.outBits = 8
	c.addr = c.advance(c.addr)
}

func (c *Chip) loadID() {
	shift := uint(8 * (core.IDBytes - 1 - c.idIndex%core.IDBytes))
	c.out = byte(c.id >> shift)
	c.outBits = 8
}

// advance steps a burst address, wrapping inside the current wrap boundary
func (c *Chip) advance(addr uint32) uint32 {
	mask := c.wrap - 1
	return addr&^mask | (addr+1)&mask
}
