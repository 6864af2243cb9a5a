package core

import (
	"fmt"

	"go.uber.org/multierr"
)

// Device is one PSRAM chip on a shared bus, addressed by its chip select
type Device struct {
	bus *Bus
	cs  int
}

// ChipSelect returns the device's chip-select index
func (d *Device) ChipSelect() int {
	return d.cs
}

// Bus returns the bus the device sits on
func (d *Device) Bus() *Bus {
	return d.bus
}

// ResetEnable arms the device for a following Reset (opcode 0x66).
// Per-device resets are only issued in SPI mode; a reset drops the device out
// of quad mode, so in QSPI use Bus.Reset which resets every device together.
func (d *Device) ResetEnable() error {
	if err := d.bus.requireMode(ModeSPI, "reset-enable"); err != nil {
		return err
	}
	return d.bus.command(d.cs, OpResetEnable, nil)
}

// Reset resets the device (opcode 0x99). Only effective directly after
// ResetEnable in a separate selection.
func (d *Device) Reset() error {
	if err := d.bus.requireMode(ModeSPI, "reset"); err != nil {
		return err
	}
	return d.bus.command(d.cs, OpReset, nil)
}

// ResetSequence issues reset-enable and reset in two selections and waits
// the configured settle time
func (d *Device) ResetSequence() error {
	if err := d.ResetEnable(); err != nil {
		return err
	}
	if err := d.Reset(); err != nil {
		return err
	}
	d.bus.settle()
	DebugPrintln("psram: reset cs=" + itoa(d.cs))
	return nil
}

// ReadID returns the 64-bit identifier (opcode 0x9F, SPI only). The opcode
// and the don't-care address go out as one 32-bit word, the id comes back
// as two more.
func (d *Device) ReadID() (ID, error) {
	if err := d.bus.requireMode(ModeSPI, "read-id"); err != nil {
		return 0, err
	}

	var hi, lo uint32
	err := d.bus.transaction(d.cs, OpReadID, func(mode WireMode) error {
		t := d.bus.backend
		if _, err := t.TransferWord32(uint32(OpReadID) << 24); err != nil {
			return err
		}
		var err error
		if hi, err = t.TransferWord32(0); err != nil {
			return err
		}
		lo, err = t.TransferWord32(0)
		return err
	})
	if err != nil {
		return 0, err
	}

	id := DecodeID(uint64(hi)<<32 | uint64(lo))
	DebugPrintln("psram: cs=" + itoa(d.cs) + " " + id.String())
	return id, nil
}

// ToggleBurstLength switches the device between 1 KiB linear bursts and
// 32-byte wrap (opcode 0xC0). Valid in either mode.
func (d *Device) ToggleBurstLength() error {
	return d.bus.command(d.cs, OpToggleBurstLength, nil)
}

// FastRead reads len(p) bytes at addr using the bus's current mode
func (d *Device) FastRead(addr uint32, p []byte) error {
	if d.bus.Mode() == ModeQSPI {
		return d.FastReadQuad(addr, p)
	}
	return d.FastReadSPI(addr, p)
}

// FastWrite writes p at addr using the bus's current mode
func (d *Device) FastWrite(addr uint32, p []byte) error {
	if d.bus.Mode() == ModeQSPI {
		return d.FastWriteQuad(addr, p)
	}
	return d.FastWriteSPI(addr, p)
}

// FastReadSPI reads with opcode 0x0B: address, 8 wait clocks, data
func (d *Device) FastReadSPI(addr uint32, p []byte) error {
	if err := d.bus.requireMode(ModeSPI, "fast-read"); err != nil {
		return err
	}
	if err := checkRange(addr, len(p)); err != nil || len(p) == 0 {
		return err
	}

	return d.bus.command(d.cs, OpFastRead, func(mode WireMode) error {
		if err := d.bus.writeAddress(mode, addr); err != nil {
			return err
		}
		for i := 0; i < FastReadWaitCycles/8; i++ {
			if _, err := d.bus.backend.TransferByte(0); err != nil {
				return err
			}
		}
		return d.bus.readBytes(mode, p)
	})
}

// FastWriteSPI writes with opcode 0x02: address, data
func (d *Device) FastWriteSPI(addr uint32, p []byte) error {
	if err := d.bus.requireMode(ModeSPI, "fast-write"); err != nil {
		return err
	}
	if err := checkRange(addr, len(p)); err != nil || len(p) == 0 {
		return err
	}

	return d.bus.command(d.cs, OpWrite, func(mode WireMode) error {
		if err := d.bus.writeAddress(mode, addr); err != nil {
			return err
		}
		return d.bus.writeBytes(mode, p)
	})
}

// FastReadQuad reads with opcode 0xEB: address as nibble pairs, 6 wait
// clocks with the data lines released, then nibble-pair data
func (d *Device) FastReadQuad(addr uint32, p []byte) error {
	if err := d.bus.requireMode(ModeQSPI, "quad fast-read"); err != nil {
		return err
	}
	if err := checkRange(addr, len(p)); err != nil || len(p) == 0 {
		return err
	}

	return d.bus.command(d.cs, OpFastReadQuad, func(mode WireMode) error {
		if err := d.bus.writeAddress(mode, addr); err != nil {
			return err
		}
		if err := d.bus.backend.Turnaround(QuadReadWaitCycles); err != nil {
			return err
		}
		if err := d.bus.readBytes(mode, p); err != nil {
			return err
		}
		// Host drives SIO0-3 again between quad transactions
		return d.bus.backend.ConfigureLines(ModeQSPI)
	})
}

// FastWriteQuad writes with the configured quad write opcode (0x38 by
// default): address and data as nibble pairs
func (d *Device) FastWriteQuad(addr uint32, p []byte) error {
	if err := d.bus.requireMode(ModeQSPI, "quad fast-write"); err != nil {
		return err
	}
	if err := checkRange(addr, len(p)); err != nil || len(p) == 0 {
		return err
	}

	return d.bus.command(d.cs, d.bus.cfg.QuadWriteOpcode, func(mode WireMode) error {
		if err := d.bus.writeAddress(mode, addr); err != nil {
			return err
		}
		return d.bus.writeBytes(mode, p)
	})
}

// command runs one transaction on chip select id with op sent in the current
// wire width ahead of body. Quad writes are queued by some backends, so in
// QSPI the output is drained before the chip select rises.
func (b *Bus) command(id int, op byte, body func(mode WireMode) error) error {
	return b.transaction(id, op, func(mode WireMode) error {
		if err := b.writeByte(mode, op); err != nil {
			return err
		}
		if body != nil {
			if err := body(mode); err != nil {
				return err
			}
		}
		if mode == ModeQSPI {
			return b.backend.Drain()
		}
		return nil
	})
}

// transaction checks that op is valid in the current mode, selects id, runs
// body and releases the selection on every path. On a failure inside body the
// chip select is forced high and the bus is left in SPI: in QSPI every device
// is reset through Recover, in SPI the lines are put back in SPI direction.
func (b *Bus) transaction(id int, op byte, body func(mode WireMode) error) (err error) {
	mode := b.Mode()
	if !OpcodeAllowed(op, mode) {
		return fmt.Errorf("%w: opcode 0x%02X not valid in %s mode", ErrInvalidModeTransition, op, mode)
	}

	sel, err := b.selector.Select(id)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, sel.Release())
	}()

	if err := body(mode); err != nil {
		recordTrace(op, id, mode, true)
		if mode == ModeQSPI {
			// the device may be stranded mid-command in QPI
			return multierr.Append(err, b.Recover())
		}
		return multierr.Append(err, b.backend.ConfigureLines(ModeSPI))
	}
	recordTrace(op, id, mode, false)
	return nil
}

// requireMode fails with ErrInvalidModeTransition unless the bus is in want
func (b *Bus) requireMode(want WireMode, what string) error {
	if mode := b.Mode(); mode != want {
		return fmt.Errorf("%w: %s needs %s mode, bus is in %s", ErrInvalidModeTransition, what, want, mode)
	}
	return nil
}

// writeByte emits one byte in the width of mode, discarding any input
func (b *Bus) writeByte(mode WireMode, v byte) error {
	if mode == ModeQSPI {
		return b.backend.WriteNibblePair(v)
	}
	_, err := b.backend.TransferByte(v)
	return err
}

// writeAddress emits the 24-bit address MSB first
func (b *Bus) writeAddress(mode WireMode, addr uint32) error {
	for _, v := range addressBytes(addr) {
		if err := b.writeByte(mode, v); err != nil {
			return err
		}
	}
	return nil
}

// writeBytes emits a data burst, through the bulk path when available
func (b *Bus) writeBytes(mode WireMode, p []byte) error {
	if b.bulk != nil {
		var n int
		var err error
		if mode == ModeQSPI {
			n, err = b.bulk.WriteNibbles(p)
		} else {
			n, err = b.bulk.TransferBytes(p, nil)
		}
		return checkCount(n, len(p), err)
	}
	for _, v := range p {
		if err := b.writeByte(mode, v); err != nil {
			return err
		}
	}
	return nil
}

// readBytes fills p from a data burst, through the bulk path when available
func (b *Bus) readBytes(mode WireMode, p []byte) error {
	if b.bulk != nil {
		var n int
		var err error
		if mode == ModeQSPI {
			n, err = b.bulk.ReadNibbles(p)
		} else {
			n, err = b.bulk.TransferBytes(nil, p)
		}
		return checkCount(n, len(p), err)
	}
	for i := range p {
		var v byte
		var err error
		if mode == ModeQSPI {
			v, err = b.backend.ReadNibblePair()
		} else {
			v, err = b.backend.TransferByte(0)
		}
		if err != nil {
			return err
		}
		p[i] = v
	}
	return nil
}

// checkCount turns a short bulk transfer into ErrShortTransfer
func checkCount(n, want int, err error) error {
	if err != nil {
		return err
	}
	if n < want {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortTransfer, n, want)
	}
	return nil
}

// checkRange rejects bursts that do not fit the 24-bit address space
func checkRange(addr uint32, n int) error {
	if addr > MaxAddress || uint64(addr)+uint64(n) > MaxAddress+1 {
		return fmt.Errorf("%w: 0x%X+%d", ErrAddressRange, addr, n)
	}
	return nil
}
