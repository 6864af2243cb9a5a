// Package spiconn runs the PSRAM protocol over a plain SPI peripheral, such
// as machine.SPI on a microcontroller or a Linux spidev through the periph
// adapter. Only SPI mode is available since the peripheral has no quad lines.
package spiconn

import (
	"tinygo.org/x/drivers"

	"picopsram/core"
)

// Backend adapts a drivers.SPI to core.Backend and core.BulkTransport
type Backend struct {
	bus drivers.SPI
	buf [4]byte
}

// New returns a backend over bus. The peripheral must already be configured
// for mode 0, MSB first.
func New(bus drivers.SPI) *Backend {
	return &Backend{bus: bus}
}

// QuadCapable implements core.QuadCapability
func (b *Backend) QuadCapable() bool {
	return false
}

// ConfigureLines accepts SPI only; the peripheral owns its pin directions
func (b *Backend) ConfigureLines(mode core.WireMode) error {
	if mode != core.ModeSPI {
		return core.ErrQuadUnsupported
	}
	return nil
}

// TransferByte implements core.Transport
func (b *Backend) TransferByte(v byte) (byte, error) {
	return b.bus.Transfer(v)
}

// TransferWord32 implements core.Transport
func (b *Backend) TransferWord32(w uint32) (uint32, error) {
	b.buf = [4]byte{byte(w >> 24), byte(w >> 16), byte(w >> 8), byte(w)}
	var r [4]byte
	if err := b.bus.Tx(b.buf[:], r[:]); err != nil {
		return 0, err
	}
	return uint32(r[0])<<24 | uint32(r[1])<<16 | uint32(r[2])<<8 | uint32(r[3]), nil
}

// WriteNibblePair always fails with core.ErrQuadUnsupported
func (b *Backend) WriteNibblePair(v byte) error {
	return core.ErrQuadUnsupported
}

// ReadNibblePair always fails with core.ErrQuadUnsupported
func (b *Backend) ReadNibblePair() (byte, error) {
	return 0, core.ErrQuadUnsupported
}

// Turnaround always fails with core.ErrQuadUnsupported
func (b *Backend) Turnaround(cycles int) error {
	return core.ErrQuadUnsupported
}

// Drain is a no-op; Tx returns after the last bit has been clocked
func (b *Backend) Drain() error {
	return nil
}

// TransferBytes implements core.BulkTransport with a single Tx. A nil w
// sends zeros, a nil r discards the input.
func (b *Backend) TransferBytes(w, r []byte) (int, error) {
	n := len(w)
	if w == nil {
		n = len(r)
	}
	if err := b.bus.Tx(w, r); err != nil {
		return 0, err
	}
	return n, nil
}

// WriteNibbles always fails with core.ErrQuadUnsupported
func (b *Backend) WriteNibbles(p []byte) (int, error) {
	return 0, core.ErrQuadUnsupported
}

// ReadNibbles always fails with core.ErrQuadUnsupported
func (b *Backend) ReadNibbles(p []byte) (int, error) {
	return 0, core.ErrQuadUnsupported
}
