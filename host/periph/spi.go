package periph

import (
	"fmt"
	"io"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

var _ drivers.SPI = (*SPIConn)(nil)

type txConn interface {
	Tx(w, r []byte) error
}

// SPIConn adapts a periph.io SPI connection to the tinygo drivers.SPI
// interface used by backend/spiconn. The kernel driver frames every Tx with
// the port's own chip select, so the PSRAM chip selects must be plain GPIOs
// and the port's CS left unconnected.
type SPIConn struct {
	conn    txConn
	scratch []byte
}

// OpenSPI opens port (for example "SPI0.0") in mode 0 at frequency, given as
// a string such as "10MHz"
func OpenSPI(port, frequency string) (*SPIConn, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("periph: host init: %w", err)
	}

	var f physic.Frequency
	if err := f.Set(frequency); err != nil {
		return nil, nil, fmt.Errorf("periph: frequency %q: %w", frequency, err)
	}

	p, err := spireg.Open(port)
	if err != nil {
		return nil, nil, fmt.Errorf("periph: open %s: %w", port, err)
	}
	conn, err := p.Connect(f, spi.Mode0, 8)
	if err != nil {
		return nil, nil, multierr.Combine(fmt.Errorf("periph: connect %s: %w", port, err), p.Close())
	}
	return &SPIConn{conn: conn}, p, nil
}

// Transfer implements drivers.SPI
func (s *SPIConn) Transfer(b byte) (byte, error) {
	var r [1]byte
	if err := s.conn.Tx([]byte{b}, r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

// Tx implements drivers.SPI. Either slice may be nil: a nil w sends zeros
// and a nil r discards the input.
func (s *SPIConn) Tx(w, r []byte) error {
	n := len(w)
	if w == nil {
		n = len(r)
	}
	if w == nil {
		w = s.buffer(n)
		clear(w)
	} else if r == nil {
		r = s.buffer(n)
	}
	return s.conn.Tx(w, r)
}

func (s *SPIConn) buffer(n int) []byte {
	if cap(s.scratch) < n {
		s.scratch = make([]byte, n)
	}
	return s.scratch[:n]
}
