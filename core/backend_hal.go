package core

// Transport is the raw transfer contract the command protocol needs.
// Every call blocks until the transfer completes or the backend gives up
// with ErrTransportTimeout.
type Transport interface {
	// TransferByte shifts b out on SIO0 MSB first and returns the byte
	// shifted in on SIO1 during the same eight clocks
	TransferByte(b byte) (byte, error)

	// TransferWord32 is the 32-bit variant of TransferByte
	TransferWord32(w uint32) (uint32, error)

	// WriteNibblePair drives the upper then the lower nibble of b on SIO0-3
	WriteNibblePair(b byte) error

	// ReadNibblePair samples SIO0-3 twice and returns upper<<4 | lower
	ReadNibblePair() (byte, error)
}

// Backend is a Transport that also owns data line direction
type Backend interface {
	Transport

	// ConfigureLines sets the idle line directions for mode.
	// SPI: SIO0 output, SIO1-3 input. QSPI: SIO0-3 driven by the host.
	ConfigureLines(mode WireMode) error

	// Turnaround releases SIO0-3 to inputs and clocks cycles wait states
	Turnaround(cycles int) error

	// Drain blocks until every queued output bit has left the pins
	Drain() error
}

// BulkTransport is an optional fast path for data bursts. The returned count
// is the number of bytes actually moved; a count below len(p) with a nil
// error is reported as ErrShortTransfer by the protocol layer.
type BulkTransport interface {
	TransferBytes(w, r []byte) (int, error)
	WriteNibbles(p []byte) (int, error)
	ReadNibbles(p []byte) (int, error)
}

// QuadCapability is implemented by backends that can tell up front whether
// they have the four data lines QSPI needs. Backends without it are assumed
// quad capable.
type QuadCapability interface {
	QuadCapable() bool
}

// quadCapable reports whether b can run the bus in QSPI
func quadCapable(b Backend) bool {
	if q, ok := b.(QuadCapability); ok {
		return q.QuadCapable()
	}
	return true
}
