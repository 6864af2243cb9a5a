// Package fifo implements the PSRAM transport on top of hardware shift
// engines fed through TX/RX FIFOs, such as RP2040 PIO state machines. Every
// FIFO wait is bounded by a poll budget and fails with
// core.ErrTransportTimeout instead of spinning forever.
package fifo

import (
	"errors"

	"picopsram/core"
)

// DefaultMaxPolls bounds each FIFO wait
const DefaultMaxPolls = 100000

// StateMachine is the FIFO surface of one shift engine
type StateMachine interface {
	IsTxFIFOFull() bool
	IsTxFIFOEmpty() bool
	TxPut(v uint32)
	IsRxFIFOEmpty() bool
	RxGet() uint32
}

// PinControl switches data line direction. Bit i of outMask set drives
// SIO i from the host; clear releases it to an input.
type PinControl interface {
	SetDataDirs(outMask uint8) error
}

// Machines are the four engines the backend drives. Words are left-justified
// on the way out (MSB first); received bytes arrive in the low bits.
type Machines struct {
	// SPI8 shifts 8 bits out on SIO0 and 8 in on SIO1 per word
	SPI8 StateMachine
	// SPI32 is SPI8 with a 32-bit threshold, used for id reads
	SPI32 StateMachine
	// QuadWrite shifts 8 bits out as two nibbles on SIO0-3 per word
	QuadWrite StateMachine
	// QuadRead takes a nibble count minus one and pushes one byte per two
	// nibbles sampled from SIO0-3
	QuadRead StateMachine
}

// Config bounds the FIFO waits
type Config struct {
	// MaxPolls is the number of FIFO checks before giving up
	MaxPolls int

	// Yield is called between polls that made no progress (nil for none)
	Yield func()

	// Settle runs after the quad TX FIFO empties, covering the word still in
	// the output shift register (nil for none)
	Settle func()
}

// Backend is a core.Backend and core.BulkTransport over shift-engine FIFOs
type Backend struct {
	sm   Machines
	pins PinControl
	cfg  Config
}

// New returns a FIFO backend
func New(sm Machines, pins PinControl, cfg Config) *Backend {
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultMaxPolls
	}
	return &Backend{sm: sm, pins: pins, cfg: cfg}
}

// timeoutError names the FIFO that stalled
type timeoutError struct {
	what string
}

func (e *timeoutError) Error() string {
	return core.ErrTransportTimeout.Error() + ": " + e.what
}

func (e *timeoutError) Unwrap() error {
	return core.ErrTransportTimeout
}

var errOddTurnaround = errors.New("fifo: turnaround must be an even number of cycles")

func (b *Backend) yield() {
	if b.cfg.Yield != nil {
		b.cfg.Yield()
	}
}

// put waits for room in sm's TX FIFO and queues v
func (b *Backend) put(sm StateMachine, v uint32, what string) error {
	for polls := 0; sm.IsTxFIFOFull(); polls++ {
		if polls >= b.cfg.MaxPolls {
			return &timeoutError{what: what + " tx fifo full"}
		}
		b.yield()
	}
	sm.TxPut(v)
	return nil
}

// get waits for a word in sm's RX FIFO
func (b *Backend) get(sm StateMachine, what string) (uint32, error) {
	for polls := 0; sm.IsRxFIFOEmpty(); polls++ {
		if polls >= b.cfg.MaxPolls {
			return 0, &timeoutError{what: what + " rx fifo empty"}
		}
		b.yield()
	}
	return sm.RxGet(), nil
}

// ConfigureLines drives SIO0 only in SPI and all four lines in QSPI
func (b *Backend) ConfigureLines(mode core.WireMode) error {
	if mode == core.ModeQSPI {
		return b.pins.SetDataDirs(0x0F)
	}
	return b.pins.SetDataDirs(0x01)
}

// TransferByte implements core.Transport
func (b *Backend) TransferByte(v byte) (byte, error) {
	if err := b.put(b.sm.SPI8, uint32(v)<<24, "spi8"); err != nil {
		return 0, err
	}
	w, err := b.get(b.sm.SPI8, "spi8")
	return byte(w), err
}

// TransferWord32 implements core.Transport
func (b *Backend) TransferWord32(w uint32) (uint32, error) {
	if err := b.put(b.sm.SPI32, w, "spi32"); err != nil {
		return 0, err
	}
	return b.get(b.sm.SPI32, "spi32")
}

// WriteNibblePair implements core.Transport. The write is queued; Drain
// waits for it to reach the pins.
func (b *Backend) WriteNibblePair(v byte) error {
	return b.put(b.sm.QuadWrite, uint32(v)<<24, "quad write")
}

// ReadNibblePair implements core.Transport
func (b *Backend) ReadNibblePair() (byte, error) {
	var v [1]byte
	_, err := b.ReadNibbles(v[:])
	return v[0], err
}

// Turnaround releases the data lines and clocks the wait states through the
// quad read engine, discarding what it samples
func (b *Backend) Turnaround(cycles int) error {
	if cycles%2 != 0 {
		return errOddTurnaround
	}
	if err := b.Drain(); err != nil {
		return err
	}
	if err := b.pins.SetDataDirs(0); err != nil {
		return err
	}
	if cycles == 0 {
		return nil
	}
	discard := make([]byte, cycles/2)
	_, err := b.ReadNibbles(discard)
	return err
}

// Drain waits until the quad write engine has shifted out everything queued
func (b *Backend) Drain() error {
	sm := b.sm.QuadWrite
	for polls := 0; !sm.IsTxFIFOEmpty(); polls++ {
		if polls >= b.cfg.MaxPolls {
			return &timeoutError{what: "quad write drain"}
		}
		b.yield()
	}
	if b.cfg.Settle != nil {
		b.cfg.Settle()
	}
	return nil
}

// TransferBytes implements core.BulkTransport. TX and RX are interleaved so
// the engine never stalls on a full RX FIFO. A nil w sends zeros; a nil r
// discards what comes back.
func (b *Backend) TransferBytes(w, r []byte) (int, error) {
	n := len(w)
	if w == nil {
		n = len(r)
	} else if r != nil && len(r) < n {
		n = len(r)
	}

	sm := b.sm.SPI8
	sent, recv := 0, 0
	polls := 0
	for recv < n {
		progress := false
		if sent < n && !sm.IsTxFIFOFull() {
			var v byte
			if w != nil {
				v = w[sent]
			}
			sm.TxPut(uint32(v) << 24)
			sent++
			progress = true
		}
		if recv < sent && !sm.IsRxFIFOEmpty() {
			v := byte(sm.RxGet())
			if r != nil {
				r[recv] = v
			}
			recv++
			progress = true
		}
		if progress {
			polls = 0
			continue
		}
		polls++
		if polls >= b.cfg.MaxPolls {
			return recv, &timeoutError{what: "spi8 burst"}
		}
		b.yield()
	}
	return recv, nil
}

// WriteNibbles implements core.BulkTransport
func (b *Backend) WriteNibbles(p []byte) (int, error) {
	for i, v := range p {
		if err := b.put(b.sm.QuadWrite, uint32(v)<<24, "quad write"); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// ReadNibbles implements core.BulkTransport. One request word asks the
// engine for 2*len(p) nibbles.
func (b *Backend) ReadNibbles(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := b.put(b.sm.QuadRead, uint32(2*len(p)-1), "quad read"); err != nil {
		return 0, err
	}
	for i := range p {
		w, err := b.get(b.sm.QuadRead, "quad read")
		if err != nil {
			return i, err
		}
		p[i] = byte(w)
	}
	return len(p), nil
}
