package core

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// DefaultResetDelay is the settle time after a reset before the device
// accepts further commands
const DefaultResetDelay = 10 * time.Millisecond

// Config holds the board-level parameters of a PSRAM bus
type Config struct {
	// ChipSelects lists the CS pin of each device; index is the device id
	ChipSelects []Pin

	// ChipSelectActiveHigh inverts CS polarity (default is active low)
	ChipSelectActiveHigh bool

	// ResetDelay is the minimum wait after reset-enable/reset
	ResetDelay time.Duration

	// QuadWriteOpcode is the write opcode used in QSPI mode: OpWriteQuad (0x38)
	// or OpWrite (0x02). Both are valid in QPI on APS6404-class parts.
	QuadWriteOpcode byte

	// Sleep waits for the given duration (time.Sleep if nil)
	Sleep func(time.Duration)
}

// DefaultConfig returns a configuration for the given chip-select pins
func DefaultConfig(chipSelects ...Pin) Config {
	return Config{
		ChipSelects:     chipSelects,
		ResetDelay:      DefaultResetDelay,
		QuadWriteOpcode: OpWriteQuad,
		Sleep:           time.Sleep,
	}
}

// applyDefaults fills in zero values
func applyDefaults(cfg *Config) {
	if cfg.ResetDelay == 0 {
		cfg.ResetDelay = DefaultResetDelay
	}
	if cfg.QuadWriteOpcode == 0 {
		cfg.QuadWriteOpcode = OpWriteQuad
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
}

// Validate checks the configuration for values the protocol cannot use
func (cfg *Config) Validate() error {
	if len(cfg.ChipSelects) == 0 {
		return fmt.Errorf("%w: no chip selects", ErrInvalidConfig)
	}
	seen := make(map[Pin]bool, len(cfg.ChipSelects))
	for _, pin := range cfg.ChipSelects {
		if seen[pin] {
			return fmt.Errorf("%w: chip select pin %d listed twice", ErrInvalidConfig, pin)
		}
		seen[pin] = true
	}
	if cfg.ResetDelay < 0 {
		return fmt.Errorf("%w: negative reset delay", ErrInvalidConfig)
	}
	switch cfg.QuadWriteOpcode {
	case 0, OpWriteQuad, OpWrite:
	default:
		return fmt.Errorf("%w: quad write opcode 0x%02X", ErrInvalidConfig, cfg.QuadWriteOpcode)
	}
	return nil
}

// Bus owns the transport backend, the chip-select lines and the wire mode
// shared by every device on it
type Bus struct {
	backend  Backend
	bulk     BulkTransport // nil if the backend has no fast path
	selector *ChipSelector
	modes    *ModeController
	cfg      Config

	mu   sync.Mutex
	mode WireMode
}

// NewBus configures the chip selects and the backend for SPI mode.
// gpio drives the CS lines; it may be the same driver the backend uses.
func NewBus(backend Backend, gpio GPIODriver, cfg Config) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	b := &Bus{
		backend:  backend,
		selector: NewChipSelector(gpio, cfg.ChipSelects, cfg.ChipSelectActiveHigh),
		cfg:      cfg,
		mode:     ModeSPI,
	}
	if bulk, ok := backend.(BulkTransport); ok {
		b.bulk = bulk
	}
	b.modes = &ModeController{bus: b}

	if err := b.selector.Init(); err != nil {
		return nil, fmt.Errorf("psram: chip select init: %w", err)
	}
	if err := backend.ConfigureLines(ModeSPI); err != nil {
		return nil, fmt.Errorf("psram: line init: %w", err)
	}
	return b, nil
}

// Mode returns the current wire mode
func (b *Bus) Mode() WireMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

func (b *Bus) setMode(m WireMode) {
	b.mu.Lock()
	b.mode = m
	b.mu.Unlock()
}

// Modes returns the bus mode controller
func (b *Bus) Modes() *ModeController {
	return b.modes
}

// Selector returns the chip selector framing this bus
func (b *Bus) Selector() *ChipSelector {
	return b.selector
}

// Config returns the effective configuration
func (b *Bus) Config() Config {
	return b.cfg
}

// Device returns the handle for chip select id
func (b *Bus) Device(id int) (*Device, error) {
	if id < 0 || id >= b.selector.Count() {
		return nil, ErrInvalidChipSelect
	}
	return &Device{bus: b, cs: id}, nil
}

// Devices returns a handle for every chip select on the bus
func (b *Bus) Devices() []*Device {
	devs := make([]*Device, b.selector.Count())
	for i := range devs {
		devs[i] = &Device{bus: b, cs: i}
	}
	return devs
}

// Reset issues reset-enable and reset to every device at once and waits for
// the settle time. In QSPI mode the pair is sent as nibble pairs; the devices
// leave quad mode on reset so the bus returns to SPI.
func (b *Bus) Reset() error {
	mode := b.Mode()
	if err := b.command(Broadcast, OpResetEnable, nil); err != nil {
		return err
	}
	if err := b.command(Broadcast, OpReset, nil); err != nil {
		return err
	}
	if mode == ModeQSPI {
		if err := b.backend.ConfigureLines(ModeSPI); err != nil {
			return b.recoverLines(err)
		}
		b.setMode(ModeSPI)
	}
	b.settle()
	DebugPrintln("psram: reset all (" + mode.String() + ")")
	return nil
}

// ToggleBurstLength toggles the wrap boundary on every device
func (b *Bus) ToggleBurstLength() error {
	return b.command(Broadcast, OpToggleBurstLength, nil)
}

// Recover brings the bus back to SPI from any state: all CS lines are forced
// high, a quad-framed reset is sent (ignored by devices already in SPI) and
// then an SPI-framed reset.
func (b *Bus) Recover() error {
	err := b.selector.ForceRelease()

	if quadCapable(b.backend) {
		if cerr := b.backend.ConfigureLines(ModeQSPI); cerr != nil {
			err = multierr.Append(err, cerr)
		} else {
			err = multierr.Append(err, b.resetPair(ModeQSPI))
		}
	}

	b.setMode(ModeSPI)
	err = multierr.Append(err, b.backend.ConfigureLines(ModeSPI))
	err = multierr.Append(err, b.resetPair(ModeSPI))
	b.settle()

	DebugPrintln("psram: bus recovered")
	return err
}

// resetPair broadcasts reset-enable and reset in the given wire width. It
// bypasses the failure handling of transaction so Recover never re-enters
// itself; both opcodes are sent even if the first fails.
func (b *Bus) resetPair(mode WireMode) error {
	var err error
	for _, op := range [...]byte{OpResetEnable, OpReset} {
		serr := b.selector.WithSelection(Broadcast, func() error {
			if err := b.writeByte(mode, op); err != nil {
				return err
			}
			if mode == ModeQSPI {
				return b.backend.Drain()
			}
			return nil
		})
		recordTrace(op, Broadcast, mode, serr != nil)
		err = multierr.Append(err, serr)
	}
	return err
}

// settle waits the configured reset delay
func (b *Bus) settle() {
	if b.cfg.ResetDelay > 0 {
		b.cfg.Sleep(b.cfg.ResetDelay)
	}
}

// recoverLines is the transition failure path: CS forced high, lines back in
// SPI direction and mode reset to SPI. cause is returned with any recovery error.
func (b *Bus) recoverLines(cause error) error {
	err := multierr.Append(cause, b.selector.ForceRelease())
	err = multierr.Append(err, b.backend.ConfigureLines(ModeSPI))
	b.setMode(ModeSPI)
	DebugPrintln("psram: transport failure, bus forced to spi")
	return err
}
