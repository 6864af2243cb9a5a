// Package board assembles a PSRAM bus from a host configuration: the serial
// bridge to the firmware, local Linux pins, or the simulator
package board

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"picopsram/backend/bitbang"
	"picopsram/backend/spiconn"
	"picopsram/bridge"
	"picopsram/core"
	"picopsram/host/config"
	"picopsram/host/periph"
	"picopsram/host/serial"
	"picopsram/sim"
)

// Board is an open PSRAM bus and whatever it holds open underneath
type Board struct {
	Bus *core.Bus

	// Sim is the simulated board when the sim backend is used
	Sim *sim.Board

	log     *zap.SugaredLogger
	closers []io.Closer
}

// Open connects to the bus described by cfg
func Open(cfg *config.Config, log *zap.SugaredLogger) (*Board, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Board{log: log}

	var (
		backend core.Backend
		gpio    core.GPIODriver
		err     error
	)
	switch cfg.Backend {
	case config.BackendSim:
		backend, gpio = b.openSim(cfg)
	case config.BackendBridge:
		backend, gpio, err = b.openBridge(cfg)
	case config.BackendPeriph:
		backend, gpio, err = b.openPeriph(cfg)
	default:
		err = fmt.Errorf("%w: unknown backend %q", core.ErrInvalidConfig, cfg.Backend)
	}
	if err != nil {
		return nil, multierr.Append(err, b.Close())
	}

	bus, err := core.NewBus(backend, gpio, cfg.BusConfig())
	if err != nil {
		return nil, multierr.Append(err, b.Close())
	}
	b.Bus = bus

	log.Infow("psram bus ready", "backend", cfg.Backend, "devices", len(cfg.Pins.ChipSelects))
	return b, nil
}

// Close releases the serial port or SPI port, if any
func (b *Board) Close() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.closers[i].Close())
	}
	b.closers = nil
	return err
}

func (b *Board) openSim(cfg *config.Config) (core.Backend, core.GPIODriver) {
	clock, sio := cfg.DataPins()
	b.Sim = sim.NewBoard(sim.Pins{
		ChipSelects: cfg.ChipSelects(),
		Clock:       clock,
		SIO:         sio,
	}, cfg.SimSize)
	return bitbang.New(b.Sim, bitbang.Pins{Clock: clock, SIO: sio}, bitbang.Config{HalfPeriod: cfg.HalfPeriod}), b.Sim
}

func (b *Board) openBridge(cfg *config.Config) (core.Backend, core.GPIODriver, error) {
	port, err := serial.Open(&serial.Config{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	b.closers = append(b.closers, port)

	if err := port.Flush(); err != nil {
		return nil, nil, fmt.Errorf("board: flush %s: %w", cfg.Serial.Device, err)
	}

	client, err := bridge.NewClient(port, bridge.ClientConfig{
		Timeout: cfg.Serial.RequestTimeout,
		Logger:  b.log.Named("bridge"),
	})
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}

func (b *Board) openPeriph(cfg *config.Config) (core.Backend, core.GPIODriver, error) {
	gpio, err := periph.NewGPIO()
	if err != nil {
		return nil, nil, err
	}

	if cfg.Transport == config.TransportSPI {
		conn, closer, err := periph.OpenSPI(cfg.SPI.Port, cfg.SPI.Frequency)
		if err != nil {
			return nil, nil, err
		}
		b.closers = append(b.closers, closer)
		return spiconn.New(conn), gpio, nil
	}

	clock, sio := cfg.DataPins()
	return bitbang.New(gpio, bitbang.Pins{Clock: clock, SIO: sio}, bitbang.Config{HalfPeriod: cfg.HalfPeriod}), gpio, nil
}

// SelfTestResult is the outcome of SelfTest on one wire mode
type SelfTestResult struct {
	Mode     core.WireMode
	Devices  int
	Bytes    int
	Duration time.Duration
}

// SelfTest writes a distinct 32-byte pattern to address 0 of every device,
// reads each back, and repeats the exercise in QSPI when the backend has
// quad lines. The bus is left in SPI.
func SelfTest(bus *core.Bus, log *zap.SugaredLogger) ([]SelfTestResult, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := bus.Reset(); err != nil {
		return nil, fmt.Errorf("selftest: reset: %w", err)
	}

	results := []SelfTestResult{}
	run := func(mode core.WireMode) error {
		start := time.Now()
		devices := bus.Devices()
		for i, dev := range devices {
			if err := dev.FastWrite(0, pattern(i)); err != nil {
				return fmt.Errorf("selftest %s: write cs%d: %w", mode, i, err)
			}
		}
		got := make([]byte, 32)
		for i, dev := range devices {
			if err := dev.FastRead(0, got); err != nil {
				return fmt.Errorf("selftest %s: read cs%d: %w", mode, i, err)
			}
			want := pattern(i)
			for j := range want {
				if got[j] != want[j] {
					return fmt.Errorf("selftest %s: cs%d byte %d: wrote 0x%02x, read 0x%02x", mode, i, j, want[j], got[j])
				}
			}
		}
		r := SelfTestResult{Mode: mode, Devices: len(devices), Bytes: 2 * 32 * len(devices), Duration: time.Since(start)}
		log.Infow("selftest passed", "mode", mode.String(), "devices", r.Devices, "elapsed", r.Duration)
		results = append(results, r)
		return nil
	}

	if err := run(core.ModeSPI); err != nil {
		return results, err
	}

	if err := bus.Modes().EnterQuad(); err != nil {
		if errors.Is(err, core.ErrQuadUnsupported) {
			log.Infow("selftest skipped qspi", "reason", err)
			return results, nil
		}
		return results, fmt.Errorf("selftest: enter qspi: %w", err)
	}
	if err := run(core.ModeQSPI); err != nil {
		return results, multierr.Append(err, bus.Recover())
	}
	if err := bus.Modes().ExitQuad(); err != nil {
		return results, fmt.Errorf("selftest: exit qspi: %w", err)
	}
	return results, nil
}

// pattern is bytes 32*i .. 32*i+31
func pattern(i int) []byte {
	p := make([]byte, 32)
	for j := range p {
		p[j] = byte(32*i + j)
	}
	return p
}
