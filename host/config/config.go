// Package config loads the host-side board description from YAML
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"picopsram/core"
)

// Backend kinds
const (
	BackendBridge = "bridge" // firmware bridge over a serial port
	BackendPeriph = "periph" // Linux GPIO or spidev through periph.io
	BackendSim    = "sim"    // in-process simulated board
)

// Transports for the periph backend
const (
	TransportBitBang = "bitbang"
	TransportSPI     = "spi"
)

// Config describes one PSRAM bus and how the host reaches it
type Config struct {
	Backend   string `yaml:"backend"`
	Transport string `yaml:"transport"`

	Serial SerialConfig `yaml:"serial"`
	SPI    SPIConfig    `yaml:"spi"`
	Pins   PinConfig    `yaml:"pins"`

	ResetDelay      time.Duration `yaml:"reset_delay"`
	HalfPeriod      time.Duration `yaml:"half_period"`
	QuadWriteOpcode uint8         `yaml:"quad_write_opcode"`

	// SimSize is the per-chip size of the simulated board in bytes
	SimSize int `yaml:"sim_size"`
}

// SerialConfig is the link to the bridge firmware
type SerialConfig struct {
	Device         string        `yaml:"device"`
	Baud           int           `yaml:"baud"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SPIConfig selects a spidev port for the periph spi transport
type SPIConfig struct {
	Port      string `yaml:"port"`
	Frequency string `yaml:"frequency"`
}

// PinConfig is the board wiring. Numbers are GPIO numbers on whichever side
// owns the pins.
type PinConfig struct {
	ChipSelects          []uint32  `yaml:"chip_selects"`
	ChipSelectActiveHigh bool      `yaml:"chip_select_active_high"`
	Clock                uint32    `yaml:"clock"`
	SIO                  [4]uint32 `yaml:"sio"`
}

// Default returns the reference wiring: SIO0-3 on GPIO 8-11, clock on 12
// and two chips selected by GPIO 13 and 14
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and validates a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = BackendBridge
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportBitBang
	}

	if cfg.Serial.Device == "" {
		cfg.Serial.Device = "/dev/ttyACM0"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Serial.ReadTimeout == 0 {
		cfg.Serial.ReadTimeout = 10 * time.Millisecond
	}
	if cfg.Serial.RequestTimeout == 0 {
		cfg.Serial.RequestTimeout = 500 * time.Millisecond
	}

	if cfg.SPI.Port == "" {
		cfg.SPI.Port = "SPI0.0"
	}
	if cfg.SPI.Frequency == "" {
		cfg.SPI.Frequency = "10MHz"
	}

	if len(cfg.Pins.ChipSelects) == 0 {
		cfg.Pins.ChipSelects = []uint32{13, 14}
	}
	if cfg.Pins.Clock == 0 && cfg.Pins.SIO == [4]uint32{} {
		cfg.Pins.Clock = 12
		cfg.Pins.SIO = [4]uint32{8, 9, 10, 11}
	}

	if cfg.ResetDelay == 0 {
		cfg.ResetDelay = core.DefaultResetDelay
	}
	if cfg.QuadWriteOpcode == 0 {
		cfg.QuadWriteOpcode = core.OpWriteQuad
	}
	if cfg.SimSize == 0 {
		cfg.SimSize = 8 << 20
	}
}

// Validate checks values the rest of the host cannot use
func (cfg *Config) Validate() error {
	switch cfg.Backend {
	case BackendBridge, BackendPeriph, BackendSim:
	default:
		return fmt.Errorf("%w: unknown backend %q", core.ErrInvalidConfig, cfg.Backend)
	}
	switch cfg.Transport {
	case TransportBitBang, TransportSPI:
	default:
		return fmt.Errorf("%w: unknown transport %q", core.ErrInvalidConfig, cfg.Transport)
	}
	if cfg.Transport == TransportSPI && cfg.Backend != BackendPeriph {
		return fmt.Errorf("%w: spi transport needs the periph backend", core.ErrInvalidConfig)
	}
	if cfg.HalfPeriod < 0 || cfg.Serial.ReadTimeout < 0 || cfg.Serial.RequestTimeout < 0 {
		return fmt.Errorf("%w: negative duration", core.ErrInvalidConfig)
	}
	if cfg.SimSize <= 0 || cfg.SimSize&(cfg.SimSize-1) != 0 || cfg.SimSize > core.MaxAddress+1 {
		return fmt.Errorf("%w: sim_size %d must be a power of two up to 16 MiB", core.ErrInvalidConfig, cfg.SimSize)
	}

	seen := map[uint32]string{}
	claim := func(pin uint32, role string) error {
		if other, ok := seen[pin]; ok {
			return fmt.Errorf("%w: pin %d used as %s and %s", core.ErrInvalidConfig, pin, other, role)
		}
		seen[pin] = role
		return nil
	}
	for _, cs := range cfg.Pins.ChipSelects {
		if err := claim(cs, "chip select"); err != nil {
			return err
		}
	}
	if cfg.Transport == TransportBitBang {
		if err := claim(cfg.Pins.Clock, "clock"); err != nil {
			return err
		}
		for i, p := range cfg.Pins.SIO {
			if err := claim(p, "sio"+string(rune('0'+i))); err != nil {
				return err
			}
		}
	}

	bus := cfg.BusConfig()
	return bus.Validate()
}

// BusConfig returns the core bus configuration described by cfg
func (cfg *Config) BusConfig() core.Config {
	bus := core.DefaultConfig(cfg.ChipSelects()...)
	bus.ChipSelectActiveHigh = cfg.Pins.ChipSelectActiveHigh
	bus.ResetDelay = cfg.ResetDelay
	bus.QuadWriteOpcode = cfg.QuadWriteOpcode
	return bus
}

// ChipSelects returns the chip-select pins as core pins
func (cfg *Config) ChipSelects() []core.Pin {
	pins := make([]core.Pin, len(cfg.Pins.ChipSelects))
	for i, p := range cfg.Pins.ChipSelects {
		pins[i] = core.Pin(p)
	}
	return pins
}

// DataPins returns the clock and SIO0-3 as core pins
func (cfg *Config) DataPins() (clock core.Pin, sio [4]core.Pin) {
	for i, p := range cfg.Pins.SIO {
		sio[i] = core.Pin(p)
	}
	return core.Pin(cfg.Pins.Clock), sio
}
