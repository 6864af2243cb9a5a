package board

import (
	"errors"
	"testing"
	"time"

	"picopsram/backend/bitbang"
	"picopsram/core"
	"picopsram/host/config"
)

func openSim(t *testing.T) *Board {
	t.Helper()
	cfg, err := config.Parse([]byte("backend: sim\nsim_size: 65536\nreset_delay: 1us\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	b, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSelfTestOnSimulator(t *testing.T) {
	b := openSim(t)

	results, err := SelfTest(b.Bus, nil)
	if err != nil {
		t.Fatalf("SelfTest failed: %v", err)
	}
	if len(results) != 2 || results[0].Mode != core.ModeSPI || results[1].Mode != core.ModeQSPI {
		t.Fatalf("Expected SPI and QSPI results, got %+v", results)
	}
	if results[1].Devices != 2 || results[1].Bytes != 128 {
		t.Errorf("Unexpected QSPI result %+v", results[1])
	}
	if b.Bus.Mode() != core.ModeSPI {
		t.Errorf("Self test left the bus in %s", b.Bus.Mode())
	}

	for i := 0; i < 2; i++ {
		got := b.Sim.Chip(i).Peek(0, 32)
		for j, v := range got {
			if v != byte(32*i+j) {
				t.Fatalf("cs%d byte %d: expected %d, got %d", i, j, 32*i+j, v)
			}
		}
	}
	if b.Sim.Contentions() != 0 {
		t.Errorf("%d contended clocks", b.Sim.Contentions())
	}
}

// spiOnly hides the quad lines of the wrapped backend
type spiOnly struct {
	core.Backend
}

func (spiOnly) QuadCapable() bool { return false }

func TestSelfTestSkipsQuadWithoutLines(t *testing.T) {
	b := openSim(t)
	pins := b.Sim.Pins()
	backend := bitbang.New(b.Sim, bitbang.Pins{Clock: pins.Clock, SIO: pins.SIO}, bitbang.Config{})

	cfg := core.DefaultConfig(pins.ChipSelects...)
	cfg.Sleep = func(time.Duration) {}
	bus, err := core.NewBus(spiOnly{backend}, b.Sim, cfg)
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}

	results, err := SelfTest(bus, nil)
	if err != nil {
		t.Fatalf("SelfTest failed: %v", err)
	}
	if len(results) != 1 || results[0].Mode != core.ModeSPI {
		t.Errorf("Expected a single SPI result, got %+v", results)
	}
	if b.Sim.Chip(0).QPI() {
		t.Error("Chip was switched to QPI")
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "usb"
	if _, err := Open(cfg, nil); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestOpenBridgeWithoutPort(t *testing.T) {
	cfg := config.Default()
	cfg.Serial.Device = t.TempDir() + "/no-such-tty"
	if _, err := Open(cfg, nil); err == nil {
		t.Error("Expected error opening a missing serial device")
	}
}
