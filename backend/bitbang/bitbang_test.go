package bitbang

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"picopsram/core"
	"picopsram/sim"
)

func newSimBus(t *testing.T) (*core.Bus, *sim.Board) {
	t.Helper()

	pins := sim.DefaultPins()
	board := sim.NewBoard(pins, 1<<16)
	backend := New(board, Pins{Clock: pins.Clock, SIO: pins.SIO}, Config{})

	cfg := core.DefaultConfig(pins.ChipSelects...)
	cfg.Sleep = func(time.Duration) {}
	bus, err := core.NewBus(backend, board, cfg)
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	return bus, board
}

func device(t *testing.T, bus *core.Bus, id int) *core.Device {
	t.Helper()
	dev, err := bus.Device(id)
	if err != nil {
		t.Fatalf("Device(%d) failed: %v", id, err)
	}
	return dev
}

func pattern(start, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(start + i)
	}
	return p
}

// Two chips written with different data at the same address, read back in
// both wire modes
func TestTwoChipRoundTrip(t *testing.T) {
	for _, quad := range []bool{false, true} {
		name := "spi"
		if quad {
			name = "qspi"
		}
		t.Run(name, func(t *testing.T) {
			bus, board := newSimBus(t)
			if quad {
				if err := bus.Modes().EnterQuad(); err != nil {
					t.Fatalf("EnterQuad failed: %v", err)
				}
			}

			cs0, cs1 := device(t, bus, 0), device(t, bus, 1)
			want0, want1 := pattern(0, 32), pattern(32, 32)

			if err := cs0.FastWrite(0, want0); err != nil {
				t.Fatalf("write cs0 failed: %v", err)
			}
			if err := cs1.FastWrite(0, want1); err != nil {
				t.Fatalf("write cs1 failed: %v", err)
			}

			got0, got1 := make([]byte, 32), make([]byte, 32)
			if err := cs0.FastRead(0, got0); err != nil {
				t.Fatalf("read cs0 failed: %v", err)
			}
			if err := cs1.FastRead(0, got1); err != nil {
				t.Fatalf("read cs1 failed: %v", err)
			}

			if !bytes.Equal(got0, want0) {
				t.Errorf("cs0: expected %x, got %x", want0, got0)
			}
			if !bytes.Equal(got1, want1) {
				t.Errorf("cs1: expected %x, got %x", want1, got1)
			}
			if n := board.Contentions(); n != 0 {
				t.Errorf("Expected no bus contention, got %d clocks", n)
			}
		})
	}
}

// Random content at every length up to 256 bytes plus whole pages, each
// burst kept inside one 1 KiB page
func TestRoundTripLengthSweep(t *testing.T) {
	lengths := make([]int, 0, 260)
	for n := 1; n <= 256; n++ {
		lengths = append(lengths, n)
	}
	lengths = append(lengths, 511, 512, 1023, 1024)

	for _, quad := range []bool{false, true} {
		name := "spi"
		if quad {
			name = "qspi"
		}
		t.Run(name, func(t *testing.T) {
			bus, board := newSimBus(t)
			if quad {
				if err := bus.Modes().EnterQuad(); err != nil {
					t.Fatalf("EnterQuad failed: %v", err)
				}
			}
			dev := device(t, bus, 1)
			rng := rand.New(rand.NewSource(1))

			for _, n := range lengths {
				data := make([]byte, n)
				rng.Read(data)
				addr := uint32(n%64)*1024 + uint32((n*37)%(1024-n+1))

				if err := dev.FastWrite(addr, data); err != nil {
					t.Fatalf("n=%d: write failed: %v", n, err)
				}
				got := make([]byte, n)
				if err := dev.FastRead(addr, got); err != nil {
					t.Fatalf("n=%d: read failed: %v", n, err)
				}
				if !bytes.Equal(got, data) {
					t.Errorf("n=%d: read back differs from written data", n)
				}
				if !bytes.Equal(board.Chip(1).Peek(addr, n), data) {
					t.Errorf("n=%d: chip memory differs from written data", n)
				}
			}
			if n := board.Contentions(); n != 0 {
				t.Errorf("Expected no bus contention, got %d clocks", n)
			}
		})
	}
}

func TestReadID(t *testing.T) {
	bus, _ := newSimBus(t)

	for i, dev := range bus.Devices() {
		id, err := dev.ReadID()
		if err != nil {
			t.Fatalf("ReadID cs%d failed: %v", i, err)
		}
		if id.Raw() != sim.DefaultID+uint64(i) {
			t.Errorf("cs%d: expected id %#x, got %#x", i, sim.DefaultID+uint64(i), id.Raw())
		}
		if !id.Good() {
			t.Errorf("cs%d: KGD %#x should read as pass", i, id.KGD())
		}
	}
}

func TestEnterExitQuad(t *testing.T) {
	bus, board := newSimBus(t)

	if err := bus.Modes().EnterQuad(); err != nil {
		t.Fatalf("EnterQuad failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if !board.Chip(i).QPI() {
			t.Errorf("chip %d not in QPI after EnterQuad", i)
		}
	}

	if err := bus.Modes().ExitQuad(); err != nil {
		t.Fatalf("ExitQuad failed: %v", err)
	}
	if bus.Mode() != core.ModeSPI {
		t.Errorf("Expected SPI, got %s", bus.Mode())
	}
	for i := 0; i < 2; i++ {
		if board.Chip(i).QPI() {
			t.Errorf("chip %d still in QPI after ExitQuad", i)
		}
	}

	// SPI commands work again
	if _, err := device(t, bus, 0).ReadID(); err != nil {
		t.Errorf("ReadID after ExitQuad failed: %v", err)
	}
}

func TestResetFromQuad(t *testing.T) {
	bus, board := newSimBus(t)
	if err := bus.Modes().EnterQuad(); err != nil {
		t.Fatalf("EnterQuad failed: %v", err)
	}

	if err := bus.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if bus.Mode() != core.ModeSPI {
		t.Errorf("Expected bus in SPI after reset, got %s", bus.Mode())
	}
	for i := 0; i < 2; i++ {
		if board.Chip(i).QPI() {
			t.Errorf("chip %d still in QPI after reset", i)
		}
	}
}

func TestRecoverDesyncedChip(t *testing.T) {
	bus, board := newSimBus(t)

	dev1 := device(t, bus, 1)

	// chip 1 alone is put in QPI behind the bus's back
	pins := board.Pins()
	raw := New(board, Pins{Clock: pins.Clock, SIO: pins.SIO}, Config{})
	board.SetPin(pins.ChipSelects[1], false)
	raw.TransferByte(core.OpEnterQuad)
	board.SetPin(pins.ChipSelects[1], true)
	if !board.Chip(1).QPI() {
		t.Fatal("setup: chip 1 not in QPI")
	}

	if err := bus.Recover(); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if board.Chip(1).QPI() {
		t.Error("chip 1 still in QPI after Recover")
	}

	want := pattern(7, 16)
	if err := dev1.FastWrite(0x40, want); err != nil {
		t.Fatalf("write after recover failed: %v", err)
	}
	got := make([]byte, len(want))
	if err := dev1.FastRead(0x40, got); err != nil {
		t.Fatalf("read after recover failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Expected %x, got %x", want, got)
	}
}

func TestToggleBurstLength(t *testing.T) {
	bus, board := newSimBus(t)
	dev := device(t, bus, 0)

	if err := dev.ToggleBurstLength(); err != nil {
		t.Fatalf("ToggleBurstLength failed: %v", err)
	}
	if board.Chip(0).Wrap() != 32 {
		t.Errorf("Expected 32-byte wrap, got %d", board.Chip(0).Wrap())
	}
	if board.Chip(1).Wrap() != 1024 {
		t.Errorf("cs1 should be untouched, got wrap %d", board.Chip(1).Wrap())
	}

	if err := bus.ToggleBurstLength(); err != nil {
		t.Fatalf("bus ToggleBurstLength failed: %v", err)
	}
	if board.Chip(0).Wrap() != 1024 || board.Chip(1).Wrap() != 32 {
		t.Errorf("Broadcast toggle: got wraps %d/%d", board.Chip(0).Wrap(), board.Chip(1).Wrap())
	}
}

func TestQuadWriteOpcodeVariant(t *testing.T) {
	pins := sim.DefaultPins()
	board := sim.NewBoard(pins, 1<<16)
	backend := New(board, Pins{Clock: pins.Clock, SIO: pins.SIO}, Config{})
	cfg := core.DefaultConfig(pins.ChipSelects...)
	cfg.Sleep = func(time.Duration) {}
	cfg.QuadWriteOpcode = core.OpWrite

	bus, err := core.NewBus(backend, board, cfg)
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	if err := bus.Modes().EnterQuad(); err != nil {
		t.Fatalf("EnterQuad failed: %v", err)
	}

	dev := device(t, bus, 0)
	want := pattern(0xA0, 8)
	if err := dev.FastWriteQuad(0x10, want); err != nil {
		t.Fatalf("FastWriteQuad failed: %v", err)
	}
	if got := board.Chip(0).Peek(0x10, 8); !bytes.Equal(got, want) {
		t.Errorf("Expected %x, got %x", want, got)
	}

	cmds := board.Chip(0).Commands()
	if last := cmds[len(cmds)-1]; last != core.OpWrite {
		t.Errorf("Expected write opcode 0x02, got %#x", last)
	}
}

type failingGPIO struct {
	*sim.Board
	failPin core.Pin
	after   int
}

func (f *failingGPIO) SetPin(pin core.Pin, value bool) error {
	if pin == f.failPin {
		if f.after == 0 {
			return errors.New("gpio write failed")
		}
		f.after--
	}
	return f.Board.SetPin(pin, value)
}

func TestChipSelectReleasedOnError(t *testing.T) {
	pins := sim.DefaultPins()
	board := sim.NewBoard(pins, 1<<16)
	gpio := &failingGPIO{Board: board, failPin: pins.Clock, after: -1}
	backend := New(gpio, Pins{Clock: pins.Clock, SIO: pins.SIO}, Config{})
	cfg := core.DefaultConfig(pins.ChipSelects...)
	cfg.Sleep = func(time.Duration) {}

	bus, err := core.NewBus(backend, board, cfg)
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}

	// fail partway through the address phase
	gpio.after = 20
	if err := device(t, bus, 0).FastWrite(0, []byte{1, 2, 3}); err == nil {
		t.Fatal("Expected transport error")
	}
	if bus.Selector().Held() {
		t.Error("Selection still held after failed transaction")
	}
	level, _ := board.GetPin(pins.ChipSelects[0])
	if !level {
		t.Error("cs0 left asserted after failed transaction")
	}

	gpio.after = -1
	if _, err := device(t, bus, 0).ReadID(); err != nil {
		t.Errorf("Bus unusable after failure: %v", err)
	}
}
