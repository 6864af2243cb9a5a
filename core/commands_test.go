package core

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestFastWriteSPIFraming(t *testing.T) {
	bus, hw := newMockBus(t)
	dev, _ := bus.Device(0)

	if err := dev.FastWriteSPI(0x012345, []byte{0xAA, 0x55}); err != nil {
		t.Fatalf("FastWriteSPI failed: %v", err)
	}
	expectLog(t, hw.log,
		"cs10=0", "tx:02", "tx:01", "tx:23", "tx:45", "tx:aa", "tx:55", "cs10=1")
}

func TestFastReadSPIFraming(t *testing.T) {
	bus, hw := newMockBus(t)
	dev, _ := bus.Device(1)

	// opcode, three address bytes and the dummy byte shift in before data
	hw.rx = []byte{0, 0, 0, 0, 0, 0x12, 0x34}
	got := make([]byte, 2)
	if err := dev.FastReadSPI(0x000100, got); err != nil {
		t.Fatalf("FastReadSPI failed: %v", err)
	}
	expectLog(t, hw.log,
		"cs11=0", "tx:0b", "tx:00", "tx:01", "tx:00", "tx:00", "tx:00", "tx:00", "cs11=1")
	if !bytes.Equal(got, []byte{0x12, 0x34}) {
		t.Errorf("Expected 1234, got %x", got)
	}
}

func TestQuadFraming(t *testing.T) {
	bus, hw := newMockBus(t)
	dev, _ := bus.Device(0)
	if err := bus.Modes().EnterQuad(); err != nil {
		t.Fatalf("EnterQuad failed: %v", err)
	}

	hw.log = nil
	if err := dev.FastWriteQuad(0x000010, []byte{0x9C}); err != nil {
		t.Fatalf("FastWriteQuad failed: %v", err)
	}
	expectLog(t, hw.log,
		"cs10=0", "nib:38", "nib:00", "nib:00", "nib:10", "nib:9c", "drain", "cs10=1")

	hw.log = nil
	hw.rx = []byte{0x9C, 0x01}
	got := make([]byte, 2)
	if err := dev.FastReadQuad(0x000010, got); err != nil {
		t.Fatalf("FastReadQuad failed: %v", err)
	}
	expectLog(t, hw.log,
		"cs10=0", "nib:eb", "nib:00", "nib:00", "nib:10",
		"turn:6", "rnib", "rnib", "lines:qspi", "drain", "cs10=1")
	if !bytes.Equal(got, []byte{0x9C, 0x01}) {
		t.Errorf("Expected 9c01, got %x", got)
	}
}

func TestFastReadDispatchesOnMode(t *testing.T) {
	bus, hw := newMockBus(t)
	dev, _ := bus.Device(0)

	if err := dev.FastRead(0, make([]byte, 1)); err != nil {
		t.Fatalf("FastRead in SPI failed: %v", err)
	}
	if hw.log[1] != "tx:0b" {
		t.Errorf("Expected SPI fast read opcode, got %s", hw.log[1])
	}

	bus.Modes().EnterQuad()
	hw.log = nil
	if err := dev.FastRead(0, make([]byte, 1)); err != nil {
		t.Fatalf("FastRead in QSPI failed: %v", err)
	}
	if hw.log[1] != "nib:eb" {
		t.Errorf("Expected quad fast read opcode, got %s", hw.log[1])
	}
}

func TestReadIDFraming(t *testing.T) {
	bus, hw := newMockBus(t)
	dev, _ := bus.Device(0)

	hw.rx = []byte{0, 0, 0, 0, 0x0D, 0x5D, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	id, err := dev.ReadID()
	if err != nil {
		t.Fatalf("ReadID failed: %v", err)
	}
	expectLog(t, hw.log,
		"cs10=0", "word:9f000000", "word:00000000", "word:00000000", "cs10=1")

	if id.Raw() != 0x0D5D_1122_3344_5566 {
		t.Errorf("Expected id 0d5d112233445566, got %x", id.Raw())
	}
}

func TestWrongModeOperations(t *testing.T) {
	bus, hw := newMockBus(t)
	dev, _ := bus.Device(0)
	buf := make([]byte, 4)

	spiCases := map[string]error{
		"FastReadQuad":  dev.FastReadQuad(0, buf),
		"FastWriteQuad": dev.FastWriteQuad(0, buf),
		"ExitQuad":      bus.Modes().ExitQuad(),
	}
	for name, err := range spiCases {
		if !errors.Is(err, ErrInvalidModeTransition) {
			t.Errorf("%s in SPI: expected ErrInvalidModeTransition, got %v", name, err)
		}
	}

	if err := bus.Modes().EnterQuad(); err != nil {
		t.Fatalf("EnterQuad failed: %v", err)
	}
	hw.log = nil

	_, idErr := dev.ReadID()
	quadCases := map[string]error{
		"FastReadSPI":  dev.FastReadSPI(0, buf),
		"FastWriteSPI": dev.FastWriteSPI(0, buf),
		"ReadID":       idErr,
		"ResetEnable":  dev.ResetEnable(),
		"EnterQuad":    bus.Modes().EnterQuad(),
	}
	for name, err := range quadCases {
		if !errors.Is(err, ErrInvalidModeTransition) {
			t.Errorf("%s in QSPI: expected ErrInvalidModeTransition, got %v", name, err)
		}
	}
	if len(hw.log) != 0 {
		t.Errorf("Refused operations touched the bus: %v", hw.log)
	}
}

func TestTransportErrorReleasesChipSelect(t *testing.T) {
	bus, hw := newMockBus(t)
	dev, _ := bus.Device(0)

	hw.failOn = 3
	err := dev.FastWriteSPI(0x010000, []byte{1})
	if !errors.Is(err, errMockTransport) {
		t.Fatalf("Expected transport error, got %v", err)
	}
	expectLog(t, hw.log, "cs10=0", "tx:02", "tx:01", "lines:spi", "cs10=1")

	if bus.Selector().Held() {
		t.Error("Selection still held after error")
	}

	hw.failOn = 0
	if err := dev.FastWriteSPI(0, []byte{1}); err != nil {
		t.Errorf("Bus unusable after error: %v", err)
	}
}

func TestFailedQuadTransactionReturnsToSPI(t *testing.T) {
	recovery := []string{
		"cs10=1", "cs11=1",
		"lines:qspi",
		"cs10=0", "cs11=0", "nib:66", "drain", "cs10=1", "cs11=1",
		"cs10=0", "cs11=0", "nib:99", "drain", "cs10=1", "cs11=1",
		"lines:spi",
		"cs10=0", "cs11=0", "tx:66", "cs10=1", "cs11=1",
		"cs10=0", "cs11=0", "tx:99", "cs10=1", "cs11=1",
	}
	cases := []struct {
		name   string
		failAt int // transfer call that fails, counted from the opcode
		op     func(dev *Device) error
		want   []string
	}{
		{
			name:   "read",
			failAt: 5,
			op:     func(dev *Device) error { return dev.FastRead(0x10, make([]byte, 2)) },
			want:   append([]string{"cs10=0", "nib:eb", "nib:00", "nib:00", "nib:10", "turn:6"}, recovery...),
		},
		{
			name:   "write",
			failAt: 2,
			op:     func(dev *Device) error { return dev.FastWrite(0x10, []byte{1, 2}) },
			want:   append([]string{"cs10=0", "nib:38"}, recovery...),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bus, hw := newMockBus(t)
			dev, _ := bus.Device(0)
			if err := bus.Modes().EnterQuad(); err != nil {
				t.Fatalf("EnterQuad failed: %v", err)
			}

			hw.log = nil
			hw.failOn = hw.calls + tc.failAt
			if err := tc.op(dev); !errors.Is(err, errMockTransport) {
				t.Fatalf("Expected transport error, got %v", err)
			}
			expectLog(t, hw.log, tc.want...)

			if bus.Mode() != ModeSPI {
				t.Errorf("Expected SPI after failure, got %s", bus.Mode())
			}
			if bus.Selector().Held() {
				t.Error("Selection held after failure")
			}
			if !hw.pins[10] || !hw.pins[11] {
				t.Error("Chip selects not high after failure")
			}
			if err := bus.Modes().EnterQuad(); err != nil {
				t.Errorf("EnterQuad after recovery failed: %v", err)
			}
		})
	}
}

func TestShortTransfer(t *testing.T) {
	hw := newMockHW()
	bulk := &mockBulk{mockHW: hw, short: 1}
	bus := newTestBus(t, bulk, hw)
	dev, _ := bus.Device(0)

	err := dev.FastReadSPI(0, make([]byte, 8))
	if !errors.Is(err, ErrShortTransfer) {
		t.Errorf("Expected ErrShortTransfer, got %v", err)
	}
	if bus.Selector().Held() {
		t.Error("Selection still held after short transfer")
	}

	bulk.short = 0
	hw.log = nil
	if err := dev.FastWriteSPI(0, make([]byte, 8)); err != nil {
		t.Fatalf("FastWriteSPI failed: %v", err)
	}
	expectLog(t, hw.log, "cs10=0", "tx:02", "tx:00", "tx:00", "tx:00", "bulk:8", "cs10=1")
}

func TestAddressRange(t *testing.T) {
	bus, _ := newMockBus(t)
	dev, _ := bus.Device(0)

	if err := dev.FastWrite(MaxAddress+1, []byte{1}); !errors.Is(err, ErrAddressRange) {
		t.Errorf("Expected ErrAddressRange, got %v", err)
	}
	if err := dev.FastRead(MaxAddress, make([]byte, 2)); !errors.Is(err, ErrAddressRange) {
		t.Errorf("Expected ErrAddressRange for burst past the end, got %v", err)
	}
	if err := dev.FastRead(MaxAddress, make([]byte, 1)); err != nil {
		t.Errorf("Last byte should be readable: %v", err)
	}
}

func TestEmptyBurstIsNoOp(t *testing.T) {
	bus, hw := newMockBus(t)
	dev, _ := bus.Device(0)

	if err := dev.FastWrite(0, nil); err != nil {
		t.Errorf("Empty write failed: %v", err)
	}
	if err := dev.FastRead(0, []byte{}); err != nil {
		t.Errorf("Empty read failed: %v", err)
	}
	if len(hw.log) != 0 {
		t.Errorf("Empty bursts touched the bus: %v", hw.log)
	}
}

func TestDeviceResetSequence(t *testing.T) {
	bus, hw := newMockBus(t)
	dev, _ := bus.Device(1)

	slept := 0
	bus.cfg.Sleep = func(d time.Duration) { slept++ }

	if err := dev.ResetSequence(); err != nil {
		t.Fatalf("ResetSequence failed: %v", err)
	}
	expectLog(t, hw.log, "cs11=0", "tx:66", "cs11=1", "cs11=0", "tx:99", "cs11=1")
	if slept != 1 {
		t.Errorf("Expected one settle delay, got %d", slept)
	}
}

func TestTraceRecordsTransactions(t *testing.T) {
	ClearTrace()
	bus, hw := newMockBus(t)
	dev, _ := bus.Device(1)

	dev.ToggleBurstLength()
	hw.failOn = hw.calls + 1
	dev.FastWriteSPI(0, []byte{1})

	trace := TraceSnapshot()
	if len(trace) != 2 {
		t.Fatalf("Expected 2 trace events, got %d", len(trace))
	}
	if trace[0].Op != OpToggleBurstLength || trace[0].CS != 1 || trace[0].Failed {
		t.Errorf("Unexpected first event %+v", trace[0])
	}
	if trace[1].Op != OpWrite || !trace[1].Failed {
		t.Errorf("Unexpected second event %+v", trace[1])
	}
}
