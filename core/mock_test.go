package core

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

var errMockTransport = errors.New("mock transport failure")

// mockHW is a GPIO driver and transport backend that records every call in
// one log so tests can check ordering across chip selects and data phases
type mockHW struct {
	log  []string
	pins map[Pin]bool

	// rx is returned byte by byte from TransferByte and ReadNibblePair
	rx []byte

	// failOn makes the n-th transfer call (1-based) fail; 0 never fails
	failOn int
	calls  int
}

func newMockHW() *mockHW {
	return &mockHW{pins: make(map[Pin]bool)}
}

func (m *mockHW) record(s string) {
	m.log = append(m.log, s)
}

func (m *mockHW) transfer() error {
	m.calls++
	if m.failOn != 0 && m.calls == m.failOn {
		return errMockTransport
	}
	return nil
}

func (m *mockHW) next() byte {
	if len(m.rx) == 0 {
		return 0
	}
	v := m.rx[0]
	m.rx = m.rx[1:]
	return v
}

func (m *mockHW) ConfigureOutput(pin Pin) error { return nil }
func (m *mockHW) ConfigureInput(pin Pin) error  { return nil }

func (m *mockHW) SetPin(pin Pin, value bool) error {
	m.pins[pin] = value
	level := "1"
	if !value {
		level = "0"
	}
	m.record("cs" + strconv.Itoa(int(pin)) + "=" + level)
	return nil
}

func (m *mockHW) GetPin(pin Pin) (bool, error) {
	return m.pins[pin], nil
}

func (m *mockHW) TransferByte(v byte) (byte, error) {
	if err := m.transfer(); err != nil {
		return 0, err
	}
	m.record("tx:" + hex8(v))
	return m.next(), nil
}

func (m *mockHW) TransferWord32(w uint32) (uint32, error) {
	if err := m.transfer(); err != nil {
		return 0, err
	}
	m.record("word:" + hex64(uint64(w), 8))
	var in uint32
	for i := 0; i < 4; i++ {
		in = in<<8 | uint32(m.next())
	}
	return in, nil
}

func (m *mockHW) WriteNibblePair(v byte) error {
	if err := m.transfer(); err != nil {
		return err
	}
	m.record("nib:" + hex8(v))
	return nil
}

func (m *mockHW) ReadNibblePair() (byte, error) {
	if err := m.transfer(); err != nil {
		return 0, err
	}
	m.record("rnib")
	return m.next(), nil
}

func (m *mockHW) ConfigureLines(mode WireMode) error {
	m.record("lines:" + mode.String())
	return nil
}

func (m *mockHW) Turnaround(cycles int) error {
	m.record("turn:" + strconv.Itoa(cycles))
	return nil
}

func (m *mockHW) Drain() error {
	m.record("drain")
	return nil
}

// mockBulk adds the bulk fast path; short bytes are dropped from each burst
type mockBulk struct {
	*mockHW
	short int
}

func (m *mockBulk) TransferBytes(w, r []byte) (int, error) {
	n := len(w)
	if r != nil {
		n = len(r)
		for i := range r {
			r[i] = m.next()
		}
	}
	m.record("bulk:" + strconv.Itoa(n))
	return n - m.short, nil
}

func (m *mockBulk) WriteNibbles(p []byte) (int, error) {
	m.record("bulknib:" + strconv.Itoa(len(p)))
	return len(p) - m.short, nil
}

func (m *mockBulk) ReadNibbles(p []byte) (int, error) {
	for i := range p {
		p[i] = m.next()
	}
	m.record("bulkrnib:" + strconv.Itoa(len(p)))
	return len(p) - m.short, nil
}

// spiOnly reports no quad lines
type spiOnly struct {
	*mockHW
}

func (s spiOnly) QuadCapable() bool { return false }

func testConfig() Config {
	cfg := DefaultConfig(10, 11)
	cfg.Sleep = func(time.Duration) {}
	return cfg
}

func newTestBus(t *testing.T, backend Backend, gpio GPIODriver) *Bus {
	t.Helper()
	bus, err := NewBus(backend, gpio, testConfig())
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	return bus
}

// newMockBus returns a two-device bus over a fresh mock with the init
// traffic cleared from the log
func newMockBus(t *testing.T) (*Bus, *mockHW) {
	t.Helper()
	hw := newMockHW()
	bus := newTestBus(t, hw, hw)
	hw.log = nil
	return bus, hw
}

func expectLog(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected log %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Log entry %d: expected %q, got %q\nfull log: %v", i, want[i], got[i], got)
		}
	}
}
