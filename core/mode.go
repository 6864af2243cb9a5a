package core

import (
	"errors"
	"fmt"
)

// ModeController switches every device on a bus between SPI and QSPI.
// Mode is a property of the bus since the data lines are shared; entry and
// exit are broadcast to all chip selects.
type ModeController struct {
	bus *Bus
}

// Mode returns the current wire mode
func (m *ModeController) Mode() WireMode {
	return m.bus.Mode()
}

// EnterQuad sends 0x35 in SPI and reconfigures the lines for QSPI before the
// chip selects are released. It fails with ErrInvalidModeTransition when the
// bus is already in QSPI or a transaction is in flight.
func (m *ModeController) EnterQuad() error {
	b := m.bus
	if err := m.checkTransition(ModeSPI, "enter quad"); err != nil {
		return err
	}
	if !quadCapable(b.backend) {
		return fmt.Errorf("%w: %w", ErrInvalidModeTransition, ErrQuadUnsupported)
	}

	err := b.transaction(Broadcast, OpEnterQuad, func(mode WireMode) error {
		if _, err := b.backend.TransferByte(OpEnterQuad); err != nil {
			return err
		}
		if err := b.backend.ConfigureLines(ModeQSPI); err != nil {
			return err
		}
		b.setMode(ModeQSPI)
		return nil
	})
	if err != nil {
		return m.fail(err)
	}

	DebugPrintln("psram: entered qspi")
	return nil
}

// ExitQuad clocks the exit pattern (0xF then 0x5 on SIO0-3), waits for the
// output to drain and returns the lines to SPI direction before the chip
// selects are released
func (m *ModeController) ExitQuad() error {
	b := m.bus
	if err := m.checkTransition(ModeQSPI, "exit quad"); err != nil {
		return err
	}

	err := b.transaction(Broadcast, OpExitQuad, func(mode WireMode) error {
		if err := b.backend.WriteNibblePair(exitPatternHigh<<4 | exitPatternLow); err != nil {
			return err
		}
		if err := b.backend.Drain(); err != nil {
			return err
		}
		if err := b.backend.ConfigureLines(ModeSPI); err != nil {
			return err
		}
		b.setMode(ModeSPI)
		return nil
	})
	if err != nil {
		return m.fail(err)
	}

	DebugPrintln("psram: exited qspi")
	return nil
}

func (m *ModeController) checkTransition(from WireMode, what string) error {
	if mode := m.bus.Mode(); mode != from {
		return fmt.Errorf("%w: %s from %s", ErrInvalidModeTransition, what, mode)
	}
	if m.bus.selector.Held() {
		return fmt.Errorf("%w: %s: %w", ErrInvalidModeTransition, what, ErrBusBusy)
	}
	return nil
}

// fail maps a failed transition: a lost race for the bus is a refused
// transition, anything else is a transport failure and forces the bus back
// to SPI
func (m *ModeController) fail(err error) error {
	if errors.Is(err, ErrBusBusy) {
		return fmt.Errorf("%w: %w", ErrInvalidModeTransition, err)
	}
	if errors.Is(err, ErrInvalidModeTransition) {
		return err
	}
	return m.bus.recoverLines(err)
}
