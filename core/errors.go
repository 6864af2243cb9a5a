package core

import "errors"

var (
	// ErrBusBusy is returned when a chip select is requested while another
	// selection is still held on the same bus
	ErrBusBusy = errors.New("psram: bus busy")

	// ErrInvalidModeTransition is returned for a mode switch from the wrong
	// state or mid-transaction, and for commands issued in the wrong wire mode
	ErrInvalidModeTransition = errors.New("psram: invalid mode transition")

	// ErrTransportTimeout is returned when a backend could not complete a
	// transfer within its polling bound
	ErrTransportTimeout = errors.New("psram: transport timeout")

	// ErrShortTransfer is returned when a backend moved fewer bytes than requested
	ErrShortTransfer = errors.New("psram: short transfer")

	// ErrInvalidChipSelect is returned for a device id with no chip-select line
	ErrInvalidChipSelect = errors.New("psram: invalid chip select")

	// ErrAddressRange is returned when a burst does not fit below 1<<24
	ErrAddressRange = errors.New("psram: address out of 24-bit range")

	// ErrInvalidConfig is returned by Config.Validate
	ErrInvalidConfig = errors.New("psram: invalid configuration")

	// ErrQuadUnsupported is returned by backends without quad data lines
	ErrQuadUnsupported = errors.New("psram: backend has no quad data lines")
)
