// Package serial opens the USB CDC link to the bridge firmware
package serial

import (
	"io"
	"time"
)

// Port is a serial link. A read that times out returns no data and either a
// nil error or io.EOF, depending on the platform.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC ignores it but real UART bridges do not
	Baud int

	// ReadTimeout bounds each Read (0 blocks)
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings the bridge firmware expects
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 10 * time.Millisecond,
	}
}
