//go:build rp2040 || rp2350

package main

import (
	"machine"
)

// initUSB configures machine.Serial, which is USB CDC on the RP2040
func initUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// usbLink is the bridge's side of the USB serial port. Writes that make no
// progress are counted; after maxWriteFailures in a row the host is taken
// as gone and the pending response is dropped.
type usbLink struct {
	failures     uint32
	disconnected bool
}

const maxWriteFailures = 10

// Read drains whatever the USB stack has buffered into p without blocking
func (l *usbLink) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			return n, err
		}
		p[n] = b
		n++
	}
	return n, nil
}

// Write sends p in full or gives up on a disconnect
func (l *usbLink) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := machine.Serial.Write(p[written:])
		if err != nil || n == 0 {
			l.failures++
			if l.failures > maxWriteFailures {
				l.failures = 0
				l.disconnected = true
				return written, errDisconnected
			}
			continue
		}
		written += n
	}
	l.failures = 0
	return written, nil
}
