//go:build rp2040 || rp2350

// Firmware for a Pico wired to two serial PSRAM chips. It resets the chips,
// reports their ids and checks a write/read round trip in SPI and QSPI over
// the debug UART, then serves the PSRAM bridge on USB serial.
package main

import (
	"errors"
	"machine"
	"time"

	"go.uber.org/multierr"

	"picopsram/bridge"
	"picopsram/core"
)

// Reference wiring
const pinClock core.Pin = 12

var (
	pinSIO         = [4]core.Pin{8, 9, 10, 11}
	pinChipSelects = []core.Pin{13, 14}
)

var errDisconnected = errors.New("usb: host disconnected")

func main() {
	// clear any watchdog left running by a previous image
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	initUSB()
	initDebugUART()

	gpio := newPinDriver()
	backend, err := newBackend(gpio)
	if err != nil {
		core.DebugPrintln("psram: backend: " + err.Error())
		halt()
	}

	bus, err := core.NewBus(backend, gpio, core.DefaultConfig(pinChipSelects...))
	if err != nil {
		core.DebugPrintln("psram: bus: " + err.Error())
		halt()
	}
	if err := startupCheck(bus); err != nil {
		core.DebugPrintln("psram: startup check failed: " + err.Error())
		core.DumpTrace()
	}

	serve(backend, gpio)
}

// startupCheck resets both chips, logs their ids and verifies a 32-byte
// pattern per chip in SPI and in QSPI with 32-byte wrap. The chips are reset
// again afterwards and the bus is left in SPI.
func startupCheck(bus *core.Bus) error {
	if err := bus.Reset(); err != nil {
		return err
	}
	for _, dev := range bus.Devices() {
		id, err := dev.ReadID()
		if err != nil {
			return err
		}
		if !id.Good() {
			core.DebugPrintln("psram: cs" + itoa(dev.ChipSelect()) + " reports a failed die")
		}
	}
	if err := bus.ToggleBurstLength(); err != nil {
		return err
	}

	if err := roundTrip(bus); err != nil {
		return err
	}
	if err := bus.Modes().EnterQuad(); err != nil {
		return err
	}
	if err := roundTrip(bus); err != nil {
		return multierr.Append(err, bus.Recover())
	}
	if err := bus.Modes().ExitQuad(); err != nil {
		return err
	}
	// back to 1 KiB bursts for the host
	return bus.Reset()
}

func roundTrip(bus *core.Bus) error {
	var data, got [32]byte
	devs := bus.Devices()
	for i, dev := range devs {
		for j := range data {
			data[j] = byte(32*i + j)
		}
		if err := dev.FastWrite(0, data[:]); err != nil {
			return err
		}
	}
	for i, dev := range devs {
		if err := dev.FastRead(0, got[:]); err != nil {
			return err
		}
		for j, v := range got {
			if v != byte(32*i+j) {
				return errors.New("cs" + itoa(i) + " byte " + itoa(j) + " mismatch")
			}
		}
	}
	core.DebugPrintln("psram: round trip ok in " + bus.Mode().String())
	return nil
}

// serve answers bridge requests until power-off. A disconnect drops the
// partial input so the next host starts clean.
func serve(backend core.Backend, gpio core.GPIODriver) {
	link := &usbLink{}
	var buf [64]byte
	for {
		server := bridge.NewServer(backend, gpio, link)
		link.disconnected = false
		for !link.disconnected {
			n, err := link.Read(buf[:])
			if err != nil {
				core.DebugPrintln("usb: read: " + err.Error())
			}
			if n == 0 {
				time.Sleep(100 * time.Microsecond)
				continue
			}
			if err := server.Receive(buf[:n]); err != nil {
				core.DebugPrintln("bridge: " + err.Error())
			}
		}
		requests, failures := server.Stats()
		core.DebugPrintln("bridge: host gone after " + itoa(int(requests)) + " requests, " + itoa(int(failures)) + " failed")
	}
}

func halt() {
	for {
		time.Sleep(time.Second)
	}
}

// itoa converts int to string without strconv
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	negative := i < 0
	if negative {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if negative {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
