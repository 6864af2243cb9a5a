//go:build (rp2040 || rp2350) && psram_bitbang

package main

import (
	"picopsram/backend/bitbang"
	"picopsram/core"
)

// newBackend toggles the bus from the CPU, for boards whose PIO blocks are
// spoken for
func newBackend(gpio *pinDriver) (core.Backend, error) {
	return bitbang.New(gpio, bitbang.Pins{Clock: pinClock, SIO: pinSIO}, bitbang.Config{}), nil
}
