//go:build rp2040 || rp2350

package main

import (
	"machine"

	"picopsram/core"
)

var debugUART *machine.UART

// initDebugUART routes core debug output to UART0 on GPIO0 (TX) and GPIO1
// (RX), keeping USB free for the bridge
func initDebugUART() {
	uart := machine.UART0
	err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO0,
		RX:       machine.GPIO1,
	})
	if err != nil {
		return
	}
	debugUART = uart

	core.SetDebugWriter(debugPrintln)
	core.SetDebugEnabled(true)
	// the UART write blocks; keep it off the bus timing
	core.InitAsyncDebug()
	debugPrintln("=== psram bridge debug ===")
}

func debugPrintln(s string) {
	if debugUART == nil {
		return
	}
	debugUART.Write([]byte(s))
	debugUART.Write([]byte("\r\n"))
}
