// Package core implements the PSRAM command protocol, chip-select framing
// and SPI/QSPI mode switching on top of a swappable transport backend.
package core

// WireMode selects how many data lines carry a transaction
type WireMode uint8

const (
	// ModeSPI uses SIO0 as MOSI and SIO1 as MISO, one bit per clock, full duplex
	ModeSPI WireMode = iota
	// ModeQSPI uses SIO0-SIO3, one nibble per clock, half duplex with turnaround
	ModeQSPI
)

func (m WireMode) String() string {
	switch m {
	case ModeSPI:
		return "spi"
	case ModeQSPI:
		return "qspi"
	default:
		return "mode(" + itoa(int(m)) + ")"
	}
}

// Device opcodes (APS6404L command set)
const (
	OpResetEnable       = 0x66
	OpReset             = 0x99
	OpReadID            = 0x9F
	OpToggleBurstLength = 0xC0
	OpFastRead          = 0x0B // SPI, 8 wait clocks
	OpWrite             = 0x02 // SPI write; also accepted by the device in QPI
	OpEnterQuad         = 0x35
	OpFastReadQuad      = 0xEB // QPI, 6 wait clocks
	OpWriteQuad         = 0x38
	OpExitQuad          = 0xF5
)

// Phase timing
const (
	AddressBytes       = 3
	MaxAddress         = 1<<24 - 1
	FastReadWaitCycles = 8
	QuadReadWaitCycles = 6
	IDBytes            = 8
	exitPatternHigh    = OpExitQuad >> 4   // all four SIO lines high
	exitPatternLow     = OpExitQuad & 0x0F // SIO0 and SIO2 high, SIO1 and SIO3 low
)

// opcodeModes lists the wire modes each opcode may be issued in
var opcodeModes = map[byte][]WireMode{
	OpResetEnable:       {ModeSPI, ModeQSPI},
	OpReset:             {ModeSPI, ModeQSPI},
	OpReadID:            {ModeSPI},
	OpToggleBurstLength: {ModeSPI, ModeQSPI},
	OpFastRead:          {ModeSPI},
	OpWrite:             {ModeSPI, ModeQSPI},
	OpEnterQuad:         {ModeSPI},
	OpFastReadQuad:      {ModeQSPI},
	OpWriteQuad:         {ModeQSPI},
	OpExitQuad:          {ModeQSPI},
}

// OpcodeAllowed reports whether op may be issued while the bus is in mode
func OpcodeAllowed(op byte, mode WireMode) bool {
	for _, m := range opcodeModes[op] {
		if m == mode {
			return true
		}
	}
	return false
}

// addressBytes splits a 24-bit address into big-endian bytes
func addressBytes(addr uint32) [AddressBytes]byte {
	return [AddressBytes]byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}
}
