// Package bridge forwards transport and pin primitives over a framed serial
// link, so that a host can run the PSRAM protocol against pins that live on a
// microcontroller.
//
// Requests and responses travel in protocol frames. A request payload is the
// command id followed by its arguments; the response echoes the sequence
// number and carries the command id, a status code and the results, all VLQ
// encoded. The chip selects are ordinary pins on the far side, so a
// transaction spans several requests and the server never touches them on its
// own.
package bridge

import (
	"errors"

	"picopsram/core"
	"picopsram/protocol"
)

// Command identifies a bridge request
type Command uint32

const (
	CmdIdentify Command = iota + 1
	CmdTransferBytes
	CmdTransferWord32
	CmdWriteNibbles
	CmdReadNibbles
	CmdConfigureLines
	CmdTurnaround
	CmdDrain
	CmdConfigureOutput
	CmdConfigureInput
	CmdSetPin
	CmdGetPin
)

var commandNames = [...]string{
	CmdIdentify:        "identify",
	CmdTransferBytes:   "transfer-bytes",
	CmdTransferWord32:  "transfer-word32",
	CmdWriteNibbles:    "write-nibbles",
	CmdReadNibbles:     "read-nibbles",
	CmdConfigureLines:  "configure-lines",
	CmdTurnaround:      "turnaround",
	CmdDrain:           "drain",
	CmdConfigureOutput: "configure-output",
	CmdConfigureInput:  "configure-input",
	CmdSetPin:          "set-pin",
	CmdGetPin:          "get-pin",
}

func (c Command) String() string {
	if c < Command(len(commandNames)) && commandNames[c] != "" {
		return commandNames[c]
	}
	return "cmd-" + utoa(uint32(c))
}

// Status is the result code of a request
type Status uint32

const (
	StatusOK Status = iota
	StatusTimeout
	StatusShortTransfer
	StatusQuadUnsupported
	StatusBadRequest
	StatusFailed
)

// Capability flags reported by CmdIdentify
const (
	FlagQuad = 1 << iota
	FlagBulk
)

// DataChunk is the largest data burst carried by one request or response
const DataChunk = 224

// transfer-bytes request flags
const (
	xferWrite = 1 << iota
	xferRead
)

var (
	// ErrRemote is returned when the far side reports a failure that has no
	// matching core error
	ErrRemote = errors.New("bridge: remote failure")

	// ErrBadRequest is returned by the server for malformed or unknown requests
	ErrBadRequest = errors.New("bridge: bad request")
)

// StatusOf maps an error from the local backend onto a wire status
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, core.ErrTransportTimeout):
		return StatusTimeout
	case errors.Is(err, core.ErrShortTransfer):
		return StatusShortTransfer
	case errors.Is(err, core.ErrQuadUnsupported):
		return StatusQuadUnsupported
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, protocol.ErrBufferTooSmall),
		errors.Is(err, protocol.ErrInvalidVLQ):
		return StatusBadRequest
	}
	return StatusFailed
}

// Err maps a wire status back onto the error the far side saw
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusTimeout:
		return core.ErrTransportTimeout
	case StatusShortTransfer:
		return core.ErrShortTransfer
	case StatusQuadUnsupported:
		return core.ErrQuadUnsupported
	case StatusBadRequest:
		return ErrBadRequest
	}
	return ErrRemote
}

func utoa(n uint32) string {
	var buf [10]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return string(buf[i:])
}
