// Package protocol frames messages on a serial byte stream.
//
// A frame is a length byte, a sequence byte, the payload, a CRC16 over
// everything before it (high byte first) and a 0x7E sync byte. The length
// counts the whole frame. Integers inside payloads are VLQ encoded.
package protocol

// Frame layout
const (
	FrameHeaderSize  = 2
	FrameTrailerSize = 3
	FrameLengthMin   = FrameHeaderSize + FrameTrailerSize
	FrameLengthMax   = 255
	PayloadMax       = FrameLengthMax - FrameLengthMin

	framePositionLen = 0
	framePositionSeq = 1
	frameTrailerCRC  = 3
	frameTrailerSync = 1

	SyncByte = 0x7E
)

// Sequence numbers live in the low nibble; the high nibble is always SeqDest
const (
	SeqDest = 0x10
	SeqMask = 0x0F
)

// ScratchMax is the size of a ScratchOutput
const ScratchMax = 512

// Frame is one decoded frame
type Frame struct {
	Seq     byte
	Payload []byte
}

// NextSeq returns the sequence number following seq
func NextSeq(seq byte) byte {
	return ((seq + 1) & SeqMask) | SeqDest
}
