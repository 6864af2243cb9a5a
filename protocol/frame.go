package protocol

import "errors"

// ErrFrameTooLong is returned when a payload does not fit one frame
var ErrFrameTooLong = errors.New("protocol: payload exceeds frame size")

// AppendFrame appends a complete frame carrying payload to dst
func AppendFrame(dst []byte, seq byte, payload []byte) ([]byte, error) {
	if len(payload) > PayloadMax {
		return dst, ErrFrameTooLong
	}
	start := len(dst)
	dst = append(dst, byte(len(payload)+FrameLengthMin), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), SyncByte), nil
}

// EncodeFrame writes a frame to out whose payload is produced by fill.
// Nothing is written if the payload does not fit.
func EncodeFrame(out OutputBuffer, seq byte, fill func(OutputBuffer)) error {
	var payload ScratchOutput
	fill(&payload)
	if payload.Overflowed() || len(payload.Result()) > PayloadMax {
		return ErrFrameTooLong
	}

	cursor := out.CurPosition()
	out.Output([]byte{0, seq})
	out.Output(payload.Result())
	out.Update(cursor+framePositionLen, byte(len(out.DataSince(cursor))+FrameTrailerSize))

	crc := CRC16(out.DataSince(cursor))
	out.Output([]byte{byte(crc >> 8), byte(crc), SyncByte})
	return nil
}

// Decoder extracts frames from a byte stream. Bytes that do not form a valid
// frame are skipped up to the next sync byte.
type Decoder struct {
	in      *FifoBuffer
	synced  bool
	dropped int
}

// NewDecoder returns a decoder buffering up to capacity-1 unread bytes
func NewDecoder(capacity int) *Decoder {
	if capacity < FrameLengthMax+1 {
		capacity = FrameLengthMax + 1
	}
	return &Decoder{in: NewFifoBuffer(capacity), synced: true}
}

// Write buffers p. It returns the number of bytes accepted; when the buffer
// is full the rest is dropped.
func (d *Decoder) Write(p []byte) int {
	return d.in.Write(p)
}

// Dropped returns how many malformed frames have been skipped
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Reset discards buffered input
func (d *Decoder) Reset() {
	d.in.Reset()
	d.synced = true
}

// Next returns the next complete frame. The payload is a copy owned by the
// caller. It returns false when more input is needed.
func (d *Decoder) Next() (Frame, bool) {
	data := d.in.Data()
	total := len(data)
	defer func() {
		d.in.Pop(total - len(data))
	}()

	for len(data) > 0 {
		if !d.synced {
			i := 0
			for i < len(data) && data[i] != SyncByte {
				i++
			}
			if i == len(data) {
				data = nil
				break
			}
			data = data[i+1:]
			d.synced = true
			continue
		}

		// while synced the first byte is a length, even when it equals SyncByte
		if len(data) < FrameLengthMin {
			break
		}

		n := int(data[framePositionLen])
		if n < FrameLengthMin {
			d.desync()
			continue
		}
		if len(data) < n {
			break
		}
		if data[n-frameTrailerSync] != SyncByte {
			d.desync()
			continue
		}
		got := uint16(data[n-frameTrailerCRC])<<8 | uint16(data[n-frameTrailerCRC+1])
		if got != CRC16(data[:n-FrameTrailerSize]) {
			d.desync()
			continue
		}

		f := Frame{
			Seq:     data[framePositionSeq],
			Payload: append([]byte(nil), data[FrameHeaderSize:n-FrameTrailerSize]...),
		}
		data = data[n:]
		return f, true
	}
	return Frame{}, false
}

func (d *Decoder) desync() {
	d.synced = false
	d.dropped++
}
