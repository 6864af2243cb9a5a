package bridge

import (
	"io"

	"picopsram/core"
	"picopsram/protocol"
)

// Server executes bridge requests against a local backend and pin driver.
// It does not allocate per request, so it can run on the microcontroller.
type Server struct {
	backend core.Backend
	bulk    core.BulkTransport
	gpio    core.GPIODriver
	out     io.Writer
	dec     *protocol.Decoder

	result protocol.ScratchOutput
	resp   protocol.ScratchOutput
	wbuf   [DataChunk]byte
	rbuf   [DataChunk]byte

	requests uint32
	failures uint32
}

// NewServer returns a server answering on out
func NewServer(backend core.Backend, gpio core.GPIODriver, out io.Writer) *Server {
	s := &Server{
		backend: backend,
		gpio:    gpio,
		out:     out,
		dec:     protocol.NewDecoder(2 * (protocol.FrameLengthMax + 1)),
	}
	if bulk, ok := backend.(core.BulkTransport); ok {
		s.bulk = bulk
	}
	return s
}

// Receive feeds bytes read from the link and answers every request that
// became complete. Only write errors on the link are returned.
func (s *Server) Receive(p []byte) error {
	for len(p) > 0 {
		n := s.dec.Write(p)
		p = p[n:]
		for {
			f, ok := s.dec.Next()
			if !ok {
				break
			}
			if err := s.handle(f); err != nil {
				return err
			}
		}
		if n == 0 {
			// a partial frame filled the buffer and can never complete
			s.dec.Reset()
		}
	}
	return nil
}

// Stats returns the number of requests served and how many failed
func (s *Server) Stats() (requests, failures uint32) {
	return s.requests, s.failures
}

func (s *Server) handle(f protocol.Frame) error {
	s.requests++
	args := f.Payload
	s.result.Reset()

	cmd, err := protocol.DecodeVLQUint(&args)
	if err == nil {
		err = s.execute(Command(cmd), &args, &s.result)
	}
	status := StatusOf(err)
	if status != StatusOK {
		s.failures++
		core.DebugPrintln("bridge: " + Command(cmd).String() + " failed: " + err.Error())
	}

	s.resp.Reset()
	err = protocol.EncodeFrame(&s.resp, f.Seq, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, cmd)
		protocol.EncodeVLQUint(o, uint32(status))
		if status == StatusOK {
			o.Output(s.result.Result())
		}
	})
	if err != nil {
		return err
	}
	_, err = s.out.Write(s.resp.Result())
	return err
}

func (s *Server) execute(cmd Command, args *[]byte, o protocol.OutputBuffer) error {
	switch cmd {
	case CmdIdentify:
		var flags uint32
		if q, ok := s.backend.(core.QuadCapability); !ok || q.QuadCapable() {
			flags |= FlagQuad
		}
		if s.bulk != nil {
			flags |= FlagBulk
		}
		protocol.EncodeVLQUint(o, flags)
		protocol.EncodeVLQUint(o, DataChunk)
		return nil

	case CmdTransferBytes:
		flags, err := protocol.DecodeVLQUint(args)
		if err != nil {
			return err
		}
		n, err := decodeCount(args)
		if err != nil {
			return err
		}
		var w, r []byte
		if flags&xferWrite != 0 {
			data, err := protocol.DecodeVLQBytes(args)
			if err != nil {
				return err
			}
			if len(data) != n {
				return ErrBadRequest
			}
			w = s.wbuf[:copy(s.wbuf[:], data)]
		}
		if flags&xferRead != 0 || w == nil {
			r = s.rbuf[:n]
		}
		moved, err := s.transferBytes(w, r, n)
		if err != nil {
			return err
		}
		protocol.EncodeVLQUint(o, uint32(moved))
		if flags&xferRead != 0 {
			protocol.EncodeVLQBytes(o, r[:moved])
		}
		return nil

	case CmdTransferWord32:
		w, err := protocol.DecodeVLQUint(args)
		if err != nil {
			return err
		}
		v, err := s.backend.TransferWord32(w)
		if err != nil {
			return err
		}
		protocol.EncodeVLQUint(o, v)
		return nil

	case CmdWriteNibbles:
		data, err := protocol.DecodeVLQBytes(args)
		if err != nil {
			return err
		}
		if len(data) > DataChunk {
			return ErrBadRequest
		}
		moved, err := s.writeNibbles(data)
		if err != nil {
			return err
		}
		protocol.EncodeVLQUint(o, uint32(moved))
		return nil

	case CmdReadNibbles:
		n, err := decodeCount(args)
		if err != nil {
			return err
		}
		moved, err := s.readNibbles(s.rbuf[:n])
		if err != nil {
			return err
		}
		protocol.EncodeVLQBytes(o, s.rbuf[:moved])
		return nil

	case CmdConfigureLines:
		mode, err := protocol.DecodeVLQUint(args)
		if err != nil {
			return err
		}
		if mode > uint32(core.ModeQSPI) {
			return ErrBadRequest
		}
		return s.backend.ConfigureLines(core.WireMode(mode))

	case CmdTurnaround:
		cycles, err := protocol.DecodeVLQUint(args)
		if err != nil {
			return err
		}
		return s.backend.Turnaround(int(cycles))

	case CmdDrain:
		return s.backend.Drain()

	case CmdConfigureOutput, CmdConfigureInput, CmdSetPin, CmdGetPin:
		return s.executePin(cmd, args, o)
	}
	return ErrBadRequest
}

func (s *Server) executePin(cmd Command, args *[]byte, o protocol.OutputBuffer) error {
	pin, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	switch cmd {
	case CmdConfigureOutput:
		return s.gpio.ConfigureOutput(core.Pin(pin))
	case CmdConfigureInput:
		return s.gpio.ConfigureInput(core.Pin(pin))
	case CmdSetPin:
		v, err := protocol.DecodeVLQUint(args)
		if err != nil {
			return err
		}
		return s.gpio.SetPin(core.Pin(pin), v != 0)
	}
	v, err := s.gpio.GetPin(core.Pin(pin))
	if err != nil {
		return err
	}
	var bit uint32
	if v {
		bit = 1
	}
	protocol.EncodeVLQUint(o, bit)
	return nil
}

func decodeCount(args *[]byte) (int, error) {
	n, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return 0, err
	}
	if n > DataChunk {
		return 0, ErrBadRequest
	}
	return int(n), nil
}

// transferBytes moves n bytes; w or r may be nil
func (s *Server) transferBytes(w, r []byte, n int) (int, error) {
	if s.bulk != nil {
		return s.bulk.TransferBytes(w, r)
	}
	for i := 0; i < n; i++ {
		var out byte
		if w != nil {
			out = w[i]
		}
		in, err := s.backend.TransferByte(out)
		if err != nil {
			return i, err
		}
		if r != nil {
			r[i] = in
		}
	}
	return n, nil
}

func (s *Server) writeNibbles(p []byte) (int, error) {
	if s.bulk != nil {
		return s.bulk.WriteNibbles(p)
	}
	for i, v := range p {
		if err := s.backend.WriteNibblePair(v); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

func (s *Server) readNibbles(p []byte) (int, error) {
	if s.bulk != nil {
		return s.bulk.ReadNibbles(p)
	}
	for i := range p {
		v, err := s.backend.ReadNibblePair()
		if err != nil {
			return i, err
		}
		p[i] = v
	}
	return len(p), nil
}
