//go:build !tinygo

package bridge

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"picopsram/core"
	"picopsram/protocol"
)

// DefaultTimeout bounds the wait for one response
const DefaultTimeout = 500 * time.Millisecond

// ClientConfig tunes a Client
type ClientConfig struct {
	// Timeout bounds the wait for each response (DefaultTimeout if zero)
	Timeout time.Duration

	// PollInterval is slept between empty reads (1ms if zero)
	PollInterval time.Duration

	// Logger receives link diagnostics (no-op if nil)
	Logger *zap.SugaredLogger
}

// Client drives a remote Server. It implements core.Backend,
// core.BulkTransport and core.GPIODriver, so a core.Bus can run on it
// directly. Requests are serialised; one is in flight at a time.
type Client struct {
	port io.ReadWriter
	cfg  ClientConfig
	log  *zap.SugaredLogger

	mu    sync.Mutex
	seq   byte
	dec   *protocol.Decoder
	rx    []byte
	frame []byte

	flags uint32
	chunk int
}

// NewClient identifies the server on port and returns a client for it
func NewClient(port io.ReadWriter, cfg ClientConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	c := &Client{
		port: port,
		cfg:  cfg,
		log:  log,
		seq:  protocol.SeqDest | protocol.SeqMask,
		dec:  protocol.NewDecoder(4 * (protocol.FrameLengthMax + 1)),
		rx:   make([]byte, 256),
	}

	res, err := c.call(CmdIdentify, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: identify: %w", err)
	}
	if c.flags, err = protocol.DecodeVLQUint(&res); err != nil {
		return nil, c.truncated(CmdIdentify)
	}
	chunk, err := protocol.DecodeVLQUint(&res)
	if err != nil {
		return nil, c.truncated(CmdIdentify)
	}
	c.chunk = int(min(chunk, DataChunk))
	if c.chunk == 0 {
		return nil, fmt.Errorf("%w: server reports zero chunk size", ErrRemote)
	}

	log.Infow("bridge connected", "quad", c.flags&FlagQuad != 0, "bulk", c.flags&FlagBulk != 0, "chunk", c.chunk)
	return c, nil
}

// QuadCapable implements core.QuadCapability
func (c *Client) QuadCapable() bool {
	return c.flags&FlagQuad != 0
}

// Close closes the port if it can be closed
func (c *Client) Close() error {
	if closer, ok := c.port.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// call sends one request and waits for the matching response, returning the
// result bytes after the status
func (c *Client) call(cmd Command, args func(o protocol.OutputBuffer)) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq = protocol.NextSeq(c.seq)
	var payload protocol.ScratchOutput
	protocol.EncodeVLQUint(&payload, uint32(cmd))
	if args != nil {
		args(&payload)
	}
	var err error
	if c.frame, err = protocol.AppendFrame(c.frame[:0], c.seq, payload.Result()); err != nil || payload.Overflowed() {
		return nil, fmt.Errorf("bridge: %s request: %w", cmd, protocol.ErrFrameTooLong)
	}
	if _, err := c.port.Write(c.frame); err != nil {
		return nil, fmt.Errorf("bridge: %s write: %w", cmd, err)
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	for {
		for {
			f, ok := c.dec.Next()
			if !ok {
				break
			}
			if f.Seq != c.seq {
				c.log.Debugw("bridge dropped stale response", "seq", f.Seq, "want", c.seq)
				continue
			}
			return c.result(cmd, f.Payload)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: bridge %s got no response in %v", core.ErrTransportTimeout, cmd, c.cfg.Timeout)
		}
		n, err := c.port.Read(c.rx)
		if n > 0 {
			c.dec.Write(c.rx[:n])
			continue
		}
		// serial ports report a read timeout as io.EOF with no data
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("bridge: %s read: %w", cmd, err)
		}
		time.Sleep(c.cfg.PollInterval)
	}
}

func (c *Client) result(cmd Command, p []byte) ([]byte, error) {
	got, err := protocol.DecodeVLQUint(&p)
	if err != nil {
		return nil, c.truncated(cmd)
	}
	if Command(got) != cmd {
		return nil, fmt.Errorf("%w: %s answered as %s", ErrRemote, cmd, Command(got))
	}
	status, err := protocol.DecodeVLQUint(&p)
	if err != nil {
		return nil, c.truncated(cmd)
	}
	if err := Status(status).Err(); err != nil {
		return nil, fmt.Errorf("bridge: %s: %w", cmd, err)
	}
	return p, nil
}

func (c *Client) truncated(cmd Command) error {
	c.log.Warnw("bridge truncated response", "cmd", cmd.String())
	return fmt.Errorf("%w: bridge %s response truncated", core.ErrShortTransfer, cmd)
}

// TransferByte implements core.Transport
func (c *Client) TransferByte(v byte) (byte, error) {
	var r [1]byte
	n, err := c.TransferBytes([]byte{v}, r[:])
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("%w: transfer-bytes moved %d of 1", core.ErrShortTransfer, n)
	}
	return r[0], nil
}

// TransferWord32 implements core.Transport
func (c *Client) TransferWord32(w uint32) (uint32, error) {
	res, err := c.call(CmdTransferWord32, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, w)
	})
	if err != nil {
		return 0, err
	}
	v, err := protocol.DecodeVLQUint(&res)
	if err != nil {
		return 0, c.truncated(CmdTransferWord32)
	}
	return v, nil
}

// WriteNibblePair implements core.Transport
func (c *Client) WriteNibblePair(v byte) error {
	n, err := c.WriteNibbles([]byte{v})
	if err == nil && n != 1 {
		err = fmt.Errorf("%w: write-nibbles moved %d of 1", core.ErrShortTransfer, n)
	}
	return err
}

// ReadNibblePair implements core.Transport
func (c *Client) ReadNibblePair() (byte, error) {
	var p [1]byte
	n, err := c.ReadNibbles(p[:])
	if err == nil && n != 1 {
		err = fmt.Errorf("%w: read-nibbles moved %d of 1", core.ErrShortTransfer, n)
	}
	return p[0], err
}

// ConfigureLines implements core.Backend
func (c *Client) ConfigureLines(mode core.WireMode) error {
	_, err := c.call(CmdConfigureLines, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(mode))
	})
	return err
}

// Turnaround implements core.Backend
func (c *Client) Turnaround(cycles int) error {
	_, err := c.call(CmdTurnaround, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(cycles))
	})
	return err
}

// Drain implements core.Backend
func (c *Client) Drain() error {
	_, err := c.call(CmdDrain, nil)
	return err
}

// TransferBytes implements core.BulkTransport, splitting the burst into
// chunks the server accepts
func (c *Client) TransferBytes(w, r []byte) (int, error) {
	n := len(w)
	if w == nil {
		n = len(r)
	}
	done := 0
	for done < n {
		size := min(n-done, c.chunk)
		var flags uint32
		if w != nil {
			flags |= xferWrite
		}
		if r != nil {
			flags |= xferRead
		}

		res, err := c.call(CmdTransferBytes, func(o protocol.OutputBuffer) {
			protocol.EncodeVLQUint(o, flags)
			protocol.EncodeVLQUint(o, uint32(size))
			if w != nil {
				protocol.EncodeVLQBytes(o, w[done:done+size])
			}
		})
		if err != nil {
			return done, err
		}
		moved, err := protocol.DecodeVLQUint(&res)
		if err != nil {
			return done, c.truncated(CmdTransferBytes)
		}
		if r != nil {
			data, err := protocol.DecodeVLQBytes(&res)
			if err != nil || len(data) != int(moved) {
				return done, c.truncated(CmdTransferBytes)
			}
			copy(r[done:], data)
		}
		done += int(moved)
		if int(moved) < size {
			break
		}
	}
	return done, nil
}

// WriteNibbles implements core.BulkTransport
func (c *Client) WriteNibbles(p []byte) (int, error) {
	done := 0
	for done < len(p) {
		size := min(len(p)-done, c.chunk)
		res, err := c.call(CmdWriteNibbles, func(o protocol.OutputBuffer) {
			protocol.EncodeVLQBytes(o, p[done:done+size])
		})
		if err != nil {
			return done, err
		}
		moved, err := protocol.DecodeVLQUint(&res)
		if err != nil {
			return done, c.truncated(CmdWriteNibbles)
		}
		done += int(moved)
		if int(moved) < size {
			break
		}
	}
	return done, nil
}

// ReadNibbles implements core.BulkTransport
func (c *Client) ReadNibbles(p []byte) (int, error) {
	done := 0
	for done < len(p) {
		size := min(len(p)-done, c.chunk)
		res, err := c.call(CmdReadNibbles, func(o protocol.OutputBuffer) {
			protocol.EncodeVLQUint(o, uint32(size))
		})
		if err != nil {
			return done, err
		}
		data, err := protocol.DecodeVLQBytes(&res)
		if err != nil || len(data) > size {
			return done, c.truncated(CmdReadNibbles)
		}
		done += copy(p[done:], data)
		if len(data) < size {
			break
		}
	}
	return done, nil
}

// ConfigureOutput implements core.GPIODriver
func (c *Client) ConfigureOutput(pin core.Pin) error {
	return c.pinCall(CmdConfigureOutput, pin)
}

// ConfigureInput implements core.GPIODriver
func (c *Client) ConfigureInput(pin core.Pin) error {
	return c.pinCall(CmdConfigureInput, pin)
}

// SetPin implements core.GPIODriver
func (c *Client) SetPin(pin core.Pin, value bool) error {
	var v uint32
	if value {
		v = 1
	}
	_, err := c.call(CmdSetPin, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(pin))
		protocol.EncodeVLQUint(o, v)
	})
	return err
}

// GetPin implements core.GPIODriver
func (c *Client) GetPin(pin core.Pin) (bool, error) {
	res, err := c.call(CmdGetPin, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(pin))
	})
	if err != nil {
		return false, err
	}
	v, err := protocol.DecodeVLQUint(&res)
	if err != nil {
		return false, c.truncated(CmdGetPin)
	}
	return v != 0, nil
}

func (c *Client) pinCall(cmd Command, pin core.Pin) error {
	_, err := c.call(cmd, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(pin))
	})
	return err
}
