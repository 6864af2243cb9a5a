package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestVLQEncodeDecodeInt(t *testing.T) {
	testCases := []int32{
		0, 1, -1, 31, -32, 95, 96, 127, -127, 128, -128,
		1000, -1000, 65535, -65535, 1000000, -1000000,
		1<<31 - 1, -1 << 31,
	}

	for _, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQInt(output, expected)
		encoded := output.Result()

		data := encoded
		decoded, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("Failed to decode VLQ for value %d: %v", expected, err)
			continue
		}
		if decoded != expected {
			t.Errorf("VLQ mismatch: expected %d, got %d (encoded as %v)", expected, decoded, encoded)
		}
		if len(data) != 0 {
			t.Errorf("VLQ decode left %d bytes for value %d", len(data), expected)
		}
	}
}

func TestVLQUintFullRange(t *testing.T) {
	// read-id words and 24-bit addresses both pass through here
	testCases := []uint32{0, 0x7E, 0xFFFFFF, 0x9F000000, 0xFFFFFFFF}

	for _, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQUint(output, expected)

		data := output.Result()
		decoded, err := DecodeVLQUint(&data)
		if err != nil {
			t.Errorf("Failed to decode VLQ for value %#x: %v", expected, err)
			continue
		}
		if decoded != expected {
			t.Errorf("VLQ mismatch: expected %#x, got %#x", expected, decoded)
		}
	}
}

func TestVLQShortForms(t *testing.T) {
	cases := []struct {
		v    int32
		size int
	}{
		{0, 1}, {95, 1}, {-32, 1}, {96, 2}, {-33, 2}, {1 << 20, 3}, {-1 << 31, 5},
	}
	for _, c := range cases {
		output := NewScratchOutput()
		EncodeVLQInt(output, c.v)
		if n := len(output.Result()); n != c.size {
			t.Errorf("Expected %d encoded bytes for %d, got %d", c.size, c.v, n)
		}
	}
}

func TestVLQBytes(t *testing.T) {
	testCases := [][]byte{
		{},
		{0x01},
		{0xFF, 0xFE, 0xFD},
		bytes.Repeat([]byte{0x7E}, 200),
	}

	for i, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQBytes(output, expected)

		data := output.Result()
		decoded, err := DecodeVLQBytes(&data)
		if err != nil {
			t.Errorf("Test case %d: Failed to decode bytes: %v", i, err)
			continue
		}
		if !bytes.Equal(decoded, expected) {
			t.Errorf("Test case %d: expected %x, got %x", i, expected, decoded)
		}
	}
}

func TestVLQBufferTooSmall(t *testing.T) {
	data := []byte{0x80}
	if _, err := DecodeVLQInt(&data); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("Expected ErrBufferTooSmall, got %v", err)
	}

	data = []byte{0x03, 0xAA}
	if _, err := DecodeVLQBytes(&data); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("Expected ErrBufferTooSmall for short byte string, got %v", err)
	}
}

func TestVLQTooManyGroups(t *testing.T) {
	data := []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	if _, err := DecodeVLQInt(&data); !errors.Is(err, ErrInvalidVLQ) {
		t.Errorf("Expected ErrInvalidVLQ, got %v", err)
	}
}
