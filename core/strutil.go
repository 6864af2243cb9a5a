package core

// itoa converts an integer to a string without using fmt package.
// The firmware build avoids fmt on the hot paths.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	negative := n < 0
	if negative {
		n = -n
	}

	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if negative {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

const hexDigits = "0123456789abcdef"

// hex8 formats a byte as two lowercase hex digits
func hex8(v byte) string {
	return string([]byte{hexDigits[v>>4], hexDigits[v&0x0F]})
}

// hex64 formats v as lowercase hex with exactly digits characters
func hex64(v uint64, digits int) string {
	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = hexDigits[v&0x0F]
		v >>= 4
	}
	return string(buf)
}
