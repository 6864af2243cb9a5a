package core

// Pin identifies a hardware GPIO pin number
type Pin uint32

// GPIODriver is the pin-level interface used for chip-select framing and by
// the bit-banged transport. Platform code (TinyGo machine pins, periph.io on
// Linux, the simulator, the serial bridge) provides the implementation.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a push-pull digital output
	ConfigureOutput(pin Pin) error

	// ConfigureInput configures a pin as a floating digital input
	ConfigureInput(pin Pin) error

	// SetPin drives an output pin high (true) or low (false)
	SetPin(pin Pin, value bool) error

	// GetPin samples the current level of a pin
	GetPin(pin Pin) (bool, error)
}
