package status

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIODriver drives three physical output lines (green, red, yellow) through
// periph.io's generic GPIO registry, matching the board pin layout of the
// original gateway firmware.
type GPIODriver struct {
	green, red, yellow gpio.PinIO
}

// NewGPIODriver initializes the host GPIO subsystem and binds the three
// named pins. Callers on a headless host should catch the error and fall
// back to NoopDriver rather than treat it as fatal.
func NewGPIODriver(greenPin, redPin, yellowPin string) (*GPIODriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("status: init gpio host: %w", err)
	}

	green := gpioreg.ByName(greenPin)
	red := gpioreg.ByName(redPin)
	yellow := gpioreg.ByName(yellowPin)
	if green == nil || red == nil || yellow == nil {
		return nil, fmt.Errorf("status: one or more status pins not found (%s, %s, %s)", greenPin, redPin, yellowPin)
	}

	return &GPIODriver{green: green, red: red, yellow: yellow}, nil
}

// Set implements Driver.
func (d *GPIODriver) Set(green, red, yellow bool) {
	_ = d.green.Out(gpio.Level(green))
	_ = d.red.Out(gpio.Level(red))
	_ = d.yellow.Out(gpio.Level(yellow))
}
