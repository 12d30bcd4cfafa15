package eeprom

import (
	"github.com/piotrjaromin/gpio"
	"github.com/sirupsen/logrus"
)

// writeProtect drives the WP pin of the device. High protects the array.
type writeProtect struct {
	pin gpio.Pin
}

func newWriteProtect(num int) (*writeProtect, error) {
	pin, err := gpio.NewOutput(uint(num), true)
	if err != nil {
		return nil, err
	}
	return &writeProtect{pin: pin}, nil
}

func (w *writeProtect) disable() {
	w.pin.Low()
	logrus.Debug("write protect off")
}

func (w *writeProtect) enable() {
	w.pin.High()
	logrus.Debug("write protect on")
}

func (w *writeProtect) cleanup() {
	w.pin.Cleanup()
}
