package domain

import (
	"errors"
	"strings"
)

var ErrInvalidDevice = errors.New("invalid device")

// DeviceContext identifies the terminal to the remote API. It is passed
// explicitly to the recorder and reconciler.
type DeviceContext struct {
	DeviceID   string `json:"device_id"`
	DeviceKey  string `json:"device_key"`
	DeviceName string `json:"device_name,omitempty"`
}

func (d DeviceContext) Validate() error {
	if strings.TrimSpace(d.DeviceID) == "" || strings.TrimSpace(d.DeviceKey) == "" {
		return ErrInvalidDevice
	}
	return nil
}
