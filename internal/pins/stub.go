//go:build !linux

package pins

import (
	"context"
	"errors"
)

// Hardware is not available on non-Linux platforms.
type Hardware struct {
	*Memory
}

// NewHardware returns an error on non-Linux platforms.
func NewHardware(HardwareConfig) (*Hardware, error) {
	return nil, errors.New("pins: hardware not supported on this platform (requires Linux)")
}

// SetOnWrite is not implemented on non-Linux platforms.
func (h *Hardware) SetOnWrite(func(name string, v float64)) {}

// Poll is not implemented on non-Linux platforms.
func (h *Hardware) Poll(ctx context.Context) error {
	return errors.New("pins: hardware not supported")
}

// Refresh is not implemented on non-Linux platforms.
func (h *Hardware) Refresh() {}

// Close is not implemented on non-Linux platforms.
func (h *Hardware) Close() error {
	return nil
}
