// Package pins provides the analog port registry with hardware abstraction.
// Memory is the in-process registry used when pins are driven over MQTT or the
// console; Hardware samples an ADS1115 ADC and drives a DAC and/or GPIO line.
// The fake implementation allows testing without either.
package pins

import (
	"strings"

	"github.com/sweeney/opamp-chip/internal/amp"
)

// Registry is the port registry contract the amplifier depends on.
type Registry interface {
	amp.Ports
}

// Info describes one registered pin.
type Info struct {
	Name      string
	Direction amp.Direction
	Connected bool
	Voltage   float64
}

// Slug returns the MQTT topic level for a pin name ("IN+" -> "inp").
// Topic levels must not contain the '+' wildcard, so pins are never addressed
// by their raw names on the broker.
func Slug(name string) string {
	switch name {
	case amp.PinInP:
		return "inp"
	case amp.PinInN:
		return "inn"
	}
	return strings.ToLower(name)
}

// FromSlug is the inverse of Slug. ok is false for unknown slugs.
func FromSlug(slug string) (string, bool) {
	switch strings.ToLower(slug) {
	case "inp", "in+":
		return amp.PinInP, true
	case "inn", "in-":
		return amp.PinInN, true
	case "out":
		return amp.PinOut, true
	case "vcc":
		return amp.PinVCC, true
	case "vee":
		return amp.PinVEE, true
	}
	return "", false
}
