package pins

import (
	"math"
	"time"

	"github.com/sweeney/opamp-chip/internal/amp"
)

// HardwareConfig describes the ADC/DAC/GPIO wiring of a hardware registry.
type HardwareConfig struct {
	Bus       string         // I2C bus name; empty = first bus
	ADCAddr   uint16         // ADS1115 address
	FullScale float64        // ADS1115 full-scale range in volts
	Channels  map[string]int // pin name -> ADS1115 channel; negative or absent = unconnected
	DACAddr   uint16         // MCP4725 address; 0 = no DAC
	DACVRef   float64        // DAC reference voltage
	GPIOChip  string
	// OutputLine is the GPIO offset driven high when OUT >= Threshold; negative = none.
	OutputLine int
	Threshold  float64
	Interval   time.Duration // ADC sampling interval
}

// DefaultHardwareConfig returns the stock wiring: ADS1115 at 0x48 with IN+ on AIN0,
// IN- on AIN1, VCC on AIN2 and VEE on AIN3, MCP4725 at 0x60, no GPIO line.
func DefaultHardwareConfig() HardwareConfig {
	return HardwareConfig{
		ADCAddr:   0x48,
		FullScale: 6.144,
		Channels: map[string]int{
			amp.PinInP: 0,
			amp.PinInN: 1,
			amp.PinVCC: 2,
			amp.PinVEE: 3,
		},
		DACAddr:    0x60,
		DACVRef:    5.0,
		GPIOChip:   "gpiochip0",
		OutputLine: -1,
		Threshold:  2.5,
		Interval:   5 * time.Millisecond,
	}
}

func (c HardwareConfig) withDefaults() HardwareConfig {
	d := DefaultHardwareConfig()
	if c.ADCAddr == 0 {
		c.ADCAddr = d.ADCAddr
	}
	if c.FullScale == 0 {
		c.FullScale = d.FullScale
	}
	if c.Channels == nil {
		c.Channels = d.Channels
	}
	if c.DACVRef == 0 {
		c.DACVRef = d.DACVRef
	}
	if c.GPIOChip == "" {
		c.GPIOChip = d.GPIOChip
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	return c
}

// DACCode converts a voltage to a 12-bit MCP4725 code, clamped to [0, 4095].
func DACCode(v, vref float64) uint16 {
	if vref <= 0 || math.IsNaN(v) || v <= 0 {
		return 0
	}
	code := math.Round(v / vref * 4095)
	if code >= 4095 {
		return 4095
	}
	return uint16(code)
}
