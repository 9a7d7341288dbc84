//go:build linux

package pins

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/sweeney/opamp-chip/internal/amp"
)

// ADS1115 registers and config bits.
const (
	adsRegConversion = 0x00
	adsRegConfig     = 0x01

	adsStartSingle = 0x8000
	adsMuxSingle0  = 0x4000 // AINx vs GND; channel is added in bits 13:12
	adsModeSingle  = 0x0100
	adsRate860     = 0x00E0
	adsCompDisable = 0x0003

	adsConversionWait = 2 * time.Millisecond
)

// adsPGA maps full-scale range (volts) to PGA config bits.
var adsPGA = map[float64]uint16{
	6.144: 0x0000,
	4.096: 0x0200,
	2.048: 0x0400,
	1.024: 0x0600,
	0.512: 0x0800,
	0.256: 0x0A00,
}

// Hardware samples inputs from an ADS1115 and drives OUT through an MCP4725 DAC
// and/or a GPIO comparator line. Conversions happen in Poll; Read only returns the
// cached values, so the update step never waits on the bus.
type Hardware struct {
	*Memory

	cfg  HardwareConfig
	bus  i2c.BusCloser
	adc  *i2c.Dev
	dac  *i2c.Dev
	chip *gpiocdev.Chip
	line *gpiocdev.Line

	mu      sync.Mutex
	pending float64
	dirty   bool
	lastErr string
}

// NewHardware opens the I2C bus and GPIO line described by cfg.
func NewHardware(cfg HardwareConfig) (*Hardware, error) {
	cfg = cfg.withDefaults()
	if _, ok := adsPGA[cfg.FullScale]; !ok {
		return nil, fmt.Errorf("unsupported ADS1115 full scale %vV", cfg.FullScale)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.Bus, err)
	}

	h := &Hardware{
		Memory: NewMemory(),
		cfg:    cfg,
		bus:    bus,
		adc:    &i2c.Dev{Addr: cfg.ADCAddr, Bus: bus},
	}
	if cfg.DACAddr != 0 {
		h.dac = &i2c.Dev{Addr: cfg.DACAddr, Bus: bus}
	}

	if cfg.OutputLine >= 0 {
		chip, err := gpiocdev.NewChip(cfg.GPIOChip)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("open gpio chip: %w", err)
		}
		line, err := chip.RequestLine(cfg.OutputLine, gpiocdev.AsOutput(0))
		if err != nil {
			chip.Close()
			bus.Close()
			return nil, fmt.Errorf("request output line %d: %w", cfg.OutputLine, err)
		}
		h.chip = chip
		h.line = line
	}

	h.Memory.OnWrite = h.queueOutput
	return h, nil
}

// SetOnWrite chains an extra output hook after the hardware one.
func (h *Hardware) SetOnWrite(fn func(name string, v float64)) {
	h.Memory.OnWrite = func(name string, v float64) {
		h.queueOutput(name, v)
		if fn != nil {
			fn(name, v)
		}
	}
}

func (h *Hardware) queueOutput(_ string, v float64) {
	h.mu.Lock()
	h.pending = v
	h.dirty = true
	h.mu.Unlock()
}

// Poll converts every mapped channel and flushes the latest output until ctx is done.
func (h *Hardware) Poll(ctx context.Context) error {
	t := time.NewTicker(h.cfg.Interval)
	defer t.Stop()

	for {
		h.pollOnce()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Refresh runs a single poll: converts every mapped channel and flushes a
// pending output.
func (h *Hardware) Refresh() {
	h.pollOnce()
}

func (h *Hardware) pollOnce() {
	var errs []error

	for pin, ch := range h.cfg.Channels {
		if ch < 0 || ch > 3 {
			continue
		}
		v, err := h.convert(ch)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s (AIN%d): %w", pin, ch, err))
			continue
		}
		if err := h.Memory.Set(pin, v); err != nil {
			errs = append(errs, err)
		}
	}

	h.mu.Lock()
	out, dirty := h.pending, h.dirty
	h.dirty = false
	h.mu.Unlock()

	if dirty {
		if err := h.drive(out); err != nil {
			errs = append(errs, err)
		}
	}

	h.report(errors.Join(errs...))
}

// report logs an error only when it differs from the previous poll's.
func (h *Hardware) report(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == h.lastErr {
		return
	}
	if err != nil {
		log.Printf("pins: %v", err)
	} else {
		log.Printf("pins: hardware recovered")
	}
	h.lastErr = msg
}

// convert runs one single-shot conversion on an ADS1115 channel.
func (h *Hardware) convert(ch int) (float64, error) {
	cfg := uint16(adsStartSingle|adsMuxSingle0|adsModeSingle|adsRate860|adsCompDisable) |
		uint16(ch)<<12 | adsPGA[h.cfg.FullScale]

	if err := h.adc.Tx([]byte{adsRegConfig, byte(cfg >> 8), byte(cfg)}, nil); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}
	time.Sleep(adsConversionWait)

	buf := make([]byte, 2)
	if err := h.adc.Tx([]byte{adsRegConversion}, buf); err != nil {
		return 0, fmt.Errorf("read conversion: %w", err)
	}
	raw := int16(uint16(buf[0])<<8 | uint16(buf[1]))
	return float64(raw) * h.cfg.FullScale / 32768, nil
}

// drive pushes the output to the DAC and the comparator line.
func (h *Hardware) drive(v float64) error {
	var errs []error
	if h.dac != nil {
		code := DACCode(v, h.cfg.DACVRef)
		if err := h.dac.Tx([]byte{byte(code>>8) & 0x0F, byte(code)}, nil); err != nil {
			errs = append(errs, fmt.Errorf("write dac: %w", err))
		}
	}
	if h.line != nil {
		level := 0
		if v >= h.cfg.Threshold {
			level = 1
		}
		if err := h.line.SetValue(level); err != nil {
			errs = append(errs, fmt.Errorf("set output line: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close drives the output low and releases the line and bus.
func (h *Hardware) Close() error {
	var errs []error

	if h.line != nil {
		if err := h.line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure output line: %w", err))
		}
		if err := h.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output line: %w", err))
		}
	}
	if h.chip != nil {
		if err := h.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if h.bus != nil {
		if err := h.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close i2c bus: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

var _ amp.Ports = (*Hardware)(nil)
