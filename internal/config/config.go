// Package config loads daemon configuration from YAML with defaults and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/opamp-chip/internal/amp"
	"github.com/sweeney/opamp-chip/internal/mqtt"
	"github.com/sweeney/opamp-chip/internal/pins"
	"github.com/sweeney/opamp-chip/internal/status"
)

// Ports modes.
const (
	PortsMemory   = "memory"   // inputs driven from the console, web or config
	PortsMQTT     = "mqtt"     // inputs driven over MQTT, OUT published
	PortsHardware = "hardware" // ADS1115/MCP4725 over I2C
)

// Environment variables read by ApplyEnv.
const (
	EnvUsername = "MQTT_USERNAME"
	EnvPassword = "MQTT_PASSWORD"
	EnvBroker   = "OPAMP_BROKER"
	EnvInstance = "OPAMP_INSTANCE"
)

// Config is the root configuration structure.
type Config struct {
	Instance  string             `yaml:"instance"`
	Ports     string             `yaml:"ports"`
	Heartbeat string             `yaml:"heartbeat"` // duration, "0" disables
	Amp       AmpConfig          `yaml:"amp"`
	MQTT      MQTTConfig         `yaml:"mqtt"`
	HTTP      HTTPConfig         `yaml:"http"`
	Hardware  HardwareConfig     `yaml:"hardware"`
	Inputs    map[string]float64 `yaml:"inputs"` // initial input voltages, keyed by pin name
}

// AmpConfig holds the amplifier defaults.
type AmpConfig struct {
	Gain     float64 `yaml:"gain"`
	PeriodMs int     `yaml:"period_ms"`
	VCC      float64 `yaml:"vcc"`
	VEE      float64 `yaml:"vee"`
}

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty disables MQTT
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Samples     bool   `yaml:"samples"`
	BufferSize  int    `yaml:"buffer_size"`
}

// HTTPConfig holds the status server settings.
type HTTPConfig struct {
	Addr    string `yaml:"addr"` // empty disables HTTP
	History int    `yaml:"history"`
}

// HardwareConfig mirrors pins.HardwareConfig in YAML form.
type HardwareConfig struct {
	Bus        string         `yaml:"bus"`
	ADCAddr    uint16         `yaml:"adc_addr"`
	FullScale  float64        `yaml:"full_scale"`
	Channels   map[string]int `yaml:"channels"`
	DACAddr    uint16         `yaml:"dac_addr"`
	DACVRef    float64        `yaml:"dac_vref"`
	GPIOChip   string         `yaml:"gpio_chip"`
	OutputLine *int           `yaml:"output_line"` // nil = no comparator line
	Threshold  float64        `yaml:"threshold"`
	Interval   string         `yaml:"interval"`
}

// Default returns the default configuration. Instance is left empty so
// applyDefaults can generate one.
func Default() *Config {
	ac := amp.DefaultConfig()
	hw := pins.DefaultHardwareConfig()
	return &Config{
		Ports:     PortsMemory,
		Heartbeat: "15m",
		Amp: AmpConfig{
			Gain:     ac.Gain,
			PeriodMs: ac.PeriodMs,
			VCC:      ac.VCC,
			VEE:      ac.VEE,
		},
		MQTT: MQTTConfig{
			TopicPrefix: mqtt.DefaultPrefix,
			BufferSize:  mqtt.DefaultBufferSize,
		},
		HTTP: HTTPConfig{
			Addr:    ":8080",
			History: status.DefaultHistory,
		},
		Hardware: HardwareConfig{
			ADCAddr:   hw.ADCAddr,
			FullScale: hw.FullScale,
			DACAddr:   hw.DACAddr,
			DACVRef:   hw.DACVRef,
			GPIOChip:  hw.GPIOChip,
			Threshold: hw.Threshold,
			Interval:  hw.Interval.String(),
		},
	}
}

// Load reads the config from YAML. Fields left out keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadOrDefault loads path, or returns the defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		c := Default()
		applyDefaults(c)
		return c, nil
	}
	return Load(path)
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Instance == "" {
		c.Instance = uuid.NewString()
	}
	if c.Ports == "" {
		c.Ports = d.Ports
	}
	if c.Heartbeat == "" {
		c.Heartbeat = d.Heartbeat
	}
	// Amp fields are never defaulted here: Load starts from Default(), so a zero
	// gain, a zero period or a 0 V rail was written on purpose. amp.New raises
	// periods below 1ms to 1ms.
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}
	if c.MQTT.BufferSize == 0 {
		c.MQTT.BufferSize = d.MQTT.BufferSize
	}
	if c.HTTP.History == 0 {
		c.HTTP.History = d.HTTP.History
	}
	if c.Hardware.ADCAddr == 0 {
		c.Hardware.ADCAddr = d.Hardware.ADCAddr
	}
	if c.Hardware.FullScale == 0 {
		c.Hardware.FullScale = d.Hardware.FullScale
	}
	if c.Hardware.DACVRef == 0 {
		c.Hardware.DACVRef = d.Hardware.DACVRef
	}
	if c.Hardware.GPIOChip == "" {
		c.Hardware.GPIOChip = d.Hardware.GPIOChip
	}
	if c.Hardware.Threshold == 0 {
		c.Hardware.Threshold = d.Hardware.Threshold
	}
	if c.Hardware.Interval == "" {
		c.Hardware.Interval = d.Hardware.Interval
	}
}

// Validate checks fields that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Ports {
	case PortsMemory, PortsMQTT, PortsHardware:
	default:
		return fmt.Errorf("ports: unknown mode %q (want memory, mqtt or hardware)", c.Ports)
	}
	if c.Ports == PortsMQTT && c.MQTT.Broker == "" {
		return errors.New("ports: mqtt mode needs mqtt.broker")
	}
	if _, err := c.HeartbeatInterval(); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.Hardware.Interval); err != nil {
		return fmt.Errorf("hardware.interval: %w", err)
	}
	for name := range c.Inputs {
		if pin, ok := pins.FromSlug(name); !ok || pin == amp.PinOut {
			return fmt.Errorf("inputs: unknown input pin %q", name)
		}
	}
	return nil
}

// HeartbeatInterval parses Heartbeat. Zero disables heartbeats.
func (c *Config) HeartbeatInterval() (time.Duration, error) {
	if c.Heartbeat == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Heartbeat)
	if err != nil {
		return 0, fmt.Errorf("heartbeat: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("heartbeat: negative interval %v", d)
	}
	return d, nil
}

// AmpDefaults converts to the amplifier's configuration.
func (c *Config) AmpDefaults() amp.Config {
	return amp.Config{
		Gain:     c.Amp.Gain,
		PeriodMs: c.Amp.PeriodMs,
		VCC:      c.Amp.VCC,
		VEE:      c.Amp.VEE,
	}
}

// PinsHardware converts to the hardware registry configuration.
func (c *Config) PinsHardware() pins.HardwareConfig {
	hw := pins.HardwareConfig{
		Bus:        c.Hardware.Bus,
		ADCAddr:    c.Hardware.ADCAddr,
		FullScale:  c.Hardware.FullScale,
		DACAddr:    c.Hardware.DACAddr,
		DACVRef:    c.Hardware.DACVRef,
		GPIOChip:   c.Hardware.GPIOChip,
		OutputLine: -1,
		Threshold:  c.Hardware.Threshold,
	}
	if c.Hardware.OutputLine != nil {
		hw.OutputLine = *c.Hardware.OutputLine
	}
	if len(c.Hardware.Channels) > 0 {
		hw.Channels = make(map[string]int, len(c.Hardware.Channels))
		for slug, ch := range c.Hardware.Channels {
			if name, ok := pins.FromSlug(slug); ok {
				hw.Channels[name] = ch
			}
		}
	}
	hw.Interval, _ = time.ParseDuration(c.Hardware.Interval)
	return hw
}

// InitialInputs returns Inputs keyed by canonical pin name.
func (c *Config) InitialInputs() map[string]float64 {
	out := make(map[string]float64, len(c.Inputs))
	for slug, v := range c.Inputs {
		if name, ok := pins.FromSlug(slug); ok {
			out[name] = v
		}
	}
	return out
}

// LoadEnv loads KEY=value files into the process environment. Missing files are
// skipped; with no arguments ".env" in the working directory is tried.
// Variables already set are not overridden.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides credentials, broker and instance from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvUsername)); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.MQTT.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBroker)); v != "" {
		c.MQTT.Broker = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvInstance)); v != "" {
		c.Instance = v
	}
}
