package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/opamp-chip/internal/amp"
	"github.com/sweeney/opamp-chip/internal/mqtt"
	"github.com/sweeney/opamp-chip/internal/params"
	"github.com/sweeney/opamp-chip/internal/pins"
	"github.com/sweeney/opamp-chip/internal/sched"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, PortsMemory, c.Ports)
	assert.Equal(t, amp.DefaultGain, c.Amp.Gain)
	assert.Equal(t, amp.DefaultPeriodMs, c.Amp.PeriodMs)
	assert.Equal(t, amp.DefaultVCC, c.Amp.VCC)
	assert.Equal(t, amp.DefaultVEE, c.Amp.VEE)
	assert.Equal(t, mqtt.DefaultPrefix, c.MQTT.TopicPrefix)
	assert.Empty(t, c.MQTT.Broker)
	assert.Empty(t, c.Instance)
}

func TestLoadOrDefaultGeneratesInstance(t *testing.T) {
	c, err := LoadOrDefault("")
	require.NoError(t, err)
	_, err = uuid.Parse(c.Instance)
	assert.NoError(t, err, "instance should be a uuid")
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeFile(t, "opamp.yaml", `
instance: bench-1
amp:
  gain: 10
mqtt:
  broker: tcp://localhost:1883
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bench-1", c.Instance)
	assert.Equal(t, 10.0, c.Amp.Gain)
	assert.Equal(t, amp.DefaultPeriodMs, c.Amp.PeriodMs)
	assert.Equal(t, amp.DefaultVCC, c.Amp.VCC)
	assert.Equal(t, "tcp://localhost:1883", c.MQTT.Broker)
	assert.Equal(t, mqtt.DefaultPrefix, c.MQTT.TopicPrefix)
	assert.Equal(t, "15m", c.Heartbeat)
}

func TestLoadZeroRailIsKept(t *testing.T) {
	path := writeFile(t, "opamp.yaml", `
amp:
  vcc: 0
  vee: -12
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.Amp.VCC)
	assert.Equal(t, -12.0, c.Amp.VEE)
}

func TestLoadZeroGainAndPeriod(t *testing.T) {
	path := writeFile(t, "opamp.yaml", `
amp:
  gain: 0
  period_ms: 0
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.Amp.Gain)
	assert.Equal(t, 0, c.Amp.PeriodMs)

	// The amplifier coerces the zero period to 1ms and keeps the zero gain,
	// the same as the -period 0 and -gain 0 flags.
	store := params.NewStore()
	a := amp.New(c.AmpDefaults(), amp.Deps{
		Params:    store,
		Ports:     pins.NewMemory(),
		Scheduler: sched.NewFake(),
	})
	defer a.Close()
	assert.Equal(t, 1.0, store.Read(amp.ParamPeriod))
	assert.Equal(t, 0.0, store.Read(amp.ParamGain))
}

func TestLoadNegativePeriodReachesAmplifierAsOne(t *testing.T) {
	path := writeFile(t, "opamp.yaml", "amp:\n  period_ms: -20\n")
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, -20, c.Amp.PeriodMs)

	store := params.NewStore()
	amp.New(c.AmpDefaults(), amp.Deps{Params: store, Ports: pins.NewMemory(), Scheduler: sched.NewFake()})
	assert.Equal(t, 1.0, store.Read(amp.ParamPeriod))
}

func TestLoadFullHardware(t *testing.T) {
	path := writeFile(t, "opamp.yaml", `
ports: hardware
hardware:
  bus: "1"
  adc_addr: 0x49
  channels:
    inp: 0
    inn: 1
  output_line: 17
  interval: 2ms
`)
	c, err := Load(path)
	require.NoError(t, err)

	hw := c.PinsHardware()
	assert.Equal(t, "1", hw.Bus)
	assert.Equal(t, uint16(0x49), hw.ADCAddr)
	assert.Equal(t, map[string]int{amp.PinInP: 0, amp.PinInN: 1}, hw.Channels)
	assert.Equal(t, 17, hw.OutputLine)
	assert.Equal(t, 2*time.Millisecond, hw.Interval)
	assert.Equal(t, uint16(0x60), hw.DACAddr, "dac address keeps its default")
}

func TestPinsHardwareNoOutputLine(t *testing.T) {
	c, err := LoadOrDefault("")
	require.NoError(t, err)
	hw := c.PinsHardware()
	assert.Equal(t, -1, hw.OutputLine)
	assert.Nil(t, hw.Channels, "nil channels fall back to the stock wiring")
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "amp: [1, 2"},
		{"unknown ports", "ports: serial"},
		{"mqtt without broker", "ports: mqtt"},
		{"bad heartbeat", "heartbeat: soon"},
		{"negative heartbeat", "heartbeat: -1m"},
		{"bad interval", "hardware:\n  interval: fast"},
		{"unknown input pin", "inputs:\n  gnd: 1"},
		{"output as input", "inputs:\n  out: 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "opamp.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestHeartbeatInterval(t *testing.T) {
	c := Default()
	d, err := c.HeartbeatInterval()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	c.Heartbeat = "0"
	d, err = c.HeartbeatInterval()
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestInitialInputs(t *testing.T) {
	path := writeFile(t, "opamp.yaml", `
inputs:
  IN+: 0.002
  inn: 0.001
  vcc: 12
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		amp.PinInP: 0.002,
		amp.PinInN: 0.001,
		amp.PinVCC: 12,
	}, c.InitialInputs())
}

func TestAmpDefaults(t *testing.T) {
	c := Default()
	c.Amp.Gain = 3
	c.Amp.PeriodMs = 20
	assert.Equal(t, amp.Config{Gain: 3, PeriodMs: 20, VCC: 5, VEE: 0}, c.AmpDefaults())
}

func TestLoadEnvAndApply(t *testing.T) {
	path := writeFile(t, ".env", "MQTT_USERNAME=amp\nMQTT_PASSWORD=s3cret\nOPAMP_BROKER=tcp://broker:1883\n")

	// Registered with t.Setenv so the values are restored afterwards
	t.Setenv(EnvUsername, "")
	t.Setenv(EnvPassword, "")
	t.Setenv(EnvBroker, "")
	t.Setenv(EnvInstance, "bench-2")
	os.Unsetenv(EnvUsername)
	os.Unsetenv(EnvPassword)
	os.Unsetenv(EnvBroker)

	require.NoError(t, LoadEnv(path))

	c := Default()
	c.ApplyEnv()
	assert.Equal(t, "amp", c.MQTT.Username)
	assert.Equal(t, "s3cret", c.MQTT.Password)
	assert.Equal(t, "tcp://broker:1883", c.MQTT.Broker)
	assert.Equal(t, "bench-2", c.Instance)
}

func TestLoadEnvMissingFileIsSkipped(t *testing.T) {
	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadEnvDoesNotOverride(t *testing.T) {
	path := writeFile(t, ".env", "OPAMP_INSTANCE=from-file\n")
	t.Setenv(EnvInstance, "from-env")

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "from-env", os.Getenv(EnvInstance))
}
