// Command opamp-chip runs a sampled operational amplifier: every period it reads
// IN+, IN-, VCC and VEE, writes the clamped amplified difference to OUT, and
// publishes gain/period changes and status to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/sweeney/opamp-chip/internal/amp"
	"github.com/sweeney/opamp-chip/internal/config"
	"github.com/sweeney/opamp-chip/internal/console"
	"github.com/sweeney/opamp-chip/internal/mqtt"
	"github.com/sweeney/opamp-chip/internal/params"
	"github.com/sweeney/opamp-chip/internal/pins"
	"github.com/sweeney/opamp-chip/internal/sched"
	"github.com/sweeney/opamp-chip/internal/status"
	"github.com/sweeney/opamp-chip/internal/web"
)

// options are the command-line switches that are not part of the config file.
type options struct {
	printState  bool
	interactive bool
	verbose     bool
}

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults apply when empty)")
	envFile := flag.String("env", ".env", "KEY=value file with MQTT credentials (skipped if missing)")
	broker := flag.String("broker", "", "MQTT broker address (overrides config; empty disables MQTT)")
	prefix := flag.String("prefix", mqtt.DefaultPrefix, "MQTT topic prefix")
	ports := flag.String("ports", config.PortsMemory, "Pin source: memory, mqtt or hardware")
	httpAddr := flag.String("http", ":8080", "HTTP status address (empty to disable)")
	heartbeat := flag.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	gain := flag.Float64("gain", amp.DefaultGain, "Default gain")
	period := flag.Int("period", amp.DefaultPeriodMs, "Default update period in ms")
	samples := flag.Bool("samples", false, "Publish every diagnostic sample to MQTT")
	printState := flag.Bool("print-state", false, "Run one update, print it and exit")
	interactive := flag.Bool("console", false, "Start the interactive console (terminal only)")
	verbose := flag.Bool("v", false, "Log every diagnostic sample")

	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	cfg.ApplyEnv()

	// Explicit flags win over the config file and the environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.MQTT.Broker = *broker
		case "prefix":
			cfg.MQTT.TopicPrefix = *prefix
		case "ports":
			cfg.Ports = *ports
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "heartbeat":
			cfg.Heartbeat = heartbeat.String()
		case "gain":
			cfg.Amp.Gain = *gain
		case "period":
			cfg.Amp.PeriodMs = *period
		case "samples":
			cfg.MQTT.Samples = *samples
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	opts := options{printState: *printState, interactive: *interactive, verbose: *verbose}
	if err := run(cfg, opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, opts options) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heartbeat, err := cfg.HeartbeatInterval()
	if err != nil {
		return err
	}

	store := params.NewStore()
	store.OnChange = func(name string, v float64) {
		log.Printf("params: %s = %g", name, v)
	}

	// Pins: an in-memory registry, or the same registry fed by the ADC poller.
	var (
		registry  pins.Registry
		memory    *pins.Memory
		hardware  *pins.Hardware
		pinDriver mqtt.PinDriver
	)
	switch cfg.Ports {
	case config.PortsHardware:
		hardware, err = pins.NewHardware(cfg.PinsHardware())
		if err != nil {
			return fmt.Errorf("init hardware: %w", err)
		}
		defer hardware.Close()
		registry, memory = hardware, hardware.Memory
	default:
		memory = pins.NewMemory()
		registry, pinDriver = memory, memory
	}

	// MQTT
	var publisher interface {
		mqtt.Publisher
		mqtt.ConnectionStatus
	} = offlinePublisher{}
	if cfg.MQTT.Broker != "" && !opts.printState {
		inbound := mqtt.Inbound{Params: store}
		if cfg.Ports == config.PortsMQTT {
			inbound.Pins = pinDriver
		}
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Username:   cfg.MQTT.Username,
			Password:   cfg.MQTT.Password,
			Topics:     mqtt.NewTopics(cfg.MQTT.TopicPrefix),
			Inbound:    inbound,
			BufferSize: cfg.MQTT.BufferSize,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		// The update goroutine only ever enqueues; paho runs on the queue's goroutine.
		async := mqtt.NewAsyncPublisher(rp, mqtt.DefaultQueueSize)
		defer async.Close()
		publisher = async

		publishOutput := func(_ string, v float64) {
			if err := publisher.PublishOutput(v); err != nil {
				log.Printf("mqtt: publish output: %v", err)
			}
		}
		if hardware != nil {
			hardware.SetOnWrite(publishOutput)
		} else {
			memory.OnWrite = publishOutput
		}
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		InstanceID:      cfg.Instance,
		PortsMode:       cfg.Ports,
		DefaultGain:     cfg.Amp.Gain,
		DefaultPeriodMs: amp.EffectivePeriod(float64(cfg.Amp.PeriodMs)),
		HeartbeatMs:     heartbeat.Milliseconds(),
		Broker:          cfg.MQTT.Broker,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		HTTPAddr:        cfg.HTTP.Addr,
	}, cfg.HTTP.History)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	loop := sched.NewLoop()
	defer loop.Close()

	sink := amp.MultiSink{
		tracker,
		mqtt.Sink{Publisher: publisher, Samples: cfg.MQTT.Samples},
		logSink{verbose: opts.verbose},
	}
	amplifier := amp.New(cfg.AmpDefaults(), amp.Deps{
		Params:    store,
		Ports:     registry,
		Scheduler: loop,
		Sink:      sink,
		Now:       time.Now,
	})
	defer amplifier.Close()

	for name, v := range cfg.InitialInputs() {
		if err := memory.Set(name, v); err != nil {
			return fmt.Errorf("initial input: %w", err)
		}
	}

	if opts.printState {
		if hardware != nil {
			hardware.Refresh()
		}
		amplifier.Step()
		printSample(os.Stdout, amplifier.State().Last)
		return nil
	}

	if hardware != nil {
		go func() {
			if err := hardware.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("pins: poll stopped: %v", err)
			}
		}()
	}

	// Publish startup event with full status snapshot
	tracker.SetMQTTConnected(publisher.IsConnected())
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else if cfg.MQTT.Broker != "" {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, store)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	if opts.interactive {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			c := console.New(store, pinDriver, memory, tracker, os.Stdout)
			go func() {
				if err := c.Run(ctx, cancel); err != nil {
					log.Printf("console: %v", err)
				}
			}()
		} else {
			log.Printf("console: stdin is not a terminal, console disabled")
		}
	}

	ac := amplifier.Config()
	log.Printf("started: instance=%s ports=%s gain=%g period=%dms rails=%g/%gV broker=%q heartbeat=%v",
		cfg.Instance, cfg.Ports, ac.Gain, ac.PeriodMs, ac.VCC, ac.VEE, cfg.MQTT.Broker, heartbeat)

	var hbTick <-chan time.Time
	if heartbeat > 0 {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		hbTick = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop, publisher, publisher, tracker, time.Now, hbTick, sigCh, ctx.Done())
}

// dispatcher delivers scheduler fires on the calling goroutine.
type dispatcher interface {
	C() <-chan sched.Handle
	Dispatch(h sched.Handle) bool
}

// runLoop is the daemon's only update goroutine: every amplifier update runs
// here, between heartbeats and signal handling. quit (the console) stops the
// loop like a signal does.
func runLoop(d dispatcher, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, heartbeat <-chan time.Time, sig <-chan os.Signal, quit <-chan struct{}) error {
	shutdown := func(reason string) {
		event := mqtt.SystemEvent{
			Timestamp: now(),
			Event:     "SHUTDOWN",
			Reason:    reason,
			Retained:  true,
		}
		if tracker != nil {
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			snap := tracker.Snapshot()
			event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", reason)
		}
		if err := publisher.PublishSystem(event); err != nil {
			log.Printf("failed to publish shutdown event: %v", err)
		} else {
			log.Printf("published shutdown event")
		}
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			shutdown(signalName)
			return nil

		case <-quit:
			log.Printf("console quit, shutting down")
			shutdown("CONSOLE")
			return nil

		case h := <-d.C():
			d.Dispatch(h)

		case t := <-heartbeat:
			hbEvent := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				snap := tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v ticks=%d gain_changes=%d period_changes=%d",
					snap.Uptime().Truncate(time.Second), snap.Counts.Ticks, snap.Counts.GainChanges, snap.Counts.PeriodChanges)
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			} else {
				log.Printf("heartbeat at %s", t.UTC().Format(time.RFC3339))
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

// logSink logs change notifications always and samples when verbose.
type logSink struct {
	verbose bool
}

func (l logSink) Event(e amp.Event) {
	log.Printf("event: %s (gain=%g period=%dms)", e.Type, e.Gain, e.PeriodMs)
}

func (l logSink) Sample(s amp.Sample) {
	if !l.verbose {
		return
	}
	log.Printf("sample: vinp=%g vinn=%g vcc=%g vee=%g raw=%g out=%g",
		s.VInP, s.VInN, s.VCC, s.VEE, s.Raw, s.Out)
}

func printSample(w io.Writer, s amp.Sample) {
	fmt.Fprintf(w, "IN+: %g, IN-: %g, VCC: %g, VEE: %g, OUT: %g (gain %g, period %dms)\n",
		s.VInP, s.VInN, s.VCC, s.VEE, s.Out, s.Gain, s.PeriodMs)
}

// offlinePublisher stands in when no broker is configured.
type offlinePublisher struct{}

func (offlinePublisher) Publish(amp.Event) error { return nil }
func (offlinePublisher) PublishSample(amp.Sample) error { return nil }
func (offlinePublisher) PublishOutput(float64) error { return nil }
func (offlinePublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (offlinePublisher) Close() error { return nil }
func (offlinePublisher) IsConnected() bool { return false }

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
