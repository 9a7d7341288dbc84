// Package console provides an interactive readline console for inspecting and
// driving a running amplifier.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/sweeney/opamp-chip/internal/amp"
	"github.com/sweeney/opamp-chip/internal/pins"
	"github.com/sweeney/opamp-chip/internal/status"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

// ParamStore is the parameter surface the console reads and writes.
type ParamStore interface {
	Names() []string
	Lookup(name string) (float64, bool)
	Set(name string, v float64) error
	Reset(name string) error
	Default(name string) (float64, bool)
}

// PinDriver drives input pins. Nil when the pins are wired to hardware.
type PinDriver interface {
	Set(name string, v float64) error
	Disconnect(name string) error
}

// PinLister lists the registered pins. Hardware mode still has one.
type PinLister interface {
	Pins() []pins.Info
}

// StatusSource provides status snapshots.
type StatusSource interface {
	Snapshot() status.Snapshot
}

// Console executes commands against the parameter store, pins and tracker.
type Console struct {
	params ParamStore
	pins   PinDriver
	lister PinLister
	status StatusSource
	out    io.Writer
}

// New creates a Console writing command output to out. pinDriver, lister and
// src may be nil.
func New(params ParamStore, pinDriver PinDriver, lister PinLister, src StatusSource, out io.Writer) *Console {
	return &Console{params: params, pins: pinDriver, lister: lister, status: src, out: out}
}

const help = `Commands:
  get [name]               - Show one or all parameters
  set <param> <value>      - Set a parameter (gain, period)
  reset <param>            - Restore a parameter to its default
  pin <name> <volts|nc>    - Drive an input pin (inp, inn, vcc, vee) or leave it unconnected
  pins                     - List pins
  status                   - Show the latest update
  help                     - Show this help
  quit                     - Stop the daemon`

// Exec runs one command line. It returns ErrQuit for quit/exit.
func (c *Console) Exec(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	switch parts[0] {
	case "get":
		return c.get(parts[1:])
	case "set":
		return c.set(parts[1:])
	case "reset":
		return c.reset(parts[1:])
	case "pin":
		return c.pin(parts[1:])
	case "pins":
		return c.listPins()
	case "status":
		return c.printStatus()
	case "help", "?":
		fmt.Fprintln(c.out, help)
		return nil
	case "quit", "exit":
		return ErrQuit
	}
	return fmt.Errorf("unknown command: %s (try 'help')", parts[0])
}

func (c *Console) get(args []string) error {
	if len(args) > 1 {
		return errors.New("usage: get [name]")
	}
	if len(args) == 1 {
		v, ok := c.params.Lookup(args[0])
		if !ok {
			return fmt.Errorf("unknown parameter %q", args[0])
		}
		fmt.Fprintf(c.out, "%s = %s\n", args[0], formatValue(v))
		return nil
	}
	for _, name := range c.params.Names() {
		v, _ := c.params.Lookup(name)
		fmt.Fprintf(c.out, "%s = %s\n", name, formatValue(v))
	}
	return nil
}

func (c *Console) set(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: set <param> <value>")
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("bad value %q: %w", args[1], err)
	}
	if err := c.params.Set(args[0], v); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s = %s\n", args[0], formatValue(v))
	return nil
}

func (c *Console) reset(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: reset <param>")
	}
	if err := c.params.Reset(args[0]); err != nil {
		return err
	}
	def, _ := c.params.Default(args[0])
	fmt.Fprintf(c.out, "%s = %s (default)\n", args[0], formatValue(def))
	return nil
}

func (c *Console) pin(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: pin <name> <volts|nc>")
	}
	if c.pins == nil {
		return errors.New("pins are driven by hardware")
	}
	name, ok := pins.FromSlug(args[0])
	if !ok || name == amp.PinOut {
		return fmt.Errorf("unknown input pin %q", args[0])
	}

	if strings.EqualFold(args[1], "nc") {
		if err := c.pins.Disconnect(name); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s = nc\n", name)
		return nil
	}

	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("bad voltage %q: %w", args[1], err)
	}
	if err := c.pins.Set(name, v); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s = %s V\n", name, formatValue(v))
	return nil
}

func (c *Console) listPins() error {
	if c.lister == nil {
		return errors.New("pin listing not available")
	}
	for _, p := range c.lister.Pins() {
		state := "nc"
		if p.Connected {
			state = formatValue(p.Voltage) + " V"
		}
		fmt.Fprintf(c.out, "%-4s %-14s %s\n", p.Name, p.Direction, state)
	}
	return nil
}

func (c *Console) printStatus() error {
	if c.status == nil {
		return errors.New("status not available")
	}
	snap := c.status.Snapshot()
	if !snap.Ready() {
		fmt.Fprintln(c.out, "no update yet")
		return nil
	}
	s := snap.Last
	fmt.Fprintf(c.out, "gain=%s period=%dms ticks=%d\n", formatValue(s.Gain), s.PeriodMs, snap.Counts.Ticks)
	fmt.Fprintf(c.out, "IN+=%s IN-=%s VCC=%s%s VEE=%s%s\n",
		formatValue(s.VInP), formatValue(s.VInN),
		formatValue(s.VCC), defaultMark(s.VCCConnected),
		formatValue(s.VEE), defaultMark(s.VEEConnected))
	out := fmt.Sprintf("OUT=%s (raw %s)", formatValue(s.Out), formatValue(s.Raw))
	if sat := s.Saturation(); sat != "" {
		out += " saturated " + sat
	}
	fmt.Fprintln(c.out, out)
	return nil
}

func defaultMark(connected bool) string {
	if connected {
		return ""
	}
	return "(default)"
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// logWriter keeps log output from corrupting the prompt.
type logWriter struct {
	rl  *readline.Instance
	dst io.Writer
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.rl.Clean()
	n, err := w.dst.Write(p)
	w.rl.Refresh()
	return n, err
}

func historyFile() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "opamp-chip")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return ""
	}
	return filepath.Join(dir, "console_history")
}

func completer() *readline.PrefixCompleter {
	inputs := []readline.PrefixCompleterInterface{
		readline.PcItem("inp"), readline.PcItem("inn"),
		readline.PcItem("vcc"), readline.PcItem("vee"),
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("get", readline.PcItem(amp.ParamGain), readline.PcItem(amp.ParamPeriod)),
		readline.PcItem("set", readline.PcItem(amp.ParamGain), readline.PcItem(amp.ParamPeriod)),
		readline.PcItem("reset", readline.PcItem(amp.ParamGain), readline.PcItem(amp.ParamPeriod)),
		readline.PcItem("pin", inputs...),
		readline.PcItem("pins"),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// Run reads commands until ctx is done, EOF, or quit. Ctrl+C and quit call
// cancel to stop the daemon. Log output is routed around the prompt while
// the console runs.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "opamp> ",
		HistoryFile:  historyFile(),
		AutoComplete: completer(),
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	log.SetOutput(&logWriter{rl: rl, dst: os.Stderr})
	defer log.SetOutput(os.Stderr)
	c.out = rl.Stdout()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	log.Println("console started (type 'help' for commands)")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel()
			return nil
		}
		if err != nil {
			return nil // EOF or closed
		}

		err = c.Exec(line)
		if errors.Is(err, ErrQuit) {
			cancel()
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}
