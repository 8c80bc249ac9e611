// Package cli implements the interactive command loop of devprobe. Each
// command maps to one outbound message; inbound traffic is printed by the
// Console as it arrives.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/devprobe-project/devprobe/internal/client"
	"github.com/devprobe-project/devprobe/internal/db"
	"github.com/devprobe-project/devprobe/internal/protocol"
	"github.com/devprobe-project/devprobe/internal/util"
)

const (
	intro    = "Type help or ? to list commands."
	prompt   = "> "
	farewell = "bye!"
)

// ErrUnknownCommand is returned for input that matches no command.
var ErrUnknownCommand = errors.New("unknown command")

// Sender transmits one message to the peer.
type Sender interface {
	Send(ctx context.Context, t protocol.MessageType, auto bool) error
}

// StatsSource provides traffic counters.
type StatsSource interface {
	Snapshot() client.StatsSnapshot
}

// HistorySource provides recently journaled datagrams.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]db.Entry, error)
}

// sendCommands maps every send command token to its message type.
var sendCommands = map[string]protocol.MessageType{
	"c":            protocol.TypeConnect,
	"connect":      protocol.TypeConnect,
	"d":            protocol.TypeDisconnect,
	"disconnect":   protocol.TypeDisconnect,
	"p":            protocol.TypePong,
	"pong":         protocol.TypePong,
	"g":            protocol.TypeGetDevInfo,
	"get-dev-info": protocol.TypeGetDevInfo,
}

// LookupSendCommand returns the message type a send command emits.
func LookupSendCommand(name string) (protocol.MessageType, bool) {
	t, ok := sendCommands[strings.ToLower(name)]
	return t, ok
}

type command struct {
	names []string
	usage string
	help  string
	// run returns true when the dispatcher should stop.
	run func(ctx context.Context, args []string) (bool, error)
}

// Dispatcher reads operator commands and executes them.
type Dispatcher struct {
	in      io.Reader
	console *Console
	sender  Sender
	stats   StatsSource
	history HistorySource
	logger  zerolog.Logger

	commands []*command
	index    map[string]*command
}

// Option configures optional Dispatcher collaborators.
type Option func(*Dispatcher)

// WithStats enables the stats command.
func WithStats(s StatsSource) Option {
	return func(d *Dispatcher) { d.stats = s }
}

// WithHistory enables the history command.
func WithHistory(h HistorySource) Option {
	return func(d *Dispatcher) { d.history = h }
}

// NewDispatcher creates a dispatcher reading from in and writing to console.
func NewDispatcher(in io.Reader, console *Console, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		in:      in,
		console: console,
		sender:  sender,
		logger:  util.ComponentLogger("cli"),
		index:   make(map[string]*command),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.register(&command{names: []string{"q", "quit", "exit"}, help: "Exit", run: d.cmdQuit})
	d.register(d.sendCommand([]string{"c", "connect"}, "Send connect", protocol.TypeConnect))
	d.register(d.sendCommand([]string{"d", "disconnect"}, "Send disconnect", protocol.TypeDisconnect))
	d.register(d.sendCommand([]string{"p", "pong"}, "Send pong", protocol.TypePong))
	d.register(d.sendCommand([]string{"g", "get-dev-info"}, "Send get dev info", protocol.TypeGetDevInfo))
	d.register(&command{names: []string{"stats"}, help: "Show traffic counters", run: d.cmdStats})
	d.register(&command{names: []string{"history"}, usage: "[n]", help: "Show the last n journaled datagrams", run: d.cmdHistory})
	d.register(&command{names: []string{"help", "?"}, help: "List commands", run: d.cmdHelp})

	return d
}

func (d *Dispatcher) register(cmd *command) {
	d.commands = append(d.commands, cmd)
	for _, name := range cmd.names {
		d.index[name] = cmd
	}
}

func (d *Dispatcher) sendCommand(names []string, help string, t protocol.MessageType) *command {
	return &command{
		names: names,
		help:  help,
		run: func(ctx context.Context, args []string) (bool, error) {
			// Failures reach the operator through the console subscriber.
			_ = d.sender.Send(ctx, t, false)
			return false, nil
		},
	}
}

// Run reads commands until quit, end of input or ctx cancellation. It
// prints the farewell on quit and on end of input.
func (d *Dispatcher) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		scanner := bufio.NewScanner(d.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	d.console.Printf("%s\n", intro)
	for {
		d.console.Printf("%s", prompt)

		select {
		case <-ctx.Done():
			d.console.Printf("\n")
			return nil
		case err := <-readErr:
			d.console.Printf("\n%s\n", farewell)
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return nil
		case line := <-lines:
			quit, err := d.Execute(ctx, line)
			if err != nil {
				d.report(line, err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Execute runs one input line. It returns true when the line asked the
// dispatcher to stop.
func (d *Dispatcher) Execute(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}

	name := strings.ToLower(parts[0])
	cmd, ok := d.index[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownCommand, parts[0])
	}

	d.logger.Debug().Str("command", name).Msg("executing command")
	return cmd.run(ctx, parts[1:])
}

func (d *Dispatcher) report(line string, err error) {
	if errors.Is(err, ErrUnknownCommand) {
		d.console.Printf("*** Unknown syntax: %s\n", strings.TrimSpace(line))
		return
	}
	d.console.Printf("*** %v\n", err)
}

func (d *Dispatcher) cmdQuit(ctx context.Context, args []string) (bool, error) {
	d.console.Printf("%s\n", farewell)
	return true, nil
}

func (d *Dispatcher) cmdHelp(ctx context.Context, args []string) (bool, error) {
	d.console.Printf("\nCommands:\n")
	for _, cmd := range d.commands {
		names := strings.Join(cmd.names, ", ")
		if cmd.usage != "" {
			names += " " + cmd.usage
		}
		d.console.Printf("  %-24s %s\n", names, cmd.help)
	}
	d.console.Printf("\n")
	return false, nil
}

func (d *Dispatcher) cmdStats(ctx context.Context, args []string) (bool, error) {
	if d.stats == nil {
		return false, errors.New("stats are not available")
	}
	s := d.stats.Snapshot()

	tw := tablewriter.NewWriter(d.console)
	tw.SetHeader([]string{"Counter", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	tw.Append([]string{"received", strconv.FormatUint(s.Received, 10)})
	tw.Append([]string{"malformed", strconv.FormatUint(s.Malformed, 10)})
	tw.Append([]string{"sent", strconv.FormatUint(s.Sent, 10)})
	tw.Append([]string{"auto replies", strconv.FormatUint(s.AutoReplies, 10)})
	tw.Append([]string{"send failures", strconv.FormatUint(s.SendFailures, 10)})
	for _, t := range protocol.AllMessageTypes() {
		if n := s.ByType[t.String()]; n > 0 {
			tw.Append([]string{"received " + t.String(), strconv.FormatUint(n, 10)})
		}
	}
	last := "-"
	if !s.LastReceived.IsZero() {
		last = s.LastReceived.Format(time.RFC3339)
	}
	tw.Append([]string{"last received", last})
	tw.Append([]string{"uptime", s.Uptime.Truncate(time.Second).String()})

	tw.Render()
	return false, nil
}

func (d *Dispatcher) cmdHistory(ctx context.Context, args []string) (bool, error) {
	if d.history == nil {
		return false, errors.New("journal is disabled")
	}

	limit := db.DefaultRecentLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return false, fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	entries, err := d.history.Recent(ctx, limit)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		d.console.Printf("No datagrams recorded\n")
		return false, nil
	}

	tw := tablewriter.NewWriter(d.console)
	tw.SetHeader([]string{"Time", "Dir", "Peer", "Type", "Bytes", "Error"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, e := range entries {
		errText := e.ErrorKind
		if e.Error != "" {
			errText = e.ErrorKind + ": " + e.Error
		}
		tw.Append([]string{
			e.Time.Local().Format("15:04:05.000"),
			e.Direction,
			e.Peer,
			e.MsgType,
			e.RawHex,
			errText,
		})
	}

	tw.Render()
	return false, nil
}
