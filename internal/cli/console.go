package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/devprobe-project/devprobe/internal/events"
)

// Console is the operator-facing output. Writes are serialized so lines
// from the listener and the dispatcher never interleave.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole wraps out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Write implements io.Writer.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// Printf writes a formatted line.
func (c *Console) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c, format, args...)
}

// Attach subscribes the console to inbound, outbound and listener events.
func (c *Console) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventMessageReceived, "console", c.onReceived)
	bus.Subscribe(events.EventMalformedDatagram, "console", c.onMalformed)
	bus.Subscribe(events.EventMessageSent, "console", c.onSent)
	bus.Subscribe(events.EventSendFailed, "console", c.onSendFailed)
	bus.Subscribe(events.EventListenerStopped, "console", c.onStopped)
}

func (c *Console) onReceived(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.ReceivedPayload)
	if !ok {
		return nil
	}
	c.Printf("Got message %s from %s\n", p.Message, p.From)
	return nil
}

func (c *Console) onMalformed(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.MalformedPayload)
	if !ok {
		return nil
	}
	c.Printf("[ERROR] wrong message %x from %s: %s\n", p.Raw, p.From, p.Reason())
	return nil
}

func (c *Console) onSent(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.SentPayload)
	if !ok || !p.Auto {
		return nil
	}
	c.Printf("Sent auto%s to %s\n", strings.ToLower(p.Type.String()), p.To)
	return nil
}

func (c *Console) onSendFailed(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.SentPayload)
	if !ok {
		return nil
	}
	c.Printf("[ERROR] failed to send %s to %s: %v\n", p.Type, p.To, p.Err)
	return nil
}

func (c *Console) onStopped(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.StoppedPayload)
	if !ok || p.Err == nil {
		return nil
	}
	c.Printf("[ERROR] listener stopped: %v\n", p.Err)
	return nil
}
