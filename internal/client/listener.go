package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/devprobe-project/devprobe/internal/config"
	"github.com/devprobe-project/devprobe/internal/events"
	"github.com/devprobe-project/devprobe/internal/network"
	"github.com/devprobe-project/devprobe/internal/protocol"
	"github.com/devprobe-project/devprobe/internal/util"
)

// State is the lifecycle state of a Listener.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Listener polls the transport in the background, decodes what arrives,
// publishes it and applies the auto-reply policy. Cancellation is observed
// between receives, so Stop takes effect within one receive timeout.
type Listener struct {
	transport Transport
	sender    *Sender
	bus       *events.EventBus
	cfg       config.ClientConfig
	logger    zerolog.Logger

	state    atomic.Int32
	stopping atomic.Bool

	startOnce sync.Once
	done      chan struct{}
	err       error
}

// NewListener creates a listener. It does not start polling.
func NewListener(transport Transport, sender *Sender, bus *events.EventBus, cfg config.ClientConfig) *Listener {
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = config.DefaultReceiveTimeout
	}
	return &Listener{
		transport: transport,
		sender:    sender,
		bus:       bus,
		cfg:       cfg,
		logger:    util.ComponentLogger("listener"),
		done:      make(chan struct{}),
	}
}

// Start runs the loop in a new goroutine. Calling it more than once has no
// effect.
func (l *Listener) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		l.state.Store(int32(StateRunning))
		go l.run(ctx)
	})
}

// Stop signals cancellation. It does not wait; use Wait for that.
func (l *Listener) Stop() {
	l.stopping.Store(true)
}

// Wait blocks until the loop has stopped and returns the fatal transport
// error that ended it, or nil if it was cancelled.
func (l *Listener) Wait() error {
	<-l.done
	return l.err
}

// Done is closed once the loop reaches StateStopped.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) cancelled(ctx context.Context) bool {
	return l.stopping.Load() || ctx.Err() != nil
}

func (l *Listener) run(ctx context.Context) {
	l.logger.Info().
		Dur("poll_interval", l.cfg.ReceiveTimeout).
		Bool("auto_pong", l.cfg.AutoPongReply).
		Msg("listener started")

	var runErr error
	for !l.cancelled(ctx) {
		dg, err := l.transport.Receive(l.cfg.ReceiveTimeout)
		if err != nil {
			if errors.Is(err, network.ErrTimeout) {
				continue
			}
			if l.cancelled(ctx) {
				// Socket closed underneath us during shutdown.
				break
			}
			runErr = err
			l.logger.Error().Err(err).Msg("listener stopped on transport error")
			break
		}
		l.handle(ctx, dg)
	}

	l.err = runErr
	l.state.Store(int32(StateStopped))

	l.bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventListenerStopped,
		Source:  "listener",
		Payload: events.StoppedPayload{Err: runErr},
	})
	l.logger.Info().Msg("listener stopped")
	close(l.done)
}

// handle runs to completion once a datagram has been read, even if ctx is
// cancelled meanwhile.
func (l *Listener) handle(ctx context.Context, dg network.Datagram) {
	ctx = context.WithoutCancel(ctx)
	from := dg.From.String()

	msg, err := protocol.Decode(dg.Data)
	if err != nil {
		kind := protocol.DecodeErrorKindOf(err)
		l.logger.Warn().
			Err(err).
			Str("from", from).
			Str("kind", string(kind)).
			Hex("raw", dg.Data).
			Msg("malformed datagram")

		l.bus.EmitSync(ctx, events.Event{
			Type:   events.EventMalformedDatagram,
			Source: "listener",
			Payload: events.MalformedPayload{
				From: from,
				Raw:  dg.Data,
				Kind: kind,
				Err:  err,
			},
		})
		return
	}

	l.logger.Debug().Str("from", from).Str("type", msg.Type.String()).Msg("message received")
	l.bus.EmitSync(ctx, events.Event{
		Type:   events.EventMessageReceived,
		Source: "listener",
		Payload: events.ReceivedPayload{
			From:    from,
			Message: msg,
			Raw:     dg.Data,
		},
	})

	if reply, ok := Decide(msg, l.cfg); ok {
		// Failures are already logged and published by the sender.
		_ = l.sender.Send(ctx, reply, true)
	}
}
