// Package client holds the receive side of the diagnostic client: the
// listener loop, the auto-reply policy, the outbound sender and the
// traffic counters.
package client

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/devprobe-project/devprobe/internal/events"
	"github.com/devprobe-project/devprobe/internal/network"
	"github.com/devprobe-project/devprobe/internal/protocol"
	"github.com/devprobe-project/devprobe/internal/util"
)

// Transport is the part of network.Channel the client depends on.
type Transport interface {
	Receive(timeout time.Duration) (network.Datagram, error)
	Send(t protocol.MessageType) ([]byte, error)
	Peer() *net.UDPAddr
}

// Sender transmits type-only messages to the peer and publishes the
// outcome on the bus. Operator commands and auto replies both go through it.
type Sender struct {
	transport Transport
	bus       *events.EventBus
	logger    zerolog.Logger
}

// NewSender creates a sender over transport.
func NewSender(transport Transport, bus *events.EventBus) *Sender {
	return &Sender{
		transport: transport,
		bus:       bus,
		logger:    util.ComponentLogger("sender"),
	}
}

// Send transmits one message of type t. auto marks replies generated by the
// auto-reply policy. Only local failures are reported.
func (s *Sender) Send(ctx context.Context, t protocol.MessageType, auto bool) error {
	raw, err := s.transport.Send(t)

	payload := events.SentPayload{
		To:   s.transport.Peer().String(),
		Type: t,
		Raw:  raw,
		Auto: auto,
		Err:  err,
	}

	evType := events.EventMessageSent
	if err != nil {
		evType = events.EventSendFailed
		s.logger.Warn().Err(err).Str("type", t.String()).Bool("auto", auto).Msg("send failed")
	} else {
		s.logger.Debug().Str("type", t.String()).Bool("auto", auto).Msg("message sent")
	}

	// The datagram is already on the wire; record it even if ctx is done.
	s.bus.EmitSync(context.WithoutCancel(ctx), events.Event{
		Type:    evType,
		Source:  "sender",
		Payload: payload,
	})
	return err
}
