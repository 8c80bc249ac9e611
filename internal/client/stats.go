package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devprobe-project/devprobe/internal/events"
)

// Stats counts traffic seen on the bus.
type Stats struct {
	received     atomic.Uint64
	malformed    atomic.Uint64
	sent         atomic.Uint64
	autoReplies  atomic.Uint64
	sendFailures atomic.Uint64

	mu           sync.RWMutex
	byType       map[string]uint64
	lastReceived time.Time
	startedAt    time.Time
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Received     uint64            `json:"received"`
	Malformed    uint64            `json:"malformed"`
	Sent         uint64            `json:"sent"`
	AutoReplies  uint64            `json:"auto_replies"`
	SendFailures uint64            `json:"send_failures"`
	ByType       map[string]uint64 `json:"received_by_type"`
	LastReceived time.Time         `json:"last_received,omitempty"`
	Uptime       time.Duration     `json:"uptime_ns"`
}

// NewStats creates the counters and subscribes them to bus.
func NewStats(bus *events.EventBus) *Stats {
	s := &Stats{
		byType:    make(map[string]uint64),
		startedAt: time.Now(),
	}

	bus.Subscribe(events.EventMessageReceived, "stats", s.onReceived)
	bus.Subscribe(events.EventMalformedDatagram, "stats", s.onMalformed)
	bus.Subscribe(events.EventMessageSent, "stats", s.onSent)
	bus.Subscribe(events.EventSendFailed, "stats", s.onSendFailed)

	return s
}

func (s *Stats) onReceived(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.ReceivedPayload)
	if !ok {
		return nil
	}
	s.received.Add(1)

	s.mu.Lock()
	s.byType[p.Message.Type.String()]++
	s.lastReceived = e.Time
	s.mu.Unlock()
	return nil
}

func (s *Stats) onMalformed(ctx context.Context, e events.Event) error {
	s.malformed.Add(1)
	return nil
}

func (s *Stats) onSent(ctx context.Context, e events.Event) error {
	s.sent.Add(1)
	if p, ok := e.Payload.(events.SentPayload); ok && p.Auto {
		s.autoReplies.Add(1)
	}
	return nil
}

func (s *Stats) onSendFailed(ctx context.Context, e events.Event) error {
	s.sendFailures.Add(1)
	return nil
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	byType := make(map[string]uint64, len(s.byType))
	for k, v := range s.byType {
		byType[k] = v
	}
	last := s.lastReceived
	s.mu.RUnlock()

	return StatsSnapshot{
		Received:     s.received.Load(),
		Malformed:    s.malformed.Load(),
		Sent:         s.sent.Load(),
		AutoReplies:  s.autoReplies.Load(),
		SendFailures: s.sendFailures.Load(),
		ByType:       byType,
		LastReceived: last,
		Uptime:       time.Since(s.startedAt),
	}
}
