package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devprobe-project/devprobe/internal/client"
	"github.com/devprobe-project/devprobe/internal/db"
	"github.com/devprobe-project/devprobe/internal/events"
	"github.com/devprobe-project/devprobe/internal/protocol"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.MessageType
	err  error
}

func (f *fakeSender) Send(ctx context.Context, t protocol.MessageType, auto bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, t)
	return f.err
}

func (f *fakeSender) Sent() []protocol.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.MessageType(nil), f.sent...)
}

type fakeStats struct{ snap client.StatsSnapshot }

func (f fakeStats) Snapshot() client.StatsSnapshot { return f.snap }

type fakeHistory struct {
	entries []db.Entry
	limit   int
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]db.Entry, error) {
	f.limit = limit
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func runDispatcher(t *testing.T, input string, sender Sender, opts ...Option) string {
	t.Helper()
	var out bytes.Buffer
	d := NewDispatcher(strings.NewReader(input), NewConsole(&out), sender, opts...)
	require.NoError(t, d.Run(context.Background()))
	return out.String()
}

func TestConnectSendsExactlyOneMessage(t *testing.T) {
	sender := &fakeSender{}
	out := runDispatcher(t, "c\nq\n", sender)

	assert.Equal(t, []protocol.MessageType{protocol.TypeConnect}, sender.Sent())
	assert.Contains(t, out, intro)
	assert.True(t, strings.HasSuffix(out, "bye!\n"))
}

func TestSendCommandsAndAliases(t *testing.T) {
	sender := &fakeSender{}
	runDispatcher(t, "c\nd\np\ng\nconnect\nDISCONNECT\npong\nget-dev-info\nquit\n", sender)

	assert.Equal(t, []protocol.MessageType{
		protocol.TypeConnect, protocol.TypeDisconnect, protocol.TypePong, protocol.TypeGetDevInfo,
		protocol.TypeConnect, protocol.TypeDisconnect, protocol.TypePong, protocol.TypeGetDevInfo,
	}, sender.Sent())
}

func TestUnknownCommandKeepsSession(t *testing.T) {
	sender := &fakeSender{}
	out := runDispatcher(t, "frobnicate\n\nc\nq\n", sender)

	assert.Contains(t, out, "*** Unknown syntax: frobnicate")
	assert.Equal(t, []protocol.MessageType{protocol.TypeConnect}, sender.Sent())
}

func TestExecuteUnknownCommand(t *testing.T) {
	d := NewDispatcher(strings.NewReader(""), NewConsole(&bytes.Buffer{}), &fakeSender{})
	quit, err := d.Execute(context.Background(), "x")
	assert.False(t, quit)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	quit, err = d.Execute(context.Background(), "q")
	assert.True(t, quit)
	assert.NoError(t, err)
}

func TestEOFActsLikeQuit(t *testing.T) {
	sender := &fakeSender{}
	out := runDispatcher(t, "c", sender)

	assert.Equal(t, []protocol.MessageType{protocol.TypeConnect}, sender.Sent())
	assert.True(t, strings.HasSuffix(out, "bye!\n"))
}

func TestSendFailureDoesNotStopSession(t *testing.T) {
	sender := &fakeSender{err: errors.New("network unreachable")}
	runDispatcher(t, "c\nc\nq\n", sender)
	assert.Len(t, sender.Sent(), 2)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	// Input that never ends.
	r, w := io.Pipe()
	defer w.Close()

	var out bytes.Buffer
	d := NewDispatcher(r, NewConsole(&out), &fakeSender{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}

func TestHelpListsCommands(t *testing.T) {
	out := runDispatcher(t, "?\nq\n", &fakeSender{})
	for _, name := range []string{"q, quit, exit", "c, connect", "g, get-dev-info", "history [n]"} {
		assert.Contains(t, out, name)
	}
}

func TestStatsTable(t *testing.T) {
	stats := fakeStats{snap: client.StatsSnapshot{
		Received: 3,
		ByType:   map[string]uint64{"PING": 3},
		Uptime:   time.Minute,
	}}
	out := runDispatcher(t, "stats\nq\n", &fakeSender{}, WithStats(stats))

	assert.Contains(t, out, "received PING")
	assert.Contains(t, out, "1m0s")
}

func TestHistory(t *testing.T) {
	h := &fakeHistory{entries: []db.Entry{
		{Time: time.Now(), Direction: db.DirectionInbound, Peer: "127.0.0.1:10123", MsgType: "PING", RawHex: "0803"},
		{Time: time.Now(), Direction: db.DirectionInbound, Peer: "127.0.0.1:10123", RawHex: "08", ErrorKind: "truncated"},
	}}
	out := runDispatcher(t, "history 5\nhistory x\nq\n", &fakeSender{}, WithHistory(h))

	assert.Equal(t, 5, h.limit)
	assert.Contains(t, out, "0803")
	assert.Contains(t, out, "truncated")
	assert.Contains(t, out, "*** invalid count: x")
}

func TestHistoryWithoutJournal(t *testing.T) {
	out := runDispatcher(t, "history\nq\n", &fakeSender{})
	assert.Contains(t, out, "*** journal is disabled")
}

func TestLookupSendCommand(t *testing.T) {
	mt, ok := LookupSendCommand("Get-Dev-Info")
	assert.True(t, ok)
	assert.Equal(t, protocol.TypeGetDevInfo, mt)

	_, ok = LookupSendCommand("q")
	assert.False(t, ok)
}

func TestConsoleLines(t *testing.T) {
	var out bytes.Buffer
	console := NewConsole(&out)
	bus := events.NewEventBus()
	console.Attach(bus)
	ctx := context.Background()

	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type: events.EventMessageReceived,
		Payload: events.ReceivedPayload{
			From:    "127.0.0.1:10123",
			Message: protocol.Message{Type: protocol.TypePing},
		},
	}))

	_, decodeErr := protocol.Decode([]byte{0x01, 0x02, 0x03})
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type: events.EventMalformedDatagram,
		Payload: events.MalformedPayload{
			From: "127.0.0.1:10123",
			Raw:  []byte{0x01, 0x02, 0x03},
			Err:  decodeErr,
		},
	}))

	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventMessageSent,
		Payload: events.SentPayload{To: "127.0.0.1:10123", Type: protocol.TypePong, Auto: true},
	}))

	// Operator sends are not echoed.
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventMessageSent,
		Payload: events.SentPayload{To: "127.0.0.1:10123", Type: protocol.TypeConnect},
	}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Got message type: PING from 127.0.0.1:10123", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "[ERROR] wrong message 010203 from 127.0.0.1:10123: "))
	assert.Equal(t, "Sent autopong to 127.0.0.1:10123", lines[2])
}
