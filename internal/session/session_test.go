package session

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devprobe-project/devprobe/internal/config"
	"github.com/devprobe-project/devprobe/internal/db"
	"github.com/devprobe-project/devprobe/internal/protocol"
)

// syncBuffer is a bytes.Buffer safe for concurrent writes and reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testConfig(peer *net.UDPConn) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Peer.Address = "127.0.0.1"
	cfg.Peer.Port = peer.LocalAddr().(*net.UDPAddr).Port
	cfg.Client.ReceiveTimeoutMs = 50
	return cfg
}

func readMessage(t *testing.T, peer *net.UDPConn) (protocol.Message, *net.UDPAddr) {
	t.Helper()
	buf := make([]byte, 1024)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	msg, err := protocol.Decode(buf[:n])
	require.NoError(t, err)
	return msg, from
}

func TestConnectThenQuit(t *testing.T) {
	peer := newPeer(t)
	out := &syncBuffer{}

	s := New(Options{
		Config: testConfig(peer),
		In:     strings.NewReader("c\nq\n"),
		Out:    out,
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	msg, _ := readMessage(t, peer)
	assert.Equal(t, protocol.TypeConnect, msg.Type)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit after quit")
	}

	assert.Contains(t, out.String(), "bye!")
}

func TestAutoPongIsJournaled(t *testing.T) {
	peer := newPeer(t)
	out := &syncBuffer{}
	journalPath := filepath.Join(t.TempDir(), "journal.db")

	cfg := testConfig(peer)
	cfg.Client.AutoPongReply = true
	cfg.Journal.Enabled = true
	cfg.Journal.Path = journalPath

	in, inW := io.Pipe()
	s := New(Options{Config: cfg, In: in, Out: out})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	// Learn the client's address from its CONNECT.
	_, err := inW.Write([]byte("c\n"))
	require.NoError(t, err)
	_, clientAddr := readMessage(t, peer)

	_, err = peer.WriteToUDP(protocol.MustEncode(protocol.TypePing), clientAddr)
	require.NoError(t, err)

	reply, _ := readMessage(t, peer)
	assert.Equal(t, protocol.TypePong, reply.Type)

	// Malformed input produces a diagnostic and no reply.
	_, err = peer.WriteToUDP([]byte{0x13, 0x37, 0x42}, clientAddr)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[ERROR] wrong message 133742")
	}, 2*time.Second, 10*time.Millisecond)

	// End of input shuts the session down.
	require.NoError(t, inW.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit on end of input")
	}

	output := out.String()
	assert.Contains(t, output, "Got message type: PING from")
	assert.Contains(t, output, "Sent autopong")
	assert.Less(t, strings.Index(output, "Got message type: PING"), strings.Index(output, "Sent autopong"))

	j, err := db.OpenJournal(journalPath)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "", entries[0].MsgType)
	assert.NotEmpty(t, entries[0].ErrorKind)
	assert.Equal(t, "133742", entries[0].RawHex)
	assert.Equal(t, "PONG", entries[1].MsgType)
	assert.Equal(t, "PING", entries[2].MsgType)
	assert.Equal(t, "CONNECT", entries[3].MsgType)
}

func TestContextCancelStopsSession(t *testing.T) {
	peer := newPeer(t)
	in, inW := io.Pipe()
	defer inW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := New(Options{Config: testConfig(peer), In: in, Out: &syncBuffer{}})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit on cancel")
	}
}

func TestRunFailsOnBadJournalPath(t *testing.T) {
	peer := newPeer(t)
	cfg := testConfig(peer)
	cfg.Journal.Enabled = true
	// A directory cannot be opened as a database file.
	cfg.Journal.Path = t.TempDir()

	s := New(Options{Config: cfg, In: strings.NewReader(""), Out: &syncBuffer{}})
	assert.Error(t, s.Run(context.Background()))
}
