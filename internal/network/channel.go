// Package network owns the UDP socket used to talk to the diagnostic peer.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devprobe-project/devprobe/internal/config"
	"github.com/devprobe-project/devprobe/internal/protocol"
)

// readBufferSize is large enough for any UDP payload.
const readBufferSize = 64 * 1024

// ErrTimeout is returned by Receive when nothing arrived within the timeout.
// It is transient; callers poll again.
var ErrTimeout = errors.New("receive timeout")

// TransportError is a non-timeout socket failure. It is fatal for the
// receive path.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Datagram is a single inbound packet.
type Datagram struct {
	Data []byte
	From *net.UDPAddr
}

// Options configures a Channel.
type Options struct {
	Peer config.PeerAddress
	// LocalAddr is the local bind address. Empty means an ephemeral port on
	// all interfaces of the peer's address family.
	LocalAddr string
}

// Channel is a connectionless UDP socket with a fixed default peer.
// Send and Receive may be called concurrently from different goroutines;
// Receive itself must only be called from one goroutine at a time.
type Channel struct {
	conn   *net.UDPConn
	peer   *net.UDPAddr
	buf    []byte
	logger zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open resolves the peer and binds the local socket.
func Open(ctx context.Context, opts Options) (*Channel, error) {
	peer, err := net.ResolveUDPAddr("udp", opts.Peer.String())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve peer %s: %w", opts.Peer, err)
	}

	network, local := "udp4", "0.0.0.0:0"
	if peer.IP != nil && peer.IP.To4() == nil {
		network, local = "udp6", "[::]:0"
	}
	if opts.LocalAddr != "" {
		local = opts.LocalAddr
	}

	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, network, local)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP socket on %s: %w", local, err)
	}

	c := &Channel{
		conn: pc.(*net.UDPConn),
		peer: peer,
		buf:  make([]byte, readBufferSize),
		logger: log.With().
			Str("component", "channel").
			Str("peer", peer.String()).
			Logger(),
	}

	c.logger.Info().Str("local", c.conn.LocalAddr().String()).Msg("UDP channel opened")
	return c, nil
}

// Peer returns the configured peer address.
func (c *Channel) Peer() *net.UDPAddr {
	return c.peer
}

// LocalAddr returns the bound local address.
func (c *Channel) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Send encodes a type-only message and sends it to the configured peer.
// It returns the bytes that were written.
func (c *Channel) Send(t protocol.MessageType) ([]byte, error) {
	return c.SendTo(t, c.peer)
}

// SendTo encodes a type-only message and sends it to target. Delivery is
// not confirmed; only local failures are reported, and they are logged
// here as well.
func (c *Channel) SendTo(t protocol.MessageType, target *net.UDPAddr) ([]byte, error) {
	data, err := protocol.Encode(t)
	if err != nil {
		return nil, err
	}

	if _, err := c.conn.WriteToUDP(data, target); err != nil {
		c.logger.Warn().
			Err(err).
			Str("type", t.String()).
			Str("target", target.String()).
			Msg("failed to send datagram")
		return data, &TransportError{Op: "write", Err: err}
	}

	c.logger.Debug().
		Str("type", t.String()).
		Str("target", target.String()).
		Int("bytes", len(data)).
		Msg("datagram sent")
	return data, nil
}

// Receive waits up to timeout for one datagram. It returns ErrTimeout when
// the wait expires and a *TransportError for any other failure, including
// a closed socket.
func (c *Channel) Receive(timeout time.Duration) (Datagram, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Datagram{}, &TransportError{Op: "set deadline", Err: err}
	}

	n, from, err := c.conn.ReadFromUDP(c.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return Datagram{}, ErrTimeout
		}
		return Datagram{}, &TransportError{Op: "read", Err: err}
	}

	data := make([]byte, n)
	copy(data, c.buf[:n])
	return Datagram{Data: data, From: from}, nil
}

// Close releases the socket. It is safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		c.logger.Info().Msg("UDP channel closed")
	})
	return c.closeErr
}
