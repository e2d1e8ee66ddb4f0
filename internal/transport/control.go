// Package transport owns the two physical connections to a Mumble-compatible
// server: the TLS control channel and the UDP voice channel, with TCP-tunnel
// fallback when UDP is unreachable. It knows nothing about handshake
// sequencing or roster state — see the protocol package for that — it only
// frames bytes on and off the wire.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"parlay/internal/mumbleproto"
)

// DefaultPort is the standard Mumble control/voice port.
const DefaultPort = 64738

// ConnectTimeout bounds the TLS dial.
const ConnectTimeout = 10 * time.Second

// InboundMessage is one decoded control-channel frame delivered to the
// protocol layer.
type InboundMessage struct {
	Type    mumbleproto.Type
	Payload []byte
}

// Control manages the TLS control connection: framed message read/write and
// a background pump delivering inbound frames to a channel.
type Control struct {
	conn net.Conn

	writeMu sync.Mutex

	inbound chan InboundMessage
	closed  chan struct{}
	once    sync.Once
}

// DialControl opens the TLS control connection. Certificate verification is
// decided entirely by the caller-supplied tls.Config: a nil config verifies
// against the system roots, and skipping verification (as for a self-hosted
// server's self-signed certificate) takes InsecureSkipVerify in that config.
func DialControl(ctx context.Context, addr string, tlsConfig *tls.Config) (*Control, error) {
	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	d := tls.Dialer{Config: tlsConfig}
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial control: %w", err)
	}

	c := &Control{
		conn:    conn,
		inbound: make(chan InboundMessage, 64),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Inbound returns the channel of decoded frames. Closed when the connection
// ends.
func (c *Control) Inbound() <-chan InboundMessage { return c.inbound }

// Send writes one framed control message. Safe for concurrent callers.
func (c *Control) Send(t mumbleproto.Type, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return mumbleproto.WriteFrame(c.conn, t, payload)
}

// Close tears down the TLS connection. Idempotent.
func (c *Control) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
		close(c.closed)
	})
	return err
}

func (c *Control) readLoop() {
	defer close(c.inbound)
	r := bufio.NewReaderSize(c.conn, 16*1024)
	for {
		t, payload, err := mumbleproto.ReadFrame(r)
		if err != nil {
			select {
			case <-c.closed:
			default:
				log.Debug().Err(err).Msg("transport: control read loop ended")
			}
			return
		}
		select {
		case c.inbound <- InboundMessage{Type: t, Payload: payload}:
		case <-c.closed:
			return
		}
	}
}

// LocalAddr returns the local endpoint of the control connection, used to
// derive the UDP voice socket's local address.
func (c *Control) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the server's control endpoint.
func (c *Control) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
