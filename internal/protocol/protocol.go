// Package protocol drives the Mumble control-channel state machine: the
// connect handshake, the roster/channel map, steady-state keepalives, and
// channel/text operations. It owns the single goroutine that reads the
// control connection and is the only writer of roster state, so callers
// never need to lock around the maps it exposes — they only ever see
// coalesced snapshots delivered through callbacks.
package protocol

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"parlay/internal/crypt"
	"parlay/internal/engineerr"
	"parlay/internal/metrics"
	"parlay/internal/mumbleproto"
	"parlay/internal/transport"
)

// protoErrLogRate caps how often a malformed/unexpected message logs and
// counts against metrics.ProtocolErrors, so a misbehaving or hostile server
// sending a flood of garbage can't spam the log or wrap the counter at the
// rate the read loop can drain packets.
const protoErrLogRate = 5 // per second

// floodRate/floodBurst bound the ProtocolError flood guard: malformed
// control messages and voice decrypt failures share one token-bucket limiter
// that refills at floodRate per second and holds floodBurst tokens, so it
// empties once events have outpaced floodRate by floodBurst in total (3 s at
// 20/s, 30 s at 11/s) and then forces the connection closed as a
// TransportError, approximating the base spec's ">10/s for 3s"
// ProtocolError policy.
const (
	floodRate  = 10 // events/sec sustained before tripping
	floodBurst = floodRate * 3
)

// PingInterval matches upstream Murmur's expected client keepalive cadence.
const PingInterval = 5 * time.Second

// RosterCoalesceWindow bounds how often roster/channel diffs are flushed to
// a single snapshot event, per the base spec's UI update budget.
const RosterCoalesceWindow = 100 * time.Millisecond

// HandshakeTimeout bounds Version→ServerSync.
const HandshakeTimeout = 10 * time.Second

// ClientVersion is the version this engine reports in its Version message.
var ClientVersion = mumbleproto.PackVersion(1, 5, 0)

// Channel is the engine's local projection of a ChannelState.
type Channel struct {
	ID       uint32
	ParentID uint32
	HasParent bool
	Name     string
}

// User is the engine's local projection of a UserState.
type User struct {
	Session   uint32
	ChannelID uint32
	Name      string
	Mute      bool
	Deaf      bool
	SelfMute  bool
	SelfDeaf  bool
}

// Config bundles the information needed to dial and authenticate.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Tokens    []string
	TLSConfig *tls.Config
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = transport.DefaultPort
	}
	return net.JoinHostPort(c.Host, fmt.Sprint(port))
}

// Callbacks groups every event the client emits. Any may be nil.
type Callbacks struct {
	OnRoster     func(channels map[uint32]Channel, users map[uint32]User)
	OnMessage    func(actor uint32, actorName string, channelID *uint32, text string, ts int64)
	OnVoice      func(pkt mumbleproto.VoicePacket)
	OnDisconnect func(reason string)
}

// Client is the connected control-channel state machine. Create one per
// connection attempt via Dial.
type Client struct {
	cfg Config
	cb  Callbacks
	m   *metrics.Registry

	ctrl  *transport.Control
	voice *transport.Voice
	crypt *crypt.Session

	session uint32

	mu       sync.RWMutex
	channels map[uint32]Channel
	users    map[uint32]User
	dirty    bool

	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}

	protoErrLimiter *rate.Limiter
	floodLimiter    *rate.Limiter
}

// Dial performs the full handshake: TLS connect, Version exchange,
// Authenticate, and reads ChannelState/UserState until ServerSync (success)
// or Reject (failure). On success it returns a Client with background
// pumps already running.
func Dial(ctx context.Context, cfg Config, cb Callbacks, m *metrics.Registry) (*Client, error) {
	ctrl, err := transport.DialControl(ctx, cfg.addr(), cfg.TLSConfig)
	if err != nil {
		return nil, engineerr.NewTransportError("dial control channel", err)
	}

	c := &Client{
		cfg:      cfg,
		cb:       cb,
		m:        m,
		ctrl:     ctrl,
		channels: make(map[uint32]Channel),
		users:    make(map[uint32]User),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),

		protoErrLimiter: rate.NewLimiter(protoErrLogRate, protoErrLogRate),
		floodLimiter:    rate.NewLimiter(floodRate, floodBurst),
	}

	if err := c.handshake(ctx); err != nil {
		ctrl.Close()
		return nil, err
	}

	go c.readLoop()
	go c.pingLoop()
	go c.rosterCoalesceLoop()

	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	v := mumbleproto.Version{VersionV2: ClientVersion, Release: "parlay", OS: "desktop"}
	if err := c.ctrl.Send(mumbleproto.TypeVersion, v.Marshal()); err != nil {
		return engineerr.NewTransportError("send version", err)
	}
	auth := mumbleproto.Authenticate{Username: c.cfg.Username, Password: c.cfg.Password, Tokens: c.cfg.Tokens, Opus: true}
	if err := c.ctrl.Send(mumbleproto.TypeAuthenticate, auth.Marshal()); err != nil {
		return engineerr.NewTransportError("send authenticate", err)
	}

	deadline := time.After(HandshakeTimeout)
	for {
		select {
		case <-deadline:
			return engineerr.NewProtocolError("handshake timed out", nil)
		case <-ctx.Done():
			return engineerr.NewTransportError("handshake cancelled", ctx.Err())
		case msg, ok := <-c.ctrl.Inbound():
			if !ok {
				return engineerr.NewTransportError("control channel closed during handshake", nil)
			}
			switch msg.Type {
			case mumbleproto.TypeVersion:
				// informational only
			case mumbleproto.TypeReject:
				rej, err := mumbleproto.UnmarshalReject(msg.Payload)
				if err != nil {
					return engineerr.NewProtocolError("malformed reject", err)
				}
				return engineerr.NewAuthError(rejectReason(rej))
			case mumbleproto.TypeCryptSetup:
				cs, err := mumbleproto.UnmarshalCryptSetup(msg.Payload)
				if err != nil {
					return engineerr.NewProtocolError("malformed crypt setup", err)
				}
				key := deriveKey(cs.Key)
				sess, err := crypt.NewSession(key)
				if err != nil {
					return engineerr.NewProtocolError("derive crypt session", err)
				}
				c.crypt = sess
			case mumbleproto.TypeCodecVersion:
				cv, err := mumbleproto.UnmarshalCodecVersion(msg.Payload)
				if err != nil {
					return engineerr.NewProtocolError("malformed codec version", err)
				}
				if !cv.Opus {
					return engineerr.NewProtocolError("server does not advertise Opus support", nil)
				}
			case mumbleproto.TypeChannelState:
				cs, err := mumbleproto.UnmarshalChannelState(msg.Payload)
				if err != nil {
					return engineerr.NewProtocolError("malformed channel state", err)
				}
				c.applyChannelState(cs)
			case mumbleproto.TypeUserState:
				us, err := mumbleproto.UnmarshalUserState(msg.Payload)
				if err != nil {
					return engineerr.NewProtocolError("malformed user state", err)
				}
				c.applyUserState(us)
			case mumbleproto.TypeServerSync:
				ss, err := mumbleproto.UnmarshalServerSync(msg.Payload)
				if err != nil {
					return engineerr.NewProtocolError("malformed server sync", err)
				}
				c.session = ss.Session
				return c.dialVoice(ctx)
			default:
				// Ignore message types not required for the handshake
				// (BanList, ACL, PermissionQuery, ...).
			}
		}
	}
}

func (c *Client) dialVoice(ctx context.Context) error {
	udpAddr, err := transport.DialVoiceAddr(c.ctrl)
	if err != nil {
		return engineerr.NewTransportError("resolve voice endpoint", err)
	}
	voice, err := transport.NewVoice(c.ctrl, udpAddr, func(mode transport.VoiceMode) {
		log.Info().Str("mode", mode.String()).Msg("voice transport mode changed")
	})
	if err != nil {
		return engineerr.NewTransportError("open voice transport", err)
	}
	c.voice = voice
	voice.ProbePing()
	go c.voiceRecvLoop()
	return nil
}

// deriveKey expands/truncates Mumble's 16-byte OCB key into the substitute
// AEAD's key size. See the crypt package doc comment for why this
// substitution exists.
func deriveKey(raw []byte) []byte {
	out := make([]byte, crypt.KeySize())
	for i := range out {
		out[i] = raw[i%len(raw)]
	}
	return out
}

func rejectReason(r mumbleproto.Reject) string {
	if r.Reason != "" {
		return r.Reason
	}
	switch r.Type {
	case mumbleproto.RejectWrongUserPW:
		return "incorrect password"
	case mumbleproto.RejectWrongServerPW:
		return "incorrect server password"
	case mumbleproto.RejectUsernameInUse:
		return "username already in use"
	case mumbleproto.RejectServerFull:
		return "server is full"
	case mumbleproto.RejectInvalidUsername:
		return "invalid username"
	case mumbleproto.RejectWrongVersion:
		return "client version rejected"
	default:
		return "connection rejected"
	}
}

func (c *Client) readLoop() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		case msg, ok := <-c.ctrl.Inbound():
			if !ok {
				c.emitDisconnect("connection closed by server")
				return
			}
			if c.handle(msg) {
				return
			}
		}
	}
}

// malformed records a failed unmarshal against metrics.ProtocolErrors, logs
// it (throttled by protoErrLimiter so a flood of garbage from the wire can't
// spam the log faster than protoErrLogRate), and reports whether the
// sustained ProtocolError rate has now crossed the base spec's >10/s-for-3s
// flood threshold — shared with voiceRecvLoop's decrypt-failure counting,
// since both are "ProtocolError" per the base spec's §7 taxonomy. Tripping
// disconnects the client as a TransportError.
func (c *Client) malformed(what string, err error) bool {
	if c.m != nil {
		c.m.ProtocolErrors.Add(1)
	}
	if c.protoErrLimiter.Allow() {
		log.Warn().Err(err).Str("message", what).Msg("dropped malformed control message")
	}
	return c.tripFloodGuard(what)
}

// tripFloodGuard consumes one token from floodLimiter and, once the bucket
// is empty (see floodRate/floodBurst), disconnects the client as a
// TransportError and reports true.
func (c *Client) tripFloodGuard(reason string) bool {
	if c.floodLimiter.Allow() {
		return false
	}
	err := engineerr.NewTransportError("protocol error flood: "+reason, nil)
	log.Error().Str("reason", reason).Msg("protocol error flood, dropping connection")
	c.emitDisconnect(err.Error())
	return true
}

// handle dispatches one inbound control message and reports whether the
// connection should be torn down (the ProtocolError flood guard tripped).
func (c *Client) handle(msg transport.InboundMessage) bool {
	switch msg.Type {
	case mumbleproto.TypePing:
		// Server pings back; nothing to act on beyond liveness, which the
		// connection read itself already demonstrates.
	case mumbleproto.TypeChannelState:
		if cs, err := mumbleproto.UnmarshalChannelState(msg.Payload); err == nil {
			c.applyChannelState(cs)
			c.markDirty()
		} else {
			return c.malformed("ChannelState", err)
		}
	case mumbleproto.TypeChannelRemove:
		if cr, err := mumbleproto.UnmarshalChannelRemove(msg.Payload); err == nil {
			c.mu.Lock()
			delete(c.channels, cr.ChannelID)
			c.mu.Unlock()
			c.markDirty()
		} else {
			return c.malformed("ChannelRemove", err)
		}
	case mumbleproto.TypeUserState:
		if us, err := mumbleproto.UnmarshalUserState(msg.Payload); err == nil {
			c.applyUserState(us)
			c.markDirty()
		} else {
			return c.malformed("UserState", err)
		}
	case mumbleproto.TypeUserRemove:
		if ur, err := mumbleproto.UnmarshalUserRemove(msg.Payload); err == nil {
			c.mu.Lock()
			delete(c.users, ur.Session)
			c.mu.Unlock()
			c.markDirty()
			if ur.Session == c.session {
				reason := ur.Reason
				if reason == "" {
					reason = "removed by server"
				}
				c.emitDisconnect(reason)
			}
		} else {
			return c.malformed("UserRemove", err)
		}
	case mumbleproto.TypeTextMessage:
		if tm, err := mumbleproto.UnmarshalTextMessage(msg.Payload); err == nil {
			c.handleTextMessage(tm)
		} else {
			return c.malformed("TextMessage", err)
		}
	case mumbleproto.TypeUDPTunnel:
		if c.voice != nil {
			c.voice.DeliverTunneled(msg.Payload)
			if c.m != nil {
				c.m.TxPacketsSentTCP.Add(0) // tunnel RX is counted by the voice pipeline consumer
			}
		}
	case mumbleproto.TypeReject:
		if rej, err := mumbleproto.UnmarshalReject(msg.Payload); err == nil {
			c.emitDisconnect(rejectReason(rej))
		} else {
			return c.malformed("Reject", err)
		}
	default:
	}
	return false
}

func (c *Client) handleTextMessage(tm mumbleproto.TextMessage) {
	if c.cb.OnMessage == nil {
		return
	}
	c.mu.RLock()
	actorName := c.users[tm.Actor].Name
	c.mu.RUnlock()

	var channelID *uint32
	if len(tm.ChannelIDs) > 0 {
		ch := tm.ChannelIDs[0]
		channelID = &ch
	}
	c.cb.OnMessage(tm.Actor, actorName, channelID, tm.Message, time.Now().UnixMilli())
}

func (c *Client) applyChannelState(cs mumbleproto.ChannelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, existing := c.channels[cs.ChannelID]
	if !existing {
		ch = Channel{ID: cs.ChannelID}
	}
	if cs.Name != "" {
		ch.Name = cs.Name
	}
	if cs.HasParent {
		ch.ParentID = cs.Parent
		ch.HasParent = true
	}
	c.channels[cs.ChannelID] = ch
}

func (c *Client) applyUserState(us mumbleproto.UserState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, existing := c.users[us.Session]
	if !existing {
		u = User{Session: us.Session}
	}
	if us.Name != "" {
		u.Name = us.Name
	}
	if us.HasChannelID {
		u.ChannelID = us.ChannelID
	}
	if us.HasMute {
		u.Mute = us.Mute
	}
	if us.HasDeaf {
		u.Deaf = us.Deaf
	}
	if us.HasSelfMute {
		u.SelfMute = us.SelfMute
	}
	if us.HasSelfDeaf {
		u.SelfDeaf = us.SelfDeaf
	}
	c.users[us.Session] = u
}

func (c *Client) markDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

func (c *Client) rosterCoalesceLoop() {
	ticker := time.NewTicker(RosterCoalesceWindow)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.dirty {
				c.mu.Unlock()
				continue
			}
			c.dirty = false
			channels := make(map[uint32]Channel, len(c.channels))
			for k, v := range c.channels {
				channels[k] = v
			}
			users := make(map[uint32]User, len(c.users))
			for k, v := range c.users {
				users[k] = v
			}
			c.mu.Unlock()
			if c.cb.OnRoster != nil {
				c.cb.OnRoster(channels, users)
			}
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	var good, late, lost uint32
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			p := mumbleproto.Ping{Timestamp: uint64(time.Now().UnixMilli()), Good: good, Late: late, Lost: lost}
			if err := c.ctrl.Send(mumbleproto.TypePing, p.Marshal()); err != nil {
				c.emitDisconnect("ping send failed: " + err.Error())
				return
			}
			good++
		}
	}
}

func (c *Client) voiceRecvLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		case payload, ok := <-c.voice.Recv():
			if !ok {
				return
			}
			if c.crypt == nil || len(payload) < 9 {
				continue
			}
			counter := uint64(0)
			for i := 0; i < 8; i++ {
				counter = (counter << 8) | uint64(payload[i])
			}
			plain, err := c.crypt.Open(counter, payload[8:])
			if err != nil {
				if c.m != nil {
					c.m.RxDecryptDropped.Add(1)
				}
				if c.tripFloodGuard("voice decrypt failure") {
					return
				}
				continue
			}
			vp, ok := mumbleproto.DecodeVoicePacket(plain, true)
			if !ok {
				continue
			}
			if c.m != nil {
				c.m.RxPacketsReceived.Add(1)
			}
			if c.cb.OnVoice != nil {
				c.cb.OnVoice(vp)
			}
		}
	}
}

// SendVoice seals and transmits one outgoing voice packet (session-less;
// the server stamps the sender on fan-out).
func (c *Client) SendVoice(target byte, sequence uint64, frames [][]byte) error {
	if c.voice == nil || c.crypt == nil {
		return engineerr.NewTransportError("voice transport not ready", nil)
	}
	plain := mumbleproto.EncodeVoicePacket(target, sequence, frames)
	counter, sealed := c.crypt.Seal(plain)

	out := make([]byte, 8+len(sealed))
	for i := 0; i < 8; i++ {
		out[i] = byte(counter >> (8 * (7 - i)))
	}
	copy(out[8:], sealed)

	if err := c.voice.Send(out); err != nil {
		return engineerr.NewTransportError("send voice packet", err)
	}
	if c.m != nil {
		if c.voice.Mode() == transport.ModeTunnel {
			c.m.TxPacketsSentTCP.Add(1)
		} else {
			c.m.TxPacketsSentUDP.Add(1)
		}
	}
	return nil
}

// SendText posts a chat message, optionally scoped to a channel (nil means
// the server's default routing, typically the sender's current channel).
func (c *Client) SendText(message string, channelID *uint32) error {
	tm := mumbleproto.TextMessage{Message: message}
	if channelID != nil {
		tm.ChannelIDs = []uint32{*channelID}
	}
	if err := c.ctrl.Send(mumbleproto.TypeTextMessage, tm.Marshal()); err != nil {
		return engineerr.NewTransportError("send text message", err)
	}
	return nil
}

// JoinChannelByName looks up a channel by its display name and requests a
// move into it via a self UserState update.
func (c *Client) JoinChannelByName(name string) error {
	c.mu.RLock()
	var target *Channel
	for _, ch := range c.channels {
		if ch.Name == name {
			cp := ch
			target = &cp
			break
		}
	}
	c.mu.RUnlock()
	if target == nil {
		return engineerr.NewCommandError(fmt.Sprintf("no channel named %q", name))
	}
	us := mumbleproto.UserState{Session: c.session, HasChannelID: true, ChannelID: target.ID}
	if err := c.ctrl.Send(mumbleproto.TypeUserState, us.Marshal()); err != nil {
		return engineerr.NewTransportError("send channel move", err)
	}
	return nil
}

// SetMute updates the local self-mute flag.
func (c *Client) SetMute(muted bool) error {
	us := mumbleproto.UserState{Session: c.session, HasSelfMute: true, SelfMute: muted}
	return c.sendUserState(us)
}

// SetDeafen updates the local self-deafen flag.
func (c *Client) SetDeafen(deafened bool) error {
	us := mumbleproto.UserState{Session: c.session, HasSelfDeaf: true, SelfDeaf: deafened}
	return c.sendUserState(us)
}

func (c *Client) sendUserState(us mumbleproto.UserState) error {
	if err := c.ctrl.Send(mumbleproto.TypeUserState, us.Marshal()); err != nil {
		return engineerr.NewTransportError("send user state", err)
	}
	return nil
}

// Session returns the locally-assigned session id (0 before handshake
// completes).
func (c *Client) Session() uint32 { return c.session }

// Snapshot returns a copy of the current channel/user maps.
func (c *Client) Snapshot() (map[uint32]Channel, map[uint32]User) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	channels := make(map[uint32]Channel, len(c.channels))
	for k, v := range c.channels {
		channels[k] = v
	}
	users := make(map[uint32]User, len(c.users))
	for k, v := range c.users {
		users[k] = v
	}
	return channels, users
}

func (c *Client) emitDisconnect(reason string) {
	if c.cb.OnDisconnect != nil {
		c.cb.OnDisconnect(reason)
	}
}

// Close tears down both the control and voice connections.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		if c.voice != nil {
			c.voice.Close()
		}
		c.ctrl.Close()
	})
	<-c.doneCh
}
