package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"parlay/internal/mumbleproto"
)

// VoiceMode reports which physical path voice packets currently travel over.
type VoiceMode int32

const (
	ModeUDP VoiceMode = iota
	ModeTunnel
)

func (m VoiceMode) String() string {
	if m == ModeTunnel {
		return "tunnel"
	}
	return "udp"
}

// udpProbeInterval is spent establishing UDP viability before falling back to
// the TCP tunnel. udpProbeTimeout bounds the fallback window; an established
// UDP path is then periodically reconfirmed so a server that drops UDP
// mid-session downgrades instead of silently losing voice.
const (
	udpProbeInterval = 3 * time.Second
	udpProbeTimeout  = 6 * time.Second
)

// Voice owns the voice-plane send/receive path, transparently falling back
// from UDP to the TCP control-channel tunnel when UDP packets go
// unacknowledged, per the base spec's §4.6 viability timers.
type Voice struct {
	ctrl *Control
	udp  *net.UDPConn

	mode     atomic.Int32
	onMode   func(VoiceMode)
	lastRecv atomic.Int64 // unix nano of last received packet over udp

	recvCh chan []byte

	mu       sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewVoice creates the voice transport. udpAddr is the server's UDP voice
// endpoint (same host, same port as the control connection by Mumble
// convention). ctrl is used for the tunnel fallback path. onMode, if non-nil,
// is invoked whenever the active transport mode changes.
func NewVoice(ctrl *Control, udpAddr *net.UDPAddr, onMode func(VoiceMode)) (*Voice, error) {
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, err
	}
	v := &Voice{
		ctrl:   ctrl,
		udp:    conn,
		onMode: onMode,
		recvCh: make(chan []byte, 128),
		stopCh: make(chan struct{}),
	}
	v.lastRecv.Store(time.Now().UnixNano())
	go v.udpReadLoop()
	go v.viabilityLoop()
	return v, nil
}

// Recv returns the channel of decrypted-ready voice payloads (still AEAD
// sealed; the protocol layer owns decryption since it owns the crypt
// session).
func (v *Voice) Recv() <-chan []byte { return v.recvCh }

// Mode reports the current active transport.
func (v *Voice) Mode() VoiceMode { return VoiceMode(v.mode.Load()) }

// Send transmits a sealed voice payload over whichever path is currently
// active.
func (v *Voice) Send(payload []byte) error {
	if VoiceMode(v.mode.Load()) == ModeTunnel {
		return v.ctrl.Send(mumbleproto.TypeUDPTunnel, payload)
	}
	_, err := v.udp.Write(payload)
	return err
}

// DeliverTunneled is called by the protocol layer when a UDPTunnel control
// frame arrives, forwarding the payload as if it had arrived over UDP.
func (v *Voice) DeliverTunneled(payload []byte) {
	select {
	case v.recvCh <- payload:
	default:
	}
}

// Close tears down the UDP socket and stops background loops.
func (v *Voice) Close() error {
	v.stopOnce.Do(func() { close(v.stopCh) })
	return v.udp.Close()
}

func (v *Voice) udpReadLoop() {
	buf := make([]byte, 2048)
	for {
		n, err := v.udp.Read(buf)
		if err != nil {
			select {
			case <-v.stopCh:
			default:
				log.Debug().Err(err).Msg("transport: udp read loop ended")
			}
			return
		}
		v.lastRecv.Store(time.Now().UnixNano())
		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case v.recvCh <- payload:
		default:
		}
	}
}

// viabilityLoop checks every udpProbeInterval how long it has been since a
// UDP packet was last received: it falls back to the tunnel once that exceeds
// udpProbeTimeout and returns to UDP when a UDP packet has arrived within
// udpProbeTimeout. It sends no probe packets of its own.
func (v *Voice) viabilityLoop() {
	ticker := time.NewTicker(udpProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			silence := time.Since(time.Unix(0, v.lastRecv.Load()))
			cur := VoiceMode(v.mode.Load())
			switch {
			case cur == ModeUDP && silence > udpProbeTimeout:
				v.setMode(ModeTunnel)
			case cur == ModeTunnel && silence <= udpProbeTimeout:
				v.setMode(ModeUDP)
			}
		}
	}
}

func (v *Voice) setMode(m VoiceMode) {
	if VoiceMode(v.mode.Swap(int32(m))) == m {
		return
	}
	if v.onMode != nil {
		v.onMode(m)
	}
}

// ProbePing sends an empty Ping-codec UDP packet to seed viability detection
// before any voice has been captured, so the mode decision isn't stalled
// waiting on the first PTT press.
func (v *Voice) ProbePing() {
	pkt := []byte{mumbleproto.EncodeVoiceHeader(mumbleproto.CodecPing, 0)}
	_, _ = v.udp.Write(pkt)
}

// DialVoiceAddr resolves the UDP endpoint at a control connection's remote
// host and port (Mumble always shares the control port for voice).
func DialVoiceAddr(ctrl *Control) (*net.UDPAddr, error) {
	host, port, err := net.SplitHostPort(ctrl.RemoteAddr().String())
	if err != nil {
		return nil, err
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
}
