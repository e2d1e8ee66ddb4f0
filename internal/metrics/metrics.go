// Package metrics holds the engine's counters and gauges. Every field is a
// lock-free atomic value so any component can update it from its own
// goroutine without contending on a mutex, mirroring the atomic-counter
// style the engine's transport layer already uses for round-trip and loss
// tracking.
package metrics

import (
	"math"
	"sync/atomic"
)

// Registry is the engine-wide metrics set. Zero value is ready to use.
type Registry struct {
	// Audio I/O (§4.1)
	InputDroppedChunks  atomic.Uint64
	OutputUnderflowEvts atomic.Uint64

	// Jitter buffer (§4.3)
	RxLateFramesDropped atomic.Uint64
	RxGapEvents         atomic.Uint64
	RxPLCFrames         atomic.Uint64
	RxPacketsReceived   atomic.Uint64
	DecoderResets       atomic.Uint64

	// Mixer (§4.4)
	MixerNaNSamples atomic.Uint64

	// Voice plane (§4.7)
	TxPacketsSentUDP atomic.Uint64
	TxPacketsSentTCP atomic.Uint64
	RxDecryptDropped atomic.Uint64

	// Protocol / connection (§4.6, §4.8, §7)
	ProtocolErrors     atomic.Uint64
	ReconnectAttempts  atomic.Uint64
	RTTMillis          atomic.Uint64 // bits of a float64, see RTT/SetRTT
	UDPPingAcked       atomic.Bool
}

// SetRTT stores a float64 RTT sample atomically.
func (r *Registry) SetRTT(ms float64) {
	r.RTTMillis.Store(math.Float64bits(ms))
}

// RTT reads the last stored RTT sample.
func (r *Registry) RTT() float64 {
	return math.Float64frombits(r.RTTMillis.Load())
}

// Snapshot is an immutable point-in-time copy suitable for exposing to the
// presentation layer or logging.
type Snapshot struct {
	InputDroppedChunks  uint64
	OutputUnderflowEvts uint64
	RxLateFramesDropped uint64
	RxGapEvents         uint64
	RxPLCFrames         uint64
	RxPacketsReceived   uint64
	DecoderResets       uint64
	MixerNaNSamples     uint64
	TxPacketsSentUDP    uint64
	TxPacketsSentTCP    uint64
	RxDecryptDropped    uint64
	ProtocolErrors      uint64
	ReconnectAttempts   uint64
	RTTMillis           float64
	UDPPingAcked        bool
}

func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		InputDroppedChunks:  r.InputDroppedChunks.Load(),
		OutputUnderflowEvts: r.OutputUnderflowEvts.Load(),
		RxLateFramesDropped: r.RxLateFramesDropped.Load(),
		RxGapEvents:         r.RxGapEvents.Load(),
		RxPLCFrames:         r.RxPLCFrames.Load(),
		RxPacketsReceived:   r.RxPacketsReceived.Load(),
		DecoderResets:       r.DecoderResets.Load(),
		MixerNaNSamples:     r.MixerNaNSamples.Load(),
		TxPacketsSentUDP:    r.TxPacketsSentUDP.Load(),
		TxPacketsSentTCP:    r.TxPacketsSentTCP.Load(),
		RxDecryptDropped:    r.RxDecryptDropped.Load(),
		ProtocolErrors:      r.ProtocolErrors.Load(),
		ReconnectAttempts:   r.ReconnectAttempts.Load(),
		RTTMillis:           r.RTT(),
		UDPPingAcked:        r.UDPPingAcked.Load(),
	}
}
