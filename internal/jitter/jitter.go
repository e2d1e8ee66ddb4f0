// Package jitter implements a per-peer jitter buffer for voice datagrams.
//
// It reorders out-of-order packets by sequence number, bounds how far
// playout may lag behind arrival, signals missing frames so the caller can
// invoke Opus PLC (packet loss concealment), and adapts its target depth to
// observed underflow and buffering pressure.
package jitter

import (
	"time"

	"parlay/internal/adapt"
)

const (
	ringSize = 32 // must be a power of 2; large enough to cover max depth
	ringMask = ringSize - 1

	// staleTimeout is how long a sender must be silent before their stream
	// is pruned from the buffer.
	staleTimeout = 500 * time.Millisecond

	// maxConsecutivePLC bounds how many PLC calls happen back to back before
	// the tick emits silence instead.
	maxConsecutivePLC = 2

	// silentTicksBeforeReset is how many consecutive silent ticks trigger a
	// decoder state reset for that peer.
	silentTicksBeforeReset = 20

	// underflowWindow is the trailing window used to compute underflow rate.
	underflowWindow = 2 * time.Second
)

// Frame is a single voice frame output from the jitter buffer for one tick.
type Frame struct {
	SessionID uint32
	OpusData  []byte // nil signals a missing packet: caller should run PLC
	Silence   bool   // true once PLC has been exhausted for this tick; emit silence
	ResetDecoder bool // true the tick a decoder reset is due
}

// slot holds one Opus packet in the ring buffer.
type slot struct {
	opus []byte
	seq  uint64
	set  bool
}

// stream tracks per-peer jitter buffer state.
type stream struct {
	ring [ringSize]slot

	headSeq     uint64 // highest sequence number ever inserted
	playoutSeq  uint64 // next sequence number to consume
	primed      bool
	primeCount  int
	lastRecv    time.Time

	target int // current target depth, frames
	max    int // configured ceiling, frames

	consecutivePLC int
	consecutiveSilent int

	bufferedAvg  *adapt.MovingAverage
	underflowAvg *adapt.MovingAverage
	windowStart  time.Time
	windowTicks  int
	windowUnderflows int
}

func newStream(firstSeq uint64, target, max int) *stream {
	return &stream{
		headSeq:      firstSeq,
		playoutSeq:   firstSeq,
		lastRecv:     time.Now(),
		target:       target,
		max:          max,
		bufferedAvg:  adapt.NewMovingAverage(0.2),
		underflowAvg: adapt.NewMovingAverage(0.2),
		windowStart:  time.Now(),
	}
}

func (s *stream) buffered() int {
	return int(s.headSeq - s.playoutSeq + 1)
}

// Buffer is a jitter buffer keyed by peer session id. Not safe for
// concurrent use; the caller (the mixer's output tick) is the sole reader
// and writer.
type Buffer struct {
	streams map[uint32]*stream
	target  int // default target depth, frames (10 ms each)
	max     int // default max depth, frames
}

// New creates a jitter buffer with the base spec's default target (3 frames)
// and max (12 frames) depth.
func New() *Buffer {
	return &Buffer{
		streams: make(map[uint32]*stream),
		target:  adapt.DefaultTargetDepthFrames,
		max:     adapt.DefaultMaxDepthFrames,
	}
}

// Stats reports drop/gap counters observed across all Push calls. The caller
// is expected to add these deltas into the engine's metrics registry.
type Stats struct {
	LateDropped int
	GapEvents   int
}

// Push inserts a received packet into the peer's ring buffer. Returns
// updated stats deltas for this call (zero value if nothing notable
// happened).
func (b *Buffer) Push(session uint32, seq uint64, opus []byte) Stats {
	s, ok := b.streams[session]
	if !ok {
		s = newStream(seq, b.target, b.max)
		b.streams[session] = s
	}
	s.lastRecv = time.Now()

	if !s.primed {
		idx := int(seq) & ringMask
		s.ring[idx] = slot{opus: opus, seq: seq, set: true}
		if seq > s.headSeq {
			s.headSeq = seq
		}
		s.primeCount++
		if s.primeCount >= s.target {
			s.primed = true
		}
		return Stats{}
	}

	if seq < s.playoutSeq {
		return Stats{LateDropped: 1}
	}

	if seq > s.playoutSeq+uint64(s.max) {
		// Long pause / burst: flush forward, recovering at target depth
		// behind the newly observed sequence.
		newPlayout := seq - uint64(s.target)
		if newPlayout < s.playoutSeq {
			newPlayout = s.playoutSeq
		}
		s.playoutSeq = newPlayout
		s.headSeq = seq
		idx := int(seq) & ringMask
		s.ring[idx] = slot{opus: opus, seq: seq, set: true}
		return Stats{GapEvents: 1}
	}

	if seq > s.headSeq {
		s.headSeq = seq
	}
	idx := int(seq) & ringMask
	s.ring[idx] = slot{opus: opus, seq: seq, set: true}
	return Stats{}
}

// Tick advances every primed peer's playout clock by one 10 ms frame and
// returns the frame each should render this tick. Senders silent longer than
// staleTimeout are pruned. Peers still priming are skipped.
func (b *Buffer) Tick() []Frame {
	now := time.Now()
	var frames []Frame
	var stale []uint32

	for id, s := range b.streams {
		if now.Sub(s.lastRecv) > staleTimeout {
			stale = append(stale, id)
			continue
		}
		if !s.primed {
			continue
		}

		s.adapt(now)

		idx := int(s.playoutSeq) & ringMask
		var f Frame
		f.SessionID = id

		if s.ring[idx].set && s.ring[idx].seq == s.playoutSeq {
			f.OpusData = s.ring[idx].opus
			s.ring[idx] = slot{}
			s.consecutivePLC = 0
			s.consecutiveSilent = 0
		} else if s.consecutivePLC < maxConsecutivePLC {
			s.consecutivePLC++
			s.consecutiveSilent = 0
			// f.OpusData stays nil: caller runs PLC.
		} else {
			f.Silence = true
			s.consecutiveSilent++
			if s.consecutiveSilent >= silentTicksBeforeReset {
				f.ResetDecoder = true
				s.consecutiveSilent = 0
			}
		}

		if s.shrinkDue() {
			// Drop the oldest decodable frame in addition to the one just
			// played, pulling playout back toward target depth.
			s.playoutSeq++
		}
		s.playoutSeq++

		frames = append(frames, f)
	}

	for _, id := range stale {
		delete(b.streams, id)
	}

	return frames
}

// adapt folds this tick's observation into the moving averages and grows the
// target depth when the trailing underflow rate crosses 2% over a 2s window.
func (s *stream) adapt(now time.Time) {
	s.bufferedAvg.Update(float64(s.buffered()))

	s.windowTicks++
	underflowed := s.consecutivePLC > 0
	if underflowed {
		s.windowUnderflows++
	}
	if now.Sub(s.windowStart) >= underflowWindow {
		rate := 0.0
		if s.windowTicks > 0 {
			rate = float64(s.windowUnderflows) / float64(s.windowTicks)
		}
		s.underflowAvg.Update(rate)
		s.target = adapt.GrowTarget(s.target, s.max, s.underflowAvg.Value())
		s.windowTicks = 0
		s.windowUnderflows = 0
		s.windowStart = now
	}
}

func (s *stream) shrinkDue() bool {
	return adapt.ShrinkTarget(s.bufferedAvg.Value(), s.target)
}

// Reset clears all buffered state (e.g. on disconnect).
func (b *Buffer) Reset() {
	b.streams = make(map[uint32]*stream)
}

// ActiveSenders returns the number of peers with primed streams.
func (b *Buffer) ActiveSenders() int {
	n := 0
	for _, s := range b.streams {
		if s.primed {
			n++
		}
	}
	return n
}

// TargetDepth reports a peer's current adaptive target depth (frames), or
// the buffer default if the peer is unknown.
func (b *Buffer) TargetDepth(session uint32) int {
	if s, ok := b.streams[session]; ok {
		return s.target
	}
	return b.target
}
