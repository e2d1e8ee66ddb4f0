// Package mixer sums decoded per-peer PCM into the output device's tick
// cadence, applying per-user and master gain and a single-pole soft limiter
// so the combined signal never clips.
package mixer

import "math"

const (
	// limiterReleaseCoeff controls how quickly the limiter's gain reduction
	// relaxes once the signal falls back under the [-1, 1] ceiling.
	limiterReleaseCoeff = 0.02
	limiterAttackCoeff  = 0.9
)

// Mixer combines any number of named input streams into one output buffer.
type Mixer struct {
	master      float64
	userGains   map[uint32]float64
	limiterGain float64

	nanCount uint64
}

// New returns a Mixer with unity master gain.
func New() *Mixer {
	return &Mixer{
		master:      1.0,
		userGains:   make(map[uint32]float64),
		limiterGain: 1.0,
	}
}

// SetMasterVolume sets the overall output gain.
func (m *Mixer) SetMasterVolume(v float64) { m.master = v }

// SetUserVolume sets one peer's gain (default 1.0 if unset).
func (m *Mixer) SetUserVolume(userID uint32, v float64) { m.userGains[userID] = v }

func (m *Mixer) userGain(userID uint32) float64 {
	if g, ok := m.userGains[userID]; ok {
		return g
	}
	return 1.0
}

// NaNSamples reports how many NaN/Inf samples have been replaced with zero.
func (m *Mixer) NaNSamples() uint64 { return m.nanCount }

// Mix sums one decoded PCM frame from each source (keyed by peer session id)
// into an output buffer of the same length as any individual frame. frames
// with mismatched lengths are truncated to the shortest.
func (m *Mixer) Mix(frames map[uint32][]float32) []float32 {
	length := 0
	for _, f := range frames {
		if length == 0 || len(f) < length {
			length = len(f)
		}
	}
	out := make([]float32, length)
	if length == 0 {
		return out
	}

	for id, f := range frames {
		gain := float32(m.userGain(id) * m.master)
		for i := 0; i < length; i++ {
			s := f[i] * gain
			if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
				m.nanCount++
				s = 0
			}
			out[i] += s
		}
	}

	m.limit(out)
	return out
}

// limit applies a single-pole soft limiter in place, attacking fast when the
// signal exceeds [-1, 1] and releasing slowly once it's back in range.
func (m *Mixer) limit(buf []float32) {
	for i, s := range buf {
		peak := math.Abs(float64(s))
		if peak > 1.0 {
			desired := 1.0 / peak
			if desired < m.limiterGain {
				m.limiterGain += limiterAttackCoeff * (desired - m.limiterGain)
			}
		} else if m.limiterGain < 1.0 {
			m.limiterGain += limiterReleaseCoeff * (1.0 - m.limiterGain)
		}
		v := s * float32(m.limiterGain)
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		buf[i] = v
	}
}
