// Package adapt provides adaptive Opus bitrate selection and jitter buffer
// depth tuning based on connection quality metrics.
package adapt

import "math"

// Ladder is the ordered list of Opus target bitrate steps in kbps.
// The range covers from barely-intelligible emergency quality (8 kbps)
// up to high-fidelity voice (48 kbps).
var Ladder = []int{8, 12, 16, 24, 32, 48}

// DefaultKbps is the starting bitrate for a new connection.
const DefaultKbps = 32

// NextBitrate returns the next Opus target bitrate (kbps) to use, given the
// current encoder setting and the connection quality observed over the last
// measurement interval.
//
// Adaptation rules:
//   - Step DOWN one rung when packet loss exceeds 5%.
//   - Step UP  one rung when loss < 1% and RTT > 0 and RTT < 150 ms.
//     (RTT == 0 means no measurement yet; hold rather than assume a great link.)
//   - Otherwise HOLD the current rung.
//
// The function always returns a value that is in Ladder.
func NextBitrate(current int, lossRate float64, rttMs float64) int {
	idx := stepIndex(current)
	switch {
	case lossRate > 0.05 && idx > 0:
		return Ladder[idx-1]
	case lossRate < 0.01 && rttMs > 0 && rttMs < 150 && idx < len(Ladder)-1:
		return Ladder[idx+1]
	default:
		return Ladder[idx]
	}
}

// stepIndex returns the index of the Ladder rung closest to kbps.
func stepIndex(kbps int) int {
	best, bestDist := 0, iabs(kbps-Ladder[0])
	for i, step := range Ladder {
		if d := iabs(kbps - step); d < bestDist {
			bestDist, best = d, i
		}
	}
	return best
}

func iabs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// DefaultTargetDepthFrames and DefaultMaxDepthFrames are the jitter buffer's
// starting target and ceiling, in 10 ms frames.
const (
	DefaultTargetDepthFrames = 3
	DefaultMaxDepthFrames    = 12
)

// GrowTarget increments a jitter buffer's target depth by one frame when the
// underflow rate over the trailing window exceeded 2%, capped at max.
func GrowTarget(target, max int, underflowRate float64) int {
	if underflowRate > 0.02 && target < max {
		return target + 1
	}
	return target
}

// ShrinkTarget signals whether the oldest decodable frame should be dropped
// this tick: the moving average of buffered frame depth has drifted more
// than 3 frames above target, so playout is trimmed back toward it.
func ShrinkTarget(avgBuffered float64, target int) bool {
	return avgBuffered > float64(target)+3
}

// MovingAverage is a simple exponential moving average accumulator used to
// track buffered-frame depth and underflow rate over rolling windows.
type MovingAverage struct {
	alpha float64
	value float64
	set   bool
}

// NewMovingAverage returns an accumulator with the given smoothing factor
// (0 < alpha <= 1; higher weighs recent samples more heavily).
func NewMovingAverage(alpha float64) *MovingAverage {
	return &MovingAverage{alpha: alpha}
}

// Update folds in a new sample and returns the updated average.
func (m *MovingAverage) Update(sample float64) float64 {
	if !m.set {
		m.value = sample
		m.set = true
		return m.value
	}
	m.value = m.alpha*sample + (1-m.alpha)*m.value
	return m.value
}

// Value returns the current average without updating it.
func (m *MovingAverage) Value() float64 { return m.value }

// SmoothLoss applies exponentially weighted moving average smoothing to a
// raw packet loss measurement. alpha controls the weight of the new sample
// (0.0 = ignore new, 1.0 = ignore old). Typical alpha: 0.3.
func SmoothLoss(smoothed, raw, alpha float64) float64 {
	return alpha*raw + (1-alpha)*smoothed
}

// TargetJitterDepth computes a starting jitter buffer depth (in 10 ms frames)
// from the measured inter-arrival jitter (ms) and loss rate (0.0-1.0), used
// to seed a newly primed peer stream before its own adaptive loop takes over.
// Clamped to [DefaultTargetDepthFrames, DefaultMaxDepthFrames].
func TargetJitterDepth(jitterMs float64, lossRate float64) int {
	if jitterMs <= 0 {
		return DefaultTargetDepthFrames
	}
	depth := int(math.Ceil(jitterMs/10.0)) + 1
	if lossRate > 0.05 {
		depth++
	}
	if depth < DefaultTargetDepthFrames {
		depth = DefaultTargetDepthFrames
	}
	if depth > DefaultMaxDepthFrames {
		depth = DefaultMaxDepthFrames
	}
	return depth
}
