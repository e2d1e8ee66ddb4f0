// Package vad implements an energy-based Voice Activity Detector for mono
// float32 PCM audio at 48 kHz.
//
// The detector opens when short-term RMS exceeds an open threshold for a
// sustained period and closes when RMS falls back below a (lower) close
// threshold for a longer sustained period, giving open/close hysteresis so
// the gate does not chatter on noise near the boundary. Both thresholds
// auto-calibrate from a trailing noise-floor estimate so a noisy room and a
// quiet one converge to similar sensitivity.
package vad

import "math"

const (
	// DefaultOpenThreshold is the RMS level above which a frame starts
	// opening the gate (~-46 dBFS, the teacher's prior single threshold).
	DefaultOpenThreshold = float32(0.005)

	// DefaultCloseThreshold is lower than open, giving the hysteresis band.
	DefaultCloseThreshold = float32(0.003)

	// OpenHoldMs is how long RMS must stay above the open threshold before
	// the gate is considered open.
	OpenHoldMs = 30.0
	// CloseHoldMs is how long RMS must stay below the close threshold before
	// the gate is considered closed.
	CloseHoldMs = 200.0

	// NoiseFloorWindowMs is the trailing window used to estimate the noise
	// floor for auto-calibration.
	NoiseFloorWindowMs = 400.0

	// DefaultHangover preserved for ShouldSend/ShouldSendProb's simpler
	// single-threshold API (~400 ms at 20 ms/frame), used by PTT/legacy
	// callers that do not need full hysteresis timing.
	DefaultHangover = 20
)

// VAD is a single-channel voice activity detector with open/close hysteresis
// and a self-calibrating noise floor. Zero value is not usable; use New().
type VAD struct {
	openThreshold  float32
	closeThreshold float32
	enabled        bool

	open         bool
	aboveMs      float64
	belowMs      float64

	noiseFloor   float32
	floorSamples float64 // accumulated ms of noise-floor observation

	// legacy hangover counter, retained for ShouldSend/ShouldSendProb.
	hangover  int
	remaining int
}

// New returns a VAD with default thresholds, enabled by default.
func New() *VAD {
	return &VAD{
		openThreshold:  DefaultOpenThreshold,
		closeThreshold: DefaultCloseThreshold,
		enabled:        true,
		hangover:       DefaultHangover,
	}
}

// SetEnabled enables or disables the VAD. When disabled, Process and
// ShouldSend always report speech (pass-through mode, used for PTT).
func (v *VAD) SetEnabled(enabled bool) {
	v.enabled = enabled
	if !enabled {
		v.remaining = 0
		v.aboveMs = 0
		v.belowMs = 0
	}
}

// Enabled reports whether the VAD is currently enabled.
func (v *VAD) Enabled() bool { return v.enabled }

// SetThreshold sets the RMS open threshold directly. level is in [0, 100]
// and maps to an RMS range of [0.001, 0.05] (linear amplitude); the close
// threshold is held at 0.6x the open threshold to preserve the hysteresis
// band. Lower values are more sensitive; higher values suppress more.
func (v *VAD) SetThreshold(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	v.openThreshold = 0.001 + float32(level)/100.0*0.049
	v.closeThreshold = v.openThreshold * 0.6
}

// Process feeds one frame's RMS energy and its duration in milliseconds,
// applying open/close hysteresis, and returns whether the gate should be
// open (speech present) after this frame.
func (v *VAD) Process(rms float32, frameDurationMs float64) bool {
	if !v.enabled {
		return true
	}

	v.updateNoiseFloor(rms, frameDurationMs)
	openThresh, closeThresh := v.calibratedThresholds()

	if rms > openThresh {
		v.aboveMs += frameDurationMs
		v.belowMs = 0
	} else if rms < closeThresh {
		v.belowMs += frameDurationMs
		v.aboveMs = 0
	} else {
		// Between thresholds: neither accumulator advances, preserving
		// whatever state is currently held.
	}

	if !v.open && v.aboveMs >= OpenHoldMs {
		v.open = true
	}
	if v.open && v.belowMs >= CloseHoldMs {
		v.open = false
	}
	return v.open
}

// calibratedThresholds returns the open/close thresholds shifted by the
// current noise floor estimate, clamped so they never fall under the
// configured minimums.
func (v *VAD) calibratedThresholds() (open, close float32) {
	open = v.openThreshold + v.noiseFloor
	close = v.closeThreshold + v.noiseFloor
	return open, close
}

// updateNoiseFloor folds a quiet frame's RMS into the trailing noise-floor
// estimate. Only frames that are not currently classified as speech count
// toward the floor, so loud speech does not drag the floor upward.
func (v *VAD) updateNoiseFloor(rms float32, frameDurationMs float64) {
	if v.open {
		return
	}
	alpha := frameDurationMs / NoiseFloorWindowMs
	if alpha > 1 {
		alpha = 1
	}
	v.noiseFloor = v.noiseFloor + float32(alpha)*(rms-v.noiseFloor)
}

// Open reports the gate's current hysteresis state without feeding a frame.
func (v *VAD) Open() bool { return v.open }

// ShouldSend is a single-threshold, hangover-based check retained for PTT
// bypass and any caller that wants the simpler legacy behavior rather than
// full open/close hysteresis.
func (v *VAD) ShouldSend(rms float32) bool {
	if !v.enabled {
		return true
	}
	if rms > v.openThreshold {
		v.remaining = v.hangover
		return true
	}
	if v.remaining > 0 {
		v.remaining--
		return true
	}
	return false
}

// ShouldSendProb is like ShouldSend but takes a voice probability (0.0-1.0)
// instead of RMS energy, for ML-based signals such as RNNoise.
func (v *VAD) ShouldSendProb(prob float32) bool {
	if !v.enabled {
		return true
	}
	if prob > 0.5 {
		v.remaining = v.hangover
		return true
	}
	if v.remaining > 0 {
		v.remaining--
		return true
	}
	return false
}

// Reset clears hysteresis and hangover state without changing calibration.
func (v *VAD) Reset() {
	v.remaining = 0
	v.aboveMs = 0
	v.belowMs = 0
	v.open = false
}

// RMS returns the root-mean-square of a float32 PCM frame.
func RMS(frame []float32) float32 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(frame))))
}
