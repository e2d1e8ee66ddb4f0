package vad

import (
	"math"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	v := New()
	if v.openThreshold != DefaultOpenThreshold {
		t.Errorf("openThreshold: got %f, want %f", v.openThreshold, DefaultOpenThreshold)
	}
	if v.closeThreshold != DefaultCloseThreshold {
		t.Errorf("closeThreshold: got %f, want %f", v.closeThreshold, DefaultCloseThreshold)
	}
	if !v.enabled {
		t.Error("expected enabled by default")
	}
}

func TestShouldSendDisabled(t *testing.T) {
	v := New()
	v.SetEnabled(false)
	if !v.ShouldSend(0) {
		t.Error("disabled VAD should always return true")
	}
}

func TestShouldSendSpeech(t *testing.T) {
	v := New()
	if !v.ShouldSend(DefaultOpenThreshold * 2) {
		t.Error("speech frame should return true")
	}
}

func TestShouldSendSilence(t *testing.T) {
	v := New()
	for range DefaultHangover + 1 {
		v.ShouldSend(0)
	}
	if v.ShouldSend(0) {
		t.Error("silent frame after hangover expired should return false")
	}
}

func TestHangoverDelay(t *testing.T) {
	v := New()
	v.ShouldSend(DefaultOpenThreshold * 10)
	for i := range DefaultHangover {
		if !v.ShouldSend(0) {
			t.Errorf("hangover frame %d should still return true", i)
		}
	}
	if v.ShouldSend(0) {
		t.Error("frame after hangover should return false")
	}
}

func TestHangoverResetOnSpeech(t *testing.T) {
	v := New()
	v.ShouldSend(DefaultOpenThreshold * 10)
	for range DefaultHangover - 1 {
		v.ShouldSend(0)
	}
	v.ShouldSend(DefaultOpenThreshold * 10)
	for i := range DefaultHangover {
		if !v.ShouldSend(0) {
			t.Errorf("hangover frame %d after speech reset should return true", i)
		}
	}
}

func TestSetThresholdClamping(t *testing.T) {
	v := New()
	v.SetThreshold(-10)
	if v.openThreshold < 0.001 {
		t.Errorf("threshold below min after negative input: %f", v.openThreshold)
	}
	v.SetThreshold(200)
	if v.openThreshold > 0.05 {
		t.Errorf("threshold above max after oversized input: %f", v.openThreshold)
	}
}

func TestSetThresholdMapping(t *testing.T) {
	v := New()
	v.SetThreshold(0)
	if math.Abs(float64(v.openThreshold)-0.001) > 1e-6 {
		t.Errorf("level 0: got %f, want 0.001", v.openThreshold)
	}
	v.SetThreshold(100)
	if math.Abs(float64(v.openThreshold)-0.050) > 1e-6 {
		t.Errorf("level 100: got %f, want 0.050", v.openThreshold)
	}
}

func TestReset(t *testing.T) {
	v := New()
	v.ShouldSend(DefaultOpenThreshold * 10)
	v.Reset()
	if v.ShouldSend(0) {
		t.Error("first silence after Reset should return false")
	}
}

func TestRMSZeroFrame(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("nil frame should return 0")
	}
	if RMS([]float32{}) != 0 {
		t.Error("empty frame should return 0")
	}
}

func TestRMSSine(t *testing.T) {
	const n = 960
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 48000))
	}
	got := RMS(frame)
	want := float32(1.0 / math.Sqrt2)
	if math.Abs(float64(got-want)) > 0.005 {
		t.Errorf("RMS: got %f, want ~%f", got, want)
	}
}

// Hysteresis-specific tests for Process (§4.5: open after >=30ms above,
// close after >=200ms below).

func TestProcessStaysClosedBeforeOpenHold(t *testing.T) {
	v := New()
	loud := DefaultOpenThreshold * 10
	// 20ms of sustained loud signal is below the 30ms open-hold requirement.
	if v.Process(loud, 20) {
		t.Error("gate should not open before 30ms of sustained signal")
	}
}

func TestProcessOpensAfterOpenHold(t *testing.T) {
	v := New()
	loud := DefaultOpenThreshold * 10
	v.Process(loud, 20)
	if !v.Process(loud, 20) {
		t.Error("gate should open once accumulated time crosses 30ms")
	}
}

func TestProcessStaysOpenDuringShortDip(t *testing.T) {
	v := New()
	loud := DefaultOpenThreshold * 10
	v.Process(loud, 40) // open
	if !v.Open() {
		t.Fatal("expected gate open after sustained loud signal")
	}
	// A single 20ms quiet frame is below the 200ms close-hold requirement.
	v.Process(0, 20)
	if !v.Open() {
		t.Error("gate should not close before 200ms of sustained silence")
	}
}

func TestProcessClosesAfterCloseHold(t *testing.T) {
	v := New()
	loud := DefaultOpenThreshold * 10
	v.Process(loud, 40)
	if !v.Open() {
		t.Fatal("expected gate open after sustained loud signal")
	}
	for i := 0; i < 11; i++ { // 11*20ms = 220ms > CloseHoldMs
		v.Process(0, 20)
	}
	if v.Open() {
		t.Error("gate should close after 200ms of sustained silence")
	}
}

func TestNoiseFloorCalibrationRaisesThreshold(t *testing.T) {
	v := New()
	hum := DefaultOpenThreshold * 0.9 // below open threshold: counts as noise floor
	for i := 0; i < 50; i++ {
		v.Process(hum, 20)
	}
	open, _ := v.calibratedThresholds()
	if open <= DefaultOpenThreshold {
		t.Errorf("expected calibrated open threshold to rise above default after sustained hum, got %f", open)
	}
}
