package main

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"parlay/internal/aec"
	"parlay/internal/agc"
	"parlay/internal/audioio"
	"parlay/internal/codec"
	"parlay/internal/jitter"
	"parlay/internal/metrics"
	"parlay/internal/mixer"
	"parlay/internal/mumbleproto"
	"parlay/internal/noisegate"
	"parlay/internal/vad"
)

const (
	sampleRate = codec.SampleRate
	channels   = codec.Channels
	// FrameSize is the default frame size in samples (20ms @ 48kHz) — exported
	// so other packages can reference it.
	FrameSize          = codec.FrameSamples20ms
	opusMaxPacketBytes = codec.MaxPacketBytes

	captureChannelBuf  = 30 // ~600ms @ 50 fps — low latency; drops if consumer falls behind
	playbackChannelBuf = 60 // headroom for bursty multi-frame voice packets
)

// AudioDevice describes an available audio device.
type AudioDevice = audioio.Device

// paStream abstracts an audio I/O stream for testing.
type paStream = audioio.Stream

// opusEncoder abstracts Opus encoding for testing.
type opusEncoder interface {
	Encode(pcm []int16) ([]byte, error)
	SetBitrate(bps int) error
	SetPacketLossPerc(pct int) error
}

// opusDecoder abstracts Opus decoding for testing.
type opusDecoder interface {
	Decode(packet []byte) ([]int16, error)
	PLC() ([]int16, error)
	DecodeFEC(packet []byte) ([]int16, error)
	Reset() error
}

// AudioEngine manages audio capture, playback, Opus encoding/decoding, and
// the jitter buffer + mixer stages feeding the output device.
type AudioEngine struct {
	mu sync.Mutex

	audioSystem audioio.System

	inputDeviceID  int
	outputDeviceID int
	volume         float64
	nc             *NoiseCanceller

	encoder opusEncoder

	captureStream  paStream
	playbackStream paStream

	// CaptureOut carries encoded Opus frames ready to send over the network.
	CaptureOut chan []byte
	// PlaybackIn carries raw voice packets from the network, keyed by Mumble
	// session id, for insertion into the jitter buffer.
	PlaybackIn chan mumbleproto.VoicePacket

	// UserVolumeFunc, if set, returns the per-user volume multiplier (0.0-2.0)
	// for the given session id. Default (nil) means 1.0 for all users.
	UserVolumeFunc func(session uint32) float64

	notifCh    chan []float32
	notifScale atomic.Uint32

	// clipCh carries soundboard clip frames into the transmit path, mixed in
	// ahead of AEC/gate/VAD so remote peers hear them; never mixed into
	// local output.
	clipCh chan []float32

	aecProc    *aec.AEC
	aecEnabled atomic.Bool

	agcProc    *agc.AGC
	agcEnabled atomic.Bool

	vadProc  *vad.VAD
	gateProc *noisegate.Gate

	jb  *jitter.Buffer
	mix *mixer.Mixer

	metrics *metrics.Registry

	running        atomic.Bool
	testMode       atomic.Bool
	muted          atomic.Bool
	deafened       atomic.Bool
	pttMode        atomic.Bool // true = push-to-talk controls transmit
	pttActive      atomic.Bool // true = PTT key is held, mic is hot
	currentBitrate atomic.Int32

	captureDropped  atomic.Uint64
	playbackDropped atomic.Uint64

	inputLevel atomic.Uint32

	seq atomic.Uint64

	stopCh     chan struct{}
	wg         sync.WaitGroup
	OnSpeaking func(bool) // called on local speaking edges (true=started, false=stopped)

	// OnPeerSpeaking reports a remote peer's speaking edge, derived from decoded
	// playback peak level (peak > -45 dBFS starts; 250ms of silence stops).
	OnPeerSpeaking func(session uint32, speaking bool)
}

// speakingPeakThreshold is the linear-amplitude equivalent of -45 dBFS.
const speakingPeakThreshold = 0.0056234

// speakingHoldoff is how long a peer is still considered speaking after the
// last frame above speakingPeakThreshold.
const speakingHoldoff = 250 * time.Millisecond

func peakAmplitude(pf []float32) float32 {
	var peak float32
	for _, s := range pf {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// notifChannelBuf is the number of 20 ms PCM frames the notification channel
// can buffer — enough for ~4 s of queued notification audio.
const notifChannelBuf = 200

// clipChannelBuf bounds queued soundboard clip frames (~4s at 20ms/frame).
const clipChannelBuf = 200

// NewAudioEngine returns an AudioEngine with default settings, backed by the
// real PortAudio device system.
func NewAudioEngine(m *metrics.Registry) *AudioEngine {
	ae := &AudioEngine{
		audioSystem:    audioio.PortAudioSystem{},
		inputDeviceID:  -1,
		outputDeviceID: -1,
		volume:         1.0,
		aecProc:        aec.New(FrameSize),
		agcProc:        agc.New(),
		vadProc:        vad.New(),
		gateProc:       noisegate.New(),
		jb:             jitter.New(),
		mix:            mixer.New(),
		metrics:        m,
		CaptureOut:     make(chan []byte, captureChannelBuf),
		PlaybackIn:     make(chan mumbleproto.VoicePacket, playbackChannelBuf),
		notifCh:        make(chan []float32, notifChannelBuf),
		clipCh:         make(chan []float32, clipChannelBuf),
		stopCh:         make(chan struct{}),
	}
	ae.notifScale.Store(math.Float32bits(1.0))
	return ae
}

// SetNoiseCanceller attaches (or detaches when nc is nil) a NoiseCanceller.
func (ae *AudioEngine) SetNoiseCanceller(nc *NoiseCanceller) {
	ae.mu.Lock()
	ae.nc = nc
	ae.mu.Unlock()
}

// Done returns a channel that is closed when the audio engine stops.
func (ae *AudioEngine) Done() <-chan struct{} {
	return ae.stopCh
}

// ListInputDevices returns available audio input devices.
func (ae *AudioEngine) ListInputDevices() []AudioDevice {
	return ae.audioSystem.ListInputDevices()
}

// ListOutputDevices returns available audio output devices.
func (ae *AudioEngine) ListOutputDevices() []AudioDevice {
	return ae.audioSystem.ListOutputDevices()
}

// SetInputDevice sets the input device by index.
func (ae *AudioEngine) SetInputDevice(id int) {
	ae.mu.Lock()
	ae.inputDeviceID = id
	ae.mu.Unlock()
}

// SetOutputDevice sets the output device by index.
func (ae *AudioEngine) SetOutputDevice(id int) {
	ae.mu.Lock()
	ae.outputDeviceID = id
	ae.mu.Unlock()
}

// SetVolume sets the playback master volume in [0.0, 1.0].
func (ae *AudioEngine) SetVolume(vol float64) {
	if vol < 0 {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	ae.mu.Lock()
	ae.volume = vol
	ae.mu.Unlock()
	ae.mix.SetMasterVolume(vol)
}

// SetUserVolume adjusts one peer's local mix gain.
func (ae *AudioEngine) SetUserVolume(session uint32, vol float64) {
	ae.mix.SetUserVolume(session, vol)
}

// SetAEC enables or disables acoustic echo cancellation on the capture path.
func (ae *AudioEngine) SetAEC(enabled bool) {
	ae.aecProc.SetEnabled(enabled)
	ae.aecEnabled.Store(enabled)
}

// SetAGC enables or disables automatic gain control on the capture path.
func (ae *AudioEngine) SetAGC(enabled bool) {
	if enabled {
		ae.agcProc.Reset()
	}
	ae.agcEnabled.Store(enabled)
}

// SetAGCLevel sets the AGC target loudness. level is in [0, 100].
func (ae *AudioEngine) SetAGCLevel(level int) {
	ae.agcProc.SetTarget(level)
}

// SetVAD enables or disables voice activity detection on the capture path.
func (ae *AudioEngine) SetVAD(enabled bool) {
	ae.vadProc.SetEnabled(enabled)
}

// SetVADThreshold sets the sensitivity of the VAD. level is in [0, 100].
func (ae *AudioEngine) SetVADThreshold(level int) {
	ae.vadProc.SetThreshold(level)
}

// SetNotificationVolume sets the notification sound volume (0.0-1.0).
func (ae *AudioEngine) SetNotificationVolume(vol float32) {
	if vol < 0 {
		vol = 0
	}
	if vol > 1.0 {
		vol = 1.0
	}
	ae.notifScale.Store(math.Float32bits(vol))
}

// NotificationVolume returns the current notification volume (0.0-1.0).
func (ae *AudioEngine) NotificationVolume() float32 {
	return math.Float32frombits(ae.notifScale.Load())
}

// SetNoiseGate enables or disables the hard noise gate on the capture path.
func (ae *AudioEngine) SetNoiseGate(enabled bool) {
	ae.gateProc.SetEnabled(enabled)
}

// SetNoiseGateThreshold sets the noise gate threshold (0-100).
func (ae *AudioEngine) SetNoiseGateThreshold(level int) {
	ae.gateProc.SetThreshold(level)
}

// InputLevel returns the most recent pre-gate RMS mic input level (0.0-1.0).
func (ae *AudioEngine) InputLevel() float32 {
	return math.Float32frombits(ae.inputLevel.Load())
}

// SetBitrate changes the Opus encoder target bitrate (kbps) on the fly.
func (ae *AudioEngine) SetBitrate(kbps int) {
	if kbps < 6 {
		kbps = 6
	}
	if kbps > 510 {
		kbps = 510
	}
	ae.mu.Lock()
	if ae.encoder != nil {
		if err := ae.encoder.SetBitrate(kbps * 1000); err != nil {
			log.Printf("[audio] SetBitrate %d kbps: %v", kbps, err)
		}
	}
	ae.mu.Unlock()
	ae.currentBitrate.Store(int32(kbps))
}

// CurrentBitrate returns the current Opus encoder target bitrate (kbps).
func (ae *AudioEngine) CurrentBitrate() int {
	return int(ae.currentBitrate.Load())
}

// SetPacketLoss tells the Opus encoder the expected packet loss percentage.
func (ae *AudioEngine) SetPacketLoss(lossPercent int) {
	if lossPercent < 0 {
		lossPercent = 0
	}
	if lossPercent > 100 {
		lossPercent = 100
	}
	ae.mu.Lock()
	if ae.encoder != nil {
		if err := ae.encoder.SetPacketLossPerc(lossPercent); err != nil {
			log.Printf("[audio] SetPacketLossPerc %d%%: %v", lossPercent, err)
		}
	}
	ae.mu.Unlock()
}

// Start initializes the Opus codec and starts capture/playback streams.
func (ae *AudioEngine) Start() error {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	if ae.running.Load() {
		return nil
	}

	enc, err := codec.NewEncoder()
	if err != nil {
		return err
	}
	ae.encoder = enc
	ae.currentBitrate.Store(codec.DefaultBitrate / 1000)

	captureBuf := make([]float32, FrameSize)
	captureStream, err := ae.audioSystem.OpenInputStream(ae.inputDeviceID, sampleRate, FrameSize, captureBuf)
	if err != nil {
		return err
	}

	playbackBuf := make([]float32, FrameSize)
	playbackStream, err := ae.audioSystem.OpenOutputStream(ae.outputDeviceID, sampleRate, FrameSize, playbackBuf)
	if err != nil {
		captureStream.Close()
		return err
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return err
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Stop()
		captureStream.Close()
		playbackStream.Close()
		return err
	}

	ae.captureStream = captureStream
	ae.playbackStream = playbackStream
	ae.stopCh = make(chan struct{})
	ae.notifCh = make(chan []float32, notifChannelBuf)
	ae.clipCh = make(chan []float32, clipChannelBuf)
	ae.running.Store(true)

	ae.wg.Add(2)
	go func() { defer ae.wg.Done(); ae.captureLoop(captureBuf) }()
	go func() { defer ae.wg.Done(); ae.playbackLoop(playbackBuf) }()

	log.Printf("[audio] started")
	return nil
}

// Stop halts audio capture and playback.
//
// Sequence matters here: Stop is expected to unblock any in-flight Read/Write
// calls, which lets the goroutines exit. We wait for them via wg before
// calling Close, otherwise we'd free the native stream object while a
// goroutine may still be touching it.
func (ae *AudioEngine) Stop() {
	if !ae.running.CompareAndSwap(true, false) {
		return
	}
	close(ae.stopCh)

	ae.mu.Lock()
	capture := ae.captureStream
	playback := ae.playbackStream
	if capture != nil {
		capture.Stop()
	}
	if playback != nil {
		playback.Stop()
	}
	ae.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ae.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ae.mu.Lock()
		if ae.captureStream != nil {
			ae.captureStream.Close()
			ae.captureStream = nil
		}
		if ae.playbackStream != nil {
			ae.playbackStream.Close()
			ae.playbackStream = nil
		}
		ae.mu.Unlock()
	case <-time.After(50 * time.Millisecond):
		// The backend did not unblock Read/Write promptly (a broken stream).
		// Closing now would risk a crash if the goroutine is still touching
		// the stream object, so hand the wait off to a background goroutine
		// and return immediately; Close happens once the loops actually exit.
		go func() {
			<-done
			ae.mu.Lock()
			if capture != nil {
				capture.Close()
			}
			if playback != nil {
				playback.Close()
			}
			ae.mu.Unlock()
		}()
	}

	for {
		select {
		case <-ae.PlaybackIn:
		default:
			log.Println("[audio] stopped")
			return
		}
	}
}

// zeroFloat32 zeroes all elements of buf.
func zeroFloat32(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}

// clampFloat32 clamps v to [-1.0, 1.0].
func clampFloat32(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

func (ae *AudioEngine) captureLoop(buf []float32) {
	pcm := make([]int16, FrameSize)
	var speaking bool

	for ae.running.Load() {
		if err := ae.captureStream.Read(); err != nil {
			if ae.running.Load() {
				log.Printf("[audio] capture read: %v", err)
			}
			return
		}

		select {
		case clipFrame := <-ae.clipCh:
			for i, s := range clipFrame {
				buf[i] = clampFloat32(buf[i] + s)
			}
		default:
		}

		if ae.aecEnabled.Load() {
			ae.aecProc.Process(buf)
		}

		preGateRMS := ae.gateProc.Process(buf)
		ae.inputLevel.Store(math.Float32bits(preGateRMS))

		ae.mu.Lock()
		nc := ae.nc
		ae.mu.Unlock()
		var ncProb float32
		if nc != nil {
			nc.Process(buf)
			ncProb = nc.VADProbability()
		}

		if ae.agcEnabled.Load() {
			ae.agcProc.Process(buf)
		}

		rms := vad.RMS(buf)

		// Push-to-talk gate: when PTT mode is enabled, only encode and send
		// while the PTT key is held.
		if ae.pttMode.Load() && !ae.pttActive.Load() {
			ae.setSpeaking(&speaking, false)
			continue
		}

		var open bool
		if ae.pttMode.Load() {
			open = true
		} else {
			// Energy hysteresis is the primary gate; RNNoise's own speech
			// probability (when a canceller is attached) can additionally
			// hold the gate open through a quiet consonant the energy VAD
			// alone would otherwise close on.
			open = ae.vadProc.Process(rms, 20) || ncProb > 0.5
		}
		ae.setSpeaking(&speaking, open && !ae.muted.Load())
		if !open {
			continue
		}

		for i, s := range buf {
			pcm[i] = int16(clampFloat32(s) * 32767)
		}

		encoded, err := ae.encoder.Encode(pcm)
		if err != nil {
			log.Printf("[audio] encode: %v", err)
			continue
		}

		if ae.testMode.Load() {
			select {
			case ae.PlaybackIn <- mumbleproto.VoicePacket{Session: 0, Sequence: ae.seq.Add(1), Frames: [][]byte{encoded}}:
			default:
			}
		} else if !ae.muted.Load() {
			select {
			case ae.CaptureOut <- encoded:
			default:
				ae.captureDropped.Add(1)
			}
		}
	}
}

func (ae *AudioEngine) setSpeaking(prev *bool, now bool) {
	if now == *prev {
		return
	}
	*prev = now
	if ae.OnSpeaking != nil {
		ae.OnSpeaking(now)
	}
}

func (ae *AudioEngine) playbackLoop(buf []float32) {
	decoders := make(map[uint32]opusDecoder)
	speakingUntil := make(map[uint32]time.Time)
	speakingNow := make(map[uint32]bool)

	for {
		select {
		case <-ae.stopCh:
			return
		default:
		}

	drain:
		for {
			select {
			case vp := <-ae.PlaybackIn:
				for i, f := range vp.Frames {
					stats := ae.jb.Push(vp.Session, vp.Sequence+uint64(i), f)
					if ae.metrics != nil {
						ae.metrics.RxLateFramesDropped.Add(uint64(stats.LateDropped))
						ae.metrics.RxGapEvents.Add(uint64(stats.GapEvents))
					}
				}
			default:
				break drain
			}
		}

		zeroFloat32(buf)

		if !ae.deafened.Load() {
			sources := make(map[uint32][]float32)
			for _, frame := range ae.jb.Tick() {
				dec, ok := decoders[frame.SessionID]
				if !ok {
					d, err := codec.NewDecoder()
					if err != nil {
						log.Printf("[audio] create decoder for session %d: %v", frame.SessionID, err)
						continue
					}
					dec = d
					decoders[frame.SessionID] = dec
				}
				if frame.ResetDecoder {
					dec.Reset()
					if ae.metrics != nil {
						ae.metrics.DecoderResets.Add(1)
					}
				}

				var pcm []int16
				var err error
				switch {
				case frame.Silence:
					continue // no contribution this tick
				case frame.OpusData != nil:
					pcm, err = dec.Decode(frame.OpusData)
				default:
					pcm, err = dec.PLC()
					if ae.metrics != nil {
						ae.metrics.RxPLCFrames.Add(1)
					}
				}
				if err != nil {
					log.Printf("[audio] decode session %d: %v", frame.SessionID, err)
					continue
				}

				pf := make([]float32, len(pcm))
				for i, s := range pcm {
					pf[i] = float32(s) / 32768.0
				}
				if ae.UserVolumeFunc != nil {
					scale := float32(ae.UserVolumeFunc(frame.SessionID))
					for i := range pf {
						pf[i] *= scale
					}
				}
				sources[frame.SessionID] = pf
			}

			now := time.Now()
			for session, pf := range sources {
				if peakAmplitude(pf) <= speakingPeakThreshold {
					continue
				}
				speakingUntil[session] = now.Add(speakingHoldoff)
				if !speakingNow[session] {
					speakingNow[session] = true
					if ae.OnPeerSpeaking != nil {
						ae.OnPeerSpeaking(session, true)
					}
				}
			}
			for session, until := range speakingUntil {
				if speakingNow[session] && now.After(until) {
					speakingNow[session] = false
					delete(speakingUntil, session)
					if ae.OnPeerSpeaking != nil {
						ae.OnPeerSpeaking(session, false)
					}
				}
			}

			mixed := ae.mix.Mix(sources)
			if ae.metrics != nil {
				ae.metrics.MixerNaNSamples.Store(ae.mix.NaNSamples())
			}
			copy(buf, mixed)
			if len(sources) > 0 && len(mixed) < len(buf) && ae.metrics != nil {
				ae.metrics.OutputUnderflowEvts.Add(1)
			}
		}

		select {
		case notifFrame := <-ae.notifCh:
			ns := math.Float32frombits(ae.notifScale.Load())
			for i, s := range notifFrame {
				buf[i] = clampFloat32(buf[i] + s*ns)
			}
		default:
		}

		ae.aecProc.FeedFarEnd(buf)

		if err := ae.playbackStream.Write(); err != nil {
			if ae.running.Load() {
				log.Printf("[audio] playback write: %v", err)
			}
			return
		}
	}
}

// StartTest enables loopback test mode (capture goes directly to playback).
func (ae *AudioEngine) StartTest() error {
	ae.testMode.Store(true)
	return ae.Start()
}

// StopTest disables test mode and stops audio.
func (ae *AudioEngine) StopTest() {
	ae.testMode.Store(false)
	ae.Stop()
}

// SetMuted mutes or unmutes the microphone (stops sending audio).
func (ae *AudioEngine) SetMuted(muted bool) {
	ae.muted.Store(muted)
}

// SetDeafened enables or disables audio playback.
func (ae *AudioEngine) SetDeafened(deafened bool) {
	ae.deafened.Store(deafened)
}

// SetPTTMode enables or disables push-to-talk mode.
func (ae *AudioEngine) SetPTTMode(enabled bool) {
	ae.pttMode.Store(enabled)
	if !enabled {
		ae.pttActive.Store(false)
	}
}

// SetPTTActive sets whether the push-to-talk key is currently held.
func (ae *AudioEngine) SetPTTActive(active bool) {
	ae.pttActive.Store(active)
}

// IsPTTMode reports whether push-to-talk mode is enabled.
func (ae *AudioEngine) IsPTTMode() bool {
	return ae.pttMode.Load()
}

// IsPTTActive reports whether the PTT key is currently held.
func (ae *AudioEngine) IsPTTActive() bool {
	return ae.pttActive.Load()
}

// DroppedFrames returns and resets the capture and playback drop counters.
func (ae *AudioEngine) DroppedFrames() (capture, playback uint64) {
	return ae.captureDropped.Swap(0), ae.playbackDropped.Swap(0)
}

// AddPlaybackDrop increments the playback dropped-frame counter.
func (ae *AudioEngine) AddPlaybackDrop() {
	ae.playbackDropped.Add(1)
}

// EncodeFrame encodes a PCM int16 frame to Opus. Exported for testing.
func (ae *AudioEngine) EncodeFrame(pcm []int16) ([]byte, error) {
	return ae.encoder.Encode(pcm)
}

// PlayClip queues a decoded soundboard clip (48kHz mono float32) for mixing
// into the transmit path. Frames are chunked to FrameSize and dropped
// (not blocked) if the engine is not running or the queue is full.
func (ae *AudioEngine) PlayClip(pcm []float32) {
	if !ae.running.Load() || len(pcm) == 0 {
		return
	}
	stopCh := ae.stopCh
	clipCh := ae.clipCh
	go func() {
		for off := 0; off < len(pcm); off += FrameSize {
			end := off + FrameSize
			frame := make([]float32, FrameSize)
			if end > len(pcm) {
				copy(frame, pcm[off:])
			} else {
				copy(frame, pcm[off:end])
			}
			select {
			case <-stopCh:
				return
			case clipCh <- frame:
			default:
			}
		}
	}()
}
