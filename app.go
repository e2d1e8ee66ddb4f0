package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/gordonklaus/portaudio"
	wailsrt "github.com/wailsapp/wails/v2/pkg/runtime"

	"parlay/internal/bus"
	"parlay/internal/config"
	"parlay/internal/engineerr"
	"parlay/internal/hotkey"
	"parlay/internal/metrics"
	"parlay/internal/mumbleproto"
	"parlay/internal/protocol"
	"parlay/internal/supervisor"
)

// App bridges the Go engine with the Wails/Vue frontend. Wails-bound methods
// (Connect, SendMessage, Set*) are callable from JS and map 1:1 onto the
// engine's command surface; engine events are re-emitted as Wails events
// under the same core/* names. Keep this struct thin — delegate to
// AudioEngine, protocol.Client and the Connection Supervisor.
type App struct {
	ctx context.Context

	audio      *AudioEngine
	soundboard *Soundboard
	metrics    *metrics.Registry
	hotkeySvc  *hotkey.Service

	cfgStore *config.Store
	cfgMu    sync.Mutex
	cfg      config.Config

	startupAddr string

	connMu     sync.RWMutex
	client     *protocol.Client
	sup        *supervisor.Supervisor
	supCancel  context.CancelFunc
	state      bus.ConnectionState
	nickname   string
	badgeCodes []string

	selfMu       sync.Mutex
	selfMuted    bool
	selfDeafened bool

	volMu       sync.RWMutex
	userVolumes map[uint32]float64

	speakingMu sync.RWMutex
	speaking   map[uint32]bool
}

var (
	buildCommit = "dev"
	buildTime   = ""
)

// BuildInfo contains local app build/runtime details shown in Settings > About.
type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	GOOS      string `json:"goos"`
	GOARCH    string `json:"goarch"`
	Dirty     bool   `json:"dirty"`
}

// NewApp creates a new App with a fresh audio engine and soundboard.
func NewApp() *App {
	m := &metrics.Registry{}
	audio := NewAudioEngine(m)
	return &App{
		audio:       audio,
		soundboard:  NewSoundboard(audio),
		metrics:     m,
		hotkeySvc:   hotkey.NewService(hotkey.NewGlobalKeySource()),
		cfg:         config.Default(),
		state:       bus.Disconnected,
		userVolumes: make(map[uint32]float64),
		speaking:    make(map[uint32]bool),
	}
}

// startup is called when the Wails app starts.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	if err := portaudio.Initialize(); err != nil {
		log.Printf("[app] portaudio init: %v", err)
	}

	store, err := config.NewStore()
	if err != nil {
		log.Printf("[app] config store: %v", err)
	} else {
		a.cfgStore = store
		if cfg, err := store.Load(); err != nil {
			log.Printf("[app] load config: %v", engineerr.NewConfigError("load persisted config", err))
			a.setConfig(config.Default())
		} else {
			a.setConfig(cfg)
		}
	}
	a.applyConfigToAudio(a.getConfig())

	a.audio.OnSpeaking = func(speaking bool) {
		session := a.selfSession()
		a.setSpeaking(session, speaking)
		if a.ctx == nil {
			return
		}
		wailsrt.EventsEmit(a.ctx, "core/speaking", bus.SpeakingEvent{UserID: session, Speaking: speaking})
	}
	a.audio.OnPeerSpeaking = func(session uint32, speaking bool) {
		a.setSpeaking(session, speaking)
		if a.ctx == nil {
			return
		}
		wailsrt.EventsEmit(a.ctx, "core/speaking", bus.SpeakingEvent{UserID: session, Speaking: speaking})
	}
}

// shutdown is called when the Wails app is closing.
func (a *App) shutdown(_ context.Context) {
	a.Disconnect()
	portaudio.Terminate()
}

// GetStartupAddr returns the host:port extracted from a parlay:// command-line
// argument passed when the app was launched (e.g. by clicking an invite link
// in a browser). Returns "" if no parlay:// argument was provided.
func (a *App) GetStartupAddr() string {
	return a.startupAddr
}

// GetBuildInfo returns application build/runtime details for diagnostics.
func (a *App) GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Commit:    buildCommit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.GoVersion != "" {
			info.GoVersion = bi.GoVersion
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" || info.Commit == "dev" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			}
		}
	}

	return info
}

// Bootstrap returns a snapshot of engine state for the frontend to render on
// first paint: persisted config, connection state, devices and self state.
type BootstrapSnapshot struct {
	Config     config.Config    `json:"config"`
	Connection bus.ConnectionState `json:"connection"`
	Devices    bus.DevicesEvent `json:"devices"`
	Self       bus.SelfEvent    `json:"self"`
}

// Bootstrap implements the `bootstrap` command.
func (a *App) Bootstrap() BootstrapSnapshot {
	return BootstrapSnapshot{
		Config:     a.getConfig(),
		Connection: a.connectionState(),
		Devices:    a.RefreshDevices(),
		Self:       a.selfState(),
	}
}

func (a *App) getConfig() config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

func (a *App) setConfig(cfg config.Config) {
	a.cfgMu.Lock()
	a.cfg = cfg
	a.cfgMu.Unlock()
}

// GetConfig returns the persisted user config.
func (a *App) GetConfig() config.Config {
	return a.getConfig()
}

// SaveConfig persists the given config and re-applies its audio-affecting
// fields to the running engine.
func (a *App) SaveConfig(cfg config.Config) string {
	a.setConfig(cfg)
	a.applyConfigToAudio(cfg)
	if a.cfgStore == nil {
		return ""
	}
	if err := a.cfgStore.Save(cfg); err != nil {
		cerr := engineerr.NewConfigError("save config", err)
		log.Printf("[app] %v", cerr)
		return cerr.Error()
	}
	return ""
}

func (a *App) applyConfigToAudio(cfg config.Config) {
	a.audio.SetVolume(cfg.OutputVolume)
	if cfg.VoiceQuality.BitrateKbps > 0 {
		a.audio.SetBitrate(cfg.VoiceQuality.BitrateKbps)
	}
	a.audio.SetPacketLoss(cfg.VoiceQuality.LossPerc)
	a.audio.SetPTTMode(cfg.PTTEnabled)
	if cfg.InputDevice != nil {
		a.audio.SetInputDevice(*cfg.InputDevice)
	}
	if cfg.OutputDevice != nil {
		a.audio.SetOutputDevice(*cfg.OutputDevice)
	}
}

// GetInputDevices returns available audio input devices.
func (a *App) GetInputDevices() []AudioDevice {
	return a.audio.ListInputDevices()
}

// GetOutputDevices returns available audio output devices.
func (a *App) GetOutputDevices() []AudioDevice {
	return a.audio.ListOutputDevices()
}

// RefreshDevices implements the `refresh_devices` command.
func (a *App) RefreshDevices() bus.DevicesEvent {
	in := a.audio.ListInputDevices()
	out := a.audio.ListOutputDevices()
	ev := bus.DevicesEvent{
		Inputs:  make([]bus.DeviceView, len(in)),
		Outputs: make([]bus.DeviceView, len(out)),
	}
	for i, d := range in {
		ev.Inputs[i] = bus.DeviceView{ID: d.ID, Name: d.Name}
	}
	for i, d := range out {
		ev.Outputs[i] = bus.DeviceView{ID: d.ID, Name: d.Name}
	}
	return ev
}

// SetInputDevice implements the `set_input_device` command.
func (a *App) SetInputDevice(deviceID int) {
	a.audio.SetInputDevice(deviceID)
}

// SetOutputDevice implements the `set_output_device` command.
func (a *App) SetOutputDevice(deviceID int) {
	a.audio.SetOutputDevice(deviceID)
}

// SetVolume sets playback master volume in the range [0.0, 1.0].
func (a *App) SetVolume(vol float64) {
	a.audio.SetVolume(vol)
}

// SetAudioBitrate sets the Opus target bitrate in kbps.
func (a *App) SetAudioBitrate(kbps int) {
	a.audio.SetBitrate(kbps)
}

// GetAudioBitrate returns the current Opus target bitrate in kbps.
func (a *App) GetAudioBitrate() int {
	return a.audio.CurrentBitrate()
}

// SetAEC enables or disables acoustic echo cancellation.
func (a *App) SetAEC(enabled bool) {
	a.audio.SetAEC(enabled)
}

// SetAGC enables or disables automatic gain control on the capture path.
func (a *App) SetAGC(enabled bool) {
	a.audio.SetAGC(enabled)
}

// SetNoiseGate enables or disables the hard noise gate on the capture path.
func (a *App) SetNoiseGate(enabled bool) {
	a.audio.SetNoiseGate(enabled)
}

// SetNoiseGateThreshold sets the noise gate threshold (0-100).
func (a *App) SetNoiseGateThreshold(level int) {
	a.audio.SetNoiseGateThreshold(level)
}

// SetNotificationVolume sets the notification/soundboard volume (0.0-1.0).
func (a *App) SetNotificationVolume(vol float64) {
	a.audio.SetNotificationVolume(float32(vol))
}

// GetNotificationVolume returns the notification volume (0.0-1.0).
func (a *App) GetNotificationVolume() float64 {
	return float64(a.audio.NotificationVolume())
}

// GetInputLevel returns the current mic input RMS level (0.0-1.0). Designed
// to be polled at ~15fps for the input level meter.
func (a *App) GetInputLevel() float64 {
	return float64(a.audio.InputLevel())
}

// StartTest starts the audio loopback test.
// Returns an error message string or "" on success (Wails JS binding convention).
func (a *App) StartTest() string {
	if err := a.audio.StartTest(); err != nil {
		return engineerr.NewAudioError("start loopback test", err).Error()
	}
	return ""
}

// StopTest stops the audio loopback test.
func (a *App) StopTest() {
	a.audio.StopTest()
}

func (a *App) setSpeaking(session uint32, speaking bool) {
	a.speakingMu.Lock()
	defer a.speakingMu.Unlock()
	if speaking {
		a.speaking[session] = true
	} else {
		delete(a.speaking, session)
	}
}

func (a *App) isSpeaking(session uint32) bool {
	a.speakingMu.RLock()
	defer a.speakingMu.RUnlock()
	return a.speaking[session]
}

func (a *App) clearSpeaking() {
	a.speakingMu.Lock()
	a.speaking = make(map[uint32]bool)
	a.speakingMu.Unlock()
}

// selfState snapshots the local self-state. Transmitting requires the PTT
// key held, not muted and connected; in continuous (voice-activity) mode it
// is always false.
func (a *App) selfState() bus.SelfEvent {
	a.selfMu.Lock()
	defer a.selfMu.Unlock()
	return bus.SelfEvent{
		Muted:      a.selfMuted,
		Deafened:   a.selfDeafened,
		PTTEnabled: a.audio.IsPTTMode(),
		Transmitting: a.audio.IsPTTMode() && a.audio.IsPTTActive() &&
			!a.selfMuted && a.connectionState() == bus.Connected,
	}
}

func (a *App) emitSelf() {
	if a.ctx == nil {
		return
	}
	wailsrt.EventsEmit(a.ctx, "core/self", a.selfState())
}

// SetMute implements the `set_mute` command.
func (a *App) SetMute(muted bool) {
	a.selfMu.Lock()
	changed := a.selfMuted != muted
	a.selfMuted = muted
	a.selfMu.Unlock()
	if !changed {
		return
	}
	a.audio.SetMuted(muted)
	if client := a.getClient(); client != nil {
		_ = client.SetMute(muted)
	}
	if muted {
		a.audio.PlayNotification(SoundMute)
	} else {
		a.audio.PlayNotification(SoundUnmute)
	}
	a.emitSelf()
}

// SetDeafen implements the `set_deafen` command. Deafening auto-mutes when
// auto_mute_on_deafen is set in the persisted config.
func (a *App) SetDeafen(deafened bool) {
	a.selfMu.Lock()
	changed := a.selfDeafened != deafened
	a.selfDeafened = deafened
	autoMute := deafened && a.getConfig().AutoMuteOnDeafen
	a.selfMu.Unlock()
	if !changed {
		return
	}
	a.audio.SetDeafened(deafened)
	if client := a.getClient(); client != nil {
		_ = client.SetDeafen(deafened)
	}
	if deafened {
		a.audio.PlayNotification(SoundMute)
	} else {
		a.audio.PlayNotification(SoundUnmute)
	}
	if autoMute {
		a.SetMute(true)
		return
	}
	a.emitSelf()
}

// SetPTT implements the `set_ptt` command.
func (a *App) SetPTT(enabled bool) {
	a.audio.SetPTTMode(enabled)
	a.emitSelf()
}

// SetPTTHotkey implements the `set_ptt_hotkey` command. Returns a
// CommandError message for an empty combination and "" otherwise: any error
// from Bind is treated as a fallback to focus-only PTT, logged and emitted
// as a `hotkey:error` event.
func (a *App) SetPTTHotkey(combo string) string {
	if combo == "" {
		return engineerr.NewCommandError("hotkey combination must not be empty").Error()
	}
	_, fallbackErr := a.hotkeySvc.Bind(combo,
		func() { a.audio.SetPTTActive(true) },
		func() { a.audio.SetPTTActive(false) },
	)
	if fallbackErr != nil {
		herr := engineerr.NewHotkeyError("global hotkey unavailable, using focus-only PTT", fallbackErr)
		log.Printf("[app] %v", herr)
		if a.ctx != nil {
			wailsrt.EventsEmit(a.ctx, "hotkey:error", herr.Error())
		}
	}
	return ""
}

// PTTKeyDown forwards a keydown event from the host window to the
// focus-scoped hotkey source. No-op if the event doesn't match the bound
// combination (matching is the host's responsibility).
func (a *App) PTTKeyDown() {
	a.hotkeySvc.Focus().KeyDown()
}

// PTTKeyUp forwards a keyup event from the host window.
func (a *App) PTTKeyUp() {
	a.hotkeySvc.Focus().KeyUp()
}

// SetUserVolume implements the `set_user_volume` command. Not persisted, per
// the base spec's per-user-volume Open Question resolution.
func (a *App) SetUserVolume(userID uint32, volume float64) {
	a.volMu.Lock()
	a.userVolumes[userID] = volume
	a.volMu.Unlock()
	a.audio.SetUserVolume(userID, volume)
}

// GetUserVolume returns the current local playback volume for a peer.
func (a *App) GetUserVolume(userID uint32) float64 {
	a.volMu.RLock()
	defer a.volMu.RUnlock()
	if v, ok := a.userVolumes[userID]; ok {
		return v
	}
	return 1.0
}

func (a *App) userVolume(userID uint32) float64 {
	return a.GetUserVolume(userID)
}

// ListClips implements the `list_clips` command.
func (a *App) ListClips() []SoundClip {
	return a.soundboard.List()
}

// ImportClip implements the `import_clip` command, decoding a WAV byte blob
// into a resident soundboard clip.
func (a *App) ImportClip(label, name string, data []byte) (string, string) {
	id, err := a.soundboard.Import(label, name, data)
	if err != nil {
		return "", engineerr.NewCommandError(err.Error()).Error()
	}
	return id, ""
}

// PlayClip implements the `play_clip` command. The clip is mixed into the
// transmit path, not local output, so remote peers hear it.
func (a *App) PlayClip(id string) string {
	if err := a.soundboard.Play(id); err != nil {
		return engineerr.NewCommandError(err.Error()).Error()
	}
	return ""
}

// DeleteClip implements the `delete_clip` command.
func (a *App) DeleteClip(id string) {
	a.soundboard.Delete(id)
}

func (a *App) getClient() *protocol.Client {
	a.connMu.RLock()
	defer a.connMu.RUnlock()
	return a.client
}

func (a *App) setClient(c *protocol.Client) {
	a.connMu.Lock()
	a.client = c
	a.connMu.Unlock()
}

func (a *App) selfSession() uint32 {
	if c := a.getClient(); c != nil {
		return c.Session()
	}
	return 0
}

func (a *App) connectionState() bus.ConnectionState {
	a.connMu.RLock()
	defer a.connMu.RUnlock()
	return a.state
}

func (a *App) setConnectionState(s supervisor.State, reason string) {
	var mapped bus.ConnectionState
	switch s {
	case supervisor.Connecting:
		mapped = bus.Connecting
	case supervisor.Connected:
		mapped = bus.Connected
	case supervisor.Reconnecting:
		mapped = bus.Reconnecting
	default:
		mapped = bus.Disconnected
	}
	a.connMu.Lock()
	a.state = mapped
	a.connMu.Unlock()

	if mapped != bus.Connected {
		a.audio.Stop()
	}

	if a.ctx == nil {
		return
	}
	wailsrt.EventsEmit(a.ctx, "core/connection", bus.ConnectionEvent{State: mapped, Reason: reason})
}

// Connect implements the `connect` command: it validates the nickname,
// starts the Connection Supervisor against the currently configured server
// endpoint, and returns immediately — connection progress is reported via
// core/connection events.
func (a *App) Connect(nickname string, badgeCodes []string) string {
	if nickname == "" {
		return engineerr.NewCommandError("nickname must not be empty").Error()
	}

	a.connMu.Lock()
	if a.sup != nil {
		a.connMu.Unlock()
		return ""
	}
	a.nickname = nickname
	a.badgeCodes = badgeCodes
	ctx, cancel := context.WithCancel(context.Background())
	sup := supervisor.New(a.dialOnce, a.setConnectionState, nil)
	a.sup = sup
	a.supCancel = cancel
	a.connMu.Unlock()

	go sup.Run(ctx)
	return ""
}

// Disconnect implements the `disconnect` command.
func (a *App) Disconnect() {
	a.connMu.Lock()
	sup := a.sup
	cancel := a.supCancel
	client := a.client
	a.sup = nil
	a.supCancel = nil
	a.connMu.Unlock()

	if sup != nil {
		sup.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Close()
	}
	a.audio.Stop()
	a.clearSpeaking()
}

// SetServerEndpoint implements the `set_server_endpoint` command. Takes
// effect on the next connect attempt.
func (a *App) SetServerEndpoint(host string, port int) string {
	if host == "" {
		return engineerr.NewCommandError("server host must not be empty").Error()
	}
	if port <= 0 || port > 65535 {
		port = 64738
	}
	cfg := a.getConfig()
	cfg.Server.Host = host
	cfg.Server.Port = port
	a.setConfig(cfg)
	return ""
}

// SendMessage implements the `send_message` command.
func (a *App) SendMessage(message string) string {
	if message == "" {
		return engineerr.NewCommandError("message must not be empty").Error()
	}
	if len(message) > 1024 {
		return engineerr.NewCommandError("message exceeds 1024 characters").Error()
	}
	client := a.getClient()
	if client == nil {
		return engineerr.NewCommandError("not connected").Error()
	}
	if err := client.SendText(message, nil); err != nil {
		return err.Error()
	}
	return ""
}

// dialOnce performs a single connection attempt against the configured
// server and blocks until the connection drops (expected lifetime of one
// supervisor.ConnectFunc invocation) or ctx is cancelled.
func (a *App) dialOnce(ctx context.Context) error {
	cfg := a.getConfig()
	a.connMu.RLock()
	nickname := a.nickname
	a.connMu.RUnlock()

	pcfg := protocol.Config{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Username: nickname,
		Password: cfg.Server.Password,
	}
	if cfg.Server.AllowInsecureTLS {
		pcfg.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec — explicit user opt-in for self-signed LAN servers
	}

	disconnectCh := make(chan string, 1)
	cb := protocol.Callbacks{
		OnRoster:  a.handleRoster,
		OnMessage: a.handleMessage,
		OnVoice: func(pkt mumbleproto.VoicePacket) {
			select {
			case a.audio.PlaybackIn <- pkt:
			default:
			}
		},
		OnDisconnect: func(reason string) {
			select {
			case disconnectCh <- reason:
			default:
			}
		},
	}

	client, err := protocol.Dial(ctx, pcfg, cb, a.metrics)
	if err != nil {
		var authErr *engineerr.AuthError
		if errors.As(err, &authErr) {
			return supervisor.Terminal(err)
		}
		return err
	}
	a.setClient(client)
	defer func() {
		a.setClient(nil)
		client.Close()
	}()

	a.onConnected(client, cfg)

	select {
	case <-ctx.Done():
		return nil
	case reason := <-disconnectCh:
		return fmt.Errorf("%s", reason)
	}
}

// onConnected restores self state, joins the configured default channel, and
// starts the audio pipeline. Runs once per successful handshake, including
// reconnects, per the base spec's §4.8 restore-on-reconnect rule.
func (a *App) onConnected(client *protocol.Client, cfg config.Config) {
	// dialOnce blocks for the whole session, so the supervisor cannot report
	// Connected until it returns; report it here once the handshake is done.
	a.setConnectionState(supervisor.Connected, "")

	a.selfMu.Lock()
	muted, deafened := a.selfMuted, a.selfDeafened
	a.selfMu.Unlock()

	if cfg.Server.DefaultChannel != "" {
		if err := client.JoinChannelByName(cfg.Server.DefaultChannel); err != nil {
			log.Printf("[app] join default channel %q: %v", cfg.Server.DefaultChannel, err)
		}
	}
	if muted {
		_ = client.SetMute(true)
	}
	if deafened {
		_ = client.SetDeafen(true)
	}

	if err := a.audio.Start(); err != nil {
		aerr := engineerr.NewAudioError("start audio pipeline", err)
		log.Printf("[app] %v", aerr)
		if a.ctx != nil {
			wailsrt.EventsEmit(a.ctx, "audio:error", aerr.Error())
		}
	}
	go a.sendLoop(client)
}

const sendFailureThreshold = 50

// sendLoop reads encoded Opus frames from the capture channel and forwards
// them over the voice plane. Exits when the audio engine stops or the given
// client is superseded by a reconnect.
func (a *App) sendLoop(client *protocol.Client) {
	done := a.audio.Done()
	var seq uint64
	var consecutiveErrors int
	for {
		select {
		case <-done:
			return
		case data, ok := <-a.audio.CaptureOut:
			if !ok {
				return
			}
			if a.getClient() != client {
				return
			}
			seq++
			if err := client.SendVoice(mumbleproto.VoiceTargetNormal, seq, [][]byte{data}); err != nil {
				consecutiveErrors++
				if consecutiveErrors == 1 {
					log.Printf("[app] send voice error: %v", err)
				}
				if consecutiveErrors >= sendFailureThreshold {
					log.Printf("[app] send voice: %d consecutive errors, disconnecting", consecutiveErrors)
					client.Close()
					return
				}
				continue
			}
			consecutiveErrors = 0
		}
	}
}

func (a *App) handleRoster(channels map[uint32]protocol.Channel, users map[uint32]protocol.User) {
	if a.ctx == nil {
		return
	}
	session := a.selfSession()
	self, ok := users[session]

	ev := bus.RosterEvent{Users: make([]bus.RosterUserView, 0, len(users))}
	if ok {
		if ch, ok := channels[self.ChannelID]; ok {
			ev.Channel = bus.ChannelView{ID: ch.ID, Name: ch.Name}
		}
	}
	a.connMu.RLock()
	selfBadges := a.badgeCodes
	a.connMu.RUnlock()

	for _, u := range users {
		view := bus.RosterUserView{
			ID:       u.Session,
			Name:     u.Name,
			Muted:    u.Mute || u.SelfMute,
			Deafened: u.Deaf || u.SelfDeaf,
			Speaking: a.isSpeaking(u.Session),
		}
		if u.Session == session {
			// Mumble's wire protocol has no field for the badge metadata the
			// base spec's `connect` command accepts, so only the self entry
			// carries it — peers never see each other's badge codes (see
			// DESIGN.md).
			view.BadgeCodes = selfBadges
		}
		ev.Users = append(ev.Users, view)
	}
	wailsrt.EventsEmit(a.ctx, "core/roster", ev)
}

func (a *App) handleMessage(actor uint32, actorName string, channelID *uint32, text string, ts int64) {
	if a.ctx == nil {
		return
	}
	ev := bus.MessageEvent{
		ActorSession: &actor,
		ActorName:    actorName,
		ChannelID:    channelID,
		Message:      text,
		TimestampMs:  ts,
	}
	wailsrt.EventsEmit(a.ctx, "core/message", ev)
}

// IsConnected reports whether the engine is currently in the Connected state.
func (a *App) IsConnected() bool {
	return a.connectionState() == bus.Connected
}

// GetMetrics returns a point-in-time snapshot of engine metrics.
func (a *App) GetMetrics() metrics.Snapshot {
	return a.metrics.Snapshot()
}
