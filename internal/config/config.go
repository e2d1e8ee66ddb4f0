// Package config manages the engine's persisted preferences. Settings are
// stored as a JSON blob at os.UserConfigDir()/parlay/config.json. Keys the
// engine does not model are preserved verbatim across a load/save cycle, so
// a newer client (or a hand-edited file) does not lose fields this build
// doesn't know about.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// VoiceQuality holds the codec tuning knobs persisted across sessions.
type VoiceQuality struct {
	BitrateKbps  int  `json:"bitrate"`
	LossPerc     int  `json:"loss_perc"`
	JitterTarget int  `json:"jitter_target"`
	JitterMax    int  `json:"jitter_max"`
	FEC          bool `json:"fec"`
}

// ServerConfig is the last-used (or explicitly saved) connection endpoint.
type ServerConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	Password         string `json:"password,omitempty"`
	DefaultChannel   string `json:"default_channel"`
	AllowInsecureTLS bool   `json:"allow_insecure_tls"`
}

// Config holds all persistent user preferences.
type Config struct {
	Nickname         string              `json:"nickname"`
	RememberMe       bool                `json:"remember_me"`
	PTTEnabled       bool                `json:"ptt_enabled"`
	PTTHotkey        string              `json:"ptt_hotkey"`
	InputDevice      *int                `json:"input_device,omitempty"`
	OutputDevice     *int                `json:"output_device,omitempty"`
	OutputVolume     float64             `json:"output_volume"`
	AutoMuteOnDeafen bool                `json:"auto_mute_on_deafen"`
	VoiceQuality     VoiceQuality        `json:"voice_quality"`
	Server           ServerConfig        `json:"server"`
	BadgeProfiles    map[string][]string `json:"badge_profiles"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		OutputVolume: 1.0,
		VoiceQuality: VoiceQuality{
			BitrateKbps:  40,
			LossPerc:     10,
			JitterTarget: 3,
			JitterMax:    12,
			FEC:          true,
		},
		Server: ServerConfig{
			Port:           64738,
			DefaultChannel: "Game Night",
		},
		BadgeProfiles: map[string][]string{},
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "parlay", "config.json"), nil
}

// Store loads and saves Config while preserving any JSON keys it does not
// model. It must not be copied after first use.
type Store struct {
	path  string
	extra map[string]json.RawMessage
}

// NewStore opens (without reading) the config store at the default path.
func NewStore() (*Store, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

// Load reads the config file, merging onto Default(). If the file is
// missing, the default config is returned with no error. If the file exists
// but is malformed, it is backed up to a ".corrupt" sibling and the default
// config is returned along with the original error for the caller to log as
// a ConfigError.
func (s *Store) Load() (Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Default(), err
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		backupCorrupt(s.path, data)
		return Default(), err
	}

	var extra map[string]json.RawMessage
	if err := json.Unmarshal(data, &extra); err == nil {
		s.extra = extra
	}

	return cfg, nil
}

func backupCorrupt(path string, data []byte) {
	_ = os.WriteFile(path+".corrupt", data, 0o600)
}

// Save writes cfg to disk, creating the directory if needed, re-merging the
// known fields into whatever extra keys were captured on Load so unknown
// fields survive the rewrite unchanged.
func (s *Store) Save(cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return err
	}

	known, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return err
	}

	merged := make(map[string]json.RawMessage, len(s.extra)+len(knownMap))
	for k, v := range s.extra {
		merged[k] = v
	}
	for k, v := range knownMap {
		merged[k] = v
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load is a convenience wrapper for callers that don't need unknown-field
// preservation across a single call (e.g. a one-shot CLI read). Prefer
// Store for anything that will also Save.
func Load() Config {
	store, err := NewStore()
	if err != nil {
		return Default()
	}
	cfg, err := store.Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Save is a convenience wrapper equivalent to NewStore().Save(cfg) without
// preserving unknown fields from a prior Load in the same process.
func Save(cfg Config) error {
	store, err := NewStore()
	if err != nil {
		return err
	}
	return store.Save(cfg)
}

// nowMillis returns the current wall-clock time in Unix milliseconds. Nothing
// in the module calls it.
func nowMillis() int64 { return time.Now().UnixMilli() }
