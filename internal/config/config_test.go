package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"parlay/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.OutputVolume != 1.0 {
		t.Errorf("expected output volume 1.0, got %v", cfg.OutputVolume)
	}
	if cfg.Server.Port != 64738 {
		t.Errorf("expected default Mumble port 64738, got %d", cfg.Server.Port)
	}
	if cfg.VoiceQuality.BitrateKbps != 40 {
		t.Errorf("expected default bitrate 40kbps, got %d", cfg.VoiceQuality.BitrateKbps)
	}
	if cfg.VoiceQuality.JitterTarget != 3 || cfg.VoiceQuality.JitterMax != 12 {
		t.Errorf("expected jitter target/max 3/12, got %d/%d", cfg.VoiceQuality.JitterTarget, cfg.VoiceQuality.JitterMax)
	}
	if cfg.PTTEnabled {
		t.Error("expected PTT disabled by default")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	input := 2
	cfg := config.Config{
		Nickname:     "alice",
		RememberMe:   true,
		PTTEnabled:   true,
		PTTHotkey:    "AltLeft",
		InputDevice:  &input,
		OutputVolume: 0.75,
		VoiceQuality: config.VoiceQuality{BitrateKbps: 24, LossPerc: 5, JitterTarget: 4, JitterMax: 10, FEC: true},
		Server: config.ServerConfig{
			Host:           "demo.example",
			Port:           64738,
			DefaultChannel: "Game Night",
		},
		BadgeProfiles: map[string][]string{"alice": {"party-parrot"}},
	}

	store, err := config.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := config.Load()
	if loaded.Nickname != cfg.Nickname {
		t.Errorf("nickname: want %q got %q", cfg.Nickname, loaded.Nickname)
	}
	if loaded.OutputVolume != cfg.OutputVolume {
		t.Errorf("volume: want %v got %v", cfg.OutputVolume, loaded.OutputVolume)
	}
	if loaded.PTTHotkey != cfg.PTTHotkey {
		t.Errorf("ptt hotkey: want %q got %q", cfg.PTTHotkey, loaded.PTTHotkey)
	}
	if loaded.InputDevice == nil || *loaded.InputDevice != 2 {
		t.Errorf("input device: want 2, got %+v", loaded.InputDevice)
	}
	if loaded.Server.Host != "demo.example" {
		t.Errorf("server host: want demo.example got %q", loaded.Server.Host)
	}
	if got := loaded.BadgeProfiles["alice"]; len(got) != 1 || got[0] != "party-parrot" {
		t.Errorf("badge profiles: unexpected value %+v", loaded.BadgeProfiles)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := config.Load()
	if cfg.Server.Port != 64738 {
		t.Error("expected default port from defaults")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "parlay", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json {{{"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Load()
	if cfg.Server.Port != 64738 {
		t.Errorf("expected default config on corrupt file, got %+v", cfg)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("expected corrupt backup file, got: %v", err)
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if err := config.Save(config.Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(dir, "parlay", "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}
}

func TestUnknownFieldsPreservedAcrossRewrite(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "parlay", "config.json")

	raw := map[string]json.RawMessage{
		"nickname":       json.RawMessage(`"bob"`),
		"future_feature": json.RawMessage(`{"flag":true}`),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(raw)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := config.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cfg, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Nickname = "bob-renamed"
	if err := store.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(rewritten, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["future_feature"]; !ok {
		t.Error("expected unknown key 'future_feature' to survive rewrite")
	}
	var nick string
	if err := json.Unmarshal(out["nickname"], &nick); err != nil || nick != "bob-renamed" {
		t.Errorf("expected rewritten nickname 'bob-renamed', got %q (err=%v)", nick, err)
	}
}
