package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// SoundClip is a decoded soundboard clip resident in memory (clip storage
// itself is out of scope; the engine only holds what import_clip supplies
// for the lifetime of the process).
type SoundClip struct {
	ID    string
	Label string
	Name  string
	pcm   []float32 // 48kHz mono
}

// Soundboard holds imported clips and plays them into an AudioEngine's
// transmit path.
type Soundboard struct {
	audio *AudioEngine

	mu    sync.RWMutex
	clips map[string]*SoundClip
}

// NewSoundboard returns an empty Soundboard bound to audio.
func NewSoundboard(audio *AudioEngine) *Soundboard {
	return &Soundboard{audio: audio, clips: make(map[string]*SoundClip)}
}

// Import decodes a WAV container into a resident clip and returns its id.
func (sb *Soundboard) Import(label, name string, data []byte) (string, error) {
	pcm, err := decodeWAV(data)
	if err != nil {
		return "", fmt.Errorf("import clip: %w", err)
	}
	id := uuid.NewString()
	sb.mu.Lock()
	sb.clips[id] = &SoundClip{ID: id, Label: label, Name: name, pcm: pcm}
	sb.mu.Unlock()
	return id, nil
}

// List returns metadata for every imported clip (no PCM payload).
func (sb *Soundboard) List() []SoundClip {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	out := make([]SoundClip, 0, len(sb.clips))
	for _, c := range sb.clips {
		out = append(out, SoundClip{ID: c.ID, Label: c.Label, Name: c.Name})
	}
	return out
}

// Play queues the clip's PCM for transmit-path mixing.
func (sb *Soundboard) Play(id string) error {
	sb.mu.RLock()
	c, ok := sb.clips[id]
	sb.mu.RUnlock()
	if !ok {
		return fmt.Errorf("play clip: unknown id %q", id)
	}
	sb.audio.PlayClip(c.pcm)
	return nil
}

// Delete discards a clip from memory.
func (sb *Soundboard) Delete(id string) {
	sb.mu.Lock()
	delete(sb.clips, id)
	sb.mu.Unlock()
}

// decodeWAV reads a WAV container and returns its samples as 48kHz mono
// float32 PCM. The file must be 48 kHz, mono, 16-bit PCM (format tag 1).
func decodeWAV(data []byte) ([]float32, error) {
	r := bytes.NewReader(data)

	var riff [4]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("read RIFF: %w", err)
	}
	if string(riff[:]) != "RIFF" {
		return nil, fmt.Errorf("not a RIFF file")
	}
	var chunkSize uint32
	binary.Read(r, binary.LittleEndian, &chunkSize)
	var wave [4]byte
	if _, err := io.ReadFull(r, wave[:]); err != nil {
		return nil, fmt.Errorf("read WAVE: %w", err)
	}
	if string(wave[:]) != "WAVE" {
		return nil, fmt.Errorf("not a WAVE file")
	}

	var (
		audioFormat   uint16
		numChannels   uint16
		sampleRateHz  uint32
		bitsPerSample uint16
		fmtFound      bool
	)

	for {
		var id [4]byte
		if _, err := io.ReadFull(r, id[:]); err != nil {
			break
		}
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			break
		}

		switch string(id[:]) {
		case "fmt ":
			binary.Read(r, binary.LittleEndian, &audioFormat)
			binary.Read(r, binary.LittleEndian, &numChannels)
			binary.Read(r, binary.LittleEndian, &sampleRateHz)
			var byteRate uint32
			binary.Read(r, binary.LittleEndian, &byteRate)
			var blockAlign uint16
			binary.Read(r, binary.LittleEndian, &blockAlign)
			binary.Read(r, binary.LittleEndian, &bitsPerSample)
			if size > 16 {
				io.CopyN(io.Discard, r, int64(size-16))
			}
			fmtFound = true

		case "data":
			if !fmtFound {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			if audioFormat != 1 {
				return nil, fmt.Errorf("WAV must be PCM (format 1, got %d)", audioFormat)
			}
			if numChannels != 1 {
				return nil, fmt.Errorf("WAV must be mono (got %d channels)", numChannels)
			}
			if sampleRateHz != uint32(sampleRate) {
				return nil, fmt.Errorf("WAV must be %d Hz (got %d Hz)", sampleRate, sampleRateHz)
			}
			if bitsPerSample != 16 {
				return nil, fmt.Errorf("WAV must be 16-bit (got %d-bit)", bitsPerSample)
			}
			samples := make([]int16, size/2)
			if err := binary.Read(r, binary.LittleEndian, samples); err != nil {
				return nil, fmt.Errorf("read samples: %w", err)
			}
			pcm := make([]float32, len(samples))
			for i, s := range samples {
				pcm[i] = float32(s) / 32768.0
			}
			return pcm, nil

		default:
			skip := int64(size)
			if size%2 != 0 {
				skip++
			}
			io.CopyN(io.Discard, r, skip)
			continue
		}

		if string(id[:]) == "fmt " && size%2 != 0 {
			io.CopyN(io.Discard, r, 1)
		}
	}

	return nil, fmt.Errorf("no data chunk found")
}
