// Package audioio wraps PortAudio device enumeration and stream lifecycle
// behind a small capability interface, so the audio engine depends on an
// interface it can fake in tests rather than directly on cgo-backed
// PortAudio streams.
package audioio

import (
	"github.com/gordonklaus/portaudio"
)

// Device describes one enumerated input or output device.
type Device struct {
	ID   int
	Name string
}

// Stream is the subset of a PortAudio stream the engine drives.
type Stream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// System is the capability interface the audio engine depends on. The real
// implementation is backed by PortAudio; tests substitute a fake.
type System interface {
	ListInputDevices() []Device
	ListOutputDevices() []Device
	OpenInputStream(deviceID int, sampleRate float64, frameSize int, buf []float32) (Stream, error)
	OpenOutputStream(deviceID int, sampleRate float64, frameSize int, buf []float32) (Stream, error)
}

// PortAudioSystem is the production System backed by the portaudio binding.
// Callers must have called portaudio.Initialize() before using it and
// portaudio.Terminate() on shutdown — the base spec treats PortAudio
// initialization as a process-lifetime concern owned by the host
// application, not this package.
type PortAudioSystem struct{}

func (PortAudioSystem) ListInputDevices() []Device {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

func (PortAudioSystem) ListOutputDevices() []Device {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

func listDevices(match func(*portaudio.DeviceInfo) bool) []Device {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil
	}
	var out []Device
	for i, d := range devices {
		if match(d) {
			out = append(out, Device{ID: i, Name: d.Name})
		}
	}
	return out
}

func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

func (PortAudioSystem) OpenInputStream(deviceID int, sampleRate float64, frameSize int, buf []float32) (Stream, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	dev, err := resolveDevice(devices, deviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, err
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	return portaudio.OpenStream(params, buf)
}

func (PortAudioSystem) OpenOutputStream(deviceID int, sampleRate float64, frameSize int, buf []float32) (Stream, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	dev, err := resolveDevice(devices, deviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, err
	}
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	return portaudio.OpenStream(params, buf)
}
