// Package codec wraps Opus encode/decode for the engine's transmit and
// per-peer receive paths: 48 kHz mono, a configurable frame size (10/20/40/60
// ms), target bitrate, expected packet loss percentage and inband FEC on the
// encoder side; PLC (via a null-payload decode) and FEC-assisted recovery on
// the decoder side.
package codec

import "gopkg.in/hraban/opus.v2"

const (
	SampleRate = 48000
	Channels   = 1

	// FrameSamples20ms is the default frame size: 960 samples @ 48kHz.
	FrameSamples20ms = 960

	// DefaultBitrate matches the base spec's default encoder target.
	DefaultBitrate = 40000

	// MaxPacketBytes is the largest Opus packet RFC 6716 allows.
	MaxPacketBytes = 1275
)

// FrameSamples returns the sample count for a frame duration in ms at 48kHz.
func FrameSamples(durationMs int) int {
	return SampleRate / 1000 * durationMs
}

// Encoder wraps an Opus encoder for one transmit stream.
type Encoder struct {
	enc *opus.Encoder
}

// NewEncoder creates an encoder configured per the base spec's defaults:
// target bitrate 40kbps, inband FEC enabled, DTX disabled (VAD/gate already
// suppresses silence upstream).
func NewEncoder() (*Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if err := enc.SetBitrate(DefaultBitrate); err != nil {
		return nil, err
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, err
	}
	if err := enc.SetPacketLossPerc(10); err != nil {
		return nil, err
	}
	return &Encoder{enc: enc}, nil
}

// SetBitrate changes the target bitrate in bits/sec.
func (e *Encoder) SetBitrate(bps int) error { return e.enc.SetBitrate(bps) }

// SetPacketLossPerc informs the encoder of the expected network loss rate so
// it can tune inband FEC redundancy.
func (e *Encoder) SetPacketLossPerc(pct int) error { return e.enc.SetPacketLossPerc(pct) }

// SetInBandFEC toggles inband forward error correction.
func (e *Encoder) SetInBandFEC(on bool) error { return e.enc.SetInBandFEC(on) }

// Encode encodes one PCM16 frame (pcm must be FrameSamples(durationMs) long)
// and returns the Opus packet bytes.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	data := make([]byte, MaxPacketBytes)
	n, err := e.enc.Encode(pcm, data)
	if err != nil {
		return nil, err
	}
	return data[:n], nil
}

// Decoder wraps an Opus decoder for one peer session. One Decoder exists per
// active peer; Reset re-initializes decoder state after a long silence gap
// per the base spec's jitter buffer reset rule.
type Decoder struct {
	dec           *opus.Decoder
	frameSamples  int
}

// NewDecoder creates a decoder for 48kHz mono, defaulting to 20ms frames.
func NewDecoder() (*Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, err
	}
	return &Decoder{dec: dec, frameSamples: FrameSamples20ms}, nil
}

// Decode decodes an Opus packet into PCM16 samples.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	pcm := make([]int16, d.frameSamples)
	n, err := d.dec.Decode(packet, pcm)
	if err != nil {
		return nil, err
	}
	return pcm[:n], nil
}

// PLC synthesizes a frame of packet loss concealment audio standing in for a
// missing packet (a "null payload" decode per the base spec).
func (d *Decoder) PLC() ([]int16, error) {
	pcm := make([]int16, d.frameSamples)
	n, err := d.dec.Decode(nil, pcm)
	if err != nil {
		return nil, err
	}
	return pcm[:n], nil
}

// DecodeFEC recovers the previous (lost) frame using the inband FEC data
// carried in the current packet, if the encoder embedded any.
func (d *Decoder) DecodeFEC(currentPacket []byte) ([]int16, error) {
	pcm := make([]int16, d.frameSamples)
	if err := d.dec.DecodeFEC(currentPacket, pcm); err != nil {
		return nil, err
	}
	return pcm, nil
}

// Reset re-creates the underlying decoder state, used after an extended run
// of silent/PLC ticks so stale state does not leak into the next utterance.
func (d *Decoder) Reset() error {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return err
	}
	d.dec = dec
	return nil
}
