package mumbleproto

import "encoding/binary"

// Voice codec identifiers packed into the high 3 bits of a voice packet
// header. Only Opus is emitted by this client; CELT/Speex values are kept so
// incoming packets from legacy peers can be recognised (and ignored).
const (
	CodecCELTAlpha byte = 0
	CodecPing      byte = 1
	CodecSpeex     byte = 2
	CodecCELTBeta  byte = 3
	CodecOpus      byte = 4
)

// VoiceTargetNormal addresses the current channel; higher values are whisper
// targets, unused by this client (see base spec §3).
const VoiceTargetNormal byte = 0

// EncodeVoiceHeader packs a header byte per Mumble's wire format:
// high 3 bits codec type, low 5 bits target.
func EncodeVoiceHeader(codec, target byte) byte {
	return (codec << 5) | (target & 0x1f)
}

// DecodeVoiceHeader splits a header byte into codec type and target.
func DecodeVoiceHeader(b byte) (codec, target byte) {
	return b >> 5, b & 0x1f
}

// PutUvarint appends a protobuf-style base-128 varint to buf, matching the
// variable-length integer encoding Mumble's voice packets use for session,
// sequence and per-frame length fields.
func PutUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// Uvarint reads a varint from buf, returning the value and the number of
// bytes consumed (0 on error).
func Uvarint(buf []byte) (uint64, int) {
	return binary.Uvarint(buf)
}

// VoicePacket is a parsed voice-plane payload (post AEAD, pre-jitter-buffer).
type VoicePacket struct {
	Codec    byte
	Target   byte
	Session  uint32 // ingress only; zero value on egress
	Sequence uint64
	Frames   [][]byte // one or more Opus frames, terminator-bit framed on the wire
}

// EncodeVoicePacket builds an outgoing (sessionless) voice packet: header,
// varint sequence, then each frame prefixed by a varint holding its 13-bit
// length, with bit 0x2000 set when more frames follow.
func EncodeVoicePacket(target byte, sequence uint64, frames [][]byte) []byte {
	buf := make([]byte, 0, 4+len(frames[0])*len(frames))
	buf = append(buf, EncodeVoiceHeader(CodecOpus, target))
	buf = PutUvarint(buf, sequence)
	for i, f := range frames {
		more := i != len(frames)-1
		length := uint64(len(f)) & 0x1fff
		if more {
			length |= 0x2000
		}
		buf = PutUvarint(buf, length)
		buf = append(buf, f...)
	}
	return buf
}

// DecodeVoicePacket parses an incoming voice-plane payload. withSession
// selects whether a leading varint session id is present (true for UDP and
// tunneled ingress per the base spec's VoicePacket model).
func DecodeVoicePacket(buf []byte, withSession bool) (VoicePacket, bool) {
	if len(buf) < 2 {
		return VoicePacket{}, false
	}
	codec, target := DecodeVoiceHeader(buf[0])
	buf = buf[1:]

	var vp VoicePacket
	vp.Codec = codec
	vp.Target = target

	if withSession {
		session, n := Uvarint(buf)
		if n <= 0 {
			return VoicePacket{}, false
		}
		vp.Session = uint32(session)
		buf = buf[n:]
	}

	seq, n := Uvarint(buf)
	if n <= 0 {
		return VoicePacket{}, false
	}
	vp.Sequence = seq
	buf = buf[n:]

	for len(buf) > 0 {
		lenField, n := Uvarint(buf)
		if n <= 0 {
			return VoicePacket{}, false
		}
		buf = buf[n:]
		length := int(lenField & 0x1fff)
		more := lenField&0x2000 != 0
		if length > len(buf) {
			return VoicePacket{}, false
		}
		vp.Frames = append(vp.Frames, buf[:length])
		buf = buf[length:]
		if !more {
			break
		}
	}
	return vp, true
}

// StopFrame is the marker frame sent on gate-close so the receiver can
// finalize a peer's utterance without waiting for a jitter timeout.
var StopFrame = []byte{0x80}

// IsStopFrame reports whether an Opus payload is the gate-close marker.
func IsStopFrame(frame []byte) bool {
	return len(frame) == 1 && frame[0] == 0x80
}
