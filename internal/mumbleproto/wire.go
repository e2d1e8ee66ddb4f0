// Package mumbleproto implements the subset of the Mumble control-channel
// wire messages this engine actually speaks: Version, Authenticate,
// CryptSetup, CodecVersion, ChannelState, ChannelRemove, UserState,
// UserRemove, ServerSync, Ping, TextMessage and Reject.
//
// Mumble's real wire format is Protocol Buffers. No protobuf compiler runs as
// part of this build, so each message is hand-marshaled using the same wire
// encoding protoc would generate (tag = field<<3|wire_type varints, followed
// by a varint, a fixed64, or a length-delimited blob depending on wire type).
// Field numbers below match the upstream Mumble.proto definitions so this
// codec stays bit-compatible with a real Murmur server.
package mumbleproto

import (
	"encoding/binary"
	"errors"
)

// Type is a control-channel message type id, sent as the first two bytes of
// every framed message on the TLS stream.
type Type uint16

const (
	TypeVersion          Type = 0
	TypeUDPTunnel        Type = 1
	TypeAuthenticate     Type = 2
	TypePing             Type = 3
	TypeReject           Type = 4
	TypeServerSync       Type = 5
	TypeChannelRemove    Type = 6
	TypeChannelState     Type = 7
	TypeUserRemove       Type = 8
	TypeUserState        Type = 9
	TypeBanList          Type = 10
	TypeTextMessage      Type = 11
	TypePermissionDenied Type = 12
	TypeACL              Type = 13
	TypeQueryUsers       Type = 14
	TypeCryptSetup       Type = 15
	TypeContextActionAdd Type = 16
	TypeContextAction    Type = 17
	TypeUserList         Type = 18
	TypeVoiceTarget      Type = 19
	TypePermissionQuery  Type = 20
	TypeCodecVersion     Type = 21
	TypeUserStats        Type = 22
	TypeRequestBlob      Type = 23
	TypeServerConfig     Type = 24
)

const wireVarint = 0
const wireBytes = 2

var errTruncated = errors.New("mumbleproto: truncated message")

// field holds one decoded (field number, wire type, raw payload) triple.
// u64 holds the value of varint, fixed64 and fixed32 fields; raw holds the
// literal bytes of wireBytes fields.
type field struct {
	num  uint64
	wire uint64
	u64  uint64
	raw  []byte
}

func parseFields(buf []byte) ([]field, error) {
	var out []field
	for len(buf) > 0 {
		tag, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errTruncated
		}
		buf = buf[n:]
		num := tag >> 3
		wire := tag & 0x7
		switch wire {
		case wireVarint:
			v, n := binary.Uvarint(buf)
			if n <= 0 {
				return nil, errTruncated
			}
			buf = buf[n:]
			out = append(out, field{num: num, wire: wire, u64: v})
		case wireBytes:
			ln, n := binary.Uvarint(buf)
			if n <= 0 {
				return nil, errTruncated
			}
			buf = buf[n:]
			if uint64(len(buf)) < ln {
				return nil, errTruncated
			}
			out = append(out, field{num: num, wire: wire, raw: buf[:ln]})
			buf = buf[ln:]
		case 1: // fixed64
			if len(buf) < 8 {
				return nil, errTruncated
			}
			out = append(out, field{num: num, wire: wire, u64: binary.LittleEndian.Uint64(buf[:8])})
			buf = buf[8:]
		case 5: // fixed32
			if len(buf) < 4 {
				return nil, errTruncated
			}
			out = append(out, field{num: num, wire: wire, u64: uint64(binary.LittleEndian.Uint32(buf[:4]))})
			buf = buf[4:]
		default:
			return nil, errors.New("mumbleproto: unsupported wire type")
		}
	}
	return out, nil
}

type writer struct {
	buf []byte
}

func (w *writer) tag(num uint64, wire uint64) {
	w.varint((num << 3) | wire)
}

func (w *writer) varint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

func (w *writer) putUint64(num uint64, v uint64) {
	if v == 0 {
		return
	}
	w.tag(num, wireVarint)
	w.varint(v)
}

func (w *writer) putUint32(num uint64, v uint32) {
	w.putUint64(num, uint64(v))
}

func (w *writer) putBool(num uint64, v bool) {
	if !v {
		return
	}
	w.tag(num, wireVarint)
	w.varint(1)
}

func (w *writer) putInt32(num uint64, v int32) {
	if v == 0 {
		return
	}
	w.tag(num, wireVarint)
	w.varint(uint64(uint32(v)))
}

func (w *writer) putString(num uint64, v string) {
	if v == "" {
		return
	}
	w.putBytes(num, []byte(v))
}

func (w *writer) putBytes(num uint64, v []byte) {
	if len(v) == 0 {
		return
	}
	w.tag(num, wireBytes)
	w.varint(uint64(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *writer) putRepeatedUint32(num uint64, vs []uint32) {
	for _, v := range vs {
		w.tag(num, wireVarint)
		w.varint(uint64(v))
	}
}

func (w *writer) putRepeatedString(num uint64, vs []string) {
	for _, v := range vs {
		w.putBytes(num, []byte(v))
	}
}

func fieldsByNum(fs []field) map[uint64][]field {
	m := make(map[uint64][]field, len(fs))
	for _, f := range fs {
		m[f.num] = append(m[f.num], f)
	}
	return m
}

func firstString(fs []field) string {
	if len(fs) == 0 {
		return ""
	}
	return string(fs[0].raw)
}

func firstBytes(fs []field) []byte {
	if len(fs) == 0 {
		return nil
	}
	return fs[0].raw
}

func firstUint64(fs []field) uint64 {
	if len(fs) == 0 {
		return 0
	}
	return fs[0].u64
}

func firstBool(fs []field) bool {
	return firstUint64(fs) != 0
}

func repeatedUint32(fs []field) []uint32 {
	if len(fs) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(fs))
	for _, f := range fs {
		out = append(out, uint32(f.u64))
	}
	return out
}

func repeatedString(fs []field) []string {
	if len(fs) == 0 {
		return nil
	}
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, string(f.raw))
	}
	return out
}
