package mumbleproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLength bounds a single control message payload. Real Murmur servers
// reject anything larger; this is a defensive read limit against a malformed
// or hostile peer.
const MaxFrameLength = 8 * 1024 * 1024

// HeaderLen is the length of the fixed type+length prefix on every framed
// control message.
const HeaderLen = 6

// WriteFrame writes a length-prefixed control message: 2-byte big-endian
// type, 4-byte big-endian payload length, then the payload.
func WriteFrame(w io.Writer, t Type, payload []byte) error {
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(t))
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed control message from r.
func ReadFrame(r io.Reader) (Type, []byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	t := Type(binary.BigEndian.Uint16(hdr[0:2]))
	ln := binary.BigEndian.Uint32(hdr[2:6])
	if ln > MaxFrameLength {
		return 0, nil, fmt.Errorf("mumbleproto: frame length %d exceeds max %d", ln, MaxFrameLength)
	}
	payload := make([]byte, ln)
	if ln > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return t, payload, nil
}
