package mumbleproto

// Version is sent by both peers immediately after the TLS handshake.
type Version struct {
	VersionV2 uint64 // packed client/server version, see PackVersion
	Release   string
	OS        string
	OSVersion string
}

// PackVersion packs a semantic version into Mumble's 64-bit scheme, from the
// high bits down: 16 bits major, 16 bits minor, 16 bits patch, 16 bits reserved.
func PackVersion(major, minor, patch uint16) uint64 {
	return uint64(major)<<48 | uint64(minor)<<32 | uint64(patch)<<16
}

func (v Version) Marshal() []byte {
	var w writer
	w.putUint64(5, v.VersionV2)
	w.putString(2, v.Release)
	w.putString(3, v.OS)
	w.putString(4, v.OSVersion)
	return w.buf
}

func UnmarshalVersion(buf []byte) (Version, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return Version{}, err
	}
	m := fieldsByNum(fs)
	return Version{
		VersionV2: firstUint64(m[5]),
		Release:   firstString(m[2]),
		OS:        firstString(m[3]),
		OSVersion: firstString(m[4]),
	}, nil
}

// Authenticate is the client login request.
type Authenticate struct {
	Username string
	Password string
	Tokens   []string
	Opus     bool
}

func (a Authenticate) Marshal() []byte {
	var w writer
	w.putString(1, a.Username)
	w.putString(2, a.Password)
	w.putRepeatedString(3, a.Tokens)
	w.putBool(5, a.Opus)
	return w.buf
}

// Ping carries round trip timing and running loss statistics.
type Ping struct {
	Timestamp  uint64
	Good       uint32
	Late       uint32
	Lost       uint32
	Resync     uint32
	UDPPackets uint32
	TCPPackets uint32
}

func (p Ping) Marshal() []byte {
	var w writer
	w.putUint64(1, p.Timestamp)
	w.putUint32(2, p.Good)
	w.putUint32(3, p.Late)
	w.putUint32(4, p.Lost)
	w.putUint32(5, p.Resync)
	w.putUint32(6, p.UDPPackets)
	w.putUint32(7, p.TCPPackets)
	return w.buf
}

func UnmarshalPing(buf []byte) (Ping, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return Ping{}, err
	}
	m := fieldsByNum(fs)
	return Ping{
		Timestamp:  firstUint64(m[1]),
		Good:       uint32(firstUint64(m[2])),
		Late:       uint32(firstUint64(m[3])),
		Lost:       uint32(firstUint64(m[4])),
		Resync:     uint32(firstUint64(m[5])),
		UDPPackets: uint32(firstUint64(m[6])),
		TCPPackets: uint32(firstUint64(m[7])),
	}, nil
}

// Reject is sent by the server in place of ServerSync when authentication or
// the handshake fails.
type Reject struct {
	Type   uint32
	Reason string
}

const (
	RejectNone               uint32 = 0
	RejectWrongVersion       uint32 = 1
	RejectInvalidUsername    uint32 = 2
	RejectWrongUserPW        uint32 = 3
	RejectWrongServerPW      uint32 = 4
	RejectUsernameInUse      uint32 = 5
	RejectServerFull         uint32 = 6
	RejectNoCertificate      uint32 = 7
	RejectAuthenticatorFail  uint32 = 8
)

func UnmarshalReject(buf []byte) (Reject, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return Reject{}, err
	}
	m := fieldsByNum(fs)
	return Reject{
		Type:   uint32(firstUint64(m[1])),
		Reason: firstString(m[2]),
	}, nil
}

// ServerSync is the final handshake message: it assigns the client's session
// id and signals that the roster/channel snapshot is complete.
type ServerSync struct {
	Session      uint32
	MaxBandwidth uint32
	WelcomeText  string
	Permissions  uint64
}

func UnmarshalServerSync(buf []byte) (ServerSync, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return ServerSync{}, err
	}
	m := fieldsByNum(fs)
	return ServerSync{
		Session:      uint32(firstUint64(m[1])),
		MaxBandwidth: uint32(firstUint64(m[2])),
		WelcomeText:  firstString(m[3]),
		Permissions:  firstUint64(m[4]),
	}, nil
}

// CryptSetup delivers the voice-plane session key and both endpoints' nonces.
type CryptSetup struct {
	Key         []byte
	ClientNonce []byte
	ServerNonce []byte
}

func UnmarshalCryptSetup(buf []byte) (CryptSetup, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return CryptSetup{}, err
	}
	m := fieldsByNum(fs)
	return CryptSetup{
		Key:         firstBytes(m[1]),
		ClientNonce: firstBytes(m[2]),
		ServerNonce: firstBytes(m[3]),
	}, nil
}

// CodecVersion announces the codec in use; this client requires Opus and
// otherwise ignores the message per the base spec.
type CodecVersion struct {
	Alpha       int32
	Beta        int32
	PreferAlpha bool
	Opus        bool
}

func UnmarshalCodecVersion(buf []byte) (CodecVersion, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return CodecVersion{}, err
	}
	m := fieldsByNum(fs)
	return CodecVersion{
		Alpha:       int32(firstUint64(m[1])),
		Beta:        int32(firstUint64(m[2])),
		PreferAlpha: firstBool(m[3]),
		Opus:        firstBool(m[4]),
	}, nil
}

// ChannelState describes one channel; a full tree arrives as a stream of
// these immediately after authentication.
type ChannelState struct {
	ChannelID   uint32
	HasParent   bool
	Parent      uint32
	Name        string
	Temporary   bool
	Position    int32
}

func UnmarshalChannelState(buf []byte) (ChannelState, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return ChannelState{}, err
	}
	m := fieldsByNum(fs)
	_, hasParent := m[2]
	return ChannelState{
		ChannelID: uint32(firstUint64(m[1])),
		HasParent: hasParent,
		Parent:    uint32(firstUint64(m[2])),
		Name:      firstString(m[3]),
		Temporary: firstBool(m[8]),
		Position:  int32(firstUint64(m[9])),
	}, nil
}

func (c ChannelState) Marshal() []byte {
	var w writer
	w.putUint32(1, c.ChannelID)
	if c.HasParent {
		w.putUint32(2, c.Parent)
	}
	w.putString(3, c.Name)
	w.putBool(8, c.Temporary)
	w.putInt32(9, c.Position)
	return w.buf
}

// ChannelRemove destroys a channel by id.
type ChannelRemove struct {
	ChannelID uint32
}

func UnmarshalChannelRemove(buf []byte) (ChannelRemove, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return ChannelRemove{}, err
	}
	m := fieldsByNum(fs)
	return ChannelRemove{ChannelID: uint32(firstUint64(m[1]))}, nil
}

// UserState carries both full user snapshots and incremental updates (mute,
// deafen, channel move, rename). Only the fields actually present on the wire
// are meaningful; HasX flags distinguish "false" from "absent".
type UserState struct {
	Session       uint32
	Actor         uint32
	Name          string
	HasChannelID  bool
	ChannelID     uint32
	HasMute       bool
	Mute          bool
	HasDeaf       bool
	Deaf          bool
	HasSelfMute   bool
	SelfMute      bool
	HasSelfDeaf   bool
	SelfDeaf      bool
}

func UnmarshalUserState(buf []byte) (UserState, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return UserState{}, err
	}
	m := fieldsByNum(fs)
	_, hasChan := m[5]
	_, hasMute := m[6]
	_, hasDeaf := m[7]
	_, hasSelfMute := m[9]
	_, hasSelfDeaf := m[10]
	return UserState{
		Session:      uint32(firstUint64(m[1])),
		Actor:        uint32(firstUint64(m[2])),
		Name:         firstString(m[3]),
		HasChannelID: hasChan,
		ChannelID:    uint32(firstUint64(m[5])),
		HasMute:      hasMute,
		Mute:         firstBool(m[6]),
		HasDeaf:      hasDeaf,
		Deaf:         firstBool(m[7]),
		HasSelfMute:  hasSelfMute,
		SelfMute:     firstBool(m[9]),
		HasSelfDeaf:  hasSelfDeaf,
		SelfDeaf:     firstBool(m[10]),
	}, nil
}

func (u UserState) Marshal() []byte {
	var w writer
	w.putUint32(1, u.Session)
	w.putUint32(2, u.Actor)
	w.putString(3, u.Name)
	if u.HasChannelID {
		w.putUint32(5, u.ChannelID)
	}
	if u.HasMute {
		w.tag(6, wireVarint)
		if u.Mute {
			w.varint(1)
		} else {
			w.varint(0)
		}
	}
	if u.HasDeaf {
		w.tag(7, wireVarint)
		if u.Deaf {
			w.varint(1)
		} else {
			w.varint(0)
		}
	}
	for _, f := range []struct {
		num      uint64
		has, val bool
	}{{9, u.HasSelfMute, u.SelfMute}, {10, u.HasSelfDeaf, u.SelfDeaf}} {
		if f.has {
			w.tag(f.num, wireVarint)
			if f.val {
				w.varint(1)
			} else {
				w.varint(0)
			}
		}
	}
	return w.buf
}

// UserRemove destroys a roster entry, optionally a kick/ban with a reason.
type UserRemove struct {
	Session uint32
	Actor   uint32
	Reason  string
	Ban     bool
}

func UnmarshalUserRemove(buf []byte) (UserRemove, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return UserRemove{}, err
	}
	m := fieldsByNum(fs)
	return UserRemove{
		Session: uint32(firstUint64(m[1])),
		Actor:   uint32(firstUint64(m[2])),
		Reason:  firstString(m[3]),
		Ban:     firstBool(m[4]),
	}, nil
}

func (u UserRemove) Marshal() []byte {
	var w writer
	w.putUint32(1, u.Session)
	w.putString(3, u.Reason)
	return w.buf
}

// TextMessage is a chat message, possibly addressed to sessions, channels or
// whole channel trees.
type TextMessage struct {
	Actor      uint32
	Sessions   []uint32
	ChannelIDs []uint32
	Message    string
}

func UnmarshalTextMessage(buf []byte) (TextMessage, error) {
	fs, err := parseFields(buf)
	if err != nil {
		return TextMessage{}, err
	}
	m := fieldsByNum(fs)
	return TextMessage{
		Actor:      uint32(firstUint64(m[1])),
		Sessions:   repeatedUint32(m[2]),
		ChannelIDs: repeatedUint32(m[3]),
		Message:    firstString(m[5]),
	}, nil
}

func (t TextMessage) Marshal() []byte {
	var w writer
	w.putRepeatedUint32(2, t.Sessions)
	w.putRepeatedUint32(3, t.ChannelIDs)
	w.putString(5, t.Message)
	return w.buf
}
