// Package fixcodec implements byte-level FIX tag=value framing: parsing
// streamed bytes into messages and assembling outgoing messages with the
// standard BeginString/BodyLength/CheckSum envelope.
package fixcodec

import (
	"strconv"
)

// SOH is the FIX field delimiter.
const SOH = 0x01

// Standard tag numbers referenced throughout the session layer.
const (
	TagBeginString         = 8
	TagBodyLength          = 9
	TagMsgType             = 35
	TagSenderCompID        = 49
	TagTargetCompID        = 56
	TagMsgSeqNum           = 34
	TagSendingTime         = 52
	TagCheckSum            = 10
	TagPossDupFlag         = 43
	TagTestReqID           = 112
	TagResetSeqNumFlag     = 141
	TagGapFillFlag         = 123
	TagNewSeqNo            = 36
	TagBeginSeqNo          = 7
	TagEndSeqNo            = 16
	TagRefSeqNum           = 45
	TagSessionRejectReason = 373
	TagText                = 58
	TagOrigSendingTime     = 122
	TagEncryptMethod       = 98
	TagHeartBtInt          = 108
	TagDefaultApplVerID    = 1137
)

// Admin message type codes recognized by the core session layer.
const (
	MsgTypeLogon          = "A"
	MsgTypeLogout         = "5"
	MsgTypeHeartbeat      = "0"
	MsgTypeTestRequest    = "1"
	MsgTypeResendRequest  = "2"
	MsgTypeReject         = "3"
	MsgTypeSequenceReset  = "4"
	MsgTypeBusinessReject = "j"
)

// SessionRejectReason values carried in tag 373 of Reject(35=3) messages.
type SessionRejectReason int

const (
	RejectInvalidTagNumber    SessionRejectReason = 0
	RejectRequiredTagMissing  SessionRejectReason = 1
	RejectValueIncorrect      SessionRejectReason = 5
	RejectCompIDProblem       SessionRejectReason = 9
	RejectSendingTimeAccuracy SessionRejectReason = 10
	RejectOther               SessionRejectReason = 99
)

// tagLoc is the (offset, length) of one field's value within a raw buffer.
type tagLoc struct {
	tag        int
	start, end int // value bytes, raw[start:end]
}

// IncomingMessage is a borrowed view over an internal byte buffer plus a
// decoded tag->(offset,length) index. Its lifetime is scoped to a single
// dispatch; callers must not retain it past release back to its pool.
type IncomingMessage struct {
	raw   []byte
	index []tagLoc
}

// NewIncomingMessage allocates a message view with the given initial capacity.
func NewIncomingMessage(cap int) *IncomingMessage {
	return &IncomingMessage{
		raw:   make([]byte, 0, cap),
		index: make([]tagLoc, 0, 64),
	}
}

// Reset clears the message for reuse by a pool, without releasing capacity.
func (m *IncomingMessage) Reset() {
	m.raw = m.raw[:0]
	m.index = m.index[:0]
}

// setRaw replaces the backing buffer with a copy of frame. Called once by
// the Reader after it has determined a complete frame is available.
func (m *IncomingMessage) setRaw(frame []byte) {
	m.raw = append(m.raw[:0], frame...)
}

// indexField records that tag's value occupies raw[start:end]. Called by
// the Reader while it walks the freshly-copied raw buffer.
func (m *IncomingMessage) indexField(tag, start, end int) {
	m.index = append(m.index, tagLoc{tag: tag, start: start, end: end})
}

// Has reports whether tag is present in the parsed message.
func (m *IncomingMessage) Has(tag int) bool {
	for _, l := range m.index {
		if l.tag == tag {
			return true
		}
	}
	return false
}

// GetString returns the raw string value of tag, if present.
func (m *IncomingMessage) GetString(tag int) (string, bool) {
	for _, l := range m.index {
		if l.tag == tag {
			return string(m.raw[l.start:l.end]), true
		}
	}
	return "", false
}

// GetInt returns tag's value parsed as an integer.
func (m *IncomingMessage) GetInt(tag int) (int, bool) {
	s, ok := m.GetString(tag)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetChar returns tag's value as a single character, if it is exactly one byte.
func (m *IncomingMessage) GetChar(tag int) (byte, bool) {
	s, ok := m.GetString(tag)
	if !ok || len(s) != 1 {
		return 0, false
	}
	return s[0], true
}

// GetBool interprets tag's value as a FIX boolean ('Y'/'N').
func (m *IncomingMessage) GetBool(tag int) (bool, bool) {
	c, ok := m.GetChar(tag)
	if !ok {
		return false, false
	}
	return c == 'Y', true
}

// MsgType returns tag 35, the message type, if present.
func (m *IncomingMessage) MsgType() string {
	s, _ := m.GetString(TagMsgType)
	return s
}

// MsgSeqNum returns tag 34, or 0 if absent or unparsable.
func (m *IncomingMessage) MsgSeqNum() int {
	n, _ := m.GetInt(TagMsgSeqNum)
	return n
}

// Raw returns the full byte frame this message was parsed from, including
// the BeginString/BodyLength header and CheckSum trailer.
func (m *IncomingMessage) Raw() []byte {
	return m.raw
}

// MaxTag returns the highest tag number present in the message, or 0 if it
// has no indexed fields.
func (m *IncomingMessage) MaxTag() int {
	max := 0
	for _, l := range m.index {
		if l.tag > max {
			max = l.tag
		}
	}
	return max
}
