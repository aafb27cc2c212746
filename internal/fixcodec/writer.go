package fixcodec

import (
	"bytes"
	"strconv"
	"time"
)

// TimeLayout is the FIX UTC timestamp format (yyyyMMdd-HH:mm:ss.SSS).
const TimeLayout = "20060102-15:04:05.000"

// FormatTime renders t as a FIX UTC timestamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Writer is a mutable builder for one outgoing message. Callers must add
// the standard header fields (49, 56, 34, 52) in that order before any
// body fields. Writer is not safe for concurrent use; each claimed/admin
// message has its own Writer or reused buffer.
type Writer struct {
	beginString string
	body        bytes.Buffer
}

// Begin starts a new message, writing MsgType(35) as the first body field.
func (w *Writer) Begin(beginString, msgType string) {
	w.beginString = beginString
	w.body.Reset()
	w.writeField(TagMsgType, msgType)
}

// Add appends a string-valued field.
func (w *Writer) Add(tag int, value string) {
	w.writeField(tag, value)
}

// AddInt appends an integer-valued field.
func (w *Writer) AddInt(tag int, value int) {
	w.writeField(tag, strconv.Itoa(value))
}

// AddChar appends a single-character field.
func (w *Writer) AddChar(tag int, value byte) {
	w.writeField(tag, string(value))
}

// AddBool appends a FIX boolean field ('Y'/'N').
func (w *Writer) AddBool(tag int, value bool) {
	if value {
		w.AddChar(tag, 'Y')
	} else {
		w.AddChar(tag, 'N')
	}
}

// AddTime appends a UTC-formatted timestamp field.
func (w *Writer) AddTime(tag int, t time.Time) {
	w.writeField(tag, FormatTime(t))
}

func (w *Writer) writeField(tag int, value string) {
	w.body.WriteString(strconv.Itoa(tag))
	w.body.WriteByte('=')
	w.body.WriteString(value)
	w.body.WriteByte(SOH)
}

// Finish computes BodyLength and CheckSum and returns the complete frame.
// The Writer may be reused for another message after Begin is called again.
func (w *Writer) Finish() []byte {
	bodyLen := w.body.Len()

	var header bytes.Buffer
	header.WriteString(strconv.Itoa(TagBeginString))
	header.WriteByte('=')
	header.WriteString(w.beginString)
	header.WriteByte(SOH)
	header.WriteString(strconv.Itoa(TagBodyLength))
	header.WriteByte('=')
	header.WriteString(strconv.Itoa(bodyLen))
	header.WriteByte(SOH)

	full := make([]byte, 0, header.Len()+bodyLen+7)
	full = append(full, header.Bytes()...)
	full = append(full, w.body.Bytes()...)

	sum := checksum(full)
	full = append(full, []byte("10=")...)
	full = append(full, []byte(formatChecksum(sum))...)
	full = append(full, SOH)

	return full
}

func formatChecksum(sum int) string {
	s := strconv.Itoa(sum)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
