package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// VersionMarker is the fixed first header byte of every frame.
	VersionMarker = 0x11

	// MsgTypeEvent carries control events with an optional payload.
	MsgTypeEvent = 0x1
	// MsgTypeAudio carries raw audio bytes scoped to a session.
	MsgTypeAudio = 0xB
	// MsgTypeError carries a vendor error code and message.
	MsgTypeError = 0xF

	flagHasEvent = 0x4

	// SerializationRaw marks an opaque payload.
	SerializationRaw = 0x0
	// SerializationJSON marks a JSON payload.
	SerializationJSON = 0x1

	// CompressionNone marks an uncompressed payload.
	CompressionNone = 0x0
	// CompressionGzip marks a gzip-compressed payload.
	CompressionGzip = 0x1

	headerSize = 4
)

// Event identifies a control event on the vendor connection.
type Event uint32

const (
	EventConnectionOpen     Event = 1
	EventConnectionFinish   Event = 2
	EventConnectionStarted  Event = 50
	EventConnectionFailed   Event = 51
	EventConnectionFinished Event = 52
	EventSessionStart       Event = 100
	EventSessionCancel      Event = 101
	EventSessionFinish      Event = 102
	EventSessionStarted     Event = 150
	EventSessionCanceled    Event = 151
	EventSessionFinished    Event = 152
	EventSessionFailed      Event = 153
	EventTaskRequest        Event = 200
	EventSentenceStart      Event = 350
	EventSentenceEnd        Event = 351
	EventSynthesisAudio     Event = 352
	EventRecognitionResult  Event = 450
)

// Valid reports whether the event code belongs to the known set.
func (e Event) Valid() bool {
	switch e {
	case EventConnectionOpen, EventConnectionFinish,
		EventConnectionStarted, EventConnectionFailed, EventConnectionFinished,
		EventSessionStart, EventSessionCancel, EventSessionFinish,
		EventSessionStarted, EventSessionCanceled, EventSessionFinished, EventSessionFailed,
		EventTaskRequest,
		EventSentenceStart, EventSentenceEnd, EventSynthesisAudio,
		EventRecognitionResult:
		return true
	default:
		return false
	}
}

// ConnectionScoped reports whether the event carries a connection id
// instead of a session id.
func (e Event) ConnectionScoped() bool {
	switch e {
	case EventConnectionOpen, EventConnectionFinish,
		EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	default:
		return false
	}
}

// String executes the string method.
func (e Event) String() string {
	switch e {
	case EventConnectionOpen:
		return "connection-open"
	case EventConnectionFinish:
		return "connection-finish"
	case EventConnectionStarted:
		return "connection-started"
	case EventConnectionFailed:
		return "connection-failed"
	case EventConnectionFinished:
		return "connection-finished"
	case EventSessionStart:
		return "session-start"
	case EventSessionCancel:
		return "session-cancel"
	case EventSessionFinish:
		return "session-finish"
	case EventSessionStarted:
		return "session-started"
	case EventSessionCanceled:
		return "session-canceled"
	case EventSessionFinished:
		return "session-finished"
	case EventSessionFailed:
		return "session-failed"
	case EventTaskRequest:
		return "task-request"
	case EventSentenceStart:
		return "sentence-start"
	case EventSentenceEnd:
		return "sentence-end"
	case EventSynthesisAudio:
		return "synthesis-audio-response"
	case EventRecognitionResult:
		return "recognition-result"
	default:
		return fmt.Sprintf("event(%d)", uint32(e))
	}
}

// Frame is a decoded vendor frame.
type Frame struct {
	Type         byte
	Event        Event
	ConnectionID string
	SessionID    string
	Payload      []byte
	ErrorCode    uint32
	Message      string
}

var (
	// ErrFrameTooShort reports a truncated frame.
	ErrFrameTooShort = errors.New("voice codec: frame too short")
	// ErrBadVersion reports an unexpected version marker.
	ErrBadVersion = errors.New("voice codec: bad version marker")
	// ErrUnknownEvent reports an event code outside the known set.
	ErrUnknownEvent = errors.New("voice codec: unknown event code")
	// ErrUnknownType reports an unsupported message type.
	ErrUnknownType = errors.New("voice codec: unknown message type")
)

// EncodeEvent builds an event frame. Connection-scoped events carry the
// connection id, session-scoped events the session id; ids may be empty.
func EncodeEvent(event Event, connectionID string, sessionID string, payload []byte, compress bool) []byte {
	compression := byte(CompressionNone)
	body := payload
	if compress && len(payload) > 0 {
		body = gzipBytes(payload)
		compression = CompressionGzip
	}

	id := sessionID
	if event.ConnectionScoped() {
		id = connectionID
	}

	buf := make([]byte, 0, headerSize+4+4+len(id)+4+len(body))
	buf = append(buf, header(MsgTypeEvent, flagHasEvent, SerializationJSON, compression)...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(event))
	buf = appendChunk(buf, []byte(id))
	buf = appendChunk(buf, body)
	return buf
}

// EncodeAudio builds an audio-data frame for one session.
func EncodeAudio(event Event, sessionID string, audio []byte) []byte {
	buf := make([]byte, 0, headerSize+4+4+len(sessionID)+4+len(audio))
	buf = append(buf, header(MsgTypeAudio, flagHasEvent, SerializationRaw, CompressionNone)...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(event))
	buf = appendChunk(buf, []byte(sessionID))
	buf = appendChunk(buf, audio)
	return buf
}

// EncodeError builds an error frame.
func EncodeError(code uint32, message string) []byte {
	buf := make([]byte, 0, headerSize+4+4+len(message))
	buf = append(buf, header(MsgTypeError, 0, SerializationRaw, CompressionNone)...)
	buf = binary.BigEndian.AppendUint32(buf, code)
	buf = appendChunk(buf, []byte(message))
	return buf
}

// Decode parses one vendor frame.
func Decode(frame []byte) (*Frame, error) {
	if len(frame) < headerSize {
		return nil, ErrFrameTooShort
	}
	if frame[0] != VersionMarker {
		return nil, fmt.Errorf("%w: 0x%02x", ErrBadVersion, frame[0])
	}
	msgType := frame[1] >> 4
	compression := frame[2] & 0x0F
	rest := frame[headerSize:]

	switch msgType {
	case MsgTypeEvent:
		return decodeEvent(rest, compression)
	case MsgTypeAudio:
		return decodeAudio(rest)
	case MsgTypeError:
		return decodeError(rest)
	default:
		return nil, fmt.Errorf("%w: 0x%x", ErrUnknownType, msgType)
	}
}

func decodeEvent(rest []byte, compression byte) (*Frame, error) {
	event, rest, err := readEvent(rest)
	if err != nil {
		return nil, err
	}
	id, rest, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	payload, _, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	if compression == CompressionGzip && len(payload) > 0 {
		payload, err = gunzipBytes(payload)
		if err != nil {
			return nil, fmt.Errorf("voice codec: gunzip payload: %w", err)
		}
	}

	out := &Frame{Type: MsgTypeEvent, Event: event, Payload: payload}
	if event.ConnectionScoped() {
		out.ConnectionID = string(id)
	} else {
		out.SessionID = string(id)
	}
	return out, nil
}

func decodeAudio(rest []byte) (*Frame, error) {
	event, rest, err := readEvent(rest)
	if err != nil {
		return nil, err
	}
	sessionID, rest, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	audio, _, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: MsgTypeAudio, Event: event, SessionID: string(sessionID), Payload: audio}, nil
}

func decodeError(rest []byte) (*Frame, error) {
	if len(rest) < 4 {
		return nil, ErrFrameTooShort
	}
	code := binary.BigEndian.Uint32(rest[:4])
	message, _, err := readChunk(rest[4:])
	if err != nil {
		return nil, err
	}
	return &Frame{Type: MsgTypeError, ErrorCode: code, Message: string(message)}, nil
}

func readEvent(rest []byte) (Event, []byte, error) {
	if len(rest) < 4 {
		return 0, nil, ErrFrameTooShort
	}
	event := Event(binary.BigEndian.Uint32(rest[:4]))
	if !event.Valid() {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownEvent, uint32(event))
	}
	return event, rest[4:], nil
}

func readChunk(rest []byte) ([]byte, []byte, error) {
	if len(rest) < 4 {
		return nil, nil, ErrFrameTooShort
	}
	size := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if size < 0 || size > len(rest) {
		return nil, nil, ErrFrameTooShort
	}
	return rest[:size], rest[size:], nil
}

func appendChunk(buf []byte, chunk []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(chunk)))
	return append(buf, chunk...)
}

func header(msgType byte, flags byte, serialization byte, compression byte) []byte {
	return []byte{
		VersionMarker,
		msgType<<4 | flags&0x0F,
		serialization<<4 | compression&0x0F,
		0x00,
	}
}

func gzipBytes(data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
