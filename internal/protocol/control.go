package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnrecognizedMessage is returned with an Unknown value when the
	// discriminant is missing or not one this build knows. Peers ignore such
	// messages so that mixed protocol versions keep talking.
	ErrUnrecognizedMessage = errors.New("unrecognized control message")

	// ErrMalformedControl is returned when the discriminant is known but a
	// field has the wrong type or is out of range.
	ErrMalformedControl = errors.New("malformed control message")
)

// Role is a peer's advertised role in a WhoAreYou response.
type Role string

const (
	RolePainter Role = "painter"
	RoleCanvas  Role = "canvas"
)

// Control is a decoded control message. The set of implementations is
// closed: WhoAreYou, Size, PullRequest, ErrorNotice and Unknown.
type Control interface {
	Tag() string
	control()
}

// WhoAreYou is the identity query (Role empty) or its response.
type WhoAreYou struct {
	Role Role
	Name string
	URL  string
}

// Query reports whether this is the relay's question rather than an answer.
func (m WhoAreYou) Query() bool { return m.Role == "" }

// Size announces the shared painter buffer dimensions.
type Size struct {
	W int
	H int
}

// Dimensions converts to the frame codec's form. Callers only see Size values
// that passed DecodeControl's range check.
func (m Size) Dimensions() Dimensions {
	return Dimensions{W: uint16(m.W), H: uint16(m.H)}
}

// PullRequest asks a painter (or, through the relay, the canvas) for pixels.
type PullRequest struct{}

// ErrorNotice is the relay's warning to a misbehaving peer. Naughty counts
// warnings so far; Final marks the last one before disconnection.
type ErrorNotice struct {
	Message string
	Naughty int
	Final   bool
}

// Unknown carries a message with a missing or unrecognized discriminant.
type Unknown struct {
	Msg    string
	Fields map[string]json.RawMessage
}

func (WhoAreYou) Tag() string   { return TagWhoAreYou }
func (Size) Tag() string        { return TagSize }
func (PullRequest) Tag() string { return TagPull }
func (ErrorNotice) Tag() string { return TagError }
func (m Unknown) Tag() string   { return m.Msg }

func (WhoAreYou) control()   {}
func (Size) control()        {}
func (PullRequest) control() {}
func (ErrorNotice) control() {}
func (Unknown) control()     {}

// --- Encoding ---

type whoAreYouWire struct {
	Msg  string `json:"msg"`
	Role Role   `json:"?,omitempty"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

type sizeWire struct {
	Msg string `json:"msg"`
	W   int    `json:"w"`
	H   int    `json:"h"`
}

type tagWire struct {
	Msg string `json:"msg"`
}

type errorWire struct {
	Msg     string `json:"msg"`
	Error   string `json:"error"`
	Naughty int    `json:"naughty"`
	Final   bool   `json:"final,omitempty"`
}

// EncodeControl renders msg as a JSON record tagged by "msg".
func EncodeControl(msg Control) ([]byte, error) {
	switch m := msg.(type) {
	case WhoAreYou:
		return json.Marshal(whoAreYouWire{Msg: TagWhoAreYou, Role: m.Role, Name: m.Name, URL: m.URL})
	case Size:
		if !inDimRange(m.W) || !inDimRange(m.H) {
			return nil, fmt.Errorf("%w: size %dx%d out of range", ErrMalformedControl, m.W, m.H)
		}
		return json.Marshal(sizeWire{Msg: TagSize, W: m.W, H: m.H})
	case PullRequest:
		return json.Marshal(tagWire{Msg: TagPull})
	case ErrorNotice:
		return json.Marshal(errorWire{Msg: TagError, Error: m.Message, Naughty: m.Naughty, Final: m.Final})
	default:
		return nil, fmt.Errorf("unsupported control message: %T", msg)
	}
}

// MustEncodeControl is EncodeControl for messages built from constants.
func MustEncodeControl(msg Control) []byte {
	b, err := EncodeControl(msg)
	if err != nil {
		panic(err)
	}
	return b
}

// --- Decoding ---

// DecodeControl parses a control record. On ErrUnrecognizedMessage the
// returned Control is an Unknown describing what arrived.
func DecodeControl(b []byte) (Control, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		// Early painter scripts exchanged bare tags instead of JSON.
		switch string(trimmed) {
		case TagWhoAreYou:
			return WhoAreYou{}, nil
		case TagPull:
			return PullRequest{}, nil
		}
		return Unknown{Msg: string(trimmed)}, fmt.Errorf("%w: not a JSON record", ErrUnrecognizedMessage)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Unknown{}, fmt.Errorf("%w: %v", ErrUnrecognizedMessage, err)
	}

	var tag string
	if raw, ok := fields["msg"]; ok {
		if err := json.Unmarshal(raw, &tag); err != nil {
			return Unknown{Fields: fields}, fmt.Errorf("%w: msg is not a string", ErrUnrecognizedMessage)
		}
	}

	switch tag {
	case TagWhoAreYou:
		var w whoAreYouWire
		if err := json.Unmarshal(trimmed, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		return WhoAreYou{Role: w.Role, Name: w.Name, URL: w.URL}, nil

	case TagSize:
		var s struct {
			W *int `json:"w"`
			H *int `json:"h"`
		}
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		if s.W == nil || s.H == nil {
			return nil, fmt.Errorf("%w: size without w and h", ErrMalformedControl)
		}
		if !inDimRange(*s.W) || !inDimRange(*s.H) {
			return nil, fmt.Errorf("%w: size %dx%d out of range", ErrMalformedControl, *s.W, *s.H)
		}
		return Size{W: *s.W, H: *s.H}, nil

	case TagPull:
		return PullRequest{}, nil

	case TagError:
		var e errorWire
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		return ErrorNotice{Message: e.Error, Naughty: e.Naughty, Final: e.Final}, nil

	case "":
		return Unknown{Fields: fields}, fmt.Errorf("%w: missing msg", ErrUnrecognizedMessage)

	default:
		return Unknown{Msg: tag, Fields: fields}, fmt.Errorf("%w: %q", ErrUnrecognizedMessage, tag)
	}
}

func inDimRange(v int) bool {
	return v >= 0 && v <= math.MaxUint16
}
