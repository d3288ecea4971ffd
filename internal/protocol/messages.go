package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies signaling channel payload variants.
type MessageType string

const (
	TypeUserJoined   MessageType = "user-joined"
	TypeUserLeft     MessageType = "user-left"
	TypeWebRTCSignal MessageType = "webrtc-signal"
	TypeErrorEvent   MessageType = "error"
)

// SignalType tags the payload carried inside a webrtc-signal message.
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidSignal   = errors.New("invalid signal")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// WebRTCSignal is relayed verbatim; the relay only reads To and stamps
// From and SessionID. Signal stays opaque on the server.
type WebRTCSignal struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to"`
	Signal    json.RawMessage `json:"signal"`
}

type UserJoined struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	UserID    string      `json:"userId"`
}

type UserLeft struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	UserID    string      `json:"userId"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Signal is the client-side view of a webrtc-signal payload.
type Signal struct {
	Type      SignalType    `json:"type"`
	SDP       string        `json:"sdp,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
}

func (s Signal) Validate() error {
	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrInvalidSignal, s.Type)
		}
	case SignalICECandidate:
		if s.Candidate == nil {
			return fmt.Errorf("%w: ice-candidate without candidate", ErrInvalidSignal)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSignal, s.Type)
	}
	return nil
}

func DecodeSignal(raw json.RawMessage) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// NewWebRTCSignal builds an outbound message addressed to peer "to".
func NewWebRTCSignal(to string, sig Signal) (WebRTCSignal, error) {
	if err := sig.Validate(); err != nil {
		return WebRTCSignal{}, err
	}
	raw, err := json.Marshal(sig)
	if err != nil {
		return WebRTCSignal{}, err
	}
	return WebRTCSignal{Type: TypeWebRTCSignal, To: to, Signal: raw}, nil
}

// ParseClientMessage decodes what a client may send to the relay.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeWebRTCSignal:
		var msg WebRTCSignal
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.To == "" || len(msg.Signal) == 0 || string(msg.Signal) == "null" {
			return nil, errors.New("invalid webrtc-signal")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ParseServerMessage decodes what the relay sends to a client.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeWebRTCSignal:
		var msg WebRTCSignal
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeUserJoined:
		var msg UserJoined
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeUserLeft:
		var msg UserLeft
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeErrorEvent:
		var msg ErrorEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf returns the message type of any known payload.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case WebRTCSignal:
		return m.Type, true
	case UserJoined:
		return m.Type, true
	case UserLeft:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
