package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageSignal(t *testing.T) {
	raw := []byte(`{"type":"webrtc-signal","to":"u2","from":"spoofed","signal":{"type":"offer","sdp":"v=0"}}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	sig, ok := msg.(WebRTCSignal)
	if !ok {
		t.Fatalf("message type = %T, want WebRTCSignal", msg)
	}
	if sig.To != "u2" {
		t.Fatalf("To = %q, want u2", sig.To)
	}
	decoded, err := DecodeSignal(sig.Signal)
	if err != nil {
		t.Fatalf("DecodeSignal() error = %v", err)
	}
	if decoded.Type != SignalOffer || decoded.SDP != "v=0" {
		t.Fatalf("unexpected signal: %+v", decoded)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"user-joined","userId":"u1"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsMissingTarget(t *testing.T) {
	cases := []string{
		`{"type":"webrtc-signal","signal":{"type":"offer","sdp":"x"}}`,
		`{"type":"webrtc-signal","to":"u2"}`,
		`{"type":"webrtc-signal","to":"u2","signal":null}`,
		`not json`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) expected error", raw)
		}
	}
}

func TestSignalValidate(t *testing.T) {
	mid := "0"
	cases := []struct {
		name string
		sig  Signal
		ok   bool
	}{
		{"offer", Signal{Type: SignalOffer, SDP: "v=0"}, true},
		{"answer without sdp", Signal{Type: SignalAnswer}, false},
		{"candidate", Signal{Type: SignalICECandidate, Candidate: &ICECandidate{Candidate: "candidate:1", SDPMid: &mid}}, true},
		{"candidate missing", Signal{Type: SignalICECandidate}, false},
		{"unknown", Signal{Type: "renegotiate"}, false},
	}
	for _, tc := range cases {
		err := tc.sig.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: Validate() error = %v, want ok=%v", tc.name, err, tc.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidSignal) {
			t.Fatalf("%s: error = %v, want ErrInvalidSignal", tc.name, err)
		}
	}
}

func TestParseServerMessageVariants(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"user-left","sessionId":"s1","userId":"u3"}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	left, ok := msg.(UserLeft)
	if !ok || left.UserID != "u3" {
		t.Fatalf("message = %#v, want UserLeft u3", msg)
	}
	if typ, ok := TypeOf(msg); !ok || typ != TypeUserLeft {
		t.Fatalf("TypeOf() = %q, %v", typ, ok)
	}

	msg, err = ParseServerMessage([]byte(`{"type":"error","sessionId":"s1","code":"peer_unavailable"}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	if ev, ok := msg.(ErrorEvent); !ok || ev.Code != "peer_unavailable" {
		t.Fatalf("message = %#v, want ErrorEvent", msg)
	}
}

func TestNewWebRTCSignalRoundTrip(t *testing.T) {
	out, err := NewWebRTCSignal("u9", Signal{Type: SignalAnswer, SDP: "v=0 answer"})
	if err != nil {
		t.Fatalf("NewWebRTCSignal() error = %v", err)
	}
	if out.Type != TypeWebRTCSignal || out.To != "u9" {
		t.Fatalf("unexpected envelope: %+v", out)
	}
	if _, err := NewWebRTCSignal("u9", Signal{Type: SignalOffer}); err == nil {
		t.Fatalf("expected validation error for offer without sdp")
	}
}

func BenchmarkParseClientMessageSignal(b *testing.B) {
	raw := []byte(`{"type":"webrtc-signal","to":"u2","signal":{"type":"ice-candidate","candidate":{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}}}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(WebRTCSignal); !ok {
			b.Fatalf("message type = %T, want WebRTCSignal", msg)
		}
	}
}
