package peer

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/codestudio/internal/protocol"
)

type fakeTransport struct {
	id int

	mu          sync.Mutex
	remoteSDP   string
	candidates  []protocol.ICECandidate
	closed      bool
	onState     func(ConnState)
	onCandidate func(protocol.ICECandidate)
	failOffer   bool
}

func (f *fakeTransport) CreateOffer() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOffer {
		return "", errors.New("offer failed")
	}
	return "offer", nil
}

func (f *fakeTransport) CreateAnswer(offerSDP string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteSDP = offerSDP
	return "answer", nil
}

func (f *fakeTransport) AcceptAnswer(answerSDP string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteSDP = answerSDP
	return nil
}

func (f *fakeTransport) AddICECandidate(c protocol.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(protocol.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeTransport) OnStateChange(fn func(ConnState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) emit(c ConnState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(c)
}

func (f *fakeTransport) emitCandidate(c protocol.ICECandidate) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	fn(c)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) remote() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteSDP
}

func (f *fakeTransport) receivedCandidates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

type fakeFactory struct {
	created chan *fakeTransport

	mu        sync.Mutex
	count     int
	failOffer bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{created: make(chan *fakeTransport, 16)}
}

func (f *fakeFactory) New(string) (Transport, error) {
	f.mu.Lock()
	f.count++
	t := &fakeTransport{id: f.count, failOffer: f.failOffer}
	f.mu.Unlock()
	f.created <- t
	return t, nil
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeFactory) next(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case tr := <-f.created:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatalf("no transport created")
		return nil
	}
}

type sentSignal struct {
	To     string
	Signal protocol.Signal
}

type fakeSignaler struct {
	sent chan sentSignal
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{sent: make(chan sentSignal, 64)}
}

func (f *fakeSignaler) SendSignal(to string, sig protocol.Signal) error {
	f.sent <- sentSignal{To: to, Signal: sig}
	return nil
}

func (f *fakeSignaler) next(t *testing.T) sentSignal {
	t.Helper()
	select {
	case s := <-f.sent:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("no signal sent")
		return sentSignal{}
	}
}

type fakeTrack struct {
	mu      sync.Mutex
	stopped int
}

func (f *fakeTrack) ID() string   { return "mic" }
func (f *fakeTrack) Kind() string { return "audio" }
func (f *fakeTrack) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeTrack) Stopped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := s.State(); got == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	got, phase := s.State()
	t.Fatalf("state = %s/%s, want %s", got, phase, want)
}

func signalEnvelope(t *testing.T, from string, sig protocol.Signal) protocol.WebRTCSignal {
	t.Helper()
	raw, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("marshal signal: %v", err)
	}
	return protocol.WebRTCSignal{Type: protocol.TypeWebRTCSignal, From: from, Signal: raw}
}
