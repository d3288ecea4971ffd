package peer

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/codestudio/internal/protocol"
	"github.com/ent0n29/codestudio/internal/reliability"
)

func immediateRetry(max int) reliability.RetryPolicy {
	return reliability.RetryPolicy{MaxAttempts: max, Backoff: reliability.NoBackoff()}
}

func TestReconnectionIsBoundedByRetryPolicy(t *testing.T) {
	factory := newFakeFactory()
	signaler := newFakeSignaler()
	errs := make(chan error, 1)

	s := NewSession(Config{
		LocalID:      "a",
		RemoteID:     "b",
		Signaler:     signaler,
		NewTransport: factory.New,
		Retry:        immediateRetry(3),
		Log:          zerolog.Nop(),
		OnError:      func(err error) { errs <- err },
	})
	defer s.Close()

	s.Offer()
	for i := 0; i < 4; i++ {
		tr := factory.next(t)
		waitState(t, s, StateNegotiating)
		tr.emit(ConnFailed)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("error = %v, want ErrRetriesExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no error surfaced after retries were exhausted")
	}

	waitState(t, s, StateFailed)
	if got := s.Attempts(); got != 3 {
		t.Fatalf("Attempts() = %d, want 3", got)
	}
	if got := factory.Count(); got != 4 {
		t.Fatalf("transports created = %d, want 4 (initial + 3 retries)", got)
	}

	// A failed session ignores further offers.
	s.HandleSignal(protocol.Signal{Type: protocol.SignalOffer, SDP: "late"})
	time.Sleep(20 * time.Millisecond)
	if got := factory.Count(); got != 4 {
		t.Fatalf("failed session built another transport")
	}
}

func TestConnectResetsFailureCount(t *testing.T) {
	factory := newFakeFactory()
	s := NewSession(Config{
		LocalID:      "a",
		RemoteID:     "b",
		Signaler:     newFakeSignaler(),
		NewTransport: factory.New,
		Retry:        immediateRetry(2),
		Log:          zerolog.Nop(),
	})
	defer s.Close()

	s.Offer()
	first := factory.next(t)
	waitState(t, s, StateNegotiating)
	first.emit(ConnFailed)

	second := factory.next(t)
	waitState(t, s, StateNegotiating)
	second.emit(ConnConnected)
	waitState(t, s, StateConnected)

	second.emit(ConnDisconnected)
	third := factory.next(t)
	waitState(t, s, StateNegotiating)
	third.emit(ConnFailed)

	factory.next(t)
	waitState(t, s, StateNegotiating)
	if got, _ := s.State(); got == StateFailed {
		t.Fatalf("session failed although the budget restarted after connecting")
	}
}

func TestOfferAnswerFlow(t *testing.T) {
	factoryA, factoryB := newFakeFactory(), newFakeFactory()
	sigA, sigB := newFakeSignaler(), newFakeSignaler()

	a := NewSession(Config{LocalID: "a", RemoteID: "b", Signaler: sigA, NewTransport: factoryA.New, Log: zerolog.Nop()})
	b := NewSession(Config{LocalID: "b", RemoteID: "a", Signaler: sigB, NewTransport: factoryB.New, Log: zerolog.Nop()})
	defer a.Close()
	defer b.Close()

	a.Offer()
	offer := sigA.next(t)
	if offer.To != "b" || offer.Signal.Type != protocol.SignalOffer {
		t.Fatalf("first signal = %+v, want offer to b", offer)
	}
	waitState(t, a, StateNegotiating)
	if _, phase := a.State(); phase != PhaseOfferSent {
		t.Fatalf("offerer phase = %s, want offer-sent", phase)
	}

	b.HandleSignal(offer.Signal)
	answer := sigB.next(t)
	if answer.To != "a" || answer.Signal.Type != protocol.SignalAnswer {
		t.Fatalf("answer = %+v", answer)
	}
	waitState(t, b, StateNegotiating)
	if _, phase := b.State(); phase != PhaseAnswerPending {
		t.Fatalf("answerer phase = %s, want answer-pending", phase)
	}
	trB := factoryB.next(t)
	if trB.remote() != "offer" {
		t.Fatalf("answerer remote sdp = %q", trB.remote())
	}

	a.HandleSignal(answer.Signal)
	trA := factoryA.next(t)
	deadline := time.Now().Add(2 * time.Second)
	for trA.remote() != "answer" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if trA.remote() != "answer" {
		t.Fatalf("offerer never accepted the answer")
	}

	trA.emit(ConnConnected)
	trB.emit(ConnConnected)
	waitState(t, a, StateConnected)
	waitState(t, b, StateConnected)
}

func TestReofferWhileAnswerPendingStartsFreshTransport(t *testing.T) {
	factory := newFakeFactory()
	signaler := newFakeSignaler()
	s := NewSession(Config{LocalID: "b", RemoteID: "a", Signaler: signaler, NewTransport: factory.New, Log: zerolog.Nop()})
	defer s.Close()

	s.HandleSignal(protocol.Signal{Type: protocol.SignalOffer, SDP: "offer-gen1"})
	if got := signaler.next(t); got.Signal.Type != protocol.SignalAnswer {
		t.Fatalf("first reply = %s, want answer", got.Signal.Type)
	}
	first := factory.next(t)

	s.HandleSignal(protocol.Signal{Type: protocol.SignalOffer, SDP: "offer-gen2"})
	if got := signaler.next(t); got.Signal.Type != protocol.SignalAnswer {
		t.Fatalf("second reply = %s, want answer", got.Signal.Type)
	}
	second := factory.next(t)

	if !first.isClosed() {
		t.Fatalf("first transport still open after re-offer")
	}
	if first.remote() != "offer-gen1" {
		t.Fatalf("first transport remote sdp = %q, want offer-gen1", first.remote())
	}
	if second.remote() != "offer-gen2" {
		t.Fatalf("second transport remote sdp = %q, want offer-gen2", second.remote())
	}
	if got := factory.Count(); got != 2 {
		t.Fatalf("transports created = %d, want 2", got)
	}

	// State callbacks from the replaced transport are stale.
	first.emit(ConnConnected)
	time.Sleep(20 * time.Millisecond)
	if state, phase := s.State(); state != StateNegotiating || phase != PhaseAnswerPending {
		t.Fatalf("state = %s/%s after stale callback, want negotiating/answer-pending", state, phase)
	}
	second.emit(ConnConnected)
	waitState(t, s, StateConnected)
}

func TestICECandidatesAreRelayedAndQueued(t *testing.T) {
	factory := newFakeFactory()
	signaler := newFakeSignaler()
	s := NewSession(Config{LocalID: "b", RemoteID: "a", Signaler: signaler, NewTransport: factory.New, Log: zerolog.Nop()})
	defer s.Close()

	// Candidate before any transport exists is held until one is built.
	s.HandleSignal(protocol.Signal{Type: protocol.SignalICECandidate, Candidate: &protocol.ICECandidate{Candidate: "candidate:early"}})
	s.HandleSignal(protocol.Signal{Type: protocol.SignalOffer, SDP: "offer"})

	tr := factory.next(t)
	signaler.next(t) // answer
	if got := tr.receivedCandidates(); got != 1 {
		t.Fatalf("queued candidates applied = %d, want 1", got)
	}

	tr.emitCandidate(protocol.ICECandidate{Candidate: "candidate:local"})
	out := signaler.next(t)
	if out.Signal.Type != protocol.SignalICECandidate || out.Signal.Candidate.Candidate != "candidate:local" {
		t.Fatalf("relayed signal = %+v", out)
	}

	s.HandleSignal(protocol.Signal{Type: protocol.SignalICECandidate, Candidate: &protocol.ICECandidate{Candidate: "candidate:late"}})
	deadline := time.Now().Add(2 * time.Second)
	for tr.receivedCandidates() != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := tr.receivedCandidates(); got != 2 {
		t.Fatalf("candidates = %d, want 2", got)
	}
}

func TestCollidingOffersResolveByID(t *testing.T) {
	factory := newFakeFactory()
	signaler := newFakeSignaler()
	low := NewSession(Config{LocalID: "a", RemoteID: "b", Signaler: signaler, NewTransport: factory.New, Log: zerolog.Nop()})
	defer low.Close()

	low.Offer()
	signaler.next(t)
	low.HandleSignal(protocol.Signal{Type: protocol.SignalOffer, SDP: "their offer"})
	time.Sleep(20 * time.Millisecond)
	if state, phase := low.State(); state != StateNegotiating || phase != PhaseOfferSent {
		t.Fatalf("lower id yielded: %s/%s", state, phase)
	}

	highFactory := newFakeFactory()
	highSignaler := newFakeSignaler()
	high := NewSession(Config{LocalID: "b", RemoteID: "a", Signaler: highSignaler, NewTransport: highFactory.New, Log: zerolog.Nop()})
	defer high.Close()

	high.Offer()
	highSignaler.next(t)
	first := highFactory.next(t)
	high.HandleSignal(protocol.Signal{Type: protocol.SignalOffer, SDP: "their offer"})
	answer := highSignaler.next(t)
	if answer.Signal.Type != protocol.SignalAnswer {
		t.Fatalf("higher id should answer, sent %s", answer.Signal.Type)
	}
	if !first.isClosed() {
		t.Fatalf("own offer transport was not discarded")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, phase := high.State(); phase == PhaseAnswerPending {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("higher id never reached answer-pending")
}

func TestCloseReleasesMediaAndTransport(t *testing.T) {
	factory := newFakeFactory()
	track := &fakeTrack{}
	s := NewSession(Config{
		LocalID:      "a",
		RemoteID:     "b",
		Signaler:     newFakeSignaler(),
		NewTransport: factory.New,
		Media:        NewLocalMedia(track),
		Log:          zerolog.Nop(),
	})

	s.Offer()
	tr := factory.next(t)
	waitState(t, s, StateNegotiating)

	s.Close()
	s.Close()
	if state, _ := s.State(); state != StateClosed {
		t.Fatalf("state = %s, want closed", state)
	}
	if !tr.isClosed() {
		t.Fatalf("transport not closed")
	}
	if track.Stopped() != 1 {
		t.Fatalf("track stopped %d times, want 1", track.Stopped())
	}

	// Events after close are ignored.
	tr.emit(ConnConnected)
	if state, _ := s.State(); state != StateClosed {
		t.Fatalf("state after late event = %s", state)
	}
}

func TestOfferFailureCountsAgainstBudget(t *testing.T) {
	factory := newFakeFactory()
	factory.failOffer = true
	errs := make(chan error, 1)
	s := NewSession(Config{
		LocalID:      "a",
		RemoteID:     "b",
		Signaler:     newFakeSignaler(),
		NewTransport: factory.New,
		Retry:        immediateRetry(1),
		Log:          zerolog.Nop(),
		OnError:      func(err error) { errs <- err },
	})
	defer s.Close()

	s.Offer()
	select {
	case err := <-errs:
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no error after failing offers")
	}
	if got := factory.Count(); got != 2 {
		t.Fatalf("transports = %d, want 2", got)
	}
}
