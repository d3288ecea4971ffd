package peer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/codestudio/internal/protocol"
)

func newTestMesh(t *testing.T, localID string, media *LocalMedia) (*Mesh, *fakeFactory, *fakeSignaler) {
	t.Helper()
	factory := newFakeFactory()
	signaler := newFakeSignaler()
	m := NewMesh(MeshConfig{
		LocalID:      localID,
		Signaler:     signaler,
		NewTransport: factory.New,
		Retry:        immediateRetry(3),
		Media:        media,
		Log:          zerolog.Nop(),
	})
	return m, factory, signaler
}

func waitPeers(t *testing.T, m *Mesh, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.PeerIDs()) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("peers = %v, want %d", m.PeerIDs(), want)
}

func TestMeshOffersToNewcomers(t *testing.T) {
	m, _, signaler := newTestMesh(t, "1", nil)
	defer m.Close()

	m.HandleEvent(protocol.UserJoined{Type: protocol.TypeUserJoined, SessionID: "S1", UserID: "1"})
	if ids := m.PeerIDs(); len(ids) != 0 {
		t.Fatalf("own join created peers %v", ids)
	}

	m.HandleEvent(protocol.UserJoined{Type: protocol.TypeUserJoined, SessionID: "S1", UserID: "2"})
	sent := signaler.next(t)
	if sent.To != "2" || sent.Signal.Type != protocol.SignalOffer {
		t.Fatalf("sent %+v, want offer to 2", sent)
	}

	m.HandleEvent(protocol.UserLeft{Type: protocol.TypeUserLeft, SessionID: "S1", UserID: "2"})
	waitPeers(t, m, 0)
}

func TestMeshAnswersOffersFromUnknownPeers(t *testing.T) {
	m, factory, signaler := newTestMesh(t, "2", nil)
	defer m.Close()

	// Answers and candidates from strangers are dropped.
	m.HandleEvent(signalEnvelope(t, "1", protocol.Signal{Type: protocol.SignalAnswer, SDP: "answer"}))
	if ids := m.PeerIDs(); len(ids) != 0 {
		t.Fatalf("answer from stranger created peers %v", ids)
	}

	m.HandleEvent(signalEnvelope(t, "1", protocol.Signal{Type: protocol.SignalOffer, SDP: "offer"}))
	sent := signaler.next(t)
	if sent.To != "1" || sent.Signal.Type != protocol.SignalAnswer {
		t.Fatalf("sent %+v, want answer to 1", sent)
	}
	tr := factory.next(t)
	tr.emit(ConnConnected)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && m.Peers()["1"] != StateConnected {
		time.Sleep(time.Millisecond)
	}
	if got := m.Peers()["1"]; got != StateConnected {
		t.Fatalf("peer state = %s, want connected", got)
	}
}

func TestMeshRunReleasesMediaOnExit(t *testing.T) {
	track := &fakeTrack{}
	media := NewLocalMedia(track)
	m, _, signaler := newTestMesh(t, "1", media)

	events := make(chan any, 4)
	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), events)
		close(done)
	}()

	events <- protocol.UserJoined{Type: protocol.TypeUserJoined, SessionID: "S1", UserID: "2"}
	signaler.next(t)
	close(events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after the event stream closed")
	}
	if track.Stopped() != 1 {
		t.Fatalf("track stopped %d times, want 1", track.Stopped())
	}
	if !media.Released() {
		t.Fatalf("media not released")
	}
	if ids := m.PeerIDs(); len(ids) != 0 {
		t.Fatalf("peers after close = %v", ids)
	}

	// A closed mesh ignores new members.
	m.HandleEvent(protocol.UserJoined{Type: protocol.TypeUserJoined, SessionID: "S1", UserID: "3"})
	if ids := m.PeerIDs(); len(ids) != 0 {
		t.Fatalf("closed mesh accepted peer: %v", ids)
	}
}
