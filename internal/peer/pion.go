package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/rs/zerolog"

	"github.com/ent0n29/codestudio/internal/protocol"
)

type PionConfig struct {
	ICEServers []string
	// Media tracks are attached to every connection. Without a
	// pion-backed track the connection only receives audio.
	Media *LocalMedia
	Log   zerolog.Logger
}

// NewPionTransportFactory builds one webrtc API shared by all connections.
func NewPionTransportFactory(cfg PionConfig) (TransportFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	settings := webrtc.SettingEngine{LoggerFactory: newPionLoggerFactory(cfg.Log)}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(settings))

	conf := webrtc.Configuration{}
	for _, url := range cfg.ICEServers {
		conf.ICEServers = append(conf.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}

	return func(remoteID string) (Transport, error) {
		return newPionTransport(api, conf, cfg.Media, cfg.Log.With().Str("remote_id", remoteID).Logger())
	}, nil
}

// PionTransport is a Transport over a pion PeerConnection. Remote candidates
// that arrive before the remote description are held back.
type PionTransport struct {
	pc  *webrtc.PeerConnection
	log zerolog.Logger

	mu          sync.Mutex
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	onCandidate func(protocol.ICECandidate)
	onState     func(ConnState)
}

func newPionTransport(api *webrtc.API, conf webrtc.Configuration, localMedia *LocalMedia, log zerolog.Logger) (*PionTransport, error) {
	pc, err := api.NewPeerConnection(conf)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	t := &PionTransport{pc: pc, log: log}

	attached := 0
	for _, track := range localMedia.Tracks() {
		pt, ok := track.(*PionTrack)
		if !ok {
			continue
		}
		sender, err := pc.AddTrack(pt.local)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add track %s: %w", pt.ID(), err)
		}
		attached++
		go drainRTCP(sender)
	}
	if attached == 0 {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add transceiver: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ci := c.ToJSON()
		t.mu.Lock()
		fn := t.onCandidate
		t.mu.Unlock()
		if fn != nil {
			fn(protocol.ICECandidate{
				Candidate:        ci.Candidate,
				SDPMid:           ci.SDPMid,
				SDPMLineIndex:    ci.SDPMLineIndex,
				UsernameFragment: ci.UsernameFragment,
			})
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.log.Debug().Str("state", s.String()).Msg("peer connection state")
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(connStateFromPion(s))
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.log.Info().Str("kind", remote.Kind().String()).Str("codec", remote.Codec().MimeType).Msg("remote track started")
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := remote.Read(buf); err != nil {
					return
				}
			}
		}()
	})
	return t, nil
}

func (t *PionTransport) CreateOffer() (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (t *PionTransport) CreateAnswer(offerSDP string) (string, error) {
	if err := t.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return "", err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (t *PionTransport) AcceptAnswer(answerSDP string) error {
	return t.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP})
}

func (t *PionTransport) AddICECandidate(c protocol.ICECandidate) error {
	ci := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
	t.mu.Lock()
	if !t.remoteSet {
		t.pending = append(t.pending, ci)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return t.pc.AddICECandidate(ci)
}

func (t *PionTransport) OnICECandidate(fn func(protocol.ICECandidate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCandidate = fn
}

func (t *PionTransport) OnStateChange(fn func(ConnState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *PionTransport) Close() error {
	t.mu.Lock()
	t.onCandidate = nil
	t.onState = nil
	t.mu.Unlock()
	return t.pc.Close()
}

func (t *PionTransport) setRemote(desc webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	t.mu.Lock()
	t.remoteSet = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, c := range pending {
		if err := t.pc.AddICECandidate(c); err != nil {
			t.log.Warn().Err(err).Msg("add buffered ice candidate")
		}
	}
	return nil
}

func connStateFromPion(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnClosed
	default:
		return ConnNew
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// PionTrack is an outgoing opus track. Until stopped it emits silence so the
// remote side sees a live stream.
type PionTrack struct {
	local *webrtc.TrackLocalStaticSample
	stop  chan struct{}
	once  sync.Once
}

// opus silence frame
var opusSilence = []byte{0xf8, 0xff, 0xfe}

func NewPionAudioTrack(id, streamID string) (*PionTrack, error) {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, streamID)
	if err != nil {
		return nil, err
	}
	return &PionTrack{local: local, stop: make(chan struct{})}, nil
}

func (t *PionTrack) ID() string   { return t.local.ID() }
func (t *PionTrack) Kind() string { return t.local.Kind().String() }

func (t *PionTrack) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Run writes 20ms silence frames until ctx ends or the track is stopped.
func (t *PionTrack) Run(ctx context.Context) {
	const frame = 20 * time.Millisecond
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			_ = t.local.WriteSample(media.Sample{Data: opusSilence, Duration: frame})
		}
	}
}
