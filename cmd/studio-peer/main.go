package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/ent0n29/codestudio/internal/logging"
	"github.com/ent0n29/codestudio/internal/peer"
	"github.com/ent0n29/codestudio/internal/reliability"
	"github.com/ent0n29/codestudio/internal/session"
	"github.com/ent0n29/codestudio/internal/signaling"
	"github.com/ent0n29/codestudio/internal/syncclient"
)

type options struct {
	server      string
	sessionID   string
	userID      string
	username    string
	create      bool
	language    string
	initialCode string
	token       string
	iceServers  []string
	interval    time.Duration
	timeout     time.Duration
	retries     int
	endOnExit   bool
	logLevel    string
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "studio-peer: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(opts.logLevel, "console")
	if err := run(opts, log); err != nil {
		log.Error().Err(err).Msg("studio-peer failed")
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("studio-peer", flag.ContinueOnError)
	fs.StringVar(&o.server, "server", "http://127.0.0.1:8080", "code studio base URL")
	fs.StringVar(&o.sessionID, "session", "", "session id to join")
	fs.StringVar(&o.userID, "user", "", "user id")
	fs.StringVar(&o.username, "name", "", "display name")
	fs.BoolVar(&o.create, "create", false, "create a new session instead of joining one")
	fs.StringVar(&o.language, "language", "", "language of a created session")
	fs.StringVar(&o.initialCode, "code", "", "initial code of a created session")
	fs.StringVar(&o.token, "token", "", "bearer token; a development token is requested when empty")
	fs.StringSliceVar(&o.iceServers, "ice", []string{"stun:stun.l.google.com:19302"}, "ICE server URLs")
	fs.DurationVar(&o.interval, "interval", 2*time.Second, "session poll interval")
	fs.DurationVar(&o.timeout, "timeout", 10*time.Second, "HTTP request timeout")
	fs.IntVar(&o.retries, "retries", 3, "reconnection attempts per peer")
	fs.BoolVar(&o.endOnExit, "end-on-exit", false, "end the session on exit (creator only)")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	o.server = strings.TrimRight(strings.TrimSpace(o.server), "/")
	if o.server == "" {
		return options{}, errors.New("--server is required")
	}
	if strings.TrimSpace(o.userID) == "" {
		return options{}, errors.New("--user is required")
	}
	if !o.create && strings.TrimSpace(o.sessionID) == "" {
		return options{}, errors.New("--session is required unless --create is set")
	}
	if o.create && o.sessionID != "" {
		return options{}, errors.New("--session and --create are mutually exclusive")
	}
	if o.retries < 0 {
		return options{}, errors.New("--retries must be >= 0")
	}
	if o.interval < 100*time.Millisecond {
		return options{}, errors.New("--interval must be at least 100ms")
	}
	return o, nil
}

func run(o options, log zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := syncclient.New(o.server, o.timeout)
	if o.token != "" {
		client.SetToken(o.token)
	} else if _, err := client.IssueToken(ctx, o.userID, o.username); err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	sessionID := o.sessionID
	if o.create {
		res, err := client.CreateSession(ctx, o.userID, o.username, session.Settings{
			InitialCode: o.initialCode,
			Language:    o.language,
		})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = res.SessionID
		log.Info().Str("session_id", sessionID).Str("link", res.ShareableLink).Msg("session created")
	} else {
		if _, err := client.Join(ctx, sessionID, o.userID, o.username); err != nil {
			return fmt.Errorf("join session: %w", err)
		}
		log.Info().Str("session_id", sessionID).Msg("joined session")
	}

	poller := syncclient.NewPoller(client, sessionID, o.userID, o.interval, logging.Component(log, "poller"))
	var lastVersion int64 = -1
	poller.OnUpdate(func(s syncclient.State) {
		if s.CodeVersion != lastVersion {
			lastVersion = s.CodeVersion
			log.Info().Int64("code_version", s.CodeVersion).Int("participants", len(s.Participants)).Msg("code updated")
		}
	})
	poller.Start(ctx)

	relay, err := signaling.Dial(ctx, o.server, sessionID, o.userID, client.Token(), logging.Component(log, "signaling"))
	if err != nil {
		poller.Stop()
		return fmt.Errorf("connect relay: %w", err)
	}
	defer relay.Close()

	mic, err := peer.NewPionAudioTrack("audio-"+o.userID, "studio-"+o.userID)
	if err != nil {
		poller.Stop()
		return fmt.Errorf("create audio track: %w", peer.ClassifyMediaError("microphone", err))
	}
	media := peer.NewLocalMedia(mic)
	go mic.Run(ctx)

	factory, err := peer.NewPionTransportFactory(peer.PionConfig{
		ICEServers: o.iceServers,
		Media:      media,
		Log:        logging.Component(log, "webrtc"),
	})
	if err != nil {
		poller.Stop()
		media.Release()
		return fmt.Errorf("webrtc init: %w", err)
	}

	mesh := peer.NewMesh(peer.MeshConfig{
		LocalID:      o.userID,
		Signaler:     relay,
		NewTransport: factory,
		Retry:        reliability.RetryPolicy{MaxAttempts: o.retries, Backoff: reliability.LinearBackoff(time.Second)},
		Media:        media,
		Log:          logging.Component(log, "peer"),
		OnStateChange: func(remoteID string, state peer.State, phase peer.Phase) {
			log.Info().Str("peer", remoteID).Str("state", string(state)).Str("phase", string(phase)).Msg("peer state")
		},
		OnError: func(remoteID string, err error) {
			log.Warn().Err(err).Str("peer", remoteID).Msg("peer gave up")
		},
	})
	meshDone := make(chan struct{})
	go func() {
		mesh.Run(ctx, relay.Events())
		close(meshDone)
	}()

	select {
	case <-ctx.Done():
	case <-relay.Done():
		log.Warn().Msg("relay connection closed")
	}

	cancel()
	<-meshDone
	mesh.Close()

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), o.timeout)
	defer leaveCancel()
	if o.endOnExit {
		poller.Stop()
		if err := client.End(leaveCtx, sessionID); err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		log.Info().Msg("session ended")
		return nil
	}
	if err := poller.Leave(leaveCtx); err != nil && !syncclient.IsNotFound(err) {
		return fmt.Errorf("leave session: %w", err)
	}
	log.Info().Msg("left session")
	return nil
}
