package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vkotelnikov/duocall/internal/call"
	"github.com/vkotelnikov/duocall/internal/engine"
	"github.com/vkotelnikov/duocall/internal/engine/pion"
)

// Demo client: joins a room, calls as soon as a peer shows up (or answers
// when called) and optionally switches to screen share once the call is up.
func main() {
	var (
		serverURL   = flag.String("server", "ws://localhost:8080", "relay base URL")
		roomID      = flag.String("room", "", "room to join")
		name        = flag.String("name", "guest", "display name")
		shareScreen = flag.Duration("share-screen", 0, "switch to screen share this long after the call is active (0 disables)")
		stun        = flag.String("stun", "stun:stun.l.google.com:19302", "STUN server")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if *roomID == "" {
		log.Error("room is required")
		os.Exit(1)
	}

	// Hooks fire on the session's goroutine before Dial returns; commands
	// are issued from the loop below instead.
	paired := make(chan bool, 1)
	states := make(chan call.State, 16)

	hooks := call.Hooks{
		OnPaired: func(remoteID string, initiator bool) {
			log.Info("paired", slog.String("remote_id", remoteID), slog.Bool("initiator", initiator))
			select {
			case paired <- initiator:
			default:
			}
		},
		OnStateChange: func(st call.State) {
			select {
			case states <- st:
			default:
			}
		},
		OnRemoteTrack: func(t engine.RemoteTrack) {
			log.Info("remote track", slog.String("id", t.ID()), slog.String("kind", t.Kind()))
		},
		OnError: func(err error) {
			log.Error("session error", slog.Any("error", err))
		},
	}

	session, err := call.Dial(*serverURL, *roomID, *name, call.SessionOptions{
		Engine:             pion.New(),
		ICE:                engine.ICEConfig{STUNServers: []string{*stun}},
		NegotiationTimeout: 45 * time.Second,
		Log:                log,
		Hooks:              hooks,
	})
	if err != nil {
		log.Error("failed to dial relay", slog.Any("error", err))
		os.Exit(1)
	}
	defer session.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var shareTimer <-chan time.Time

	for {
		select {
		case initiator := <-paired:
			if initiator {
				session.Call()
			}

		case st := <-states:
			log.Info("call state", slog.String("state", st.String()))
			switch st {
			case call.StateIncomingPending:
				log.Info("incoming call, accepting")
				session.Accept()
			case call.StateActive:
				if *shareScreen > 0 && shareTimer == nil {
					shareTimer = time.After(*shareScreen)
				}
			case call.StateEnding:
				log.Info("call over")
				return
			}

		case <-shareTimer:
			log.Info("switching to screen share")
			session.ReplaceOutboundVideo(engine.SourceScreen)

		case <-quit:
			log.Info("shutting down")
			return
		}
	}
}
