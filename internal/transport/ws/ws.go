// Package ws implements the mediator's server-side WebSocket session of
// spec §4.6/§6.2/REDESIGN FLAGS: a three-way select loop over an inbound
// frame, an outbound streaming command, and a JWT-expiry timer, plus
// duplicate-session eviction.
//
// Grounded on internal/didcache/network.go's use of gorilla/websocket for
// the framing and watchdog shape (ping/pong, read-loop-in-a-goroutine
// feeding a channel), and on internal/mediator/stream.Bus for the
// did_hash -> live-session registration this package drives.
package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/affinidi-community/tdk-core/internal/mediator/stream"
	"github.com/affinidi-community/tdk-core/internal/obslog"
)

var logger = obslog.Logger("transport/ws")

const (
	// HeartbeatInterval is how often the server pings an idle connection.
	HeartbeatInterval = 30 * time.Second
	// PongWait is how long the server waits for a pong (or any read
	// activity) before considering the connection dead.
	PongWait = 60 * time.Second
)

// Handler processes one inbound frame (a packed envelope) and is supplied
// by the caller (the mediator's inbound pipeline).
type Handler func(ctx context.Context, frame []byte) error

// Options configures one session's limits.
type Options struct {
	// MaxFrameBytes is the read limit for one inbound frame, per spec §6.2.
	// A larger frame makes the read fail and Serve returns that error,
	// ending the session; the frame is not skipped on its own and no
	// warning is logged.
	MaxFrameBytes int64
}

// Serve runs one WebSocket session to completion: registers didHash with
// bus (evicting any prior session for that DID), reads inbound frames
// into handle, relays bus events as outbound frames, and tears down when
// ctx is cancelled (the JWT-expiry deadline the caller derives it from),
// the connection errors, or the session is evicted by a newer one.
//
// Serve blocks until the session ends and always closes conn before
// returning.
func Serve(ctx context.Context, conn *websocket.Conn, didHash string, bus *stream.Bus, handle Handler, opts Options) error {
	defer conn.Close()

	if opts.MaxFrameBytes > 0 {
		conn.SetReadLimit(opts.MaxFrameBytes)
	}

	events := bus.Register(didHash)

	evicted := false

	defer func() {
		if !evicted {
			bus.Unregister(didHash, events)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	inbound := make(chan []byte, 1)
	readErrs := make(chan error, 1)

	go readLoop(conn, inbound, readErrs)

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			sendClose(conn, "session expired")

			return ctx.Err()

		case err := <-readErrs:
			return err

		case frame := <-inbound:
			if err := handle(ctx, frame); err != nil {
				logger.Warn("inbound frame handling failed", "did_hash", didHash, "error", err)
			}

		case ev, ok := <-events:
			if !ok {
				// Channel closed without an EventClose: a newer session
				// evicted this one while its buffer was full, so the Close
				// event was dropped. The slot belongs to the newer session.
				evicted = true

				return nil
			}

			switch ev.Kind {
			case stream.EventClose:
				evicted = true
				sendClose(conn, ev.Reason)

				return nil
			case stream.EventDeliver:
				if err := conn.WriteMessage(websocket.TextMessage, ev.Envelope); err != nil {
					return fmt.Errorf("ws: write: %w", err)
				}
			}

		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return fmt.Errorf("ws: ping: %w", err)
			}
		}
	}
}

func readLoop(conn *websocket.Conn, inbound chan<- []byte, errs chan<- error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			errs <- err

			return
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		inbound <- data
	}
}

func sendClose(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(1*time.Second))
}
