// Package server wires the mediator's HTTP surface of spec §6.1: the
// inbound/WebSocket/OOB routes behind a rate-limit -> bearer-session ->
// body-size-limit middleware chain, built on net/http + http.ServeMux in
// the shape of the teacher's runtime/server/cmd/main.go lifecycle
// (graceful signal-driven shutdown), generalized from that package's gRPC
// server to a plain HTTP server since the mediator's wire protocol is
// HTTP/WebSocket, not gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/affinidi-community/tdk-core/internal/config"
	"github.com/affinidi-community/tdk-core/internal/mediator/auth"
	"github.com/affinidi-community/tdk-core/internal/mediator/handlers"
	"github.com/affinidi-community/tdk-core/internal/mediator/ratelimit"
	"github.com/affinidi-community/tdk-core/internal/mediator/store"
	"github.com/affinidi-community/tdk-core/internal/obslog"
	"github.com/affinidi-community/tdk-core/internal/transport/ws"
)

var logger = obslog.Logger("mediator/server")

// SessionAuthenticator validates a bearer token and returns the session
// it identifies, per spec §4.6 step 1.
type SessionAuthenticator interface {
	SessionFromBearer(ctx context.Context, token string) (*handlers.Session, error)
}

// Server is the mediator's HTTP/WebSocket front end. Handshake is the
// concrete *auth.Authenticator rather than an interface: its challenge
// and token responses are shaped wire types, not generic payloads, so
// there is nothing an interface boundary would usefully abstract here.
type Server struct {
	Pipeline  *handlers.Pipeline
	Store     store.Store
	Auth      SessionAuthenticator
	Handshake *auth.Authenticator
	RateLimit *ratelimit.Limiter
	Config    *config.MediatorConfig

	upgrader websocket.Upgrader
}

// New builds a Server and its http.ServeMux of routes.
func New(pipeline *handlers.Pipeline, st store.Store, authn SessionAuthenticator, handshake *auth.Authenticator, rl *ratelimit.Limiter, cfg *config.MediatorConfig) *Server {
	return &Server{
		Pipeline:  pipeline,
		Store:     st,
		Auth:      authn,
		Handshake: handshake,
		RateLimit: rl,
		Config:    cfg,
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// Routes builds the mux, per spec §6.1/§6.3.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/challenge", s.handleChallenge)
	mux.HandleFunc("/", s.handleAuthenticate)

	if s.Config == nil || s.Config.EnableHTTPEndpoint {
		mux.Handle("/inbound", s.chain("inbound", s.handleInbound))
		mux.Handle("/oob", s.chain("oob", s.handleOOB))
	}

	if s.Config == nil || s.Config.EnableWebSocketEndpoint {
		mux.Handle("/ws", s.chain("ws", s.handleWS))
	}

	return mux
}

// handleChallenge implements spec §6.3's `POST /challenge`.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")

		return
	}

	var req struct {
		DID string `json:"did"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "message.envelope.read", err.Error())

		return
	}

	resp, err := s.Handshake.Challenge(req.DID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")

		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleAuthenticate implements spec §6.3's `POST /` leg: the packed
// authenticate envelope answering a prior challenge.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/" {
		http.NotFound(w, r)

		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "message.envelope.read", err.Error())

		return
	}

	resp, err := s.Handshake.Authenticate(r.Context(), body)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication failed")

		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// chain applies rate-limit -> bearer-session -> body-size-limit, in that
// order, per spec §4.6/§5. /oob's GET path skips the bearer requirement
// since spec §6.1 declares that leg unauthenticated.
func (s *Server) chain(method string, next func(http.ResponseWriter, *http.Request, *handlers.Session)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientHint := r.RemoteAddr

		if s.RateLimit != nil && !s.RateLimit.Allow(clientHint, method) {
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")

			return
		}

		unauthenticated := r.URL.Path == "/oob" && r.Method == http.MethodGet

		var sess *handlers.Session

		if !unauthenticated {
			tok, ok := bearerToken(r)
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token")

				return
			}

			resolved, err := s.Auth.SessionFromBearer(r.Context(), tok)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid or expired session")

				return
			}

			resolved.ViaWebSocket = method == "ws"
			sess = resolved
		}

		if s.Config != nil && s.Config.Limits.WSSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, int64(s.Config.Limits.WSSize))
		}

		next(w, r, sess)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}

	return strings.TrimPrefix(h, "Bearer "), true
}

// handleInbound implements `POST /inbound`.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request, sess *handlers.Session) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")

		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "")

			return
		}

		writeError(w, r, http.StatusBadRequest, "message.envelope.read", err.Error())

		return
	}

	outcome, err := s.Pipeline.HandleInbound(r.Context(), *sess, body)
	if err != nil {
		logger.Warn("inbound pipeline failed", "session_id", sess.SessionID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")

		return
	}

	writeOutcome(w, sess, outcome)
}

// handleWS implements `GET /ws`.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, sess *handlers.Session) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)

		return
	}

	maxFrame := int64(0)
	if s.Config != nil {
		maxFrame = int64(s.Config.Limits.WSSize)
	}

	ctx := r.Context()

	if exp, ok := sessionExpiry(sess); ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithDeadline(r.Context(), exp)
		defer cancel()
	}

	handle := func(ctx context.Context, frame []byte) error {
		outcome, err := s.Pipeline.HandleInbound(ctx, *sess, frame)
		if err != nil || outcome.Reply == nil {
			return err
		}

		reply, merr := json.Marshal(outcome.Reply)
		if merr != nil {
			return merr
		}

		s.Pipeline.Stream.Relay(sess.DIDHash, reply)

		return nil
	}

	if err := ws.Serve(ctx, conn, sess.DIDHash, s.Pipeline.Stream, handle, ws.Options{MaxFrameBytes: maxFrame}); err != nil {
		logger.Debug("websocket session ended", "session_id", sess.SessionID, "error", err)
	}
}

// sessionExpiry returns the session's JWT expiry, for the WebSocket
// loop's third select branch (ctx is cancelled at this deadline, per
// spec §9's three-way select loop design note).
func sessionExpiry(sess *handlers.Session) (time.Time, bool) {
	if sess == nil || sess.ExpiresAt == 0 {
		return time.Time{}, false
	}

	return time.Unix(sess.ExpiresAt, 0), true
}

// handleOOB implements `POST|GET|DELETE /oob`.
func (s *Server) handleOOB(w http.ResponseWriter, r *http.Request, sess *handlers.Session) {
	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "message.envelope.read", err.Error())

			return
		}

		id, err := s.Pipeline.PutOOBInvite(r.Context(), sess.DIDHash, body)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal", "internal error")

			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"_oobid": id})

	case http.MethodGet:
		id := r.URL.Query().Get("_oobid")

		invite, err := s.Pipeline.GetOOBInvite(r.Context(), id)
		if err != nil {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(invite.Envelope)

	case http.MethodDelete:
		id := r.URL.Query().Get("_oobid")

		if err := s.Pipeline.DeleteOOBInvite(r.Context(), *sess, id); err != nil {
			writeError(w, r, http.StatusForbidden, "forbidden", err.Error())

			return
		}

		w.WriteHeader(http.StatusOK)

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
	}
}

// errorResponse matches spec §7's user-visible HTTP error shape.
type errorResponse struct {
	SessionID    string `json:"sessionId,omitempty"`
	HTTPCode     int    `json:"httpCode"`
	ErrorCode    int    `json:"errorCode"`
	ErrorCodeStr string `json:"errorCodeStr"`
	Message      string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		HTTPCode:     status,
		ErrorCode:    status,
		ErrorCodeStr: code,
		Message:      message,
	})
}

type inboundResponse struct {
	SessionID string          `json:"sessionId,omitempty"`
	HTTPCode  int             `json:"httpCode"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func writeOutcome(w http.ResponseWriter, sess *handlers.Session, outcome *handlers.InboundOutcome) {
	status := http.StatusOK

	var data json.RawMessage

	switch outcome.Kind {
	case handlers.OutcomeProblemReport:
		if len(outcome.Errors) > 0 {
			status = http.StatusBadRequest
		}

		if outcome.Reply != nil {
			data, _ = json.Marshal(outcome.Reply)
		}
	case handlers.OutcomeEphemeral:
		if outcome.Reply != nil {
			data, _ = json.Marshal(outcome.Reply)
		}
	default:
		data, _ = json.Marshal(map[string]any{"stored": outcome.Stored})
	}

	resp := inboundResponse{HTTPCode: status, Data: data}
	if sess != nil {
		resp.SessionID = sess.SessionID
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
