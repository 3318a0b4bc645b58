// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web exposes the session registry and peer gateway over HTTP.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/holomush/gamesession/internal/peer"
	"github.com/holomush/gamesession/internal/session"
	"github.com/holomush/gamesession/pkg/errutil"
)

// HeaderSessionID carries the client's session id.
const HeaderSessionID = "session_id"

const maxFormBytes = 64 << 10

// Sessions is the registry surface the handlers use.
type Sessions interface {
	Start(id uuid.UUID) error
	Login(ctx context.Context, req session.LoginRequest) (*session.LoginResult, error)
	Ping(id uuid.UUID) error
	SetPresence(id uuid.UUID, value string) error
	GetPresence(username string) session.Presence
	AcceptPolicy(id uuid.UUID)
	Logout(id uuid.UUID) error
	Lookup(id uuid.UUID) (session.Session, bool)
	AuthenticatedCount() int
}

// Peers is the gateway surface the handlers use.
type Peers interface {
	http.Handler
	IsConnected(processID uuid.UUID) bool
}

// Options configure a Handler.
type Options struct {
	InstanceName   string
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	sessions Sessions
	peers    Peers
	opts     Options
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(sessions Sessions, peers Peers, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{sessions: sessions, peers: peers, opts: opts, logger: logger}
}

// Routes returns the instrumented router.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, fn http.HandlerFunc) {
		mux.Handle(pattern, instrument(name, fn))
	}

	route("POST /api/session/start", "session_start", h.start)
	route("POST /api/session/login", "session_login", h.login)
	route("POST /api/session/ping", "session_ping", h.ping)
	route("POST /api/session/presence", "session_set_presence", h.setPresence)
	route("GET /api/session/presence/{username}", "session_get_presence", h.getPresence)
	route("POST /api/session/accept_policy", "session_accept_policy", h.acceptPolicy)
	route("POST /api/session/logout", "session_logout", h.logout)
	route("GET /api/GetInstanceName", "instance_name", h.instanceName)
	route("GET /api/player_count", "player_count", h.playerCount)
	route("GET /api/peer/session/{id}", "peer_session", h.peerSession)
	mux.Handle("GET /api/Gateway", count("gateway", h.peers))

	c := cors.New(cors.Options{
		AllowedOrigins: h.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", HeaderSessionID, peer.HeaderServerID},
	})
	return otelhttp.NewHandler(c.Handler(mux), "gamesession")
}

// sessionID reads the session header. ok is false when it is missing or
// not a UUID.
func sessionID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(HeaderSessionID))
	return id, err == nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// fail writes the envelope for err. Storage and unexpected errors are
// logged and reported as internal failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrPlayerNotFound) || errors.Is(err, session.ErrSessionNotFound) {
		writeEnvelope(w, StatusPlayerNotFound, nil)
		return
	}
	errutil.LogErrorContext(r.Context(), h.logger, "request failed", err)
	writeEnvelope(w, StatusInternal, nil)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	id := uuid.New()
	if raw := r.Header.Get(HeaderSessionID); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid session_id header", http.StatusBadRequest)
			return
		}
		id = parsed
	}
	if err := h.sessions.Start(id); err != nil {
		if errors.Is(err, session.ErrSessionExists) {
			http.Error(w, "session already exists", http.StatusConflict)
			return
		}
		h.fail(w, r, err)
		return
	}
	writeEnvelope(w, StatusSuccess, map[string]string{"session_id": id.String()})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		writeEnvelope(w, StatusPlayerNotFound, nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	platform, err := session.ParsePlatform(r.PostForm.Get("platform"))
	if err != nil {
		h.logger.WarnContext(r.Context(), "login with unknown platform",
			"session_id", id.String(), "platform", r.PostForm.Get("platform"))
		writeEnvelope(w, StatusPlayerNotFound, nil)
		return
	}

	res, err := h.sessions.Login(r.Context(), session.LoginRequest{
		SessionID: id,
		SourceIP:  clientIP(r),
		Platform:  platform,
		Ticket:    r.PostForm.Get("ticket"),
		ConsoleID: r.PostForm.Get("console_id"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeEnvelope(w, StatusSuccess, []LoginData{{
		IPAddress:  res.SourceIP,
		LoginTime:  res.LoginTime.Format(LoginTimeLayout),
		Platform:   res.Platform.String(),
		PlayerID:   res.AccountID,
		PlayerName: res.Username,
		Presence:   res.Presence.String(),
	}})
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		writeEnvelope(w, StatusPlayerNotFound, nil)
		return
	}
	if err := h.sessions.Ping(id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeEnvelope(w, StatusSuccess, nil)
}

func (h *Handler) setPresence(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		writeEnvelope(w, StatusPlayerNotFound, nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if err := h.sessions.SetPresence(id, r.PostForm.Get("presence")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeEnvelope(w, StatusSuccess, nil)
}

func (h *Handler) getPresence(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("username")
	writeEnvelope(w, StatusSuccess, map[string]string{
		"username": name,
		"presence": h.sessions.GetPresence(name).String(),
	})
}

func (h *Handler) acceptPolicy(w http.ResponseWriter, r *http.Request) {
	if id, ok := sessionID(r); ok {
		h.sessions.AcceptPolicy(id)
	}
	writeEnvelope(w, StatusSuccess, nil)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		writeEnvelope(w, StatusPlayerNotFound, nil)
		return
	}
	if err := h.sessions.Logout(id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeEnvelope(w, StatusSuccess, nil)
}

func (h *Handler) instanceName(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	//nolint:errcheck // client may have gone away
	w.Write([]byte(h.opts.InstanceName))
}

func (h *Handler) playerCount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"player_count": h.sessions.AuthenticatedCount()})
}

// PeerSession is the session view served to connected peers.
type PeerSession struct {
	SessionID     uuid.UUID `json:"session_id"`
	Authenticated bool      `json:"authenticated"`
	AccountID     int64     `json:"account_id,omitempty"`
	Username      string    `json:"username,omitempty"`
	Platform      string    `json:"platform,omitempty"`
	Presence      string    `json:"presence"`
	Companion     bool      `json:"companion"`
	IssuerID      uint32    `json:"issuer_id,omitempty"`
	TitleID       string    `json:"title_id,omitempty"`
	LastPing      time.Time `json:"last_ping"`
}

// peerSession lets a connected peer look a session up. Requests from
// processes without a live gateway connection are refused.
func (h *Handler) peerSession(w http.ResponseWriter, r *http.Request) {
	processID, err := uuid.Parse(r.Header.Get(peer.HeaderServerID))
	if err != nil || !h.peers.IsConnected(processID) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	s, ok := h.sessions.Lookup(id)
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	view := PeerSession{
		SessionID:     s.ID,
		Authenticated: s.Authenticated,
		Presence:      s.Presence.String(),
		Companion:     s.Companion,
		LastPing:      s.LastPing,
	}
	if s.Authenticated {
		view.AccountID = s.AccountID
		view.Username = s.Username
		view.Platform = s.Platform.String()
		view.IssuerID = s.IssuerID
		view.TitleID = s.TitleID
	}
	writeJSON(w, http.StatusOK, view)
}
