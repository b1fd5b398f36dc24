// Package httpapi serves the settlement engine over JSON/HTTP.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/xtding233/wager-backend/internal/apperrors"
	"github.com/xtding233/wager-backend/internal/auth"
	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/metrics"
	"github.com/xtding233/wager-backend/internal/settle"
)

const (
	HeaderSession     = "X-Session-Id"
	HeaderIdempotency = "Idempotency-Key"
)

// Config wires a Server. Feed is optional.
type Config struct {
	Engine         *settle.Engine
	Auth           *auth.Sessions
	Metrics        *metrics.Recorder
	Feed           http.Handler
	AllowedOrigins []string
	Logger         *logrus.Entry
}

type Server struct {
	engine  *settle.Engine
	auth    *auth.Sessions
	metrics *metrics.Recorder
	feed    http.Handler
	origins []string
	log     *logrus.Entry
}

func New(cfg Config) *Server {
	s := &Server{
		engine:  cfg.Engine,
		auth:    cfg.Auth,
		metrics: cfg.Metrics,
		feed:    cfg.Feed,
		origins: cfg.AllowedOrigins,
		log:     cfg.Logger,
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	return s
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/games/{family}/bets", s.handleBet)
	mux.HandleFunc("POST /v1/games/{family}/sessions", s.handleStartSession)
	mux.HandleFunc("POST /v1/games/{family}/sessions/{id}/actions", s.handleAction)
	mux.HandleFunc("GET /v1/games/{family}/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /v1/games/{family}/round", s.handleCurrentRound)
	mux.HandleFunc("GET /v1/games/{family}/rounds/{roundId}", s.handleClosedRound)
	mux.HandleFunc("GET /v1/games", s.handleFamilies)
	mux.HandleFunc("GET /v1/players/{address}/accrual", s.handleAccrual)
	mux.HandleFunc("POST /v1/auth/sessions/{id}", s.handleGrant)
	mux.HandleFunc("GET /v1/auth/sessions/{id}", s.handleAuthStatus)
	if s.metrics != nil {
		mux.Handle("GET /debug/metrics", s.metrics.Handler())
	}
	if s.feed != nil {
		mux.Handle("GET /v1/feed", s.feed)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", HeaderSession, HeaderIdempotency},
	})
	return c.Handler(s.logRequests(mux))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes the connection through for the websocket feed.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

type errorBody struct {
	Code      apperrors.Code    `json:"code"`
	Kind      apperrors.Kind    `json:"kind"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	e := apperrors.From(err)
	if e.Code == apperrors.CodeInternal {
		s.log.WithError(err).Error("internal error")
	}
	writeJSON(w, e.Code.HTTPStatus(), map[string]errorBody{"error": {
		Code:      e.Code,
		Kind:      e.Code.Kind(),
		Message:   e.Message,
		Retryable: e.Code.Retryable(),
		Metadata:  e.Metadata,
	}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(apperrors.CodeSelectorInvalid, "malformed request body", err)
	}
	return nil
}

// player resolves the caller from the session header.
func (s *Server) player(ctx context.Context, r *http.Request) (string, error) {
	ident, err := s.auth.Resolve(ctx, r.Header.Get(HeaderSession))
	if errors.Is(err, auth.ErrUnauthenticated) {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "missing or expired session")
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "auth unavailable", err)
	}
	return ident.Address, nil
}

type betRequest struct {
	Stake          decimal.Decimal `json:"stake"`
	Selector       bet.Selector    `json:"selector"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

func (s *Server) handleBet(w http.ResponseWriter, r *http.Request) {
	player, err := s.player(r.Context(), r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req betRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	key := req.IdempotencyKey
	if h := r.Header.Get(HeaderIdempotency); h != "" {
		key = h
	}
	res, err := s.engine.Settle(r.Context(), settle.Wager{
		Family:         r.PathValue("family"),
		Player:         player,
		Stake:          req.Stake,
		Selector:       req.Selector,
		IdempotencyKey: key,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type startRequest struct {
	Stake    decimal.Decimal `json:"stake"`
	Selector bet.Selector    `json:"selector"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	player, err := s.player(r.Context(), r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req startRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.engine.StartSession(r.Context(), settle.StartRequest{
		Family:   r.PathValue("family"),
		Player:   player,
		Stake:    req.Stake,
		Selector: req.Selector,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type actionRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	player, err := s.player(r.Context(), r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req actionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, apperrors.New(apperrors.CodeActionInvalid, "malformed action"))
		return
	}
	v, err := s.engine.Act(r.Context(), settle.ActRequest{
		Family:    r.PathValue("family"),
		SessionID: r.PathValue("id"),
		Player:    player,
		Action:    req.Action,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	player, err := s.player(r.Context(), r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.engine.Session(r.Context(), r.PathValue("family"), r.PathValue("id"), player)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.CurrentRound(r.PathValue("family"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleClosedRound(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("roundId"), 10, 64)
	if err != nil {
		http.Error(w, "invalid roundId", http.StatusBadRequest)
		return
	}
	info, err := s.engine.ClosedRound(r.PathValue("family"), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFamilies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Families())
}

func (s *Server) handleAccrual(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Accrual(r.Context(), r.PathValue("address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type grantRequest struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// handleGrant binds a session id to an address. Signatures are not checked
// here; deployments put this route behind the wallet app's gateway.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, apperrors.New(apperrors.CodePlayerInvalid, "malformed grant"))
		return
	}
	ident, err := s.auth.Grant(r.Context(), r.PathValue("id"), req.Address, req.PublicKey)
	if errors.Is(err, auth.ErrInvalidAddress) {
		s.writeError(w, apperrors.New(apperrors.CodePlayerInvalid, "address must be a hex address"))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "authorized", "address": ident.Address})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	ident, err := s.auth.Resolve(r.Context(), r.PathValue("id"))
	if errors.Is(err, auth.ErrUnauthenticated) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized", "address": ident.Address})
}
