// Package api serves the reel REST endpoints and provides their client.
//
// Routes:
//
//	GET    /healthz
//	POST   /auth/token               development login, returns a bearer token (Config.DevLogin)
//	GET    /rest/profiles?ids=a,b
//	GET    /rest/{table}?filter=field=eq.value&limit=N
//	POST   /rest/{table}             bearer token required
//	PATCH  /rest/{table}/{id}        bearer token required, owner only
//	DELETE /rest/{table}/{id}        bearer token required, owner only
//	GET    /realtime?filter=key      WebSocket change stream
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/session"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Config holds API configuration
type Config struct {
	// MaxLimit caps the rows a single fetch may return; 0 means no cap
	MaxLimit int

	// DevLogin enables POST /auth/token, which issues a token for any user
	// id without checking credentials. Off unless set.
	DevLogin bool

	// Logger for request failures (default: stderr logger)
	Logger *log.Logger
}

// Server handles the REST API.
type Server struct {
	db       *db.DB
	issuer   *session.Issuer
	realtime *realtime.Server
	maxLimit atomic.Int64
	devLogin bool
	logger   *log.Logger
}

// NewServer creates the API. rt may be nil to serve REST only.
func NewServer(database *db.DB, issuer *session.Issuer, rt *realtime.Server, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}
	s := &Server{
		db:       database,
		issuer:   issuer,
		realtime: rt,
		devLogin: config.DevLogin,
		logger:   config.Logger,
	}
	s.maxLimit.Store(int64(config.MaxLimit))
	return s
}

// SetMaxLimit changes the fetch cap of a running server.
func (s *Server) SetMaxLimit(n int) {
	s.maxLimit.Store(int64(n))
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/auth/token", s.handleToken)

	r.Route("/rest", func(r chi.Router) {
		r.Get("/profiles", s.handleProfiles)
		r.Get("/{table}", s.handleFetch)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/{table}", s.handleInsert)
			r.Patch("/{table}/{id}", s.handleUpdate)
			r.Delete("/{table}/{id}", s.handleDelete)
		})
	})

	if s.realtime != nil {
		r.Handle("/realtime", s.realtime)
	}

	return r
}

type principalKey struct{}

// requireAuth verifies the bearer token and stores its subject in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			s.writeError(w, fmt.Errorf("%w: missing bearer token", ErrUnauthorized))
			return
		}
		principal, err := s.issuer.Verify(token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

// Health is the body of GET /healthz.
type Health struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{Status: "ok"}
	if s.realtime != nil {
		h.Clients = s.realtime.ClientCount()
	}
	writeJSON(w, http.StatusOK, h)
}

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// TokenResponse is returned by POST /auth/token.
type TokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.devLogin {
		s.writeError(w, ErrLoginDisabled)
		return
	}

	var req TokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	p := schema.Profile{ID: req.UserID, FirstName: req.FirstName, LastName: req.LastName}
	if err := s.db.UpsertProfile(r.Context(), p); err != nil {
		s.writeError(w, err)
		return
	}

	token, err := s.issuer.Issue(req.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, UserID: req.UserID})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	profiles, err := s.db.GetProfiles(r.Context(), ids)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]schema.Profile, 0, len(profiles))
	for _, id := range ids {
		if p, ok := profiles[id]; ok {
			out = append(out, p)
			delete(profiles, id)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	spec := chi.URLParam(r, "table")
	if f := r.URL.Query().Get("filter"); f != "" {
		spec += ":" + f
	}
	key, err := schema.ParseFilterKey(spec)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", db.ErrInvalid, err))
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 0 {
			s.writeError(w, fmt.Errorf("%w: invalid limit %q", db.ErrInvalid, l))
			return
		}
	}
	if maxRows := int(s.maxLimit.Load()); maxRows > 0 && (limit == 0 || limit > maxRows) {
		limit = maxRows
	}

	records, err := s.db.Fetch(r.Context(), key, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var fields schema.Payload
	if err := decodeBody(w, r, &fields); err != nil {
		s.writeError(w, err)
		return
	}

	rec, err := s.db.InsertRecord(r.Context(), chi.URLParam(r, "table"), principalFrom(r.Context()), fields)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var fields schema.Payload
	if err := decodeBody(w, r, &fields); err != nil {
		s.writeError(w, err)
		return
	}

	rec, err := s.db.UpdateRecord(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"),
		principalFrom(r.Context()), fields)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.db.DeleteRecord(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"),
		principalFrom(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody reads a JSON body, keeping numbers as json.Number.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err != nil {
		return fmt.Errorf("%w: %v", db.ErrInvalid, err)
	}
	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", db.ErrInvalid, err)
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("Internal error: %v", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
