// Package control exposes the running client over a local HTTP API.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"relay-client/core/device"
	"relay-client/core/engine"
	"relay-client/core/errs"
	"relay-client/core/identity"
	"relay-client/internal/debuglog"
)

// Backend is what the control API drives.
type Backend interface {
	Snapshot(ctx context.Context) (device.Snapshot, error)
	Claims(ctx context.Context) (*identity.Claims, error)
	Login(ctx context.Context, byJwt string) error
	Logout(ctx context.Context) error
	DeleteAccount(ctx context.Context) error
	WaitUntilReady(ctx context.Context, timeout time.Duration) error

	SetRouteLocal(ctx context.Context, routeLocal bool) error
	SetProvideNetworkMode(ctx context.Context, mode engine.ProvideNetworkMode) error
	SetProvideControlMode(ctx context.Context, mode engine.ProvideControlMode) error
	SetConnectLocation(ctx context.Context, loc *engine.Location) error
}

// Preference names accepted by PUT /preferences/{name}.
const (
	PrefRouteLocal         = "route-local"
	PrefProvideNetworkMode = "provide-network-mode"
	PrefProvideControlMode = "provide-control-mode"
	PrefConnectLocation    = "connect-location"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State         string           `json:"state"`
	HasDevice     bool             `json:"has_device"`
	TunnelRunning bool             `json:"tunnel_running"`
	InstanceID    string           `json:"instance_id,omitempty"`
	Signals       *device.Signals  `json:"signals,omitempty"`
	ShouldRun     bool             `json:"should_run"`
	Claims        *identity.Claims `json:"claims,omitempty"`
}

type LoginRequest struct {
	ByJwt string `json:"by_jwt"`
}

type PreferenceRequest struct {
	Value json.RawMessage `json:"value"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Server serves the control API.
type Server struct {
	backend Backend
	router  chi.Router

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

func NewServer(backend Backend) *Server {
	s := &Server{backend: backend}
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	s.RegisterRoutes(r)
	s.router = r
	return s
}

// RegisterRoutes registers all control endpoints to the given chi router.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/status", s.statusHandler)
	r.Post("/login", s.loginHandler)
	r.Post("/logout", s.logoutHandler)
	r.Post("/account/delete", s.deleteAccountHandler)
	r.Get("/wait/ready", s.waitReadyHandler)
	r.Put("/preferences/{name}", s.preferenceHandler)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("Start: listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.srv = srv
	s.listener = ln
	s.mu.Unlock()

	debuglog.InfoLog("Start: control API listening on %s", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debuglog.ErrorLog("Start: control API stopped: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debuglog.WarnLog("writeJSON: failed to write response: %v", err)
	}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownEnum):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, errs.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrEngine):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	if k := errs.KindOf(err); k != errs.KindUnknown {
		resp.Kind = k.String()
	}
	writeJSON(w, statusFor(err), resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.backend.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := StatusResponse{
		State:         snap.Status.State.String(),
		HasDevice:     snap.Status.HasDevice,
		TunnelRunning: snap.TunnelRunning,
		InstanceID:    snap.InstanceID,
		Signals:       snap.Signals,
		ShouldRun:     snap.ShouldRun,
	}
	claims, err := s.backend.Claims(r.Context())
	if err != nil {
		debuglog.DebugLog("statusHandler: claims unavailable: %v", err)
	} else {
		resp.Claims = claims
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if req.ByJwt == "" {
		badRequest(w, "by_jwt is required")
		return
	}
	if err := s.backend.Login(r.Context(), req.ByJwt); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeleteAccount(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) waitReadyHandler(w http.ResponseWriter, r *http.Request) {
	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			badRequest(w, "invalid timeout")
			return
		}
		timeout = d
	}
	if err := s.backend.WaitUntilReady(r.Context(), timeout); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) preferenceHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req PreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Value) == 0 {
		badRequest(w, "invalid JSON")
		return
	}

	ctx := r.Context()
	var err error
	switch name {
	case PrefRouteLocal:
		var v bool
		if json.Unmarshal(req.Value, &v) != nil {
			badRequest(w, "value must be a boolean")
			return
		}
		err = s.backend.SetRouteLocal(ctx, v)
	case PrefProvideNetworkMode:
		var v string
		if json.Unmarshal(req.Value, &v) != nil {
			badRequest(w, "value must be a string")
			return
		}
		err = s.backend.SetProvideNetworkMode(ctx, engine.ProvideNetworkMode(v))
	case PrefProvideControlMode:
		var v string
		if json.Unmarshal(req.Value, &v) != nil {
			badRequest(w, "value must be a string")
			return
		}
		err = s.backend.SetProvideControlMode(ctx, engine.ProvideControlMode(v))
	case PrefConnectLocation:
		var v *engine.Location
		if json.Unmarshal(req.Value, &v) != nil {
			badRequest(w, "value must be a location object or null")
			return
		}
		err = s.backend.SetConnectLocation(ctx, v)
	default:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("unknown preference %q", name)})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
