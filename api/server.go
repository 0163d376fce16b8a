package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/wricardo/scratchcard/auth"
	"github.com/wricardo/scratchcard/game/engine"
	"github.com/wricardo/scratchcard/game/service"
	"github.com/wricardo/scratchcard/transport/websocket"
	"golang.org/x/time/rate"
)

var log = logrus.WithField("pkg", "api")

// Authenticator issues and checks bearer tokens
type Authenticator interface {
	LoginAdmin(password string) (string, auth.Identity, error)
	LoginPlayer(password string) (string, auth.Identity, error)
	LoginManager(ctx context.Context, code, secret string) (string, auth.Identity, error)
	Require(token string, roles ...auth.Role) (auth.Identity, error)
	Logout(token string)
	RevokeSession(code string) int
	ChangeAdminPassword(password string) error
	ChangePlayerPassword(password string) error
}

// Backupper takes an on-demand backup and returns its key
type Backupper interface {
	Backup(ctx context.Context) (string, error)
}

// Server represents the REST API server
type Server struct {
	service service.GameService
	auth    Authenticator
	hub     *websocket.Hub
	backups Backupper
	router  *mux.Router
	limiter *rate.Limiter
}

// Option configures a Server
type Option func(*Server)

// WithBackupper enables POST /api/admin/backup
func WithBackupper(b Backupper) Option {
	return func(s *Server) { s.backups = b }
}

// WithLoginLimit overrides the rate shared by all login routes
func WithLoginLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(limit, burst) }
}

// NewServer creates a new API server. hub may be nil, which disables /ws.
func NewServer(gameService service.GameService, authn Authenticator, hub *websocket.Hub, opts ...Option) *Server {
	s := &Server{
		service: gameService,
		auth:    authn,
		hub:     hub,
		router:  mux.NewRouter(),
		limiter: rate.NewLimiter(5, 20), // 5 req/sec, burst of 20
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	admin := s.require(auth.RoleAdmin)
	manager := s.require(auth.RoleManager)
	player := s.require(auth.RolePlayer, auth.RoleAdmin)

	// Logins
	api.HandleFunc("/admin/login", s.rateLimit(s.handleAdminLogin)).Methods("POST")
	api.HandleFunc("/manager/login", s.rateLimit(s.handleManagerLogin)).Methods("POST")
	api.HandleFunc("/player/login", s.rateLimit(s.handlePlayerLogin)).Methods("POST")
	api.HandleFunc("/logout", s.handleLogout).Methods("POST")

	// Admin
	api.HandleFunc("/admin/sessions", admin(s.handleListSessions)).Methods("GET")
	api.HandleFunc("/admin/sessions", admin(s.handleCreateSession)).Methods("POST")
	api.HandleFunc("/admin/sessions/{code}", admin(s.handleDeleteSession)).Methods("DELETE")
	api.HandleFunc("/admin/sessions/{code}/reset", admin(s.handleAdminReset)).Methods("POST")
	api.HandleFunc("/admin/sessions/{code}/config", admin(s.handleAdminGetConfig)).Methods("GET")
	api.HandleFunc("/admin/sessions/{code}/config", admin(s.handleAdminReconfigure)).Methods("PATCH")
	api.HandleFunc("/admin/sessions/{code}/progress", admin(s.handleAdminProgress)).Methods("GET")
	api.HandleFunc("/admin/password", admin(s.handleChangeAdminPassword)).Methods("POST")
	api.HandleFunc("/admin/player-password", admin(s.handleChangePlayerPassword)).Methods("POST")
	api.HandleFunc("/admin/backup", admin(s.handleBackup)).Methods("POST")
	api.HandleFunc("/configs", admin(s.handleListConfigs)).Methods("GET")

	// Manager, scoped to the session in the token
	api.HandleFunc("/manager/config", manager(s.handleManagerGetConfig)).Methods("GET")
	api.HandleFunc("/manager/config", manager(s.handleManagerReconfigure)).Methods("PATCH")
	api.HandleFunc("/manager/reset", manager(s.handleManagerReset)).Methods("POST")
	api.HandleFunc("/manager/progress", manager(s.handleManagerProgress)).Methods("GET")

	// Player
	api.HandleFunc("/sessions", s.handlePublicSessions).Methods("GET")
	api.HandleFunc("/sessions/{code}/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/sessions/{code}/lock", player(s.handleAcquireLock)).Methods("POST")
	api.HandleFunc("/sessions/{code}/lock", player(s.handleReleaseLock)).Methods("DELETE")
	api.HandleFunc("/sessions/{code}/heartbeat", player(s.handleHeartbeat)).Methods("POST")
	api.HandleFunc("/sessions/{code}/reveal", player(s.handleReveal)).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, map[string]string{"error": message, "kind": kind})
}

// respondServiceError maps err onto an HTTP status through the service taxonomy.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, string(service.KindUnauthorized), err.Error())
		return
	case errors.Is(err, auth.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
		return
	}

	kind := service.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindAlreadyExists, service.KindConflict:
		status = http.StatusConflict
	case service.KindInvalidIndex, service.KindInvalidConfig:
		status = http.StatusBadRequest
	case service.KindUnauthorized:
		status = http.StatusUnauthorized
	default:
		log.WithError(err).Error("request failed")
	}
	respondError(w, status, string(kind), err.Error())
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Auth middleware

type identityKey struct{}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *Server) require(roles ...auth.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id, err := s.auth.Require(bearerToken(r), roles...)
			if err != nil {
				respondServiceError(w, err)
				return
			}
			next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
		}
	}
}

func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey{}).(auth.Identity)
	return id
}

func (s *Server) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts")
			return
		}
		next(w, r)
	}
}

// Login handlers

type loginRequest struct {
	Code     string `json:"code,omitempty"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	auth.Identity
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	token, id, err := s.auth.LoginAdmin(req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse{Token: token, Identity: id})
}

func (s *Server) handleManagerLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	token, id, err := s.auth.LoginManager(r.Context(), req.Code, req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse{Token: token, Identity: id})
}

func (s *Server) handlePlayerLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	token, id, err := s.auth.LoginPlayer(req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse{Token: token, Identity: id})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		s.auth.Logout(token)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Admin handlers

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
		service.CreateRequest
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	info, err := s.service.CreateSession(r.Context(), req.Code, req.CreateRequest)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	if err := s.service.DeleteSession(r.Context(), code); err != nil {
		respondServiceError(w, err)
		return
	}
	if n := s.auth.RevokeSession(service.CanonicalCode(code)); n > 0 {
		log.WithFields(logrus.Fields{"session": code, "tokens": n}).Info("revoked manager tokens")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	s.reset(w, r, mux.Vars(r)["code"])
}

func (s *Server) handleAdminGetConfig(w http.ResponseWriter, r *http.Request) {
	s.getConfig(w, r, mux.Vars(r)["code"])
}

func (s *Server) handleAdminReconfigure(w http.ResponseWriter, r *http.Request) {
	s.reconfigure(w, r, mux.Vars(r)["code"])
}

func (s *Server) handleAdminProgress(w http.ResponseWriter, r *http.Request) {
	s.progress(w, r, mux.Vars(r)["code"])
}

func (s *Server) handleChangeAdminPassword(w http.ResponseWriter, r *http.Request) {
	s.changePassword(w, r, s.auth.ChangeAdminPassword)
}

func (s *Server) handleChangePlayerPassword(w http.ResponseWriter, r *http.Request) {
	s.changePassword(w, r, s.auth.ChangePlayerPassword)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request, change func(string) error) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if err := change(req.Password); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "backups are not configured")
		return
	}
	key, err := s.backups.Backup(r.Context())
	if err != nil {
		log.WithError(err).Error("on-demand backup failed")
		respondError(w, http.StatusBadGateway, string(service.KindInternal), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key})
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.service.ListConfigs(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, configs)
}

// Manager handlers

func (s *Server) handleManagerGetConfig(w http.ResponseWriter, r *http.Request) {
	s.getConfig(w, r, identityFrom(r.Context()).Code)
}

func (s *Server) handleManagerReconfigure(w http.ResponseWriter, r *http.Request) {
	s.reconfigure(w, r, identityFrom(r.Context()).Code)
}

func (s *Server) handleManagerReset(w http.ResponseWriter, r *http.Request) {
	s.reset(w, r, identityFrom(r.Context()).Code)
}

func (s *Server) handleManagerProgress(w http.ResponseWriter, r *http.Request) {
	s.progress(w, r, identityFrom(r.Context()).Code)
}

// Shared by admin and manager routes

func (s *Server) reset(w http.ResponseWriter, r *http.Request, code string) {
	info, err := s.service.ResetSession(r.Context(), code)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request, code string) {
	config, err := s.service.GetConfig(r.Context(), code)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, config)
}

func (s *Server) reconfigure(w http.ResponseWriter, r *http.Request, code string) {
	var patch engine.ConfigPatch
	if err := decodeBody(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, string(service.KindInvalidConfig), "Invalid request body")
		return
	}
	config, err := s.service.Reconfigure(r.Context(), code, patch)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, config)
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request, code string) {
	progress, err := s.service.GetProgress(r.Context(), code)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

// Player handlers

func (s *Server) handlePublicSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	codes := make([]string, 0, len(sessions))
	for _, info := range sessions {
		codes = append(codes, info.Code)
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": codes})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.GetState(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.AcquireLock(r.Context(), mux.Vars(r)["code"], identityFrom(r.Context()).HolderID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.Heartbeat(r.Context(), mux.Vars(r)["code"], identityFrom(r.Context()).HolderID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ReleaseLock(r.Context(), mux.Vars(r)["code"], identityFrom(r.Context()).HolderID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index *int `json:"index"`
	}
	if err := decodeBody(r, &req); err != nil || req.Index == nil {
		respondError(w, http.StatusBadRequest, string(service.KindInvalidIndex), "index is required")
		return
	}

	outcome, err := s.service.Reveal(r.Context(), mux.Vars(r)["code"], *req.Index, identityFrom(r.Context()).HolderID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

// Infrastructure handlers

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "live updates are disabled")
		return
	}
	code := r.URL.Query().Get("session")
	if code == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "session query parameter is required")
		return
	}
	if _, err := s.service.GetSession(r.Context(), code); err != nil {
		respondServiceError(w, err)
		return
	}
	s.hub.ServeWS(w, r, service.CanonicalCode(code))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
