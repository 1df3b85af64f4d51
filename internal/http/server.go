package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"upc/presence/internal/auth"
	"upc/presence/internal/config"
	"upc/presence/internal/crypto"
	"upc/presence/internal/device"
	"upc/presence/internal/domain"
	"upc/presence/internal/ingest"
	"upc/presence/internal/model"
	"upc/presence/internal/registration"
	"upc/presence/internal/session"
	"upc/presence/internal/views"
)

// Store is the directory surface the server needs.
type Store interface {
	ListStudents(ctx context.Context) ([]model.Student, error)
	GetStudent(ctx context.Context, id string) (model.Student, error)
	DeleteStudent(ctx context.Context, id string) error
	ListStaff(ctx context.Context) ([]model.Staff, error)
	GetStaff(ctx context.Context, uid string) (model.Staff, error)
	GetStaffByEmail(ctx context.Context, email string) (model.Staff, error)
	UpsertStaff(ctx context.Context, staff model.Staff) error
	DeleteStaff(ctx context.Context, uid string) error
	ListSessions(ctx context.Context) ([]model.Session, error)
	ListSessionsByCourses(ctx context.Context, courses []string) ([]model.Session, error)
}

// SessionManager is the lifecycle surface.
type SessionManager interface {
	Start(ctx context.Context, opener session.Opener, course, sessionName string) (model.Session, error)
	Stop(ctx context.Context) error
	Active(ctx context.Context) (model.Session, bool, error)
}

// RegistrationFlow is the badge registration surface.
type RegistrationFlow interface {
	Begin(ctx context.Context, editingID string) (registration.Status, error)
	Commit(ctx context.Context, draft registration.Draft) (model.Student, error)
	Cancel(ctx context.Context)
	Status() registration.Status
}

// ScanIngestor turns device scans into ledger entries.
type ScanIngestor interface {
	IngestScan(ctx context.Context, badgeID string) (ingest.Outcome, error)
}

// ViewBuilder assembles the read views.
type ViewBuilder interface {
	LiveFeed(ctx context.Context) (views.Live, error)
	LiveRoster(ctx context.Context) (views.Live, error)
	SessionRegister(ctx context.Context, sessionID string) (views.Register, error)
	CourseStats(ctx context.Context, course string) (views.Stats, error)
}

// DeviceGateway is the reader-facing surface.
type DeviceGateway interface {
	Mode(ctx context.Context) (device.Mode, error)
	StoreScan(ctx context.Context, badgeID string) error
}

type Server struct {
	cfg      config.Config
	store    Store
	sessions SessionManager
	flow     RegistrationFlow
	ingestor ScanIngestor
	views    ViewBuilder
	device   DeviceGateway
}

func NewServer(cfg config.Config, store Store, sessions SessionManager, flow RegistrationFlow, ingestor ScanIngestor, viewBuilder ViewBuilder, deviceGateway DeviceGateway) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		flow:     flow,
		ingestor: ingestor,
		views:    viewBuilder,
		device:   deviceGateway,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.With(s.authMiddleware).Get("/auth/me", s.handleMe)

	admin := s.requireRoles(model.RoleAdmin)
	staff := s.requireRoles(model.RoleAdmin, model.RoleProfesseur, model.RoleAssistant)

	r.With(s.authMiddleware, admin).Get("/students", s.handleListStudents)
	r.With(s.authMiddleware, admin).Get("/students/{badgeId}", s.handleGetStudent)
	r.With(s.authMiddleware, admin).Delete("/students/{badgeId}", s.handleDeleteStudent)

	r.With(s.authMiddleware, admin).Get("/staff", s.handleListStaff)
	r.With(s.authMiddleware, admin).Post("/staff", s.handleCreateStaff)
	r.With(s.authMiddleware, admin).Delete("/staff/{uid}", s.handleDeleteStaff)

	r.With(s.authMiddleware, admin).Get("/registration", s.handleRegistrationStatus)
	r.With(s.authMiddleware, admin).Get("/registration/recent", s.handleRecentRegistrations)
	r.With(s.authMiddleware, admin).Post("/registration/begin", s.handleRegistrationBegin)
	r.With(s.authMiddleware, admin).Post("/registration/commit", s.handleRegistrationCommit)
	r.With(s.authMiddleware, admin).Post("/registration/cancel", s.handleRegistrationCancel)

	r.With(s.authMiddleware, staff).Post("/sessions/start", s.handleSessionStart)
	r.With(s.authMiddleware, staff).Post("/sessions/stop", s.handleSessionStop)
	r.With(s.authMiddleware, staff).Get("/sessions/active", s.handleSessionActive)
	r.With(s.authMiddleware, staff).Get("/sessions", s.handleSessionHistory)
	r.With(s.authMiddleware, staff).Get("/sessions/{sessionId}/register", s.handleSessionRegister)
	r.With(s.authMiddleware, staff).Get("/presence/live", s.handlePresenceLive)
	r.With(s.authMiddleware, staff).Get("/stats", s.handleStats)

	r.With(s.deviceMiddleware).Get("/device/config", s.handleDeviceConfig)
	r.With(s.deviceMiddleware).Post("/device/scan", s.handleDeviceScan)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func (s *Server) requireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "missing_token")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

func (s *Server) deviceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-Device-Token"))
		if token == "" {
			token = bearerToken(r.Header.Get("Authorization"))
		}
		if s.cfg.DeviceToken == "" || token != s.cfg.DeviceToken {
			writeError(w, http.StatusUnauthorized, "invalid_device_token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  userPayload `json:"user"`
}

type userPayload struct {
	UID             string   `json:"uid"`
	Name            string   `json:"name"`
	Email           string   `json:"email,omitempty"`
	Role            string   `json:"role"`
	AssignedCourses []string `json:"assigned_courses,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	member, err := s.store.GetStaffByEmail(r.Context(), email)
	switch {
	case err == nil:
		if crypto.CheckPassword(member.PasswordHash, req.Password) != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
	case domain.IsCode(err, domain.CodeNotFound):
		// Bootstrap identity so the deployment stays reachable with an
		// empty staff table.
		if s.cfg.AdminEmail == "" || email != strings.ToLower(s.cfg.AdminEmail) || req.Password != s.cfg.AdminPassword {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		member = model.Staff{
			UID:   "admin",
			Name:  "Administrateur",
			Email: s.cfg.AdminEmail,
			Role:  model.RoleAdmin,
		}
	default:
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:          member.UID,
		Name:            member.Name,
		Role:            member.Role,
		AssignedCourses: member.AssignedCourses,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: staffPayload(member)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, userPayload{
		UID:             claims.UserID,
		Name:            claims.Name,
		Role:            claims.Role,
		AssignedCourses: claims.AssignedCourses,
	})
}

// Students

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.store.ListStudents(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"students": students})
}

func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	student, err := s.store.GetStudent(r.Context(), registration.NormalizeBadge(chi.URLParam(r, "badgeId")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, student)
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteStudent(r.Context(), registration.NormalizeBadge(chi.URLParam(r, "badgeId"))); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Staff

type createStaffRequest struct {
	UID             string   `json:"uid"`
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Password        string   `json:"password"`
	Role            string   `json:"role"`
	AssignedCourses []string `json:"assigned_courses"`
	// Courses is the comma-separated form the admin form submits.
	Courses string `json:"courses"`
}

func (r createStaffRequest) courses() []string {
	if len(r.AssignedCourses) > 0 {
		return r.AssignedCourses
	}
	var out []string
	for _, course := range strings.Split(r.Courses, ",") {
		if course = strings.TrimSpace(course); course != "" {
			out = append(out, course)
		}
	}
	return out
}

func (s *Server) handleListStaff(w http.ResponseWriter, r *http.Request) {
	members, err := s.store.ListStaff(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	payload := make([]userPayload, 0, len(members))
	for _, member := range members {
		// The admin account manages the directory; it is not part of it.
		if member.Role == model.RoleAdmin {
			continue
		}
		payload = append(payload, staffPayload(member))
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": payload})
}

func (s *Server) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var req createStaffRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || email == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	role := req.Role
	switch role {
	case model.RoleAdmin, model.RoleProfesseur, model.RoleAssistant:
	case "":
		role = model.RoleAssistant
	default:
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_password")
		return
	}
	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	member := model.Staff{
		UID:             strings.TrimSpace(req.UID),
		Name:            name,
		Email:           email,
		Role:            role,
		AssignedCourses: req.courses(),
		PasswordHash:    hash,
		CreatedAt:       time.Now(),
	}
	if member.UID == "" {
		member.UID = uuid.NewString()
	}
	if err := s.store.UpsertStaff(r.Context(), member); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, staffPayload(member))
}

func (s *Server) handleDeleteStaff(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteStaff(r.Context(), chi.URLParam(r, "uid")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func staffPayload(member model.Staff) userPayload {
	return userPayload{
		UID:             member.UID,
		Name:            member.Name,
		Email:           member.Email,
		Role:            member.Role,
		AssignedCourses: member.AssignedCourses,
	}
}

// Registration

type beginRegistrationRequest struct {
	EditingID string `json:"editing_id"`
}

func (s *Server) handleRegistrationStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.flow.Status())
}

// handleRecentRegistrations lists the students registered today, newest
// first.
func (s *Server) handleRecentRegistrations(w http.ResponseWriter, r *http.Request) {
	students, err := s.store.ListStudents(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	today := time.Now().Format(model.DayLayout)
	recent := make([]model.Student, 0)
	for _, student := range students {
		if student.RegistrationDate == today {
			recent = append(recent, student)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"students": recent})
}

func (s *Server) handleRegistrationBegin(w http.ResponseWriter, r *http.Request) {
	var req beginRegistrationRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payload")
			return
		}
	}
	status, err := s.flow.Begin(r.Context(), req.EditingID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRegistrationCommit(w http.ResponseWriter, r *http.Request) {
	var draft registration.Draft
	if err := decodeJSON(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	student, err := s.flow.Commit(r.Context(), draft)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, student)
}

func (s *Server) handleRegistrationCancel(w http.ResponseWriter, r *http.Request) {
	s.flow.Cancel(r.Context())
	writeJSON(w, http.StatusOK, s.flow.Status())
}

// Sessions

type startSessionRequest struct {
	Course      string `json:"course"`
	SessionName string `json:"session_name"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payload")
			return
		}
	}
	claims := claimsFromContext(r.Context())
	opener := session.Opener{
		ID:              claims.UserID,
		Name:            claims.Name,
		AssignedCourses: claims.AssignedCourses,
	}
	started, err := s.sessions.Start(r.Context(), opener, req.Course, req.SessionName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, started)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSessionActive(w http.ResponseWriter, r *http.Request) {
	active, ok, err := s.sessions.Active(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "session": active})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var (
		sessions []model.Session
		err      error
	)
	if claims.Role == model.RoleAdmin || len(claims.AssignedCourses) == 0 {
		sessions, err = s.store.ListSessions(r.Context())
	} else {
		sessions, err = s.store.ListSessionsByCourses(r.Context(), claims.AssignedCourses)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSessionRegister(w http.ResponseWriter, r *http.Request) {
	register, err := s.views.SessionRegister(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, register)
}

func (s *Server) handlePresenceLive(w http.ResponseWriter, r *http.Request) {
	var (
		live views.Live
		err  error
	)
	switch view := r.URL.Query().Get("view"); view {
	case "", "feed":
		live, err = s.views.LiveFeed(r.Context())
	case "roster":
		live, err = s.views.LiveRoster(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "invalid_view")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, live)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.views.CourseStats(r.Context(), r.URL.Query().Get("course"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Device

type deviceScanRequest struct {
	BadgeID string `json:"badge_id"`
}

func (s *Server) handleDeviceConfig(w http.ResponseWriter, r *http.Request) {
	mode, err := s.device.Mode(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"mode": int(mode)})
}

// handleDeviceScan always acknowledges with 202: the reader retries on
// non-2xx, and a dropped scan must never wedge it into a retry loop.
func (s *Server) handleDeviceScan(w http.ResponseWriter, r *http.Request) {
	var req deviceScanRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.BadgeID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if err := s.device.StoreScan(r.Context(), registration.NormalizeBadge(req.BadgeID)); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	outcome, err := s.ingestor.IngestScan(r.Context(), req.BadgeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"outcome": string(outcome)})
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var status int
	switch domain.CodeOf(err) {
	case domain.CodeValidation:
		status = http.StatusBadRequest
	case domain.CodeNotFound:
		status = http.StatusNotFound
	case domain.CodeConflict, domain.CodeConcurrency:
		status = http.StatusConflict
	default:
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	var domainErr *domain.Error
	message := "internal_error"
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	writeError(w, status, message)
}
