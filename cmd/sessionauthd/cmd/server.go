package cmd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/sessionauth"
	"github.com/MrEthical07/sessionauth/metrics/export/prometheus"
	"github.com/MrEthical07/sessionauth/middleware"
	"github.com/MrEthical07/sessionauth/permission"
)

// defaultPermissions is the role table the demo server checks.
var defaultPermissions = permission.Definition{
	RootReserved: true,
	Permissions:  []string{"users.read", "attempts.clear"},
	Roles: map[string][]string{
		"admin":   {permission.RootPermission},
		"support": {"users.read", "attempts.clear"},
		"viewer":  {"users.read"},
	},
}

type loginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type userResponse struct {
	ID                     int64  `json:"id"`
	Identity               string `json:"identity"`
	Email                  string `json:"email"`
	LastIP                 string `json:"last_ip,omitempty"`
	PasswordChangeRequired bool   `json:"password_change_required"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type clearRequest struct {
	Identity string `json:"identity"`
	IP       string `json:"ip"`
}

func newRouter(auth *sessionauth.Authenticator, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", prometheus.New(auth).Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Session(auth))

		r.Post("/login", handleLogin(logger))
		r.Post("/logout", handleLogout)

		r.With(middleware.RequireAuthorized(sessionauth.Filter{})).Get("/me", handleMe)
		r.With(middleware.RequireAuthorized(sessionauth.Filter{Permissions: []string{"attempts.clear"}})).
			Post("/admin/attempts/clear", handleClearAttempts(auth))
	})
	return r
}

func handleLogin(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		us, _ := sessionauth.UserSessionFrom(r.Context())

		var req loginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
			return
		}

		err := us.Login(r.Context(), sessionauth.LoginData{Identity: req.Identity, Password: req.Password},
			sessionauth.LoginOptions{Remember: req.Remember})
		if err != nil && !errors.Is(err, sessionauth.ErrUserPasswordChange) {
			writeLoginError(w, logger, err)
			return
		}
		writeUser(w, us)
	}
}

func writeLoginError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		verr  *sessionauth.ValidationError
		lverr *sessionauth.LoginValidationError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Fields: verr.Fields})
	case errors.As(err, &lverr):
		if lverr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(lverr.RetryAfter.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: lverr.Error()})
			return
		}
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: lverr.Message})
	case errors.Is(err, sessionauth.ErrUserInactive), errors.Is(err, sessionauth.ErrUserBanned):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	default:
		logger.Error("login failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"})
	}
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	us, _ := sessionauth.UserSessionFrom(r.Context())
	if err := us.Logout(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	us, _ := sessionauth.UserSessionFrom(r.Context())
	writeUser(w, us)
}

func handleClearAttempts(auth *sessionauth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clearRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil || req.Identity == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "identity required"})
			return
		}
		cleared, err := auth.ClearLockout(r.Context(), req.Identity, req.IP)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
	}
}

func writeUser(w http.ResponseWriter, us *sessionauth.UserSession) {
	u, ok := us.User()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not logged in"})
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		ID:                     u.ID,
		Identity:               u.Identity,
		Email:                  u.Email,
		LastIP:                 u.LastIP,
		PasswordChangeRequired: u.PasswordChange,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
