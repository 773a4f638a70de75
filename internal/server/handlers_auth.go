package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/W1ldcard2152/phoenix-automotive-sub000/internal/auth"
)

const (
	refreshCookieName = "refreshToken"
	csrfCookieName    = "csrfToken"
	csrfHeaderName    = "X-CSRF-Token"
)

type loginReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

type sessionResp struct {
	AccessToken string           `json:"accessToken"`
	User        auth.UserSummary `json:"user"`
	ExpiresIn   int64            `json:"expiresIn"` // seconds
}

func (s *Server) sessionResponse(pair *auth.TokenPair) sessionResp {
	return sessionResp{
		AccessToken: pair.AccessToken,
		User:        pair.User,
		ExpiresIn:   int64(time.Until(pair.AccessExpires).Seconds()),
	}
}

// writeAuthError maps the closed error set onto stable HTTP statuses so the
// session client can apply uniform recovery. Anything outside the set is an
// internal failure: logged server-side, generic to the client.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		retry := int(locked.RetryAfter(time.Now()).Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSONStatus(w, http.StatusTooManyRequests, errorBody{
			Error:      "account_locked",
			Message:    "Too many failed attempts. Try again later.",
			RetryAfter: retry,
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password.")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token_expired", "token expired")
	case errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, http.StatusForbidden, "invalid_token", "token has been revoked")
	case errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, http.StatusForbidden, "invalid_token", "invalid refresh token")
	case errors.Is(err, auth.ErrUserInactive):
		writeError(w, http.StatusForbidden, "account_inactive", "user no longer active")
	default:
		s.logger.Printf("auth error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/auth",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.Production,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Production,
		SameSite: http.SameSiteStrictMode,
	})
}

// checkCSRF enforces the double-submit pattern: once a csrfToken cookie has
// been issued, mutating calls must mirror it in the X-CSRF-Token header.
func (s *Server) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	c, err := r.Cookie(csrfCookieName)
	if err != nil || c.Value == "" {
		return true
	}
	if r.Header.Get(csrfHeaderName) != c.Value {
		writeError(w, http.StatusForbidden, "csrf_mismatch", "CSRF token missing or invalid")
		return false
	}
	return true
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	token, err := randomToken(16)
	if err != nil {
		s.logger.Printf("csrf token: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	// Readable by page script on purpose; that is what gets mirrored into
	// the header.
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   s.cfg.Production,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, map[string]string{"csrfToken": token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req loginReq
	if !decodeValid(w, r, &req) {
		return
	}

	pair, err := s.authn.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpires)
	writeJSON(w, s.sessionResponse(pair))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if !s.checkCSRF(w, r) {
		return
	}
	c, err := r.Cookie(refreshCookieName)
	if err != nil || c.Value == "" {
		writeError(w, http.StatusUnauthorized, "no_refresh_token", "no refresh token")
		return
	}

	pair, err := s.authn.Refresh(r.Context(), c.Value)
	if err != nil {
		// An expired refresh token is not recoverable by refreshing; fold it
		// into the invalid case so the client forces a re-login.
		if errors.Is(err, auth.ErrTokenExpired) {
			err = auth.ErrTokenInvalid
		}
		s.writeAuthError(w, err)
		return
	}

	s.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpires)
	writeJSON(w, s.sessionResponse(pair))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	claims, err := auth.MustClaims(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no auth context")
		return
	}
	// Read-only by design: repeat calls with the same token always answer
	// the same and mutate nothing.
	writeJSON(w, map[string]any{
		"valid": true,
		"user": auth.UserSummary{
			ID:       claims.UserID,
			Username: claims.Username,
			Role:     claims.Role,
		},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if !s.checkCSRF(w, r) {
		return
	}
	claims, err := auth.MustClaims(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no auth context")
		return
	}

	if err := s.authn.Logout(r.Context(), claims.UserID); err != nil {
		s.logger.Printf("logout %s: %v", claims.UserID, err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	s.clearRefreshCookie(w)
	writeJSON(w, map[string]bool{"success": true})
}

// handleAudit reports the event trail to administrators, verifying the hash
// chain on the way out.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if err := s.trail.Verify(); err != nil {
		s.logger.Printf("audit verify: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "audit trail verification failed")
		return
	}
	writeJSON(w, map[string]any{"entries": s.trail.Entries()})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if !s.checkCSRF(w, r) {
		return
	}
	claims, err := auth.MustClaims(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no auth context")
		return
	}

	var req changePasswordReq
	if !decodeValid(w, r, &req) {
		return
	}

	pair, err := s.authn.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	// The session that changed the password stays logged in on a fresh pair;
	// every other device's refresh token just died with the version bump.
	s.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpires)
	resp := s.sessionResponse(pair)
	writeJSON(w, map[string]any{
		"success":     true,
		"accessToken": resp.AccessToken,
		"user":        resp.User,
		"expiresIn":   resp.ExpiresIn,
	})
}
