package server

import (
	"net/http"

	"github.com/W1ldcard2152/phoenix-automotive-sub000/internal/auth"
)

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("/auth/csrf", s.handleCSRF)

	s.mux.HandleFunc("/auth/verify", s.handleVerify)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/auth/change-password", s.handleChangePassword)

	s.mux.Handle("/auth/audit", auth.RequireRole(auth.RoleAdmin)(http.HandlerFunc(s.handleAudit)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
