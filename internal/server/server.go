package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/W1ldcard2152/phoenix-automotive-sub000/internal/audit"
	"github.com/W1ldcard2152/phoenix-automotive-sub000/internal/auth"
)

type Server struct {
	cfg Config

	mux    *http.ServeMux
	users  auth.UserStore
	tokens *auth.TokenIssuer
	authn  *auth.Authenticator
	gate   *auth.RequestGate
	trail  *audit.Log
	logger *log.Logger

	rlGeneral *rateLimiter
	rlAuth    *rateLimiter
}

// New connects the Mongo-backed credential store and wires the full stack.
func New(ctx context.Context, cfg Config) (*Server, error) {
	cfg.setDefaults()

	users, err := auth.NewMongoUserStore(ctx, cfg.MongoURI, cfg.MongoDB, cfg.UsersCollection, auth.DefaultArgon)
	if err != nil {
		return nil, err
	}
	return NewWithStore(ctx, cfg, users)
}

// NewWithStore accepts any UserStore; tests use the in-memory one.
func NewWithStore(ctx context.Context, cfg Config, users auth.UserStore) (*Server, error) {
	cfg.setDefaults()

	tokens := auth.NewTokenIssuer(
		[]byte(cfg.AccessSecret), []byte(cfg.RefreshSecret),
		cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL,
	)

	trail := audit.New()
	authn := auth.NewAuthenticator(users, tokens, auth.DefaultPasswordPolicy)
	authn.Audit = trail

	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		users:  users,
		tokens: tokens,
		authn:  authn,
		gate:   &auth.RequestGate{Tokens: tokens, Users: users},
		trail:  trail,
		logger: log.New(os.Stdout, "[authd] ", log.LstdFlags|log.Lshortfile),

		// General ceiling on everything; a stricter one on the brute-force
		// targets. Both are sliding windows over the same kind of store.
		rlGeneral: newRateLimiter(newMemCounters(time.Hour), 300, 15*time.Minute),
		rlAuth:    newRateLimiter(newMemCounters(time.Hour), 10, 5*time.Minute),
	}

	if err := s.ensureSeedUsers(ctx); err != nil {
		return nil, err
	}

	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("panic: %v", rec)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
	}()

	s.addDefaultHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var h http.Handler = s.mux
	if strings.HasPrefix(r.URL.Path, "/auth/") && !s.isPublic(r.URL.Path) {
		h = s.gate.Require(h)
	}
	if s.isBruteForceTarget(r.URL.Path) {
		h = s.rlAuth.wrap(h)
	}
	h = s.rlGeneral.wrap(h)
	h.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s
}

// CloseStores releases the backing store's connections, if it holds any.
func (s *Server) CloseStores(ctx context.Context) error {
	if c, ok := s.users.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}

func (s *Server) isPublic(path string) bool {
	switch path {
	case "/health", "/auth/login", "/auth/refresh", "/auth/csrf":
		return true
	default:
		return false
	}
}

func (s *Server) isBruteForceTarget(path string) bool {
	return path == "/auth/login" || path == "/auth/refresh"
}

func (s *Server) addDefaultHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && s.originAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-CSRF-Token")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (s *Server) ensureSeedUsers(ctx context.Context) error {
	for _, seed := range s.cfg.SeedUsers {
		if strings.TrimSpace(seed.Username) == "" || strings.TrimSpace(seed.Password) == "" {
			continue
		}
		if _, err := s.users.FindByUsername(ctx, seed.Username); err == nil {
			continue
		}
		user := &auth.User{
			Username:    seed.Username,
			NewPassword: seed.Password,
			Role:        seed.Role,
			Active:      true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		s.logger.Printf("seeded user %s (%s)", user.Username, user.Role)
	}
	return nil
}
