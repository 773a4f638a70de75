package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/W1ldcard2152/phoenix-automotive-sub000/internal/auth"
)

// Development fallbacks: clearly named, logged at startup, never a silent
// disable of signing.
const (
	devAccessSecret  = "dev-access-secret-change-me"
	devRefreshSecret = "dev-refresh-secret-change-me"
)

type SeedUser struct {
	Username string
	Password string
	Role     auth.Role
}

type Config struct {
	Addr string

	MongoURI        string
	MongoDB         string
	UsersCollection string

	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	JWTIssuer     string

	// Production switches the Secure cookie attribute and the CORS
	// allow-list behavior.
	Production     bool
	AllowedOrigins []string

	SeedUsers []SeedUser
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	if c.MongoDB == "" {
		c.MongoDB = "phoenix"
	}
	if c.UsersCollection == "" {
		c.UsersCollection = "users"
	}
	if c.AccessSecret == "" {
		c.AccessSecret = devAccessSecret
	}
	if c.RefreshSecret == "" {
		c.RefreshSecret = devRefreshSecret
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = 15 * time.Minute
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "phoenix-automotive"
	}
	if len(c.AllowedOrigins) == 0 && !c.Production {
		c.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
}

// UsingDevSecrets reports whether either signing secret is a fallback;
// main refuses to start in production when it returns true.
func (c *Config) UsingDevSecrets() bool {
	return c.AccessSecret == devAccessSecret || c.RefreshSecret == devRefreshSecret
}

// FromEnv builds a Config from the environment. Callers load .env first.
func FromEnv() Config {
	cfg := Config{
		Addr:            os.Getenv("AUTH_ADDR"),
		MongoURI:        os.Getenv("MONGO_URI"),
		MongoDB:         os.Getenv("MONGO_DB"),
		UsersCollection: os.Getenv("MONGO_USERS_COLLECTION"),
		AccessSecret:    os.Getenv("ACCESS_TOKEN_SECRET"),
		RefreshSecret:   os.Getenv("REFRESH_TOKEN_SECRET"),
		AccessTTL:       envDuration("ACCESS_TOKEN_TTL"),
		RefreshTTL:      envDuration("REFRESH_TOKEN_TTL"),
		JWTIssuer:       os.Getenv("JWT_ISSUER"),
		Production:      os.Getenv("APP_ENV") == "production",
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	if seed := os.Getenv("SEED_ADMIN_PASSWORD"); seed != "" {
		username := os.Getenv("SEED_ADMIN_USERNAME")
		if username == "" {
			username = "admin"
		}
		cfg.SeedUsers = append(cfg.SeedUsers, SeedUser{
			Username: username,
			Password: seed,
			Role:     auth.RoleAdmin,
		})
	}
	return cfg
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are read as minutes, matching the original deployment's
	// "ACCESS_TOKEN_TTL=15" convention.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Minute
	}
	return 0
}
