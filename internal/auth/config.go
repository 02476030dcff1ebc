package auth

import (
	"os"
	"strconv"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
)

// Config holds the token and cookie settings read from the environment.
type Config struct {
	AccessSecret    string
	RefreshSecret   string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RefreshRotation bool
	UserCacheTTL    time.Duration
	CookieSecure    bool
	CookieDomain    string
	LoginMaxTries   int64
	LoginWindow     time.Duration
}

func ConfigFromEnv() Config {
	cfg := Config{
		AccessSecret:    os.Getenv("ACCESS_TOKEN_SECRET"),
		RefreshSecret:   os.Getenv("REFRESH_TOKEN_SECRET"),
		AccessTTL:       durationEnv("ACCESS_TOKEN_TTL", DefaultAccessTTL),
		RefreshTTL:      durationEnv("REFRESH_TOKEN_TTL", DefaultRefreshTTL),
		RefreshRotation: os.Getenv("REFRESH_ROTATION") != "false",
		UserCacheTTL:    durationEnv("USER_CACHE_TTL", user.DefaultCacheTTL),
		CookieSecure:    os.Getenv("COOKIE_SECURE") != "false",
		CookieDomain:    os.Getenv("COOKIE_DOMAIN"),
		LoginMaxTries:   10,
		LoginWindow:     durationEnv("LOGIN_WINDOW", 15*time.Minute),
	}
	if n, err := strconv.ParseInt(os.Getenv("LOGIN_MAX_ATTEMPTS"), 10, 64); err == nil {
		cfg.LoginMaxTries = n
	}
	return cfg
}

// Codec builds a token codec from the configured secrets.
func (c Config) Codec() (*Codec, error) {
	return NewCodec(CodecConfig{
		AccessSecret:  []byte(c.AccessSecret),
		RefreshSecret: []byte(c.RefreshSecret),
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
	})
}

func durationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
