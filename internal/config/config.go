package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"chatroom/internal/ratelimit"
)

// RateLimitRule is one entry of the canonical sliding-window table (§4.2).
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// Config holds every runtime setting the server needs.
type Config struct {
	Port string
	Env  string

	MongoURI    string
	RedisURL    string
	KafkaBroker string

	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration

	FastAPIURL          string
	ServiceSharedSecret string

	CORSOrigins []string

	RateLimits map[string]RateLimitRule
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	// Accept both Go duration strings ("900s") and bare-integer seconds.
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

// Load reads configuration from the environment, falling back to the
// defaults below for any variable that is unset or empty.
func Load() Config {
	origins := getenv("CORS_ORIGINS", "")
	var originList []string
	if origins != "" {
		for _, o := range strings.Split(origins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				originList = append(originList, o)
			}
		}
	}

	return Config{
		Port: getenv("PORT", "4000"),
		Env:  getenv("APP_ENV", "dev"),

		MongoURI:    getenv("MONGO_URI", "mongodb://localhost:27017/chatroom"),
		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),
		KafkaBroker: getenv("KAFKA_BROKER", "localhost:9092"),

		JWTAccessSecret:  getenv("JWT_ACCESS_SECRET", "dev-access-secret-change-me"),
		JWTRefreshSecret: getenv("JWT_REFRESH_SECRET", "dev-refresh-secret-change-me"),
		JWTAccessTTL:     getDuration("JWT_ACCESS_TTL", 900*time.Second),
		JWTRefreshTTL:    getDuration("JWT_REFRESH_TTL", 7*24*time.Hour),

		FastAPIURL:          getenv("FASTAPI_URL", "http://localhost:9000"),
		ServiceSharedSecret: getenv("SERVICE_SHARED_SECRET", ""),

		CORSOrigins: originList,

		RateLimits: DefaultRateLimits(),
	}
}

// DefaultRateLimits is the canonical configuration table from §4.2.
func DefaultRateLimits() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"messageUser":  {Limit: 60, Window: 60 * time.Second},
		"messageIP":    {Limit: 100, Window: 60 * time.Second},
		"websocketIP":  {Limit: 10, Window: 300 * time.Second},
		"apiUser":      {Limit: 1000, Window: 3600 * time.Second},
		"roomJoinUser": {Limit: 20, Window: 300 * time.Second},
	}
}

// RatelimitRules converts the config table into internal/ratelimit's own
// Rule type, since callers in that package can't depend on config
// (config.RateLimitRule and ratelimit.Rule are kept as distinct named
// types so ratelimit has no import on config).
func RatelimitRules(rules map[string]RateLimitRule) map[string]ratelimit.Rule {
	out := make(map[string]ratelimit.Rule, len(rules))
	for k, v := range rules {
		out[k] = ratelimit.Rule{Limit: v.Limit, Window: v.Window}
	}
	return out
}
