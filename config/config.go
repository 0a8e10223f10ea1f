package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	WebRTC    WebRTCConfig
	Sessions  SessionsConfig
	Inference InferenceConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:5173)
}

// RedisConfig holds Redis connection settings. An empty Addr disables the
// cross-instance event bridge.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings for tokens minted by the identity
// service.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// WebRTCConfig holds STUN/TURN ICE server URLs for peer negotiation.
type WebRTCConfig struct {
	ICEUrls               []string // e.g. stun:stun.l.google.com:19302 (comma-separated in env)
	TURNUrl               string   // optional; enables the relay-retry fallback
	NegotiationTimeoutSec int
}

// SessionsConfig holds registry lifecycle settings.
type SessionsConfig struct {
	IdleTimeoutSec   int // empty sessions older than this are closed by the sweep
	SweepIntervalSec int
}

// InferenceConfig holds the vision-model provider settings. An empty URL
// disables the diagnose endpoint.
type InferenceConfig struct {
	APIURL     string
	APIKey     string
	Model      string
	TimeoutSec int
}

// RateLimitConfig holds per-client request throttling settings.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	rps, _ := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "10"), 64)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		WebRTC: WebRTCConfig{
			ICEUrls:               splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
			TURNUrl:               getEnv("WEBRTC_TURN_URL", ""),
			NegotiationTimeoutSec: getEnvInt("NEGOTIATION_TIMEOUT_SEC", 5),
		},
		Sessions: SessionsConfig{
			IdleTimeoutSec:   getEnvInt("SESSION_IDLE_TIMEOUT_SEC", 1800),
			SweepIntervalSec: getEnvInt("SESSION_SWEEP_INTERVAL_SEC", 60),
		},
		Inference: InferenceConfig{
			APIURL:     getEnv("INFERENCE_API_URL", ""),
			APIKey:     getEnv("INFERENCE_API_KEY", ""),
			Model:      getEnv("INFERENCE_MODEL", "crop-vision-1"),
			TimeoutSec: getEnvInt("INFERENCE_TIMEOUT_SEC", 30),
		},
		RateLimit: RateLimitConfig{
			RPS:   rps,
			Burst: getEnvInt("RATE_LIMIT_BURST", 20),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
