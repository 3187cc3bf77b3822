package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ChaoticNebula5/Janmitra/internal/log"
)

var ErrMissingAPIKey = errors.New("config: GOOGLE_API_KEY is required")

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string

	GoogleAPIKey string
	GeminiModel  string
	GeminiVoice  string

	ICEServersJSON string
	AuthPassword   string

	TwilioAccountSID string
	TwilioAuthToken  string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string
}

const (
	defaultHTTPAddress = ":7860"
	defaultICEServers  = `[{"urls":["stun:stun.l.google.com:19302"]}]`
	defaultBucket      = "janmitra-sessions"
)

// Load reads the environment and then the .env file, if any, whose values
// win over the environment. It configures logging from LOG_LEVEL before
// warning about optional features that are not configured.
func Load() Config {
	envErr := godotenv.Overload()

	cfg := Config{
		HTTPAddress:            getEnv("HTTP_ADDRESS", defaultHTTPAddress),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		GoogleAPIKey:           os.Getenv("GOOGLE_API_KEY"),
		GeminiModel:            os.Getenv("GEMINI_MODEL"),
		GeminiVoice:            os.Getenv("GEMINI_VOICE"),
		ICEServersJSON:         getEnv("ICE_SERVERS_JSON", defaultICEServers),
		AuthPassword:           os.Getenv("RTC_AUTH_PASSWORD"),
		TwilioAccountSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:        os.Getenv("TWILIO_AUTH_TOKEN"),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", defaultBucket),
	}

	log.Init(cfg.LogLevel)
	if envErr != nil {
		log.Debug("no .env file loaded", "err", envErr)
	}
	if cfg.AuthPassword == "" {
		log.Warn("RTC_AUTH_PASSWORD not set - signaling endpoints are open")
	}
	if !cfg.TwilioEnabled() {
		log.Info("TWILIO_ACCOUNT_SID/TWILIO_AUTH_TOKEN not set - using ICE_SERVERS_JSON")
	}
	if !cfg.ArchiveEnabled() {
		log.Info("SUPABASE_URL/SUPABASE_SERVICE_ROLE_KEY not set - transcripts are not archived")
	}
	log.Info("config loaded", "http_address", cfg.HTTPAddress)
	return cfg
}

// Validate checks what a session cannot run without.
func (c Config) Validate() error {
	if c.GoogleAPIKey == "" {
		return ErrMissingAPIKey
	}
	if !strings.HasPrefix(c.GoogleAPIKey, "AIza") {
		log.Warn("GOOGLE_API_KEY does not look like a Google API key")
	}
	return nil
}

func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

func (c Config) ArchiveEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceRoleKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
