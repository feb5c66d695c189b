package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// DatabaseURL selects the backend: a postgres:// URL uses lib/pq,
	// anything else is treated as a sqlite file path.
	DatabaseURL string

	// WhatsApp Cloud API.
	WAAccessToken   string
	WAPhoneNumberID string
	WAVerifyToken   string
	WAAPIBaseURL    string
	AllowedPhones   []string

	// WooCommerce store.
	WCBaseURL        string
	WCConsumerKey    string
	WCConsumerSecret string

	// Multimodal provider (Gemini).
	GoogleAIAPIKey  string
	MMModel         string
	MMFallbackModel string
	MMTimeoutSec    int
	MMMaxRetries    int

	// Outbound reply pacing.
	ReplyChunkChars int
	ReplyDelayMs    int
	TypingDelayMs   int

	// Voice replies.
	VoiceEnabled     bool
	VoicePreferVoice bool
	VoiceMaxNotes    int
	TTSProvider      string
	TTSVoiceID       string
	TTSModelID       string
	ElevenLabsAPIKey string
	GoogleTTSAPIKey  string
	PiperBaseURL     string

	// Catalog cache sync.
	SyncIntervalSec int
	SyncPageSize    int
	SyncMaxPages    int

	// Provider circuit breaker.
	BreakerFailThreshold int
	BreakerCooldownSec   int

	// Event mirror (RabbitMQ). Empty URL disables publishing.
	AMQPURL   string
	AMQPQueue string

	// Media archive (S3-compatible). Empty bucket disables archiving.
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
	S3PathStyle bool
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present; real environment
// variables take precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:      envStr("PORT", "8080"),
		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "console"),

		DatabaseURL: envStr("DATABASE_URL", "verabot.db"),

		WAAccessToken:   os.Getenv("WA_ACCESS_TOKEN"),
		WAPhoneNumberID: os.Getenv("WA_PHONE_NUMBER_ID"),
		WAVerifyToken:   os.Getenv("WA_VERIFY_TOKEN"),
		WAAPIBaseURL:    envStr("WA_API_BASE_URL", "https://graph.facebook.com/v20.0"),
		AllowedPhones:   splitList(os.Getenv("ALLOWED_PHONES")),

		WCBaseURL:        strings.TrimRight(os.Getenv("WC_BASE_URL"), "/"),
		WCConsumerKey:    os.Getenv("WC_CONSUMER_KEY"),
		WCConsumerSecret: os.Getenv("WC_CONSUMER_SECRET"),

		GoogleAIAPIKey:  os.Getenv("GOOGLE_AI_API_KEY"),
		MMModel:         envStr("MM_MODEL", "gemini-2.5-flash"),
		MMFallbackModel: envStr("MM_FALLBACK_MODEL", "gemini-2.5-flash-lite"),
		MMTimeoutSec:    envInt("MM_TIMEOUT_SEC", 75, 10, 180),
		MMMaxRetries:    envInt("MM_MAX_RETRIES", 2, 0, 8),

		ReplyChunkChars: envInt("REPLY_CHUNK_CHARS", 480, 120, 2000),
		ReplyDelayMs:    envInt("REPLY_DELAY_MS", 900, 0, 15000),
		TypingDelayMs:   envInt("TYPING_DELAY_MS", 450, 0, 15000),

		VoiceEnabled:     envBool("VOICE_ENABLED", false),
		VoicePreferVoice: envBool("VOICE_PREFER_VOICE", false),
		VoiceMaxNotes:    envInt("VOICE_MAX_NOTES", 1, 0, 5),
		TTSProvider:      envStr("TTS_PROVIDER", "google"),
		TTSVoiceID:       os.Getenv("TTS_VOICE_ID"),
		TTSModelID:       os.Getenv("TTS_MODEL_ID"),
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
		GoogleTTSAPIKey:  os.Getenv("GOOGLE_TTS_API_KEY"),
		PiperBaseURL:     strings.TrimRight(os.Getenv("PIPER_BASE_URL"), "/"),

		SyncIntervalSec: envInt("CATALOG_SYNC_INTERVAL_SEC", 300, 30, 3600),
		SyncPageSize:    envInt("CATALOG_SYNC_PAGE_SIZE", 100, 1, 100),
		SyncMaxPages:    envInt("CATALOG_SYNC_MAX_PAGES", 50, 1, 500),

		BreakerFailThreshold: envInt("BREAKER_FAIL_THRESHOLD", 3, 1, 20),
		BreakerCooldownSec:   envInt("BREAKER_COOLDOWN_SEC", 90, 5, 3600),

		AMQPURL:   os.Getenv("AMQP_URL"),
		AMQPQueue: envStr("AMQP_QUEUE", "verabot_events"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    envStr("S3_REGION", "us-east-1"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3PublicURL: strings.TrimRight(os.Getenv("S3_PUBLIC_URL"), "/"),
		S3PathStyle: envBool("S3_PATH_STYLE", true),
	}

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt reads an integer and clamps it to [min, max]. Unparseable
// values fall back to the default.
func envInt(key string, def, min, max int) int {
	v := def
	if raw := os.Getenv(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			v = n
		} else {
			log.Warn().Str("var", key).Str("value", raw).Msg("Invalid integer, using default")
		}
	}
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}

func envBool(key string, def bool) bool {
	raw := strings.ToLower(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
