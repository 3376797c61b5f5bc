package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/petrzlen/voice-qa/pkg/remote"
	"github.com/rs/zerolog/log"
)

// Config is the process configuration. The API key is not part of it, it only lives in a session.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	OutputDir       string
	AnswerFile      string
	LogLevel        string

	SessionIdleTimeout time.Duration

	CORSAllowedOrigins []string
	AskRateLimit       int // requests per minute and IP

	Remote remote.Options
}

// Load reads .env (when present) and the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msgf("Cannot load .env file")
	}
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout:    getSeconds("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		OutputDir:          getEnv("OUTPUT_DIR", "output"),
		AnswerFile:         getEnv("ANSWER_FILE", remote.DefaultAnswerFile),
		LogLevel:           getEnv("LOG_LEVEL", "debug"),
		SessionIdleTimeout: getSeconds("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		AskRateLimit:       getInt("ASK_RATE_LIMIT_PER_MINUTE", 20),
		Remote: remote.Options{
			BaseURL:            os.Getenv("OPENAI_BASE_URL"),
			TranscriptionModel: os.Getenv("TRANSCRIPTION_MODEL"),
			ChatModel:          os.Getenv("CHAT_MODEL"),
			SpeechModel:        os.Getenv("SPEECH_MODEL"),
			SpeechVoice:        os.Getenv("SPEECH_VOICE"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", value).Msg("not an integer, using default")
	}
	return fallback
}

func getSeconds(key string, fallback time.Duration) time.Duration {
	seconds := getInt(key, -1)
	if seconds < 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func getList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var result []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
