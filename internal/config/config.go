package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"wa-bot-go/internal/logger"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port           string
	APIKey         string
	JWTSecret      string
	AllowedDomains []string

	// Logging
	LogLevel  string
	LogFormat string

	// Store
	StoreDriver       string
	SQLitePath        string
	FirebaseProjectID string
	GoogleCredentials string
	ConnectionID      string

	// Automation
	Driver           string
	WAURL            string
	ChromePath       string
	ChromeHeadless   bool
	ChromeUserData   string
	UserAgent        string
	OperationTimeout time.Duration
	SocketSessionDB  string
	LIDCachePath     string

	// Pairing and health
	AuthProbeTimeout    time.Duration
	PairingTimeout      time.Duration
	QRRefreshInterval   time.Duration
	HealthInterval      time.Duration
	HealthConfirmations int
	LoginPollInterval   time.Duration
	LoginTimeout        time.Duration

	// Reconnection
	ReconnectBaseInterval time.Duration
	ReconnectMaxDelay     time.Duration
	MaxReconnectAttempts  int

	// Delivery
	SendDelayMin      time.Duration
	SendDelayMax      time.Duration
	TypingDelayMin    time.Duration
	TypingDelayMax    time.Duration
	TypingPauseChance float64
	TypingPauseMin    time.Duration
	TypingPauseMax    time.Duration
	DrainInterval     time.Duration
	MaxSendRetries    int

	// Leads
	AssignmentStrategy string

	// Session
	SessionBlobPath string
	AutoConnect     bool

	// Events
	AMQPURL      string
	AMQPExchange string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Load reads configuration from environment variables
func Load() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	return &Config{
		Port:           getEnv("PORT", "3001"),
		APIKey:         getEnv("API_KEY", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		AllowedDomains: parseAllowedDomains(getEnv("ALLOWED_DOMAINS", "http://localhost:3000")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		SQLitePath:        getEnv("SQLITE_PATH", "data/bot.db"),
		FirebaseProjectID: getEnv("FIREBASE_PROJECT_ID", ""),
		GoogleCredentials: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		ConnectionID:      getEnv("CONNECTION_ID", "whatsapp"),

		Driver:           strings.ToLower(getEnv("WA_DRIVER", "browser")),
		WAURL:            strings.TrimRight(getEnv("WA_URL", "https://web.whatsapp.com"), "/"),
		ChromePath:       getEnv("CHROME_PATH", ""),
		ChromeHeadless:   getBoolEnv("CHROME_HEADLESS", true),
		ChromeUserData:   getEnv("CHROME_USER_DATA_DIR", ""),
		UserAgent:        getEnv("USER_AGENT", defaultUserAgent),
		OperationTimeout: getDurationEnv("OPERATION_TIMEOUT", 60*time.Second),
		SocketSessionDB:  getEnv("SOCKET_SESSION_DB", "data/session-socket.db"),
		LIDCachePath:     getEnv("LID_CACHE_PATH", "data/lid-cache.json"),

		AuthProbeTimeout:    getDurationEnv("AUTH_PROBE_TIMEOUT", 5*time.Second),
		PairingTimeout:      getDurationEnv("PAIRING_TIMEOUT", 20*time.Second),
		QRRefreshInterval:   getDurationEnv("QR_REFRESH_INTERVAL", 25*time.Second),
		HealthInterval:      getDurationEnv("HEALTH_INTERVAL", 30*time.Second),
		HealthConfirmations: getIntEnv("HEALTH_CONFIRMATIONS", 2),
		LoginPollInterval:   getDurationEnv("LOGIN_POLL_INTERVAL", 2*time.Second),
		LoginTimeout:        getDurationEnv("LOGIN_TIMEOUT", 5*time.Minute),

		ReconnectBaseInterval: getDurationEnv("RECONNECT_BASE_INTERVAL", 5*time.Second),
		ReconnectMaxDelay:     getDurationEnv("RECONNECT_MAX_DELAY", 5*time.Minute),
		MaxReconnectAttempts:  getIntEnv("MAX_RECONNECT_ATTEMPTS", 10),

		SendDelayMin:      getDurationEnv("SEND_DELAY_MIN", time.Second),
		SendDelayMax:      getDurationEnv("SEND_DELAY_MAX", 3*time.Second),
		TypingDelayMin:    getDurationEnv("TYPING_DELAY_MIN", 30*time.Millisecond),
		TypingDelayMax:    getDurationEnv("TYPING_DELAY_MAX", 130*time.Millisecond),
		TypingPauseChance: getFloatEnv("TYPING_PAUSE_CHANCE", 0.1),
		TypingPauseMin:    getDurationEnv("TYPING_PAUSE_MIN", 200*time.Millisecond),
		TypingPauseMax:    getDurationEnv("TYPING_PAUSE_MAX", 700*time.Millisecond),
		DrainInterval:     getDurationEnv("DRAIN_INTERVAL", 1500*time.Millisecond),
		MaxSendRetries:    getIntEnv("MAX_SEND_RETRIES", 3),

		AssignmentStrategy: strings.ToLower(getEnv("ASSIGNMENT_STRATEGY", "round_robin")),

		SessionBlobPath: getEnv("SESSION_BLOB_PATH", "data/session.json"),
		AutoConnect:     getBoolEnv("AUTO_CONNECT", false),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "whatsapp.bot"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logger.Warn("Invalid integer in environment, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return n
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logger.Warn("Invalid number in environment, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return f
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		logger.Warn("Invalid boolean in environment, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return b
}

// getDurationEnv accepts Go durations ("1.5s") or bare milliseconds ("1500").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration in environment, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return d
}

func parseAllowedDomains(domainsStr string) []string {
	domains := strings.Split(domainsStr, ",")
	result := make([]string, 0, len(domains))
	for _, d := range domains {
		trimmed := strings.TrimSpace(d)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
