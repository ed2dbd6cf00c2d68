// Package config provides configuration management for the wifi daemon.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/bbernstein/lacylights-wifi/internal/services/wifi"
)

// Config holds all configuration values for the daemon.
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string
	DBDriver    string // "pure" or "cgo"
	DBDebug     bool

	// CORS configuration
	CORSOrigin string

	// Supplicant
	Interface        string
	P2PInterface     string
	CtrlDir          string
	SupplicantPath   string
	SupplicantConfig string
	SupplicantLog    string

	// Driver behaviour
	AutoRecovery     bool
	AutoConnect      bool
	RequestTimeout   time.Duration
	RequestRetries   int
	StartTimeout     time.Duration
	EventTimeout     time.Duration // 0 waits forever
	RecoveryTimeout  time.Duration
	JoinScanAttempts int
	HashPassphrase   bool
	Verbose          bool

	// APProfile is a yaml AP configuration used when start requests AP mode
	// without a body.
	APProfile string
}

// Load loads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port: getEnv("PORT", "4100"),
		Env:  getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "file:./wifi.db"),
		DBDriver:    getEnv("DB_DRIVER", "pure"),
		DBDebug:     getEnvBool("DB_DEBUG", false),

		// CORS
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:3000"),

		// Supplicant
		Interface:        getEnv("WIFI_INTERFACE", "wlan0"),
		P2PInterface:     getEnv("WIFI_P2P_INTERFACE", "p2p0"),
		CtrlDir:          getEnv("WIFI_CTRL_DIR", "/var/run/wpa_supplicant"),
		SupplicantPath:   getEnv("WIFI_SUPPLICANT_PATH", "wpa_supplicant"),
		SupplicantConfig: getEnv("WIFI_SUPPLICANT_CONFIG", ""),
		SupplicantLog:    getEnv("WIFI_SUPPLICANT_LOG", ""),

		// Driver
		AutoRecovery:     getEnvBool("WIFI_AUTO_RECOVERY", true),
		AutoConnect:      getEnvBool("WIFI_AUTOCONNECT", true),
		RequestTimeout:   getEnvDuration("WIFI_REQUEST_TIMEOUT", 10*time.Second),
		RequestRetries:   getEnvInt("WIFI_REQUEST_RETRIES", 3),
		StartTimeout:     getEnvDuration("WIFI_START_TIMEOUT", 5*time.Second),
		EventTimeout:     getEnvDuration("WIFI_EVENT_TIMEOUT", 0),
		RecoveryTimeout:  getEnvDuration("WIFI_RECOVERY_TIMEOUT", 30*time.Second),
		JoinScanAttempts: getEnvInt("WIFI_JOIN_SCAN_ATTEMPTS", 3),
		HashPassphrase:   getEnvBool("WIFI_HASH_PASSPHRASE", false),
		Verbose:          getEnvBool("WIFI_VERBOSE", false),

		APProfile: getEnv("WIFI_AP_PROFILE", ""),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Driver returns the driver settings.
func (c *Config) Driver() wifi.Config {
	cfg := wifi.DefaultConfig()
	cfg.Interface = c.Interface
	cfg.P2PInterface = c.P2PInterface
	cfg.CtrlDir = c.CtrlDir
	cfg.SupplicantPath = c.SupplicantPath
	cfg.ConfigFile = c.SupplicantConfig
	cfg.LogFile = c.SupplicantLog
	cfg.AutoRecovery = c.AutoRecovery
	cfg.AutoConnect = c.AutoConnect
	cfg.RequestTimeout = c.RequestTimeout
	cfg.RequestRetries = c.RequestRetries
	cfg.StartTimeout = c.StartTimeout
	cfg.EventTimeout = c.EventTimeout
	cfg.RecoveryTimeout = c.RecoveryTimeout
	cfg.JoinScanAttempts = c.JoinScanAttempts
	cfg.HashPassphrase = c.HashPassphrase
	cfg.Verbose = c.Verbose
	return cfg
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("500ms", "30s") and bare
// integers, which are read as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
