// Package config loads the control plane's startup configuration from
// environment variables, the same getEnv/getIntEnv/getBoolEnv shape the
// teacher's internal/config package uses, trimmed to this deployment's
// knobs rather than a MarbleRun-flavored superset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
	regdomain "github.com/cleanfleet/control-plane/internal/app/domain/registration"
)

// Config holds every value needed to wire the control plane at startup.
type Config struct {
	ListenAddr string
	LogLevel   string
	LogFormat  string

	JWTSecret            string
	JWTIssuer            string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration

	TokenValidityDuration time.Duration
	MaxAgents             int
	AllowReregistration   bool

	Registration regdomain.Config

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration

	MaxConcurrentDistributions int
	MaxRetryAttempts           int
	RetryDelay                 time.Duration
	AcknowledgementTimeout     time.Duration
	MinimumSuccessRate         float64
	AutoRollbackOnFailure      bool

	PolicyWeight       float64
	HealthWeight       float64
	ConnectivityWeight float64
	MaxAuditLogEntries int

	Audit audit.RetentionConfig

	LogAllAccess    bool
	LogDeniedAccess bool
	MaxAuditEntries int

	PolicyDir string

	AdminUsername string
	AdminPassword string
}

// Load reads configuration from the process environment, applying the
// same defaults a fresh deployment would rely on in development.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "json"),

		JWTIssuer: getEnv("JWT_ISSUER", "cleanfleet-control-plane"),

		TokenValidityDuration: getDurationEnv("AGENT_TOKEN_TTL", 720*time.Hour),
		MaxAgents:             getIntEnv("MAX_AGENTS", 0),
		AllowReregistration:   getBoolEnv("ALLOW_REREGISTRATION", true),

		HeartbeatInterval: getDurationEnv("HEARTBEAT_INTERVAL", 60*time.Second),
		HeartbeatTimeout:  getDurationEnv("HEARTBEAT_TIMEOUT", 5*time.Minute),
		SweepInterval:     getDurationEnv("HEARTBEAT_SWEEP_INTERVAL", 30*time.Second),

		MaxConcurrentDistributions: getIntEnv("DISTRIBUTION_CONCURRENCY", 50),
		MaxRetryAttempts:           getIntEnv("DISTRIBUTION_MAX_RETRIES", 3),
		RetryDelay:                 getDurationEnv("DISTRIBUTION_RETRY_DELAY", 2*time.Second),
		AcknowledgementTimeout:     getDurationEnv("DISTRIBUTION_ACK_TIMEOUT", 30*time.Second),
		MinimumSuccessRate:         getFloatEnv("DISTRIBUTION_MIN_SUCCESS_RATE", 80),
		AutoRollbackOnFailure:      getBoolEnv("DISTRIBUTION_AUTO_ROLLBACK", true),

		PolicyWeight:       getFloatEnv("COMPLIANCE_POLICY_WEIGHT", 0.5),
		HealthWeight:       getFloatEnv("COMPLIANCE_HEALTH_WEIGHT", 0.3),
		ConnectivityWeight: getFloatEnv("COMPLIANCE_CONNECTIVITY_WEIGHT", 0.2),
		MaxAuditLogEntries: getIntEnv("COMPLIANCE_AUDIT_LOG_LIMIT", 500),

		Audit: audit.RetentionConfig{
			MaxEvents:     getIntEnv("AUDIT_MAX_EVENTS", 100000),
			RetentionDays: getIntEnv("AUDIT_RETENTION_DAYS", 90),
			AutoVacuum:    getBoolEnv("AUDIT_AUTO_VACUUM", true),
		},

		LogAllAccess:    getBoolEnv("ACCESS_LOG_ALL", false),
		LogDeniedAccess: getBoolEnv("ACCESS_LOG_DENIED", true),
		MaxAuditEntries: getIntEnv("ACCESS_AUDIT_LIMIT", 1000),

		PolicyDir: getEnv("POLICY_DIR", "./policies"),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
	}

	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if cfg.JWTSecret == "" {
		return nil, apperrors.Internal("JWT_SECRET must be set", nil)
	}
	cfg.AccessTokenDuration = getDurationEnv("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTokenDuration = getDurationEnv("REFRESH_TOKEN_TTL", 24*time.Hour)

	cfg.Registration = regdomain.Config{
		Policy:                  regdomain.AdmissionPolicy(getEnv("REGISTRATION_POLICY", string(regdomain.AdmissionAuto))),
		WhitelistedSerialHashes: splitSet(getEnv("REGISTRATION_SERIAL_WHITELIST", "")),
		HostnamePatterns:        splitList(getEnv("REGISTRATION_HOSTNAME_PATTERNS", "")),
		MinimumAppVersion:       getEnv("REGISTRATION_MIN_APP_VERSION", ""),
		RequiredCapabilities:    splitSet(getEnv("REGISTRATION_REQUIRED_CAPABILITIES", "")),
	}

	if cfg.AdminPassword == "" {
		return nil, apperrors.Internal("ADMIN_PASSWORD must be set", nil)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitSet(value string) map[string]struct{} {
	items := splitList(value)
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}

// String renders a one-line startup summary safe to log (no secrets).
func (c *Config) String() string {
	return fmt.Sprintf("listen=%s registrationPolicy=%s maxAgents=%d heartbeatInterval=%s",
		c.ListenAddr, c.Registration.Policy, c.MaxAgents, c.HeartbeatInterval)
}
