// Package config reads service configuration from the environment. An
// optional .env file in the working directory is loaded first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"attendguard/internal/biometric"
	"attendguard/internal/qrcredential"
	"attendguard/internal/timepolicy"
	platformstrings "attendguard/pkg/platform/strings"
)

// Config is the full service configuration.
type Config struct {
	Server     Server
	Log        LogConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Biometric  BiometricConfig
	QR         QRConfig
	Audit      AuditConfig
	Attendance AttendanceConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr               string
	JWTSigningKey      string
	AdminIssuer        string
	AdminAudience      string
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// DatabaseConfig selects Postgres. An empty URL runs on in-memory stores.
type DatabaseConfig struct {
	URL string
}

// RedisConfig selects the Redis biometric store. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit forwarder. No brokers disables forwarding.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
	ClientID   string
	BufferSize int
}

type BiometricConfig struct {
	Enabled        bool
	Policy         biometric.Policy
	Secret         string
	MatcherURL     string
	MatcherTimeout time.Duration
}

type QRConfig struct {
	ExpiryWindow time.Duration
}

type AuditConfig struct {
	MaxEntries int
	QueryLimit int
}

type AttendanceConfig struct {
	Policy        timepolicy.Policy
	Location      *time.Location
	UAFingerprint bool
}

// FromEnv builds the configuration. Malformed values are collected and
// returned together; unset values fall back to defaults.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	e := &env{}
	policy := timepolicy.DefaultPolicy()
	bio := biometric.DefaultPolicy()

	cfg := Config{
		Server: Server{
			Addr:               e.str("ATTENDGUARD_ADDR", ":8080"),
			JWTSigningKey:      e.str("JWT_SIGNING_KEY", ""),
			AdminIssuer:        e.str("ADMIN_TOKEN_ISSUER", "attendguard"),
			AdminAudience:      e.str("ADMIN_TOKEN_AUDIENCE", "attendguard-admin"),
			CORSAllowedOrigins: e.list("CORS_ALLOWED_ORIGINS", nil),
			ShutdownTimeout:    e.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Log: LogConfig{
			Level:  e.str("LOG_LEVEL", "info"),
			Format: e.str("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{URL: e.str("DATABASE_URL", "")},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    e.list("KAFKA_BROKERS", nil),
			AuditTopic: e.str("KAFKA_AUDIT_TOPIC", "attendance.audit"),
			ClientID:   e.str("KAFKA_CLIENT_ID", "attendguard"),
			BufferSize: e.integer("AUDIT_FORWARD_BUFFER", 1024),
		},
		Biometric: BiometricConfig{
			Enabled: e.boolean("BIOMETRIC_ENABLED", true),
			Policy: biometric.Policy{
				ChallengeTTL:      e.seconds("BIOMETRIC_CHALLENGE_TTL", bio.ChallengeTTL),
				MaxFailedAttempts: e.integer("BIOMETRIC_MAX_FAILED_ATTEMPTS", bio.MaxFailedAttempts),
				LockoutDuration:   e.seconds("BIOMETRIC_LOCKOUT_DURATION", bio.LockoutDuration),
				NonceLength:       e.integer("BIOMETRIC_NONCE_LENGTH", bio.NonceLength),
			},
			Secret:         e.str("BIOMETRIC_SECRET", ""),
			MatcherURL:     e.str("FACE_MATCHER_URL", ""),
			MatcherTimeout: e.duration("FACE_MATCHER_TIMEOUT", 10*time.Second),
		},
		QR: QRConfig{
			ExpiryWindow: e.duration("QR_EXPIRY_WINDOW", qrcredential.DefaultExpiryWindow),
		},
		Audit: AuditConfig{
			MaxEntries: e.integer("AUDIT_MAX_ENTRIES", 10000),
			QueryLimit: e.integer("AUDIT_QUERY_LIMIT", 1000),
		},
		Attendance: AttendanceConfig{
			Location:      e.location("ATTENDANCE_TIMEZONE", time.UTC),
			UAFingerprint: e.boolean("DEVICE_UA_FINGERPRINT", true),
		},
	}

	g := &policy.Global
	g.Enabled = e.boolean("TIME_RESTRICTIONS_ENABLED", g.Enabled)
	g.WorkHours.Start = e.clock("WORK_START", g.WorkHours.Start)
	g.WorkHours.End = e.clock("WORK_END", g.WorkHours.End)
	g.AllowedDays = e.weekdays("WORK_DAYS", g.AllowedDays)
	g.Breaks = e.windows("WORK_BREAKS", g.Breaks)
	g.MinWorkDuration = e.duration("WORK_MIN_DURATION", g.MinWorkDuration)
	g.MaxWorkDuration = e.duration("WORK_MAX_DURATION", g.MaxWorkDuration)
	g.LateAfter = e.clock("LATE_AFTER", g.LateAfter)
	g.LateAllowance = e.duration("LATE_ALLOWANCE", g.LateAllowance)
	policy.Holiday.Enabled = e.boolean("HOLIDAY_POLICY_ENABLED", policy.Holiday.Enabled)
	policy.Holiday.AllowEmergency = e.boolean("HOLIDAY_ALLOW_EMERGENCY", policy.Holiday.AllowEmergency)
	cfg.Attendance.Policy = policy

	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects non-positive thresholds and inverted windows.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	b := c.Biometric.Policy
	check(b.ChallengeTTL > 0, "BIOMETRIC_CHALLENGE_TTL must be positive")
	check(b.MaxFailedAttempts > 0, "BIOMETRIC_MAX_FAILED_ATTEMPTS must be positive")
	check(b.LockoutDuration > 0, "BIOMETRIC_LOCKOUT_DURATION must be positive")
	check(b.NonceLength >= 8, "BIOMETRIC_NONCE_LENGTH must be at least 8")
	check(c.QR.ExpiryWindow > 0, "QR_EXPIRY_WINDOW must be positive")
	check(c.Audit.MaxEntries > 0, "AUDIT_MAX_ENTRIES must be positive")
	check(c.Audit.QueryLimit > 0, "AUDIT_QUERY_LIMIT must be positive")
	check(c.Kafka.BufferSize > 0, "AUDIT_FORWARD_BUFFER must be positive")

	g := c.Attendance.Policy.Global
	check(g.WorkHours.Start < g.WorkHours.End, "WORK_START must precede WORK_END")
	for _, w := range g.Breaks {
		check(w.Start <= w.End, "WORK_BREAKS windows must not be inverted")
	}
	check(g.MinWorkDuration >= 0, "WORK_MIN_DURATION must not be negative")
	check(g.MaxWorkDuration == 0 || g.MaxWorkDuration >= g.MinWorkDuration, "WORK_MAX_DURATION must not be below WORK_MIN_DURATION")
	check(g.LateAllowance >= 0, "LATE_ALLOWANCE must not be negative")
	return errors.Join(errs...)
}

// env reads typed variables and remembers parse failures.
type env struct {
	errs []error
}

func (e *env) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e *env) str(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// list splits a comma separated value into trimmed, lowercased, deduplicated items.
func (e *env) list(key string, fallback []string) []string {
	out := platformstrings.SplitList(e.str(key, ""))
	if len(out) == 0 {
		return fallback
	}
	return out
}

func (e *env) integer(key string, fallback int) int {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return n
}

func (e *env) boolean(key string, fallback bool) bool {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return b
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return d
}

// seconds accepts a bare number of seconds or a Go duration.
func (e *env) seconds(key string, fallback time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return e.duration(key, fallback)
}

func (e *env) clock(key string, fallback timepolicy.ClockTime) timepolicy.ClockTime {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	c, err := timepolicy.ParseClock(v)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return c
}

func (e *env) windows(key string, fallback []timepolicy.Window) []timepolicy.Window {
	items := e.list(key, nil)
	if items == nil {
		return fallback
	}
	out := make([]timepolicy.Window, 0, len(items))
	for _, item := range items {
		w, err := timepolicy.ParseWindow(item)
		if err != nil {
			e.fail(key, err)
			return fallback
		}
		out = append(out, w)
	}
	return out
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func (e *env) weekdays(key string, fallback []time.Weekday) []time.Weekday {
	items := e.list(key, nil)
	if items == nil {
		return fallback
	}
	out := make([]time.Weekday, 0, len(items))
	for _, item := range items {
		name := item
		if len(name) > 3 {
			name = name[:3]
		}
		d, ok := weekdayNames[name]
		if !ok {
			e.fail(key, fmt.Errorf("unknown weekday %q", item))
			return fallback
		}
		out = append(out, d)
	}
	return out
}

func (e *env) location(key string, fallback *time.Location) *time.Location {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return loc
}
