package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// MinRemoteKeyLength is the shortest remote credential considered plausible.
const MinRemoteKeyLength = 100

// Limits mirrors the product limits enforced by the record stores.
type Limits struct {
	MaxReports       int
	MaxTrackingCodes int
}

// S3Config holds S3-compatible storage configuration for local store backups.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Configured reports whether enough S3 settings are present to upload.
func (c S3Config) Configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds everything read from the environment.
type Config struct {
	Port     string
	DBPath   string
	LogLevel string
	Env      string

	KVBackend string
	RedisAddr string

	APIBase   string
	RemoteURL string
	RemoteKey string

	AllowImplicitSignup bool
	FixedScanInterval   bool

	Limits Limits
	S3     S3Config
}

// Load reads a .env file from the working directory when present, then the
// process environment.
func Load() *Config {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, applying defaults.
func FromEnv(getenv func(string) string) *Config {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	return &Config{
		Port:     get("WEEME_PORT", "8080"),
		DBPath:   get("WEEME_DB_PATH", "weeme.db"),
		LogLevel: get("WEEME_LOG_LEVEL", "info"),
		Env:      get("WEEME_ENV", "development"),

		KVBackend: get("WEEME_KV_BACKEND", "sqlite"),
		RedisAddr: get("WEEME_REDIS_ADDR", "localhost:6379"),

		APIBase:   strings.TrimRight(get("WEEME_API_BASE", "http://localhost:8787"), "/"),
		RemoteURL: get("WEEME_REMOTE_URL", ""),
		RemoteKey: get("WEEME_REMOTE_KEY", ""),

		AllowImplicitSignup: parseBool(getenv("WEEME_IMPLICIT_SIGNUP"), true),
		FixedScanInterval:   parseBool(getenv("WEEME_FIXED_SCAN_INTERVAL"), false),

		Limits: Limits{
			MaxReports:       parseInt(getenv("WEEME_MAX_REPORTS"), 50),
			MaxTrackingCodes: parseInt(getenv("WEEME_MAX_TRACKING_CODES"), 10),
		},
		S3: S3Config{
			Endpoint:  get("WEEME_S3_ENDPOINT", ""),
			Bucket:    get("WEEME_S3_BUCKET", ""),
			Region:    get("WEEME_S3_REGION", "us-east-1"),
			AccessKey: get("WEEME_S3_ACCESS_KEY", ""),
			SecretKey: get("WEEME_S3_SECRET_KEY", ""),
		},
	}
}

// IsProduction reports whether WEEME_ENV is "production".
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// RemoteEnabled reports whether the remote database may be used: the endpoint
// must use a secure scheme and the credential must look real.
func (c *Config) RemoteEnabled() bool {
	return c.RemoteURL != "" && SecureEndpoint(c.RemoteURL) && len(c.RemoteKey) > MinRemoteKeyLength
}

// SecureEndpoint accepts https URLs and postgres URLs that require TLS.
func SecureEndpoint(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "https":
		return true
	case "postgres", "postgresql":
		switch u.Query().Get("sslmode") {
		case "require", "verify-ca", "verify-full":
			return true
		}
	}
	return false
}

// Warnings lists configuration problems that do not stop the process.
func (c *Config) Warnings() []string {
	var warnings []string

	if c.RemoteURL != "" && !SecureEndpoint(c.RemoteURL) {
		warnings = append(warnings, "WEEME_REMOTE_URL should use https:// (or postgres with sslmode=require)")
	}
	if c.RemoteKey != "" && len(c.RemoteKey) <= MinRemoteKeyLength {
		warnings = append(warnings, "WEEME_REMOTE_KEY appears to be invalid (too short)")
	}

	if c.IsProduction() {
		if c.RemoteURL == "" {
			warnings = append(warnings, "WEEME_REMOTE_URL not set - using local store only")
		}
		if c.RemoteKey == "" {
			warnings = append(warnings, "WEEME_REMOTE_KEY not set - using local store only")
		}
		if strings.Contains(c.APIBase, "localhost") {
			warnings = append(warnings, "WEEME_API_BASE uses localhost in production - this may cause issues")
		}
	}

	switch c.KVBackend {
	case "sqlite", "redis":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown WEEME_KV_BACKEND %q - using sqlite", c.KVBackend))
	}

	return warnings
}

// Status is the non-secret view of the configuration served to clients.
type Status struct {
	Environment   string `json:"environment"`
	RemoteEnabled bool   `json:"remote_enabled"`
	APIBase       string `json:"api_base"`
	KVBackend     string `json:"kv_backend"`
	BackupEnabled bool   `json:"backup_enabled"`
}

func (c *Config) Status() Status {
	env := "development"
	if c.IsProduction() {
		env = "production"
	}
	return Status{
		Environment:   env,
		RemoteEnabled: c.RemoteEnabled(),
		APIBase:       c.APIBase,
		KVBackend:     c.KVBackend,
		BackupEnabled: c.S3.Configured(),
	}
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return b
}

func parseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
