// Package config handles environment-based configuration for Vigil.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the complete Vigil configuration loaded from environment variables.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Database     DatabaseConfig
	Docker       DockerConfig
	Redis        RedisConfig
	Security     SecurityConfig
	Downstream   DownstreamConfig
	SelfHealing  SelfHealingConfig
	HealthProbe  HealthProbeConfig
	Watcher      WatcherConfig
	Patch        PatchConfig
	RateLimit    RateLimitConfig
	LogRetention LogRetentionConfig
	Services     Registry
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host        string
	Port        string
	Mode        string // "debug" or "release"
	CORSOrigins []string
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, file, both
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DatabaseConfig contains audit database settings.
type DatabaseConfig struct {
	Path string
}

// DockerConfig contains Docker daemon settings.
type DockerConfig struct {
	Host string
}

// RedisConfig contains event broker settings. An empty Addr selects the
// in-process bus.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SecurityConfig contains shared secrets for the request gates.
type SecurityConfig struct {
	JWTSecret     string
	APIKey        string
	BuilderSecret string
}

// DownstreamConfig contains the base URLs of collaborating services.
type DownstreamConfig struct {
	ParserURL    string
	RetrievalURL string
	Timeout      time.Duration
}

// SelfHealingConfig contains the restart policy.
type SelfHealingConfig struct {
	Enabled     bool
	MaxRetries  int
	SettleDelay time.Duration
}

// HealthProbeConfig contains the periodic service probe settings.
type HealthProbeConfig struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
}

// WatcherConfig contains container watcher settings.
type WatcherConfig struct {
	Enabled          bool
	SnapshotInterval time.Duration
}

// PatchConfig contains auto-patch pipeline settings.
type PatchConfig struct {
	RepoPath        string
	LogPath         string
	ResponseTimeout time.Duration
	WarmupDelay     time.Duration
	CommandTimeout  time.Duration
	LintCommand     string
	TestCommand     string
	BuildCommand    string
	ComposeCommand  string
}

// RateLimitConfig contains per-class request budgets.
type RateLimitConfig struct {
	Enabled bool
	Window  time.Duration
	Budgets map[string]int
}

// LogRetentionConfig contains audit log retention settings.
type LogRetentionConfig struct {
	Days int
}

// ServiceTarget describes a logical service known to the supervisor.
type ServiceTarget struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Container string `yaml:"container,omitempty"`
}

// Registry is the list of supervised services.
type Registry []ServiceTarget

// ByName returns the registered service with the given name.
func (r Registry) ByName(name string) (ServiceTarget, bool) {
	for _, svc := range r {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceTarget{}, false
}

type servicesFile struct {
	Services []ServiceTarget `yaml:"services"`
}

// Rate limit classes.
const (
	ClassWebhook      = "webhook"
	ClassAdminAuth    = "admin-auth"
	ClassPatchRequest = "patch-request"
	ClassPatchApply   = "patch-apply"
	ClassPatchHistory = "patch-history"
	ClassGeneral      = "general"
)

// Load reads configuration from environment variables with sensible defaults.
// All environment variables use the VIGIL_ prefix.
//
// Configuration variables (selection):
//   - VIGIL_SERVER_HOST (default: "0.0.0.0"), VIGIL_SERVER_PORT (default: "8080")
//   - VIGIL_REDIS_ADDR (default: "", in-process bus)
//   - VIGIL_JWT_SECRET, VIGIL_API_KEY, VIGIL_BUILDER_SECRET (required)
//   - VIGIL_SERVICES ("name=url,...") or VIGIL_SERVICES_FILE (yaml)
//   - VIGIL_SELF_HEALING_MAX_RETRIES (default: 3)
//   - VIGIL_PATCH_REPO_PATH (default: ".")
//
// Returns an error if validation fails.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("VIGIL_SERVER_HOST", "0.0.0.0"),
			Port:        getEnv("VIGIL_SERVER_PORT", "8080"),
			Mode:        getEnv("VIGIL_SERVER_MODE", "debug"),
			CORSOrigins: getEnvList("VIGIL_CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Log: LogConfig{
			Level:      getEnv("VIGIL_LOG_LEVEL", "info"),
			Format:     getEnv("VIGIL_LOG_FORMAT", "text"),
			Output:     getEnv("VIGIL_LOG_OUTPUT", "stdout"),
			FilePath:   getEnv("VIGIL_LOG_FILE", "logs/vigil.log"),
			MaxSizeMB:  getEnvInt("VIGIL_LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("VIGIL_LOG_MAX_BACKUPS", 10),
			MaxAgeDays: getEnvInt("VIGIL_LOG_MAX_AGE_DAYS", 30),
			Compress:   getEnvBool("VIGIL_LOG_COMPRESS", true),
		},
		Database: DatabaseConfig{
			Path: getDBPath(),
		},
		Docker: DockerConfig{
			Host: getEnv("VIGIL_DOCKER_HOST", "unix:///var/run/docker.sock"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("VIGIL_REDIS_ADDR", ""),
			Password: getEnv("VIGIL_REDIS_PASSWORD", ""),
			DB:       getEnvInt("VIGIL_REDIS_DB", 0),
		},
		Security: SecurityConfig{
			JWTSecret:     os.Getenv("VIGIL_JWT_SECRET"),
			APIKey:        os.Getenv("VIGIL_API_KEY"),
			BuilderSecret: os.Getenv("VIGIL_BUILDER_SECRET"),
		},
		Downstream: DownstreamConfig{
			ParserURL:    getEnv("VIGIL_PARSER_URL", "http://parser:8000"),
			RetrievalURL: getEnv("VIGIL_RETRIEVAL_URL", "http://retrieval:8001"),
			Timeout:      getEnvDuration("VIGIL_DOWNSTREAM_TIMEOUT", 5*time.Second),
		},
		SelfHealing: SelfHealingConfig{
			Enabled:     getEnvBool("VIGIL_SELF_HEALING_ENABLED", true),
			MaxRetries:  getEnvInt("VIGIL_SELF_HEALING_MAX_RETRIES", 3),
			SettleDelay: getEnvDuration("VIGIL_SELF_HEALING_SETTLE_DELAY", 5*time.Second),
		},
		HealthProbe: HealthProbeConfig{
			Enabled:  getEnvBool("VIGIL_HEALTH_PROBE_ENABLED", true),
			Interval: getEnvDuration("VIGIL_HEALTH_PROBE_INTERVAL", 30*time.Second),
			Timeout:  getEnvDuration("VIGIL_HEALTH_PROBE_TIMEOUT", 3*time.Second),
		},
		Watcher: WatcherConfig{
			Enabled:          getEnvBool("VIGIL_WATCHER_ENABLED", true),
			SnapshotInterval: getEnvDuration("VIGIL_WATCHER_SNAPSHOT_INTERVAL", 30*time.Second),
		},
		Patch: PatchConfig{
			RepoPath:        getEnv("VIGIL_PATCH_REPO_PATH", "./workspace"),
			LogPath:         getEnv("VIGIL_PATCH_LOG_PATH", "./patch-log.json"),
			ResponseTimeout: getEnvDuration("VIGIL_PATCH_RESPONSE_TIMEOUT", 30*time.Second),
			WarmupDelay:     getEnvDuration("VIGIL_PATCH_WARMUP_DELAY", 10*time.Second),
			CommandTimeout:  getEnvDuration("VIGIL_PATCH_COMMAND_TIMEOUT", 10*time.Minute),
			LintCommand:     getEnv("VIGIL_PATCH_LINT_CMD", "npm run lint"),
			TestCommand:     getEnv("VIGIL_PATCH_TEST_CMD", "npm test"),
			BuildCommand:    getEnv("VIGIL_PATCH_BUILD_CMD", "npm run build"),
			ComposeCommand:  getEnv("VIGIL_PATCH_COMPOSE_CMD", "docker compose"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("VIGIL_RATE_LIMIT_ENABLED", true),
			Window:  getEnvDuration("VIGIL_RATE_LIMIT_WINDOW", time.Minute),
			Budgets: map[string]int{
				ClassWebhook:      getEnvInt("VIGIL_RATE_LIMIT_WEBHOOK", 10),
				ClassAdminAuth:    getEnvInt("VIGIL_RATE_LIMIT_ADMIN_AUTH", 5),
				ClassPatchRequest: getEnvInt("VIGIL_RATE_LIMIT_PATCH_REQUEST", 5),
				ClassPatchApply:   getEnvInt("VIGIL_RATE_LIMIT_PATCH_APPLY", 10),
				ClassPatchHistory: getEnvInt("VIGIL_RATE_LIMIT_PATCH_HISTORY", 20),
				ClassGeneral:      getEnvInt("VIGIL_RATE_LIMIT_GENERAL", 100),
			},
		},
		LogRetention: LogRetentionConfig{
			Days: getEnvInt("VIGIL_LOG_RETENTION_DAYS", 30),
		},
	}

	services, err := loadServices(os.Getenv("VIGIL_SERVICES"), os.Getenv("VIGIL_SERVICES_FILE"))
	if err != nil {
		return nil, err
	}
	cfg.Services = services

	if err := validate(cfg); err != nil {
		logrus.Errorf("Configuration validation failed: %v", err)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logrus.Info("Configuration loaded:")
	logrus.Infof("  Server: %s:%s (mode: %s)", cfg.Server.Host, cfg.Server.Port, cfg.Server.Mode)
	logrus.Infof("  Database: %s", cfg.Database.Path)
	logrus.Infof("  Docker Host: %s", cfg.Docker.Host)
	if cfg.Redis.Addr == "" {
		logrus.Info("  Event Bus: in-process")
	} else {
		logrus.Infof("  Event Bus: redis %s (db %d)", cfg.Redis.Addr, cfg.Redis.DB)
	}
	logrus.Infof("  Self-Healing: enabled=%v, max_retries=%d, settle_delay=%v",
		cfg.SelfHealing.Enabled, cfg.SelfHealing.MaxRetries, cfg.SelfHealing.SettleDelay)
	logrus.Infof("  Patch Repo: %s (log: %s)", cfg.Patch.RepoPath, cfg.Patch.LogPath)
	logrus.Infof("  Services: %d registered", len(cfg.Services))

	return cfg, nil
}

// validate checks if the configuration is valid.
func validate(cfg *Config) error {
	if cfg.Security.JWTSecret == "" {
		return errors.New("VIGIL_JWT_SECRET is required")
	}
	if cfg.Security.APIKey == "" {
		return errors.New("VIGIL_API_KEY is required")
	}
	if cfg.Security.BuilderSecret == "" {
		return errors.New("VIGIL_BUILDER_SECRET is required")
	}
	if cfg.SelfHealing.MaxRetries < 1 {
		return errors.New("self-healing max retries must be at least 1")
	}
	if cfg.HealthProbe.Interval < time.Second {
		return errors.New("health probe interval must be at least 1 second")
	}
	if cfg.Watcher.SnapshotInterval < time.Second {
		return errors.New("watcher snapshot interval must be at least 1 second")
	}
	if cfg.Downstream.Timeout <= 0 {
		return errors.New("downstream timeout must be positive")
	}
	if cfg.HealthProbe.Timeout <= 0 {
		return errors.New("health probe timeout must be positive")
	}
	if cfg.Patch.ResponseTimeout <= 0 {
		return errors.New("patch response timeout must be positive")
	}
	if cfg.Patch.WarmupDelay <= 0 {
		return errors.New("patch warm-up delay must be positive")
	}
	if cfg.Patch.CommandTimeout <= 0 {
		return errors.New("patch command timeout must be positive")
	}
	// The patch commit must never pick up the supervisor's own state.
	for _, p := range []struct{ name, path string }{
		{"VIGIL_PATCH_LOG_PATH", cfg.Patch.LogPath},
		{"VIGIL_DB_PATH", cfg.Database.Path},
	} {
		inside, err := pathWithin(cfg.Patch.RepoPath, p.path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", p.name, err)
		}
		if inside {
			return fmt.Errorf("%s (%s) must be outside the patch repository %s", p.name, p.path, cfg.Patch.RepoPath)
		}
	}
	if cfg.RateLimit.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	for class, budget := range cfg.RateLimit.Budgets {
		if budget < 1 {
			return fmt.Errorf("rate limit budget for %s must be at least 1", class)
		}
	}
	if cfg.LogRetention.Days < 1 {
		return errors.New("log retention days must be at least 1")
	}
	seen := make(map[string]bool, len(cfg.Services))
	for _, svc := range cfg.Services {
		if svc.Name == "" || svc.URL == "" {
			return fmt.Errorf("service entry %q needs both name and url", svc.Name)
		}
		if seen[svc.Name] {
			return fmt.Errorf("service %q registered twice", svc.Name)
		}
		seen[svc.Name] = true
	}

	return nil
}

// loadServices merges the inline service list with the optional YAML file.
// File entries win over inline entries with the same name.
func loadServices(inline, file string) ([]ServiceTarget, error) {
	byName := make(map[string]ServiceTarget)

	for _, pair := range strings.Split(inline, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, url, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid VIGIL_SERVICES entry %q, expected name=url", pair)
		}
		byName[strings.TrimSpace(name)] = ServiceTarget{Name: strings.TrimSpace(name), URL: strings.TrimSpace(url)}
	}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read services file: %w", err)
		}
		parsed, err := ParseServices(data)
		if err != nil {
			return nil, err
		}
		for _, svc := range parsed {
			byName[svc.Name] = svc
		}
	}

	services := make([]ServiceTarget, 0, len(byName))
	for _, svc := range byName {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

// pathWithin reports whether path lies inside dir.
func pathWithin(dir, path string) (bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false, nil
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))), nil
}

// ParseServices decodes a YAML service registry document.
func ParseServices(data []byte) ([]ServiceTarget, error) {
	var doc servicesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse services file: %w", err)
	}
	return doc.Services, nil
}

// getDBPath determines the database path based on environment and filesystem.
// Priority:
//  1. VIGIL_DB_PATH environment variable
//  2. /app/data/vigil.db (if /app/data exists - Docker container)
//  3. ./vigil.db (development fallback)
func getDBPath() string {
	if path := os.Getenv("VIGIL_DB_PATH"); path != "" {
		return path
	}

	if _, err := os.Stat("/app/data"); err == nil {
		return "/app/data/vigil.db"
	}

	return "./vigil.db"
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList retrieves a comma separated environment variable.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvInt retrieves an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		logrus.Warnf("invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		logrus.Warnf("invalid boolean value for %s: %s, using default: %v", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a default value.
// Accepts values like "30s", "5m", "1h"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
	}
	return defaultValue
}
