package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	Audit    AuditConfig    `koanf:"audit"`
	Events   EventsConfig   `koanf:"events"`
	Cache    CacheConfig    `koanf:"cache"`
	KYC      KYCConfig      `koanf:"kyc"`
}

type ServerConfig struct {
	Host               string   `koanf:"host"`
	Port               int      `koanf:"port"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MigrationsPath string `koanf:"migrations_path"`
	MaxConns       int    `koanf:"max_conns"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type AuthConfig struct {
	DevMode bool      `koanf:"devmode"`
	JWT     JWTConfig `koanf:"jwt"`
}

type JWTConfig struct {
	SigningKey  string `koanf:"signingkey"`
	Issuer      string `koanf:"issuer"`
	ExpiryHours int    `koanf:"expiryhours"`
}

type AuditConfig struct {
	BufferSize    int `koanf:"buffer_size"`
	BatchSize     int `koanf:"batch_size"`
	FlushInterval int `koanf:"flush_interval_ms"`
}

// EventsConfig enables the Kafka domain event sink when Brokers is set.
type EventsConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type CacheConfig struct {
	RoleTTLSeconds int    `koanf:"role_ttl_seconds"`
	RedisAddr      string `koanf:"redis_addr"`
}

type KYCConfig struct {
	// ViewHierarchy is the minimum role hierarchy allowed to read another
	// subscriber's profile.
	ViewHierarchy        int `koanf:"view_hierarchy"`
	ApprovalValidityDays int `koanf:"approval_validity_days"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":                8080,
		"server.host":                "0.0.0.0",
		"database.max_conns":         25,
		"database.migrations_path":   "migrations",
		"log.level":                  "info",
		"log.format":                 "json",
		"auth.devmode":               false,
		"auth.jwt.issuer":            "kycgate",
		"auth.jwt.expiryhours":       24,
		"audit.buffer_size":          4096,
		"audit.batch_size":           100,
		"audit.flush_interval_ms":    500,
		"events.topic":               "kycgate.domain-events",
		"cache.role_ttl_seconds":     30,
		"kyc.view_hierarchy":         5,
		"kyc.approval_validity_days": 365,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// Config file is optional, skip if not found
			continue
		}
	}

	// Environment variables override everything
	// KYCGATE_SERVER_PORT -> server.port
	_ = k.Load(env.Provider("KYCGATE_", ".", func(s string) string {
		return envKey(strings.ToLower(strings.TrimPrefix(s, "KYCGATE_")))
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKey maps a lower-cased env suffix to a koanf path. Only the section
// separators become dots so that keys like max_conns keep their underscore.
func envKey(key string) string {
	if rest, ok := strings.CutPrefix(key, "auth_jwt_"); ok {
		return "auth.jwt." + rest
	}
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}
