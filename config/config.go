// Package config centralises runtime configuration for Centra services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solsticehq/centra/errs"
)

// Environment identifies the runtime environment where Centra operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// APISettings configures the HTTP surface.
type APISettings struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigin      string        `yaml:"corsOrigin"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
}

// StoreSettings selects and configures the primary customer store.
type StoreSettings struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
	// Customers restricts the memory backend to an allowlist; empty means
	// synthesize any requested customer.
	Customers []string `yaml:"customers"`
}

// CacheSettings configures the context cache.
type CacheSettings struct {
	Enabled         bool          `yaml:"enabled"`
	Backend         string        `yaml:"backend"`
	RedisAddr       string        `yaml:"redisAddr"`
	RedisPassword   string        `yaml:"redisPassword"`
	RedisDB         int           `yaml:"redisDb"`
	ContextTTL      time.Duration `yaml:"contextTtl"`
	SectionTTL      time.Duration `yaml:"sectionTtl"`
	MaxEntries      int           `yaml:"maxEntries"`
	JanitorInterval time.Duration `yaml:"janitorInterval"`
}

// BreakerOverride adjusts one named breaker away from the shared defaults.
// Zero fields inherit.
type BreakerOverride struct {
	FailureThreshold     int           `yaml:"failureThreshold"`
	OpenTimeout          time.Duration `yaml:"openTimeout"`
	HalfOpenResetTimeout time.Duration `yaml:"halfOpenResetTimeout"`
}

// BreakerSettings configures circuit breaking for downstream dependencies.
type BreakerSettings struct {
	FailureThreshold     int                        `yaml:"failureThreshold"`
	OpenTimeout          time.Duration              `yaml:"openTimeout"`
	HalfOpenResetTimeout time.Duration              `yaml:"halfOpenResetTimeout"`
	Overrides            map[string]BreakerOverride `yaml:"overrides"`
}

// SourceSettings configures one optional capability source.
type SourceSettings struct {
	Enabled    bool          `yaml:"enabled"`
	Provider   string        `yaml:"provider"`
	LatencyMin time.Duration `yaml:"latencyMin"`
	LatencyMax time.Duration `yaml:"latencyMax"`
	StreamURL  string        `yaml:"streamUrl"`
}

// SourcesSettings groups the capability sources.
type SourcesSettings struct {
	CRM        SourceSettings `yaml:"crm"`
	Scheduling SourceSettings `yaml:"scheduling"`
	Messaging  SourceSettings `yaml:"messaging"`
}

// AggregateSettings configures assembly policy.
type AggregateSettings struct {
	MaxCost       int           `yaml:"maxCost"`
	SourceTimeout time.Duration `yaml:"sourceTimeout"`
}

// NotifySettings sizes the notification dispatcher.
type NotifySettings struct {
	Enabled       bool    `yaml:"enabled"`
	Workers       int     `yaml:"workers"`
	Queue         int     `yaml:"queue"`
	RatePerSecond float64 `yaml:"ratePerSecond"`
	Burst         int     `yaml:"burst"`
}

// TelemetrySettings configures the OpenTelemetry exporter.
type TelemetrySettings struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Settings is the Centra configuration tree loaded from defaults, an
// optional YAML file, and environment overrides.
type Settings struct {
	Environment Environment       `yaml:"environment"`
	API         APISettings       `yaml:"api"`
	Store       StoreSettings     `yaml:"store"`
	Cache       CacheSettings     `yaml:"cache"`
	Breaker     BreakerSettings   `yaml:"breaker"`
	Sources     SourcesSettings   `yaml:"sources"`
	Aggregate   AggregateSettings `yaml:"aggregate"`
	Notify      NotifySettings    `yaml:"notify"`
	Telemetry   TelemetrySettings `yaml:"telemetry"`
}

// Default returns the dev profile: memory store, mock sources, in-process
// cache, telemetry off.
func Default() Settings {
	return Settings{
		Environment: EnvDev,
		API: APISettings{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigin:      "*",
			MaxBodyBytes:    1 << 20,
		},
		Store: StoreSettings{Backend: StoreMemory},
		Cache: CacheSettings{
			Enabled:         true,
			Backend:         CacheMemory,
			ContextTTL:      5 * time.Minute,
			SectionTTL:      2 * time.Minute,
			MaxEntries:      10000,
			JanitorInterval: time.Minute,
		},
		Breaker: BreakerSettings{
			FailureThreshold:     5,
			OpenTimeout:          30 * time.Second,
			HalfOpenResetTimeout: 15 * time.Second,
		},
		Sources: SourcesSettings{
			CRM:        SourceSettings{Enabled: true, Provider: "mock"},
			Scheduling: SourceSettings{Enabled: true, Provider: "mock"},
			Messaging:  SourceSettings{Enabled: true, Provider: "mock"},
		},
		Aggregate: AggregateSettings{
			MaxCost:       8000,
			SourceTimeout: 2 * time.Second,
		},
		Notify: NotifySettings{
			Enabled:       true,
			Workers:       4,
			Queue:         256,
			RatePerSecond: 50,
			Burst:         10,
		},
		Telemetry: TelemetrySettings{Enabled: false},
	}
}

// Load builds Settings from defaults, the YAML file at path when non-empty,
// and CENTRA_* environment overrides, validating eagerly.
func Load(path string) (Settings, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, errs.New("config", errs.CodeConfig,
				errs.WithMessage("read config file "+path), errs.WithCause(err))
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Settings{}, errs.New("config", errs.CodeConfig,
				errs.WithMessage("parse config file "+path), errs.WithCause(err))
		}
	}
	cfg = fromEnv(cfg)
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// fromEnv applies environment variable overrides.
func fromEnv(cfg Settings) Settings {
	if v := strings.TrimSpace(os.Getenv("CENTRA_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("CENTRA_API_ADDR")); v != "" {
		cfg.API.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("CENTRA_STORE_BACKEND")); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("CENTRA_STORE_DSN")); v != "" {
		cfg.Store.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CENTRA_CACHE_BACKEND")); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("CENTRA_CACHE_DISABLED")); v != "" {
		if disabled, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = !disabled
		}
	}
	if v := strings.TrimSpace(os.Getenv("CENTRA_REDIS_ADDR")); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CENTRA_REDIS_PASSWORD")); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := strings.TrimSpace(os.Getenv("CENTRA_STREAM_URL")); v != "" {
		cfg.Sources.Messaging.StreamURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CENTRA_TELEMETRY_ENDPOINT")); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("CENTRA_MAX_COST")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Aggregate.MaxCost = n
		}
	}
	return cfg
}

// normalise trims and lowercases free-form selectors before validation.
func (s *Settings) normalise() {
	s.Environment = Environment(strings.ToLower(strings.TrimSpace(string(s.Environment))))
	s.Store.Backend = strings.ToLower(strings.TrimSpace(s.Store.Backend))
	s.Cache.Backend = strings.ToLower(strings.TrimSpace(s.Cache.Backend))
	s.Sources.CRM.Provider = strings.ToLower(strings.TrimSpace(s.Sources.CRM.Provider))
	s.Sources.Scheduling.Provider = strings.ToLower(strings.TrimSpace(s.Sources.Scheduling.Provider))
	s.Sources.Messaging.Provider = strings.ToLower(strings.TrimSpace(s.Sources.Messaging.Provider))
	if s.Environment == "" {
		s.Environment = EnvDev
	}
}

// Validate rejects configurations that could not start a working service.
func (s Settings) Validate() error {
	switch s.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return configError("environment", "must be dev, staging, or prod")
	}
	if strings.TrimSpace(s.API.Addr) == "" {
		return configError("api.addr", "listen address required")
	}
	switch s.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(s.Store.DSN) == "" {
			return configError("store.dsn", "postgres backend requires a DSN")
		}
	default:
		return configError("store.backend", "unknown backend "+s.Store.Backend)
	}
	if s.Cache.Enabled {
		switch s.Cache.Backend {
		case CacheMemory:
		case CacheRedis:
			if strings.TrimSpace(s.Cache.RedisAddr) == "" {
				return configError("cache.redisAddr", "redis backend requires an address")
			}
		default:
			return configError("cache.backend", "unknown backend "+s.Cache.Backend)
		}
		if s.Cache.ContextTTL <= 0 {
			return configError("cache.contextTtl", "must be positive")
		}
		if s.Cache.SectionTTL <= 0 {
			return configError("cache.sectionTtl", "must be positive")
		}
		if s.Cache.MaxEntries < 0 {
			return configError("cache.maxEntries", "must not be negative")
		}
	}
	if s.Breaker.FailureThreshold <= 0 {
		return configError("breaker.failureThreshold", "must be positive")
	}
	if s.Breaker.OpenTimeout <= 0 {
		return configError("breaker.openTimeout", "must be positive")
	}
	if s.Breaker.HalfOpenResetTimeout <= 0 {
		return configError("breaker.halfOpenResetTimeout", "must be positive")
	}
	for _, source := range []struct {
		name string
		cfg  SourceSettings
	}{
		{"sources.crm", s.Sources.CRM},
		{"sources.scheduling", s.Sources.Scheduling},
		{"sources.messaging", s.Sources.Messaging},
	} {
		if !source.cfg.Enabled {
			continue
		}
		if source.cfg.Provider == "" {
			return configError(source.name+".provider", "provider required when enabled")
		}
		if source.cfg.LatencyMin < 0 || source.cfg.LatencyMax < source.cfg.LatencyMin {
			return configError(source.name+".latency", "latency bounds must satisfy 0 <= min <= max")
		}
	}
	if s.Sources.Messaging.Enabled && s.Sources.Messaging.Provider == "stream" &&
		strings.TrimSpace(s.Sources.Messaging.StreamURL) == "" {
		return configError("sources.messaging.streamUrl", "stream provider requires a URL")
	}
	if s.Aggregate.MaxCost <= 0 {
		return configError("aggregate.maxCost", "must be positive")
	}
	if s.Aggregate.SourceTimeout <= 0 {
		return configError("aggregate.sourceTimeout", "must be positive")
	}
	if s.Notify.Enabled {
		if s.Notify.Workers <= 0 {
			return configError("notify.workers", "must be positive")
		}
		if s.Notify.RatePerSecond <= 0 {
			return configError("notify.ratePerSecond", "must be positive")
		}
	}
	if s.Telemetry.Enabled && strings.TrimSpace(s.Telemetry.Endpoint) == "" {
		return configError("telemetry.endpoint", "required when telemetry is enabled")
	}
	return nil
}

func configError(field, msg string) error {
	return errs.New("config", errs.CodeConfig,
		errs.WithMessage(fmt.Sprintf("%s: %s", field, msg)), errs.WithField(field))
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base.clone()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithEnvironment configures the top-level environment.
func WithEnvironment(env Environment) Option {
	return func(s *Settings) {
		if env != "" {
			s.Environment = env
		}
	}
}

// WithStoreBackend selects the store backend and DSN.
func WithStoreBackend(backend, dsn string) Option {
	backend = strings.ToLower(strings.TrimSpace(backend))
	return func(s *Settings) {
		if backend != "" {
			s.Store.Backend = backend
		}
		if strings.TrimSpace(dsn) != "" {
			s.Store.DSN = dsn
		}
	}
}

// WithCacheDisabled turns the context cache off.
func WithCacheDisabled() Option {
	return func(s *Settings) { s.Cache.Enabled = false }
}

// WithRedisCache selects the Redis cache backend.
func WithRedisCache(addr string) Option {
	addr = strings.TrimSpace(addr)
	return func(s *Settings) {
		if addr == "" {
			return
		}
		s.Cache.Enabled = true
		s.Cache.Backend = CacheRedis
		s.Cache.RedisAddr = addr
	}
}

// WithSourceProvider overrides one capability's provider selection.
func WithSourceProvider(capability, provider string) Option {
	capability = strings.ToLower(strings.TrimSpace(capability))
	provider = strings.ToLower(strings.TrimSpace(provider))
	return func(s *Settings) {
		if provider == "" {
			return
		}
		switch capability {
		case "crm":
			s.Sources.CRM.Provider = provider
		case "scheduling":
			s.Sources.Scheduling.Provider = provider
		case "messaging":
			s.Sources.Messaging.Provider = provider
		}
	}
}

// WithMaxCost overrides the default context budget.
func WithMaxCost(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.Aggregate.MaxCost = n
		}
	}
}

func (s Settings) clone() Settings {
	out := s
	if len(s.Store.Customers) > 0 {
		out.Store.Customers = append([]string(nil), s.Store.Customers...)
	}
	if len(s.Breaker.Overrides) > 0 {
		out.Breaker.Overrides = make(map[string]BreakerOverride, len(s.Breaker.Overrides))
		for k, v := range s.Breaker.Overrides {
			out.Breaker.Overrides[k] = v
		}
	}
	return out
}
