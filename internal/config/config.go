// Package config carrega a configuração do gateway a partir do ambiente
// (com .env opcional) e de um arquivo YAML de regras.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr  string
	UpstreamURL string
	TrustXFF    bool

	Rate        RateConfig
	Store       StoreConfig
	Bypass      application.BypassOptions
	Identity    IdentityConfig
	Concurrency ConcurrencyConfig
	Stats       StatsConfig
	Admin       AdminConfig
	Log         LogConfig

	MetricsEnabled bool
}

type RateConfig struct {
	Enabled   bool
	KeyPrefix string
	Adaptive  bool

	// Rules é o pipeline padrão (RATE_SCOPES ou "global" do arquivo de regras).
	Rules  []domain.Rule
	Routes []domain.RouteConfig
}

// DefaultConfig é a config da primeira regra padrão (usada no bypass e no info).
func (r RateConfig) DefaultConfig() domain.Config {
	if len(r.Rules) == 0 {
		return domain.Config{}
	}
	return r.Rules[0].Config
}

type StoreConfig struct {
	Type    string // "redis" ou "memory"
	Timeout time.Duration
	Redis   RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type IdentityConfig struct {
	JWTSecret        string
	UserHeader       string
	RoleHeader       string
	CredentialHeader string
}

type ConcurrencyConfig struct {
	Max     int
	Timeout time.Duration
}

type StatsConfig struct {
	Enabled   bool
	Redis     RedisConfig
	Prefix    string
	TTL       time.Duration
	Bucket    string
	TrackKeys bool
}

type AdminConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load lê .env (se existir) e depois o ambiente.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv monta a config apenas a partir das variáveis de ambiente.
func FromEnv() (Config, error) {
	e := &env{}

	cfg := Config{
		ListenAddr:  e.getenv("LISTEN_ADDR", ":8080"),
		UpstreamURL: e.getenv("UPSTREAM_URL", ""),
		TrustXFF:    e.getenvBool("TRUST_XFF", false),
		Store: StoreConfig{
			Type:    strings.ToLower(e.getenv("STORE_TYPE", "memory")),
			Timeout: e.getenvDuration("STORE_TIMEOUT", application.DefaultStoreTimeout),
			Redis: RedisConfig{
				Addr:     e.getenv("REDIS_ADDR", "localhost:6379"),
				Password: os.Getenv("REDIS_PASSWORD"),
				DB:       e.getenvInt("REDIS_DB", 0),
			},
		},
		Bypass: application.BypassOptions{
			PrivilegedRoles:    e.getenvList("PRIVILEGED_ROLES"),
			TrustedCredentials: e.getenvList("TRUSTED_CREDENTIALS"),
			InternalNetworks:   e.getenvList("INTERNAL_NETWORKS"),
			HealthPaths:        e.getenvListDefault("HEALTH_PATHS", []string{"/healthz"}),
		},
		Identity: IdentityConfig{
			JWTSecret:        os.Getenv("JWT_SECRET"),
			UserHeader:       os.Getenv("IDENTITY_USER_HEADER"),
			RoleHeader:       os.Getenv("IDENTITY_ROLE_HEADER"),
			CredentialHeader: e.getenv("CREDENTIAL_HEADER", "X-Api-Key"),
		},
		Concurrency: ConcurrencyConfig{
			Max:     e.getenvInt("CONCURRENCY_MAX", 100),
			Timeout: e.getenvDuration("CONCURRENCY_TIMEOUT", 0),
		},
		Stats: StatsConfig{
			Enabled: e.getenvBool("RATE_STATS_ENABLED", false),
			Redis: RedisConfig{
				Addr:     e.getenv("RATE_STATS_REDIS_ADDR", ""),
				Password: os.Getenv("RATE_STATS_REDIS_PASSWORD"),
				DB:       e.getenvInt("RATE_STATS_REDIS_DB", 0),
			},
			Prefix:    e.getenv("RATE_STATS_PREFIX", "ratelimit:stats"),
			TTL:       e.getenvDuration("RATE_STATS_TTL", 24*time.Hour),
			Bucket:    e.getenv("RATE_STATS_BUCKET", "minute"),
			TrackKeys: e.getenvBool("RATE_STATS_TRACK_KEYS", false),
		},
		Admin: AdminConfig{
			Enabled: e.getenvBool("ADMIN_ENABLED", true),
			RPS:     e.getenvFloat("ADMIN_RPS", 5),
			Burst:   e.getenvInt("ADMIN_BURST", 10),
		},
		Log: LogConfig{
			Level:  e.getenv("LOG_LEVEL", "info"),
			Format: e.getenv("LOG_FORMAT", "json"),
		},
		MetricsEnabled: e.getenvBool("METRICS_ENABLED", true),
	}

	cfg.Rate = RateConfig{
		Enabled:   e.getenvBool("RATE_ENABLED", true),
		KeyPrefix: e.getenv("RATE_KEY_PREFIX", application.DefaultKeyPrefix),
		Adaptive:  e.getenvBool("RATE_ADAPTIVE_ENABLED", false),
	}

	base := domain.Config{
		Window:                 time.Duration(e.getenvInt("RATE_WINDOW_MS", 60_000)) * time.Millisecond,
		Max:                    e.getenvInt("RATE_MAX", 100),
		Message:                os.Getenv("RATE_MESSAGE"),
		StatusCode:             e.getenvInt("RATE_STATUS_CODE", domain.DefaultStatusCode),
		SkipSuccessfulRequests: e.getenvBool("RATE_SKIP_SUCCESSFUL", false),
		SkipFailedRequests:     e.getenvBool("RATE_SKIP_FAILED", false),
	}
	strategyName := e.getenv("RATE_STRATEGY", string(domain.SlidingWindow))
	scopeNames := e.getenvListDefault("RATE_SCOPES", []string{string(domain.ScopeIP)})
	rulesFile := os.Getenv("RATE_RULES_FILE")

	if e.err != nil {
		return Config{}, e.err
	}

	rules, err := envRules(base, strategyName, scopeNames)
	if err != nil {
		return Config{}, err
	}
	cfg.Rate.Rules = rules

	if rulesFile != "" {
		file, err := LoadRulesFile(rulesFile)
		if err != nil {
			return Config{}, err
		}
		if len(file.Global) > 0 {
			cfg.Rate.Rules = file.Global
		}
		cfg.Rate.Routes = file.Routes
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envRules(base domain.Config, strategyName string, scopeNames []string) ([]domain.Rule, error) {
	strategy, err := domain.ParseStrategy(strategyName)
	if err != nil {
		return nil, fmt.Errorf("RATE_STRATEGY: %w", err)
	}
	rules := make([]domain.Rule, 0, len(scopeNames))
	for _, name := range scopeNames {
		scope, err := domain.ParseScope(name)
		if err != nil {
			return nil, fmt.Errorf("RATE_SCOPES: %w", err)
		}
		rules = append(rules, domain.Rule{Scope: scope, Strategy: strategy, Config: base})
	}
	return rules, nil
}

// Validate checa o que não depende do destino (upstream é checado pelo binário).
func (c Config) Validate() error {
	for i, r := range c.Rate.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	for _, rc := range c.Rate.Routes {
		if err := rc.Rule.Validate(); err != nil {
			return fmt.Errorf("route %s: %w", rc.Path, err)
		}
	}
	switch c.Store.Type {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Store.Redis.Addr) == "" {
			return errors.New("REDIS_ADDR is required when STORE_TYPE=redis")
		}
	default:
		return &domain.ConfigError{Field: "STORE_TYPE", Value: c.Store.Type, Reason: "must be redis or memory"}
	}
	if c.Stats.Enabled && strings.TrimSpace(c.Stats.Redis.Addr) == "" {
		return errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if c.Concurrency.Max < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return nil
}

// env lê variáveis guardando o primeiro erro de parse.
type env struct {
	err error
}

func (e *env) fail(k, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", k, v, err)
	}
}

func (e *env) getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func (e *env) getenvInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return i
}

func (e *env) getenvFloat(k string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return f
}

func (e *env) getenvBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return b
}

func (e *env) getenvDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return d
}

func (e *env) getenvList(k string) []string {
	return e.getenvListDefault(k, nil)
}

func (e *env) getenvListDefault(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
