package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Domain    DomainConfig
	DNS       DNSConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	Env            string // "development" or "production"
	AllowedOrigins []string
	BlockBots      bool
}

type DatabaseConfig struct {
	Provider       string // postgresql, prisma, supabase, xano, instantdb, memory
	URL            string
	APIURL         string
	APIKey         string
	AppID          string // instantdb
	MaxConns       int
	MinConns       int
	MigrationsPath string // empty uses the embedded schema
	AutoMigrate    bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Provider     string // "local" or "supabase"
	SupabaseURL  string
	SupabaseKey  string
	JWTSecret    string
	JWTTTL       time.Duration
	APIKeyHeader string
}

type DomainConfig struct {
	RootDomain  string
	ProdDomain  string
	CNAMETarget string
	ARecord     string
	CacheTTL    time.Duration
}

type DNSConfig struct {
	Provider            string
	CloudflareToken     string
	CloudflareZoneID    string
	CloudflareAPIURL    string
	PropagationAttempts int
	PropagationDelay    time.Duration
}

type RateLimitConfig struct {
	AuthPerMinute int
	APIPerMinute  int
	PagePerMinute int
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jwtTTL, err := getEnvDuration("JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL: %w", err)
	}

	cacheTTL, err := getEnvDuration("TENANT_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid TENANT_CACHE_TTL: %w", err)
	}

	attempts, err := getEnvInt("DNS_PROPAGATION_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DNS_PROPAGATION_ATTEMPTS: %w", err)
	}

	propagationDelay, err := getEnvDuration("DNS_PROPAGATION_INITIAL_DELAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid DNS_PROPAGATION_INITIAL_DELAY: %w", err)
	}

	authLimit, err := getEnvInt("RATE_LIMIT_AUTH_PER_MINUTE", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_AUTH_PER_MINUTE: %w", err)
	}
	apiLimit, err := getEnvInt("RATE_LIMIT_API_PER_MINUTE", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_API_PER_MINUTE: %w", err)
	}
	pageLimit, err := getEnvInt("RATE_LIMIT_PAGE_PER_MINUTE", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PAGE_PER_MINUTE: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			Env:            getEnv("APP_ENV", "development"),
			AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
			BlockBots:      getEnv("BLOCK_BOTS", "true") == "true",
		},
		Database: DatabaseConfig{
			Provider:       getEnv("DATABASE_PROVIDER", "postgresql"),
			URL:            getEnv("DATABASE_URL", ""),
			APIURL:         getEnv("DATABASE_API_URL", ""),
			APIKey:         getEnv("DATABASE_API_KEY", ""),
			AppID:          getEnv("INSTANTDB_APP_ID", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", ""),
			AutoMigrate:    getEnv("DB_AUTO_MIGRATE", "true") == "true",
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			Provider:     getEnv("AUTH_PROVIDER", "local"),
			SupabaseURL:  getEnv("SUPABASE_URL", ""),
			SupabaseKey:  getEnv("SUPABASE_ANON_KEY", ""),
			JWTSecret:    getEnv("JWT_SECRET", ""),
			JWTTTL:       jwtTTL,
			APIKeyHeader: getEnv("API_KEY_HEADER", "X-API-Key"),
		},
		Domain: DomainConfig{
			RootDomain:  getEnv("NEXT_PUBLIC_ROOT_DOMAIN", "localhost"),
			ProdDomain:  getEnv("NEXT_PUBLIC_PROD_DOMAIN", "yoursaas.com"),
			CNAMETarget: getEnv("NEXT_PUBLIC_CNAME_TARGET", ""),
			ARecord:     getEnv("NEXT_PUBLIC_A_RECORD", ""),
			CacheTTL:    cacheTTL,
		},
		DNS: DNSConfig{
			Provider:            getEnv("DNS_PROVIDER", "cloudflare"),
			CloudflareToken:     getEnv("CLOUDFLARE_API_TOKEN", ""),
			CloudflareZoneID:    getEnv("CLOUDFLARE_ZONE_ID", ""),
			CloudflareAPIURL:    getEnv("CLOUDFLARE_API_URL", "https://api.cloudflare.com/client/v4"),
			PropagationAttempts: attempts,
			PropagationDelay:    propagationDelay,
		},
		RateLimit: RateLimitConfig{
			AuthPerMinute: authLimit,
			APIPerMinute:  apiLimit,
			PagePerMinute: pageLimit,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// RootDomains returns the configured platform domains, dev first.
func (c *Config) RootDomains() []string {
	var out []string
	for _, d := range []string{c.Domain.RootDomain, c.Domain.ProdDomain} {
		if d != "" {
			out = append(out, strings.ToLower(d))
		}
	}
	return out
}

func (c *Config) Validate() error {
	var missing []string
	switch c.Database.Provider {
	case "postgresql", "prisma":
		if c.Database.URL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "supabase", "xano":
		if c.Database.APIURL == "" {
			missing = append(missing, "DATABASE_API_URL")
		}
		if c.Database.APIKey == "" {
			missing = append(missing, "DATABASE_API_KEY")
		}
	case "instantdb":
		if c.Database.APIKey == "" {
			missing = append(missing, "DATABASE_API_KEY")
		}
		if c.Database.AppID == "" {
			missing = append(missing, "INSTANTDB_APP_ID")
		}
	}
	if c.Auth.Provider == "local" && c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
