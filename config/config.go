// Package config reads service settings from the environment (and an optional .env).
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"tournament-orchestrator/utils"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Port           string
	StoreDriver    string
	DatabaseURL    string
	ServiceToken   string
	AllowedOrigins []string
	LogLevel       string
	LogPretty      bool

	RedisAddress  string
	RedisPassword string
	AMQPURL       string
	AMQPExchange  string

	SessionServiceURL string
	WalletServiceURL  string
	R2                utils.R2Config

	MatchDuration      time.Duration
	MaxParallelMatches int
	GroupSize          int
	QualifiersPerGroup int
	FinalizeDebounce   time.Duration
	MonitorInterval    time.Duration
	ScheduledGrace     time.Duration
	TokenTTL           time.Duration
	ProvisionTimeout   time.Duration
	SeasonPollInterval time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "5200")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("AMQP_EXCHANGE", "tournament.events")
	v.SetDefault("MATCH_DURATION_SECONDS", 600)
	v.SetDefault("MAX_PARALLEL_MATCHES", 5)
	v.SetDefault("GROUP_SIZE", 4)
	v.SetDefault("QUALIFIERS_PER_GROUP", 2)
	v.SetDefault("FINALIZE_DEBOUNCE", "30s")
	v.SetDefault("MONITOR_INTERVAL", "15s")
	v.SetDefault("SCHEDULED_GRACE", "2m")
	v.SetDefault("TOKEN_TTL", "90s")
	v.SetDefault("PROVISION_TIMEOUT", "5s")
	v.SetDefault("SEASON_POLL_INTERVAL", "30s")
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("[Config] no .env file found, reading environment variables directly")
	}
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:           v.GetString("PORT"),
		StoreDriver:    strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		ServiceToken:   v.GetString("GAME_SERVICE_TOKEN"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogPretty:      v.GetBool("LOG_PRETTY"),

		RedisAddress:  v.GetString("REDIS_ADDRESS"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		AMQPURL:       v.GetString("AMQP_URL"),
		AMQPExchange:  v.GetString("AMQP_EXCHANGE"),

		SessionServiceURL: v.GetString("SESSION_SERVICE_URL"),
		WalletServiceURL:  v.GetString("WALLET_SERVICE_URL"),
		R2: utils.R2Config{
			AccountID:       v.GetString("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     v.GetString("R2_ACCESS_KEY_ID"),
			AccessKeySecret: v.GetString("R2_ACCESS_KEY_SECRET"),
			Bucket:          v.GetString("R2_BUCKET_NAME"),
			CDNBaseURL:      v.GetString("CDN_BASE_URL"),
		},

		MatchDuration:      time.Duration(v.GetInt("MATCH_DURATION_SECONDS")) * time.Second,
		MaxParallelMatches: v.GetInt("MAX_PARALLEL_MATCHES"),
		GroupSize:          v.GetInt("GROUP_SIZE"),
		QualifiersPerGroup: v.GetInt("QUALIFIERS_PER_GROUP"),
		FinalizeDebounce:   v.GetDuration("FINALIZE_DEBOUNCE"),
		MonitorInterval:    v.GetDuration("MONITOR_INTERVAL"),
		ScheduledGrace:     v.GetDuration("SCHEDULED_GRACE"),
		TokenTTL:           v.GetDuration("TOKEN_TTL"),
		ProvisionTimeout:   v.GetDuration("PROVISION_TIMEOUT"),
		SeasonPollInterval: v.GetDuration("SEASON_POLL_INTERVAL"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.ServiceToken == "" {
		return eris.New("GAME_SERVICE_TOKEN is not set, service cannot authenticate the gateway")
	}
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return eris.New("DATABASE_URL is required for the postgres store")
		}
	case StoreDriverMemory:
	default:
		return eris.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.MatchDuration <= 0 {
		return eris.New("MATCH_DURATION_SECONDS must be positive")
	}
	if c.MaxParallelMatches <= 0 {
		return eris.New("MAX_PARALLEL_MATCHES must be positive")
	}
	if c.GroupSize < 2 {
		return eris.New("GROUP_SIZE must be at least 2")
	}
	if c.QualifiersPerGroup < 1 || c.QualifiersPerGroup >= c.GroupSize {
		return eris.New("QUALIFIERS_PER_GROUP must be between 1 and GROUP_SIZE-1")
	}
	for name, d := range map[string]time.Duration{
		"FINALIZE_DEBOUNCE":    c.FinalizeDebounce,
		"MONITOR_INTERVAL":     c.MonitorInterval,
		"TOKEN_TTL":            c.TokenTTL,
		"PROVISION_TIMEOUT":    c.ProvisionTimeout,
		"SEASON_POLL_INTERVAL": c.SeasonPollInterval,
	} {
		if d <= 0 {
			return eris.Errorf("%s must be positive", name)
		}
	}
	if c.ScheduledGrace < 0 {
		return eris.New("SCHEDULED_GRACE must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
