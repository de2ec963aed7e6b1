package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GAME_SERVICE_TOKEN", "secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/tournaments")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "5200", cfg.Port)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Minute, cfg.MatchDuration)
	assert.Equal(t, 5, cfg.MaxParallelMatches)
	assert.Equal(t, 4, cfg.GroupSize)
	assert.Equal(t, 2, cfg.QualifiersPerGroup)
	assert.Equal(t, 30*time.Second, cfg.FinalizeDebounce)
	assert.Equal(t, 15*time.Second, cfg.MonitorInterval)
	assert.Equal(t, 2*time.Minute, cfg.ScheduledGrace)
	assert.Equal(t, 90*time.Second, cfg.TokenTTL)
	assert.Equal(t, 5*time.Second, cfg.ProvisionTimeout)
	assert.False(t, cfg.R2.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GAME_SERVICE_TOKEN", "secret")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , https://b.example,")
	t.Setenv("MATCH_DURATION_SECONDS", "300")
	t.Setenv("FINALIZE_DEBOUNCE", "5s")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.MatchDuration)
	assert.Equal(t, 5*time.Second, cfg.FinalizeDebounce)
	assert.True(t, cfg.LogPretty)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]map[string]any{
		"missing token":     {"GAME_SERVICE_TOKEN": ""},
		"postgres, no dsn":  {"STORE_DRIVER": "postgres", "DATABASE_URL": ""},
		"unknown driver":    {"STORE_DRIVER": "mongo"},
		"zero duration":     {"MATCH_DURATION_SECONDS": 0},
		"too many qualify":  {"QUALIFIERS_PER_GROUP": 4},
		"zero debounce":     {"FINALIZE_DEBOUNCE": "0s"},
		"negative grace":    {"SCHEDULED_GRACE": "-1m"},
		"no parallel slots": {"MAX_PARALLEL_MATCHES": 0},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			setDefaults(v)
			v.Set("GAME_SERVICE_TOKEN", "secret")
			v.Set("STORE_DRIVER", StoreDriverMemory)
			for k, val := range overrides {
				v.Set(k, val)
			}
			_, err := fromViper(v)
			assert.Error(t, err)
		})
	}
}
