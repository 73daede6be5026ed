package appconfig

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trakbridge/trakbridge/internal/db"
)

func newBoundCommand(t *testing.T) (*cobra.Command, *viper.Viper) {
	t.Helper()
	v := viper.New()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, BindFlags(cmd, v))
	require.NoError(t, cmd.ParseFlags(nil))
	return cmd, v
}

func TestLoad_FillsDefaultsWhenUnset(t *testing.T) {
	_, v := newBoundCommand(t)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, db.DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, "/var/lib/trakbridge/trakbridge.db", cfg.DB.DSN)
	assert.Equal(t, DefaultPollInterval, cfg.PollIntervalDefault)
	assert.Equal(t, DefaultMaxQueueDepth, cfg.MaxQueueDepth)
	assert.Equal(t, DefaultStaleFrameWindow, cfg.StaleFrameWindow)
	assert.Equal(t, DefaultTransformBatchSize, cfg.TransformBatchSize)
	assert.Equal(t, DefaultConfigMaxBytes, cfg.ConfigMaxBytes)
	assert.Equal(t, ":8080", cfg.APIListenAddr)
	assert.Equal(t, ":9090", cfg.MetricsListenAddr)
}

func TestLoad_FlagOverridesDefault(t *testing.T) {
	cmd, v := newBoundCommand(t)
	require.NoError(t, cmd.ParseFlags([]string{
		"--db-driver=postgres",
		"--db-dsn=postgres://localhost/trakbridge",
		"--max-queue-depth=250",
		"--health-interval=5s",
	}))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, db.DriverPostgreSQL, cfg.DB.Driver)
	assert.Equal(t, "postgres://localhost/trakbridge", cfg.DB.DSN)
	assert.Equal(t, 250, cfg.MaxQueueDepth)
	assert.Equal(t, 5*time.Second, cfg.HealthInterval)
}

func TestNewWatcher_StartsWithInitialConfig(t *testing.T) {
	_, v := newBoundCommand(t)
	cfg, err := Load(v)
	require.NoError(t, err)

	var reloaded *Config
	w := NewWatcher(v, cfg, func(next *Config) { reloaded = next })

	assert.Equal(t, cfg, w.Current())
	assert.Nil(t, reloaded)
}
