package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("ROUTING_SERVICE_PORT", "8086")
	t.Setenv("ROUTING_POLL_INTERVAL", "5s")
	t.Setenv("ROUTING_DEVIATION_THRESHOLD_KM", "1.5")
	t.Setenv("ROUTING_NATS_URL", "nats://nats:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8086", cfg.Port)
	assert.Equal(t, "routing", cfg.DBConfig.DBName)
	assert.Equal(t, "migrations", cfg.MigrationsPath)
	assert.Equal(t, "nats://nats:4222", cfg.NATSConfig.URL)
	assert.Equal(t, 5*time.Second, cfg.Tracking.PollInterval)
	assert.Equal(t, 1.5, cfg.Tracking.DeviationThresholdKm)
	assert.Equal(t, 20.0, cfg.Tracking.AverageSpeedKmh)
	assert.Equal(t, 30*time.Minute, cfg.Tracking.UrgencyWindow)
	assert.Equal(t, 30*time.Second, cfg.Tracking.LocationStaleAfter)
}
