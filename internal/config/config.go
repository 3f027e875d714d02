package config

import (
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	"github.com/foodhub-delivery/service-routing/internal/platform/config"
	"github.com/foodhub-delivery/service-routing/internal/tracking"
)

// TrackingConfig holds the run controller tunables.
type TrackingConfig struct {
	PollInterval         time.Duration
	DeviationThresholdKm float64
	AverageSpeedKmh      float64
	UrgencyWindow        time.Duration
	LocationStaleAfter   time.Duration
}

// ServiceConfig holds all configuration for the routing service.
type ServiceConfig struct {
	Port           string
	AppEnv         string
	MigrationsPath string
	DBConfig       config.DatabaseConfig
	KafkaConfig    config.KafkaConfig
	RedisConfig    config.RedisConfig
	NATSConfig     config.NATSConfig
	Tracking       TrackingConfig
}

// Load reads configuration from environment variables.
func Load() (*ServiceConfig, error) {
	v, err := config.Load("ROUTING")
	if err != nil {
		return nil, err
	}
	v.SetDefault("DB_NAME", "routing")
	v.SetDefault("MIGRATIONS_PATH", "migrations")
	v.SetDefault("DEVIATION_THRESHOLD_KM", route.DefaultDeviationThresholdKm)
	v.SetDefault("AVERAGE_SPEED_KMH", route.DefaultAverageSpeedKmh)

	return &ServiceConfig{
		Port:           config.GetServicePort(v, "SERVICE_PORT"),
		AppEnv:         config.GetAppEnv(v),
		MigrationsPath: v.GetString("MIGRATIONS_PATH"),
		DBConfig:       config.LoadDatabaseConfig(v, "DB_NAME"),
		KafkaConfig:    config.LoadKafkaConfig(v),
		RedisConfig:    config.LoadRedisConfig(v),
		NATSConfig:     config.LoadNATSConfig(v),
		Tracking: TrackingConfig{
			PollInterval:         config.GetDuration(v, "POLL_INTERVAL", 10*time.Second),
			DeviationThresholdKm: v.GetFloat64("DEVIATION_THRESHOLD_KM"),
			AverageSpeedKmh:      v.GetFloat64("AVERAGE_SPEED_KMH"),
			UrgencyWindow:        config.GetDuration(v, "URGENCY_WINDOW", route.DefaultUrgencyWindow),
			LocationStaleAfter:   config.GetDuration(v, "LOCATION_STALE_AFTER", tracking.DefaultStaleAfter),
		},
	}, nil
}
