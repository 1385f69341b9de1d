package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.Debug)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "migrations", cfg.Database.MigrationsPath)

	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "monitored-messages", cfg.Kafka.Topics.InboundMessages)

	assert.Equal(t, 256, cfg.Monitoring.SessionQueueSize)
	assert.Equal(t, 30*time.Minute, cfg.Monitoring.IdleTimeout)
	assert.Equal(t, 10, cfg.Monitoring.RateLimitThreshold)
	assert.InDelta(t, 0.7, cfg.Monitoring.AlertConfidenceFloor, 0.001)

	assert.Equal(t, 24*time.Hour, cfg.Detection.ConversationTTL)

	assert.True(t, cfg.Alerting.AutoEscalate)
	assert.Equal(t, 300*time.Second, cfg.Alerting.EscalationTimeout)

	assert.Equal(t, 1024, cfg.Notifications.QueueSize)
	assert.Equal(t, 4, cfg.Notifications.WorkerCount)

	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "@every 1m", cfg.Scheduler.IdleSweepSchedule)
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		Username: "svc",
		Password: "secret",
		Name:     "safeguardian",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=svc password=secret dbname=safeguardian sslmode=require",
		db.DSN())
}
