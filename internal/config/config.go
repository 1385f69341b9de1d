package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the monitoring pipeline service
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
	Detection     DetectionConfig     `mapstructure:"detection"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Rules         RulesConfig         `mapstructure:"rules"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort     int           `mapstructure:"http_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig contains configuration for the storage collaborator
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Name, c.SSLMode)
}

// KafkaConfig contains Kafka transport configuration
type KafkaConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Brokers []string     `mapstructure:"brokers"`
	GroupID string       `mapstructure:"group_id"`
	Topics  TopicsConfig `mapstructure:"topics"`
}

// TopicsConfig contains Kafka topic configuration
type TopicsConfig struct {
	// Input topic (monitored chat messages)
	InboundMessages string `mapstructure:"inbound_messages"`

	// Output topics (alert lifecycle events)
	AlertCreated   string `mapstructure:"alert_created"`
	AlertEscalated string `mapstructure:"alert_escalated"`
	AlertResolved  string `mapstructure:"alert_resolved"`
}

// MonitoringConfig contains session monitor configuration
type MonitoringConfig struct {
	SessionQueueSize     int           `mapstructure:"session_queue_size"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	RateLimitWindow      time.Duration `mapstructure:"rate_limit_window"`
	RateLimitThreshold   int           `mapstructure:"rate_limit_threshold"`
	StoppedHistoryLimit  int           `mapstructure:"stopped_history_limit"`
	DrainGracePeriod     time.Duration `mapstructure:"drain_grace_period"`
	HighRiskThreshold    float64       `mapstructure:"high_risk_threshold"`
	AlertConfidenceFloor float64       `mapstructure:"alert_confidence_floor"`
}

// DetectionConfig contains scorer and conversation aggregator configuration
type DetectionConfig struct {
	ConversationTTL time.Duration `mapstructure:"conversation_ttl"`
}

// AlertingConfig contains alert escalation engine configuration
type AlertingConfig struct {
	AutoEscalate      bool          `mapstructure:"auto_escalate"`
	EscalationTimeout time.Duration `mapstructure:"escalation_timeout"`
	ResolvedRetention time.Duration `mapstructure:"resolved_retention"`
	HistoryLimit      int           `mapstructure:"history_limit"`
}

// NotificationsConfig contains notification dispatch configuration
type NotificationsConfig struct {
	QueueSize   int              `mapstructure:"queue_size"`
	WorkerCount int              `mapstructure:"worker_count"`
	Email       EmailConfig      `mapstructure:"email"`
	SMS         SMSConfig        `mapstructure:"sms"`
	Webhook     WebhookConfig    `mapstructure:"webhook"`
	Recipients  RecipientsConfig `mapstructure:"recipients"`
}

// EmailConfig contains email dispatch configuration (SendGrid)
type EmailConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	SendGridAPIKey  string `mapstructure:"sendgrid_api_key"`
	FromAddress     string `mapstructure:"from_address"`
	FromName        string `mapstructure:"from_name"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

// SMSConfig contains SMS dispatch configuration (Twilio)
type SMSConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	TwilioSID       string `mapstructure:"twilio_sid"`
	TwilioToken     string `mapstructure:"twilio_token"`
	FromNumber      string `mapstructure:"from_number"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

// WebhookConfig contains webhook dispatch configuration
type WebhookConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	Headers         map[string]string `mapstructure:"headers"`
	RateLimitPerMin int               `mapstructure:"rate_limit_per_min"`
}

// RecipientsConfig maps escalation levels to their notification recipients.
// Delivery of these is the dispatcher's problem; the pipeline only decides
// who should be told.
type RecipientsConfig struct {
	Guardian          []string `mapstructure:"guardian"`
	FamilyAdmin       []string `mapstructure:"family_admin"`
	SystemAdmin       []string `mapstructure:"system_admin"`
	LawEnforcement    []string `mapstructure:"law_enforcement"`
	EmergencyServices []string `mapstructure:"emergency_services"`
}

// RulesConfig contains alert rule configuration
type RulesConfig struct {
	File string `mapstructure:"file"`
}

// SchedulerConfig contains background sweep configuration
type SchedulerConfig struct {
	Enabled                   bool   `mapstructure:"enabled"`
	IdleSweepSchedule         string `mapstructure:"idle_sweep_schedule"`
	ConversationSweepSchedule string `mapstructure:"conversation_sweep_schedule"`
	AlertCleanupSchedule      string `mapstructure:"alert_cleanup_schedule"`
	StatsRefreshSchedule      string `mapstructure:"stats_refresh_schedule"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/safeguardian")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SAFEGUARDIAN")

	// Config file is optional
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Database
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "safeguardian")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "migrations")

	// Kafka
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "safeguardian-monitor")
	viper.SetDefault("kafka.topics.inbound_messages", "monitored-messages")
	viper.SetDefault("kafka.topics.alert_created", "alert-created")
	viper.SetDefault("kafka.topics.alert_escalated", "alert-escalated")
	viper.SetDefault("kafka.topics.alert_resolved", "alert-resolved")

	// Monitoring
	viper.SetDefault("monitoring.session_queue_size", 256)
	viper.SetDefault("monitoring.idle_timeout", "30m")
	viper.SetDefault("monitoring.rate_limit_window", "60s")
	viper.SetDefault("monitoring.rate_limit_threshold", 10)
	viper.SetDefault("monitoring.stopped_history_limit", 1000)
	viper.SetDefault("monitoring.drain_grace_period", "10s")
	viper.SetDefault("monitoring.high_risk_threshold", 0.7)
	viper.SetDefault("monitoring.alert_confidence_floor", 0.7)

	// Detection
	viper.SetDefault("detection.conversation_ttl", "24h")

	// Alerting
	viper.SetDefault("alerting.auto_escalate", true)
	viper.SetDefault("alerting.escalation_timeout", "300s")
	viper.SetDefault("alerting.resolved_retention", "24h")
	viper.SetDefault("alerting.history_limit", 10000)

	// Notifications
	viper.SetDefault("notifications.queue_size", 1024)
	viper.SetDefault("notifications.worker_count", 4)
	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.email.from_address", "alerts@safeguardian.local")
	viper.SetDefault("notifications.email.from_name", "SafeGuardian Alerts")
	viper.SetDefault("notifications.email.rate_limit_per_min", 60)
	viper.SetDefault("notifications.sms.enabled", false)
	viper.SetDefault("notifications.sms.rate_limit_per_min", 10)
	viper.SetDefault("notifications.webhook.enabled", false)
	viper.SetDefault("notifications.webhook.timeout", "30s")
	viper.SetDefault("notifications.webhook.rate_limit_per_min", 120)

	// Rules
	viper.SetDefault("rules.file", "")

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.idle_sweep_schedule", "@every 1m")
	viper.SetDefault("scheduler.conversation_sweep_schedule", "@every 5m")
	viper.SetDefault("scheduler.alert_cleanup_schedule", "@every 1h")
	viper.SetDefault("scheduler.stats_refresh_schedule", "@every 30s")
}
