package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds everything the process needs at startup. Constructed once in
// main and passed by reference; nothing reads viper after Load returns.
type Config struct {
	Port        string
	DatabaseURL string
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string

	JWTSecret        string
	PaystackSecret   string
	ResendAPIKey     string
	NotifyFromEmail  string
	KafkaBrokers     []string
	KafkaEventsTopic string

	Queue    QueueConfig
	Policy   PolicyConfig
	LogLevel string
}

// QueueConfig controls the job queue service.
type QueueConfig struct {
	EmailConcurrency   int
	PaymentConcurrency int
	DisputeConcurrency int
	PollInterval       string // parsed as time.Duration by the queue service
	DefaultMaxAttempts int
	PaymentMaxAttempts int
	NotifyMaxAttempts  int
}

// PolicyConfig holds the tunable business parameters of the settlement core.
type PolicyConfig struct {
	AutoApproveDays int
	// Disputes with triage confidence below this go to arbitration.
	ArbitrationConfidence float64
	// Disputes at or above this amount (minor units) always go to arbitration.
	ArbitrationAmountFloor int64
	MinMilestoneAmount     int64
	PlatformFeeRate        string // decimal string, e.g. "0.05"
	ProcessorFeeRate       string
	DisputeFee             int64
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("CONTRALOCK")
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("notify_from_email", "no-reply@contralock.app")
	v.SetDefault("kafka_events_topic", "contralock.domain-events")

	v.SetDefault("queue.email_concurrency", 5)
	v.SetDefault("queue.payment_concurrency", 3)
	v.SetDefault("queue.dispute_concurrency", 2)
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.default_max_attempts", 3)
	v.SetDefault("queue.payment_max_attempts", 3)
	v.SetDefault("queue.notify_max_attempts", 5)

	v.SetDefault("policy.auto_approve_days", 7)
	v.SetDefault("policy.arbitration_confidence", 0.70)
	v.SetDefault("policy.arbitration_amount_floor", 500000)
	v.SetDefault("policy.min_milestone_amount", 1000)
	v.SetDefault("policy.platform_fee_rate", "0.05")
	v.SetDefault("policy.processor_fee_rate", "0.015")
	v.SetDefault("policy.dispute_fee", 2500)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Port:        v.GetString("port"),
		DatabaseURL: v.GetString("database_url"),
		DBHost:      v.GetString("db_host"),
		DBUser:      v.GetString("db_user"),
		DBPassword:  v.GetString("db_password"),
		DBName:      v.GetString("db_name"),
		DBPort:      v.GetString("db_port"),

		JWTSecret:        v.GetString("jwt_secret"),
		PaystackSecret:   v.GetString("paystack_secret_key"),
		ResendAPIKey:     v.GetString("resend_api_key"),
		NotifyFromEmail:  v.GetString("notify_from_email"),
		KafkaBrokers:     v.GetStringSlice("kafka_brokers"),
		KafkaEventsTopic: v.GetString("kafka_events_topic"),

		Queue: QueueConfig{
			EmailConcurrency:   v.GetInt("queue.email_concurrency"),
			PaymentConcurrency: v.GetInt("queue.payment_concurrency"),
			DisputeConcurrency: v.GetInt("queue.dispute_concurrency"),
			PollInterval:       v.GetString("queue.poll_interval"),
			DefaultMaxAttempts: v.GetInt("queue.default_max_attempts"),
			PaymentMaxAttempts: v.GetInt("queue.payment_max_attempts"),
			NotifyMaxAttempts:  v.GetInt("queue.notify_max_attempts"),
		},
		Policy: PolicyConfig{
			AutoApproveDays:        v.GetInt("policy.auto_approve_days"),
			ArbitrationConfidence:  v.GetFloat64("policy.arbitration_confidence"),
			ArbitrationAmountFloor: v.GetInt64("policy.arbitration_amount_floor"),
			MinMilestoneAmount:     v.GetInt64("policy.min_milestone_amount"),
			PlatformFeeRate:        v.GetString("policy.platform_fee_rate"),
			ProcessorFeeRate:       v.GetString("policy.processor_fee_rate"),
			DisputeFee:             v.GetInt64("policy.dispute_fee"),
		},
		LogLevel: v.GetString("log_level"),
	}

	return cfg, nil
}

// DSN builds the Postgres connection string the same way the env variables
// are laid out: DATABASE_URL wins, otherwise the individual parts.
func (c *Config) DSN() (string, error) {
	if c.DatabaseURL != "" {
		return c.DatabaseURL, nil
	}
	if c.DBHost == "" || c.DBUser == "" || c.DBName == "" || c.DBPort == "" {
		return "", fmt.Errorf("database configuration not provided: either set CONTRALOCK_DATABASE_URL or all of CONTRALOCK_DB_HOST, CONTRALOCK_DB_USER, CONTRALOCK_DB_PASSWORD, CONTRALOCK_DB_NAME, CONTRALOCK_DB_PORT")
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort,
	), nil
}
