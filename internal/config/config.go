package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
	Providers ProvidersConfig `json:"providers"`
	Alerts    AlertsConfig    `json:"alerts"`
	Monitor   MonitorConfig   `json:"monitor"`
	Evidence  EvidenceConfig  `json:"evidence"`
	Notify    NotifyConfig    `json:"notify"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// ProviderEndpoint holds the connection settings for one external
// screening provider.
type ProviderEndpoint struct {
	BaseURL       string `json:"base_url"`
	APIKey        string `json:"api_key"`
	WebhookSecret string `json:"webhook_secret"`
}

// ProvidersConfig holds per-provider endpoints plus the shared outbound
// HTTP timeout applied to every provider call.
type ProvidersConfig struct {
	HTTPTimeout   time.Duration    `json:"http_timeout"`
	PoliceCheck   ProviderEndpoint `json:"police_check"`
	WWCC          ProviderEndpoint `json:"wwcc"`
	NDISScreening ProviderEndpoint `json:"ndis_screening"`
	FirstAid      ProviderEndpoint `json:"first_aid"`
	ABN           ProviderEndpoint `json:"abn"`
}

// AlertsConfig controls sweep behaviour
type AlertsConfig struct {
	// ExpiryWarningWindow is how far ahead of expiresAt the expiring-soon
	// sweep starts alerting.
	ExpiryWarningWindow time.Duration `json:"expiry_warning_window"`
	SweepBatchSize      int           `json:"sweep_batch_size"`
}

// MonitorConfig controls the scheduled reconciliation worker
type MonitorConfig struct {
	SweepSchedule    string `json:"sweep_schedule"`
	ExpirySchedule   string `json:"expiry_schedule"`
	RecheckSchedule  string `json:"recheck_schedule"`
	DeliverySchedule string `json:"delivery_schedule"`
	PollBatchSize    int    `json:"poll_batch_size"`
}

// EvidenceConfig points at the external document store holding evidence files
type EvidenceConfig struct {
	Bucket string        `json:"bucket"`
	Region string        `json:"region"`
	URLTTL time.Duration `json:"url_ttl"`
}

// NotifyConfig configures the alert delivery transport
type NotifyConfig struct {
	SNSTopicARN     string `json:"sns_topic_arn"`
	EmailFrom       string `json:"email_from"`
	ComplianceEmail string `json:"compliance_email"`
}

// LoadConfig loads configuration from an optional JSON file, a .env file
// when present, and environment variables (highest precedence).
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	// Defaults
	config := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "careloop_compliance",
			SSLMode: "disable",
		},
		Logging: LoggingConfig{Level: "info"},
		Providers: ProvidersConfig{
			HTTPTimeout: 10 * time.Second,
		},
		Alerts: AlertsConfig{
			ExpiryWarningWindow: 30 * 24 * time.Hour,
			SweepBatchSize:      200,
		},
		Monitor: MonitorConfig{
			SweepSchedule:    "@every 15m",
			ExpirySchedule:   "@hourly",
			RecheckSchedule:  "0 3 * * 1",
			DeliverySchedule: "@every 1m",
			PollBatchSize:    100,
		},
		Evidence: EvidenceConfig{
			Region: "ap-southeast-2",
			URLTTL: 15 * time.Minute,
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			config.Database.Port = p
		}
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if window := os.Getenv("ALERTS_EXPIRY_WARNING_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			config.Alerts.ExpiryWarningWindow = d
		}
	}
	if timeout := os.Getenv("PROVIDER_HTTP_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Providers.HTTPTimeout = d
		}
	}
	if bucket := os.Getenv("EVIDENCE_BUCKET"); bucket != "" {
		config.Evidence.Bucket = bucket
	}
	if region := os.Getenv("EVIDENCE_REGION"); region != "" {
		config.Evidence.Region = region
	}
	if topic := os.Getenv("NOTIFY_SNS_TOPIC_ARN"); topic != "" {
		config.Notify.SNSTopicARN = topic
	}
	if from := os.Getenv("NOTIFY_EMAIL_FROM"); from != "" {
		config.Notify.EmailFrom = from
	}
	if to := os.Getenv("NOTIFY_COMPLIANCE_EMAIL"); to != "" {
		config.Notify.ComplianceEmail = to
	}

	overrideEndpoint(&config.Providers.PoliceCheck, "POLICE_CHECK")
	overrideEndpoint(&config.Providers.WWCC, "WWCC")
	overrideEndpoint(&config.Providers.NDISScreening, "NDIS_SCREENING")
	overrideEndpoint(&config.Providers.FirstAid, "FIRST_AID")
	overrideEndpoint(&config.Providers.ABN, "ABN")
}

func overrideEndpoint(ep *ProviderEndpoint, prefix string) {
	if url := os.Getenv("PROVIDER_" + prefix + "_BASE_URL"); url != "" {
		ep.BaseURL = url
	}
	if key := os.Getenv("PROVIDER_" + prefix + "_API_KEY"); key != "" {
		ep.APIKey = key
	}
	if secret := os.Getenv("PROVIDER_" + prefix + "_WEBHOOK_SECRET"); secret != "" {
		ep.WebhookSecret = secret
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
