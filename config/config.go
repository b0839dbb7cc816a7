package config

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	LogLevel   string           `mapstructure:"log_level"`
	Plane      PlaneConfig      `mapstructure:"plane"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Debug      DebugConfig      `mapstructure:"debug"`
}

type ServerConfig struct {
	Port int
	Host string
}

type PlaneConfig struct {
	WebhookSecret string `mapstructure:"webhookSecret"`
	StaticToken   string `mapstructure:"staticToken"`
	BaseURL       string `mapstructure:"baseUrl"`
	APIToken      string `mapstructure:"apiToken"`
}

type DiscordConfig struct {
	WebhookURL      string        `mapstructure:"webhookUrl"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MinSendInterval time.Duration `mapstructure:"minSendInterval"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"maxAttempts"`
	BaseDelay       time.Duration `mapstructure:"baseDelay"`
	MaxDelay        time.Duration `mapstructure:"maxDelay"`
	PerEventTimeout time.Duration `mapstructure:"perEventTimeout"`
}

type DedupConfig struct {
	Backend       string        `mapstructure:"backend"` // "memory" or "mongodb"
	ClaimTTL      time.Duration `mapstructure:"claimTtl"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type RabbitMQConfig struct {
	URL       string `mapstructure:"url"`
	Exchange  string `mapstructure:"exchange"`
	QueueName string `mapstructure:"queueName"`
}

type MonitoringConfig struct {
	PrometheusPort int    `mapstructure:"prometheusPort"`
	MetricsPath    string `mapstructure:"metricsPath"`
}

type DebugConfig struct {
	ArchiveDir string `mapstructure:"archiveDir"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("discord.timeout", 20*time.Second)
	viper.SetDefault("retry.maxAttempts", 5)
	viper.SetDefault("retry.baseDelay", 500*time.Millisecond)
	viper.SetDefault("retry.maxDelay", 30*time.Second)
	viper.SetDefault("retry.perEventTimeout", 2*time.Minute)
	viper.SetDefault("dedup.backend", "memory")
	viper.SetDefault("dedup.claimTtl", 5*time.Minute)
	viper.SetDefault("dedup.retention", 24*time.Hour)
	viper.SetDefault("dedup.sweepInterval", 10*time.Minute)
	viper.SetDefault("mongodb.database", "plane_relay")
	viper.SetDefault("mongodb.collection", "delivery_records")
	viper.SetDefault("rabbitmq.exchange", "plane_events")
	viper.SetDefault("rabbitmq.queueName", "plane_relay_queue")
	viper.SetDefault("monitoring.prometheusPort", 9090)
	viper.SetDefault("monitoring.metricsPath", "/metrics")
	viper.SetDefault("debug.archiveDir", "plane_requests")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; everything can come from env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if port := os.Getenv("APP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if promPort := os.Getenv("PROMETHEUS_PORT"); promPort != "" {
		if p, err := strconv.Atoi(promPort); err == nil {
			cfg.Monitoring.PrometheusPort = p
		}
	}

	if secret := os.Getenv("PLANE_WEBHOOK_SECRET"); secret != "" {
		cfg.Plane.WebhookSecret = secret
	}
	if token := os.Getenv("PLANE_STATIC_TOKEN"); token != "" {
		cfg.Plane.StaticToken = token
	}
	if base := os.Getenv("PLANE_BASE_URL"); base != "" {
		cfg.Plane.BaseURL = base
	}
	if token := os.Getenv("PLANE_API_TOKEN"); token != "" {
		cfg.Plane.APIToken = token
	}

	if url := os.Getenv("DISCORD_WEBHOOK_URL"); url != "" {
		cfg.Discord.WebhookURL = url
	}

	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		cfg.MongoDB.URI = uri
	}
	if db := os.Getenv("MONGODB_DATABASE"); db != "" {
		cfg.MongoDB.Database = db
	}
	if col := os.Getenv("MONGODB_COLLECTION"); col != "" {
		cfg.MongoDB.Collection = col
	}

	// Support both CLOUDAMQP_URL and RABBITMQ_URI for hosted brokers
	if cloudamqpURL := os.Getenv("CLOUDAMQP_URL"); cloudamqpURL != "" {
		cfg.RabbitMQ.URL = cloudamqpURL
	} else if rabbitURL := os.Getenv("RABBITMQ_URI"); rabbitURL != "" {
		cfg.RabbitMQ.URL = rabbitURL
	}

	if exchange := os.Getenv("RABBITMQ_EXCHANGE"); exchange != "" {
		cfg.RabbitMQ.Exchange = exchange
	}
	if queue := os.Getenv("RABBITMQ_QUEUE"); queue != "" {
		cfg.RabbitMQ.QueueName = queue
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if backend := os.Getenv("DEDUP_BACKEND"); backend != "" {
		cfg.Dedup.Backend = backend
	}

	if dir := os.Getenv("RELAY_ARCHIVE_DIR"); dir != "" {
		cfg.Debug.ArchiveDir = dir
	}

	return &cfg, nil
}

// QueueMode reports whether delivery runs through the broker instead of
// inline in the request handler.
func (c *Config) QueueMode() bool {
	return c.RabbitMQ.URL != ""
}
