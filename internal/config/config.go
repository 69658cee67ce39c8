package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN     string `env:"DATABASE_DSN,required=true"`
	RedisURL        string `env:"REDIS_URL,required=true"`
	KafkaBrokers    string `env:"KAFKA_BROKERS,required=true"`
	EmailGatewayURL string `env:"EMAIL_GATEWAY_URL,required=true"`
	SMSGatewayURL   string `env:"SMS_GATEWAY_URL,required=true"`
	PushGatewayURL  string `env:"PUSH_GATEWAY_URL,required=true"`

	BatchSize            int `env:"BATCH_SIZE,default=100"`
	BatchFlushIntervalMS int `env:"BATCH_FLUSH_INTERVAL_MS,default=1000"`
	WorkerCount          int `env:"WORKER_COUNT,default=50"`
	ConsumerConcurrency  int `env:"CONSUMER_CONCURRENCY,default=3"`
	MaxRetries           int `env:"MAX_RETRIES,default=3"`
	SendTimeoutMS        int `env:"SEND_TIMEOUT_MS,default=10000"`
	DedupTTLHours        int `env:"DEDUP_TTL_HOURS,default=24"`

	SystemQuietStart string `env:"SYSTEM_QUIET_START,default=22:00"`
	SystemQuietEnd   string `env:"SYSTEM_QUIET_END,default=08:00"`

	WaitingDrainIntervalSec int `env:"WAITING_DRAIN_INTERVAL_SEC,default=30"`
	WaitingDrainLimit       int `env:"WAITING_DRAIN_LIMIT,default=200"`
	RetryScanIntervalSec    int `env:"RETRY_SCAN_INTERVAL_SEC,default=60"`
	RetryScanLimit          int `env:"RETRY_SCAN_LIMIT,default=100"`
	PrefRefreshIntervalSec  int `env:"PREF_REFRESH_INTERVAL_SEC,default=60"`

	RateLimitPerSec int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	APIPort         int    `env:"API_PORT,default=8080"`
	MetricsPort     int    `env:"METRICS_PORT,default=9090"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// BrokerList splits the comma-separated KAFKA_BROKERS value.
func (c *Config) BrokerList() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if addr := strings.TrimSpace(part); addr != "" {
			brokers = append(brokers, addr)
		}
	}
	return brokers
}
