package config

import (
	"reflect"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DSN", "host=localhost user=test password=test dbname=test port=5432 sslmode=disable")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	t.Setenv("EMAIL_GATEWAY_URL", "http://localhost:8081/send")
	t.Setenv("SMS_GATEWAY_URL", "http://localhost:8082/send")
	t.Setenv("PUSH_GATEWAY_URL", "http://localhost:8083/send")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want 100", cfg.BatchSize)
	}
	if cfg.WorkerCount != 50 {
		t.Errorf("WorkerCount = %d, want 50", cfg.WorkerCount)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.SystemQuietStart != "22:00" || cfg.SystemQuietEnd != "08:00" {
		t.Errorf("system quiet window = %s-%s, want 22:00-08:00", cfg.SystemQuietStart, cfg.SystemQuietEnd)
	}
	if cfg.DedupTTLHours != 24 {
		t.Errorf("DedupTTLHours = %d, want 24", cfg.DedupTTLHours)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BATCH_SIZE", "250")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("SYSTEM_QUIET_START", "23:30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.BatchSize != 250 {
		t.Errorf("BatchSize = %d, want 250", cfg.BatchSize)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.SystemQuietStart != "23:30" {
		t.Errorf("SystemQuietStart = %s, want 23:30", cfg.SystemQuietStart)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_DSN", "host=localhost")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
}

func TestBrokerList(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092 ,broker-3:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"broker-1:9092", "broker-2:9092", "broker-3:9092"}
	if got := cfg.BrokerList(); !reflect.DeepEqual(got, want) {
		t.Errorf("BrokerList() = %v, want %v", got, want)
	}
}
