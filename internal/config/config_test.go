package config

import (
	"strings"
	"testing"
	"time"
)

var testEnvVars = []string{
	"PORT", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"TASK_POSSIBLE_ERRORS", "PROVIDER_TIMEOUT", "RELAY_TIMEOUT",
	"DATABASE_TYPE", "DATABASE_PATH", "DATABASE_URL",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_SSLMODE",
	"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE", "LOCK_BACKEND",
	"BROKER_TYPE", "BROKER_CONSUMER_GROUP", "RABBITMQ_URL", "KAFKA_BROKERS", "KAFKA_GROUP_ID",
	"AWS_REGION", "AWS_QUEUE_URL", "AWS_TOPIC_ARN", "GCP_PROJECT_ID",
	"HTTP_PROVIDER_NAME", "HTTP_PROVIDER_URL", "HTTP_PROVIDER_TYPES", "HTTP_PROVIDER_CACHE_TTL",
	"HTTP_PROVIDER_MAX_IDLE_CONNS", "HTTP_PROVIDER_INSECURE_SKIP_VERIFY",
	"REDIS_PROVIDER_TYPES", "VCARD_PROVIDER_FILE", "ICAL_PROVIDER_FILE",
	"SCHEDULED_EVENTS", "IMAP_HOST", "IMAP_USERNAME", "IMAP_AUTH", "IMAP_TOKEN", "IMAP_POLL_INTERVAL",
}

func clearTestEnvVars(t *testing.T) {
	for _, key := range testEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearTestEnvVars(t)

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", cfg.Port)
	}
	if cfg.Engine.ErrorThreshold != 5 {
		t.Errorf("Load() ErrorThreshold = %v, want 5", cfg.Engine.ErrorThreshold)
	}
	if cfg.Engine.ProviderTimeout != 10*time.Second {
		t.Errorf("Load() ProviderTimeout = %v, want 10s", cfg.Engine.ProviderTimeout)
	}
	if cfg.Engine.RelayTimeout != 5*time.Second {
		t.Errorf("Load() RelayTimeout = %v, want 5s", cfg.Engine.RelayTimeout)
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.Path != "./tasks.db" {
		t.Errorf("Load() Database = %+v, want sqlite ./tasks.db", cfg.Database)
	}
	if cfg.Redis.Enabled() {
		t.Error("Load() Redis should be disabled by default")
	}
	if cfg.LockBackend != "local" {
		t.Errorf("Load() LockBackend = %v, want local", cfg.LockBackend)
	}
	if cfg.Broker.Type != "memory" {
		t.Errorf("Load() Broker.Type = %v, want memory", cfg.Broker.Type)
	}
	if cfg.IMAP.Enabled() {
		t.Error("Load() IMAP should be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration should validate: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("TASK_POSSIBLE_ERRORS", "3")
	t.Setenv("PROVIDER_TIMEOUT", "250ms")
	t.Setenv("RELAY_TIMEOUT", "2")
	t.Setenv("HTTP_PROVIDER_TYPES", "Patient, Clinic,,")
	t.Setenv("POSTGRES_PORT", "not-a-number")
	t.Setenv("HTTP_PROVIDER_MAX_IDLE_CONNS", "4")
	t.Setenv("HTTP_PROVIDER_INSECURE_SKIP_VERIFY", "true")

	cfg := Load()

	if cfg.Engine.ErrorThreshold != 3 {
		t.Errorf("ErrorThreshold = %v, want 3", cfg.Engine.ErrorThreshold)
	}
	if cfg.Engine.ProviderTimeout != 250*time.Millisecond {
		t.Errorf("ProviderTimeout = %v, want 250ms", cfg.Engine.ProviderTimeout)
	}
	if cfg.Engine.RelayTimeout != 2*time.Second {
		t.Errorf("RelayTimeout = %v, want 2s", cfg.Engine.RelayTimeout)
	}
	if got := strings.Join(cfg.Providers.HTTPTypes, "|"); got != "Patient|Clinic" {
		t.Errorf("HTTPTypes = %v, want Patient|Clinic", got)
	}
	if cfg.Database.PostgresPort != 5432 {
		t.Errorf("PostgresPort = %v, want default 5432 for invalid input", cfg.Database.PostgresPort)
	}
	if cfg.Providers.HTTPMaxIdleConns != 4 || !cfg.Providers.HTTPInsecureSkipVerify {
		t.Errorf("http transport = %d/%v, want 4/true", cfg.Providers.HTTPMaxIdleConns, cfg.Providers.HTTPInsecureSkipVerify)
	}
}

func TestPostgresDSN(t *testing.T) {
	d := DatabaseConfig{
		PostgresHost: "db", PostgresPort: 5432, PostgresDB: "tasks",
		PostgresUser: "app", PostgresPassword: "secret", PostgresSSLMode: "disable",
	}
	if got, want := d.PostgresDSN(), "postgres://app:secret@db:5432/tasks?sslmode=disable"; got != want {
		t.Errorf("PostgresDSN() = %v, want %v", got, want)
	}

	d.URL = "postgres://override"
	if d.PostgresDSN() != "postgres://override" {
		t.Errorf("PostgresDSN() should prefer DATABASE_URL")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "invalid port",
			env:     map[string]string{"PORT": "70000"},
			wantErr: "PORT",
		},
		{
			name:    "unknown database",
			env:     map[string]string{"DATABASE_TYPE": "mongo"},
			wantErr: "DATABASE_TYPE",
		},
		{
			name:    "redis locks without redis",
			env:     map[string]string{"LOCK_BACKEND": "redis"},
			wantErr: "REDIS_ADDRESS",
		},
		{
			name:    "unknown broker",
			env:     map[string]string{"BROKER_TYPE": "zeromq"},
			wantErr: "BROKER_TYPE",
		},
		{
			name:    "rabbitmq without url",
			env:     map[string]string{"BROKER_TYPE": "rabbitmq"},
			wantErr: "RABBITMQ_URL",
		},
		{
			name:    "aws without queue",
			env:     map[string]string{"BROKER_TYPE": "aws", "AWS_REGION": "eu-west-1"},
			wantErr: "AWS_QUEUE_URL",
		},
		{
			name:    "http provider without types",
			env:     map[string]string{"HTTP_PROVIDER_URL": "https://crm.example.com/{type}"},
			wantErr: "HTTP_PROVIDER_TYPES",
		},
		{
			name:    "negative idle connections",
			env:     map[string]string{"HTTP_PROVIDER_MAX_IDLE_CONNS": "-1"},
			wantErr: "HTTP_PROVIDER_MAX_IDLE_CONNS",
		},
		{
			name:    "bad schedule",
			env:     map[string]string{"SCHEDULED_EVENTS": "every minute=TICK"},
			wantErr: "cron",
		},
		{
			name:    "schedule without subject",
			env:     map[string]string{"SCHEDULED_EVENTS": "@hourly"},
			wantErr: "cron=SUBJECT",
		},
		{
			name:    "imap oauth2 without token",
			env:     map[string]string{"IMAP_HOST": "imap.example.com", "IMAP_USERNAME": "bot", "IMAP_AUTH": "oauth2"},
			wantErr: "IMAP_TOKEN",
		},
		{
			name:    "tls half configured",
			env:     map[string]string{"TLS_CERT_FILE": "cert.pem"},
			wantErr: "TLS_KEY_FILE",
		},
		{
			name: "complete setup",
			env: map[string]string{
				"REDIS_ADDRESS":        "localhost:6379",
				"LOCK_BACKEND":         "redis",
				"BROKER_TYPE":          "redis",
				"HTTP_PROVIDER_URL":    "https://crm.example.com/api/{type}",
				"HTTP_PROVIDER_TYPES":  "Patient",
				"REDIS_PROVIDER_TYPES": "Clinic",
				"SCHEDULED_EVENTS":     "*/5 * * * *=REMINDER_TICK; @daily=DAILY_REPORT",
				"IMAP_HOST":            "imap.example.com",
				"IMAP_USERNAME":        "bot",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnvVars(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			err := Load().Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("PORT", "0")
	t.Setenv("BROKER_TYPE", "kafka")
	t.Setenv("DATABASE_TYPE", "mongo")

	err := Load().Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"PORT", "KAFKA_BROKERS", "DATABASE_TYPE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %v should mention %s", err, want)
		}
	}
}
