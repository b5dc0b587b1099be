package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() *Config {
	return &Config{
		Environment: EnvironmentDevelopment,
		Server: ServerConfig{
			Port:            8080,
			CORS:            CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{Driver: StorageDriverMySQL},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			Database: "local",
			Username: "user",
		},
		Review: ReviewConfig{
			LedgerRetention: 720 * time.Hour,
			RetryDelay:      50 * time.Millisecond,
		},
		Cron: CronConfig{
			Jobs: map[string]JobConfig{
				DueCardsJobName: {
					Schedule: "0 */4 * * *",
					Task:     DueCardsJobName,
					Timezone: "UTC",
					Enabled:  true,
				},
				GradeRequestsGCJob: {
					Schedule: "0 3 * * *",
					Task:     GradeRequestsGCJob,
					Timezone: "UTC",
					Enabled:  true,
				},
			},
		},
		Notifications: NotificationsConfig{
			MinDueCount: 1,
			Cooldown:    6 * time.Hour,
			Dispatcher:  "log",
			Webhook: WebhookConfig{
				Timeout:       10 * time.Second,
				RetryAttempts: 2,
			},
			SES: SESConfig{AuthType: "iam_role"},
		},
	}
}

func TestConfigLoader_Load(t *testing.T) {
	tests := []struct {
		name              string
		configContent     string
		env               map[string]string
		wantErr           bool
		want              func() *Config
		wantErrorContains []string
	}{
		{
			name:          "empty config uses defaults",
			configContent: "",
			want:          defaultConfig,
		},
		{
			name: "custom values",
			configContent: `environment: production
server:
  port: 9090
storage:
  driver: memory
notifications:
  min_due_count: 3
  cooldown: 2h
  dispatcher: webhook
  webhook:
    url: https://push.example.com/hooks/review
cron:
  jobs:
    check-due-cards:
      schedule: "*/30 * * * *"
      task: check-due-cards
      timezone: Asia/Tokyo
      enabled: true
`,
			want: func() *Config {
				cfg := defaultConfig()
				cfg.Environment = EnvironmentProduction
				cfg.Server.Port = 9090
				cfg.Storage.Driver = StorageDriverMemory
				cfg.Notifications.MinDueCount = 3
				cfg.Notifications.Cooldown = 2 * time.Hour
				cfg.Notifications.Dispatcher = "webhook"
				cfg.Notifications.Webhook.URL = "https://push.example.com/hooks/review"
				cfg.Cron.Jobs[DueCardsJobName] = JobConfig{
					Schedule: "*/30 * * * *",
					Task:     DueCardsJobName,
					Timezone: "Asia/Tokyo",
					Enabled:  true,
				}
				return cfg
			},
		},
		{
			name:          "environment overrides",
			configContent: "",
			env: map[string]string{
				"CRON_SECRET":             "s3cret",
				"ENABLE_CRON_SCHEDULER":   "true",
				"DUE_CARDS_CRON_SCHEDULE": "@every 1h",
				"DUE_CARDS_CRON_TIMEZONE": "Europe/Berlin",
				"JWT_SECRET":              "jwt",
				"DB_PASSWORD":             "dbpass",
			},
			want: func() *Config {
				cfg := defaultConfig()
				cfg.Cron.Secret = "s3cret"
				cfg.Cron.ForceEnable = true
				cfg.Auth.JWTSecret = "jwt"
				cfg.Database.Password = "dbpass"
				job := cfg.Cron.Jobs[DueCardsJobName]
				job.Schedule = "@every 1h"
				job.Timezone = "Europe/Berlin"
				cfg.Cron.Jobs[DueCardsJobName] = job
				return cfg
			},
		},
		{
			name: "invalid YAML format",
			configContent: `server:
  port: 8080
  invalid yaml format here [[[
`,
			wantErr: true,
			wantErrorContains: []string{
				"configuration file found but could not be read",
				"Please check the file format and permissions",
			},
		},
		{
			name: "invalid cron expression",
			configContent: `cron:
  jobs:
    nightly:
      schedule: "every night"
      task: check-due-cards
`,
			wantErr:           true,
			wantErrorContains: []string{"invalid configuration", "must be a valid cron expression"},
		},
		{
			name: "invalid timezone",
			configContent: `cron:
  jobs:
    nightly:
      schedule: "0 0 * * *"
      task: check-due-cards
      timezone: Mars/Olympus
`,
			wantErr:           true,
			wantErrorContains: []string{"invalid configuration"},
		},
		{
			name: "unknown dispatcher",
			configContent: `notifications:
  dispatcher: carrier-pigeon
`,
			wantErr:           true,
			wantErrorContains: []string{"invalid configuration", "dispatcher"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			configPath := filepath.Join(t.TempDir(), "config.yml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.configContent), 0644))

			loader, err := NewConfigLoader(configPath)
			require.NoError(t, err)
			got, err := loader.Load()

			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, got)
				for _, wantMsg := range tt.wantErrorContains {
					assert.Contains(t, err.Error(), wantMsg)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want(), got)
		})
	}
}

func TestConfig_SchedulerEnabled(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		forceEnable bool
		want        bool
	}{
		{name: "production", environment: EnvironmentProduction, want: true},
		{name: "development", environment: EnvironmentDevelopment, want: false},
		{name: "development with force enable", environment: EnvironmentDevelopment, forceEnable: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment, Cron: CronConfig{ForceEnable: tt.forceEnable}}
			assert.Equal(t, tt.want, cfg.SchedulerEnabled())
		})
	}
}
