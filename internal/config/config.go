package config

import (
	"fmt"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"

	StorageDriverMySQL  = "mysql"
	StorageDriverMemory = "memory"
)

type Config struct {
	Environment   string              `mapstructure:"environment" validate:"oneof=production development test"`
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Review        ReviewConfig        `mapstructure:"review"`
	Cron          CronConfig          `mapstructure:"cron"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	CORS            CORSConfig    `mapstructure:"cors"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=mysql memory"`
}

type DatabaseConfig struct {
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Database        string            `mapstructure:"database"`
	Username        string            `mapstructure:"username"`
	Password        string            `mapstructure:"password"`
	TLS             bool              `mapstructure:"tls"`
	Params          map[string]string `mapstructure:"params"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int               `mapstructure:"conn_max_lifetime_seconds"`
}

type AuthConfig struct {
	// JWTSecret verifies session tokens issued by the auth service.
	JWTSecret string `mapstructure:"jwt_secret"`
	// DevMode lets the due-cards debug endpoint run without a bearer token.
	DevMode bool `mapstructure:"dev_mode"`
}

type ReviewConfig struct {
	LedgerRetention time.Duration `mapstructure:"ledger_retention" validate:"gt=0"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

type CronConfig struct {
	Secret string `mapstructure:"secret"`
	// ForceEnable starts the scheduler outside of production.
	ForceEnable bool                 `mapstructure:"force_enable"`
	Jobs        map[string]JobConfig `mapstructure:"jobs" validate:"dive"`
}

type JobConfig struct {
	Schedule string `mapstructure:"schedule" validate:"required,cron"`
	Task     string `mapstructure:"task" validate:"required"`
	Timezone string `mapstructure:"timezone" validate:"omitempty,timezone"`
	Enabled  bool   `mapstructure:"enabled"`
}

type NotificationsConfig struct {
	MinDueCount int           `mapstructure:"min_due_count" validate:"min=1"`
	Cooldown    time.Duration `mapstructure:"cooldown" validate:"gt=0"`
	Dispatcher  string        `mapstructure:"dispatcher" validate:"oneof=log webhook ses multi"`
	Webhook     WebhookConfig `mapstructure:"webhook"`
	SES         SESConfig     `mapstructure:"ses"`
}

type WebhookConfig struct {
	URL           string        `mapstructure:"url" validate:"omitempty,url"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
}

type SESConfig struct {
	Region          string `mapstructure:"region"`
	From            string `mapstructure:"from" validate:"omitempty,email"`
	AuthType        string `mapstructure:"auth_type" validate:"omitempty,oneof=static_credentials iam_role"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// SchedulerEnabled reports whether cron jobs should be started in this process.
func (c *Config) SchedulerEnabled() bool {
	return c.Environment == EnvironmentProduction || c.Cron.ForceEnable
}

type ConfigLoader struct {
	viper      *viper.Viper
	validator  *validator.Validate
	translator ut.Translator
}

func NewConfigLoader(configFile string) (*ConfigLoader, error) {
	validate, trans, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create new validator: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/langner-review")
	}

	return &ConfigLoader{
		viper:      v,
		validator:  validate,
		translator: trans,
	}, nil
}

func (loader *ConfigLoader) Load() (*Config, error) {
	v := loader.viper

	v.SetDefault("environment", EnvironmentDevelopment)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("storage.driver", StorageDriverMySQL)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "local")
	v.SetDefault("database.username", "user")
	v.SetDefault("review.ledger_retention", 30*24*time.Hour)
	v.SetDefault("review.retry_delay", 50*time.Millisecond)
	v.SetDefault("notifications.min_due_count", 1)
	v.SetDefault("notifications.cooldown", 6*time.Hour)
	v.SetDefault("notifications.dispatcher", "log")
	v.SetDefault("notifications.webhook.timeout", 10*time.Second)
	v.SetDefault("notifications.webhook.retry_attempts", 2)
	v.SetDefault("notifications.ses.auth_type", "iam_role")

	// Secrets and deployment switches can be overridden from the environment.
	for key, env := range map[string]string{
		"environment":                         "APP_ENV",
		"cron.secret":                         "CRON_SECRET",
		"cron.force_enable":                   "ENABLE_CRON_SCHEDULER",
		"due_cards_cron_schedule":             "DUE_CARDS_CRON_SCHEDULE",
		"due_cards_cron_timezone":             "DUE_CARDS_CRON_TIMEZONE",
		"auth.jwt_secret":                     "JWT_SECRET",
		"auth.dev_mode":                       "DEV_MODE",
		"database.password":                   "DB_PASSWORD",
		"notifications.webhook.url":           "NOTIFICATION_WEBHOOK_URL",
		"notifications.ses.secret_access_key": "SES_SECRET_ACCESS_KEY",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s environment variable: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("configuration file found but could not be read: %w. Please check the file format and permissions", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}
	applyDueCardsJobDefaults(v, &cfg)

	if err := loader.validator.Struct(cfg); err != nil {
		validationErrors := err.(validator.ValidationErrors)
		var errorMsgs []string
		for _, e := range validationErrors {
			errorMsgs = append(errorMsgs, e.Translate(loader.translator))
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errorMsgs, ", "))
	}

	return &cfg, nil
}

const (
	DueCardsJobName     = "check-due-cards"
	GradeRequestsGCJob  = "gc-grade-requests"
	defaultDueCardsCron = "0 */4 * * *"
	defaultGradeGCCron  = "0 3 * * *"
	defaultCronTimezone = "UTC"
)

// applyDueCardsJobDefaults makes sure the built-in jobs exist and lets the
// due-cards schedule be overridden from the environment.
func applyDueCardsJobDefaults(v *viper.Viper, cfg *Config) {
	if cfg.Cron.Jobs == nil {
		cfg.Cron.Jobs = make(map[string]JobConfig)
	}
	if _, ok := cfg.Cron.Jobs[DueCardsJobName]; !ok {
		cfg.Cron.Jobs[DueCardsJobName] = JobConfig{
			Schedule: defaultDueCardsCron,
			Task:     DueCardsJobName,
			Timezone: defaultCronTimezone,
			Enabled:  true,
		}
	}
	if _, ok := cfg.Cron.Jobs[GradeRequestsGCJob]; !ok {
		cfg.Cron.Jobs[GradeRequestsGCJob] = JobConfig{
			Schedule: defaultGradeGCCron,
			Task:     GradeRequestsGCJob,
			Timezone: defaultCronTimezone,
			Enabled:  true,
		}
	}

	job := cfg.Cron.Jobs[DueCardsJobName]
	if schedule := v.GetString("due_cards_cron_schedule"); schedule != "" {
		job.Schedule = schedule
	}
	if tz := v.GetString("due_cards_cron_timezone"); tz != "" {
		job.Timezone = tz
	}
	cfg.Cron.Jobs[DueCardsJobName] = job
}
