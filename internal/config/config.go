package config

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/happydotemdr/hookrelay/pkg/logger"
)

func MustInit() {
	if err := godotenv.Load("./.env"); err != nil {
		panic("error while loading .env file: " + err.Error())
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/hookrelay")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		panic("error while reading config file: " + err.Error())
	}
	SetupLogger()
}

func SetupLogger() {
	handler := logger.NewHandler(nil)
	log := slog.New(handler)
	slog.SetDefault(log)
}

// QueueSettings is the static settings object for the delivery queue,
// validated once at startup. The core never reloads configuration mid-run.
type QueueSettings struct {
	WebhookURL        string        `validate:"required,url"`
	WebhookTimeout    time.Duration `validate:"gt=0"`
	WebhookSecret     string
	MaxRetries        int           `validate:"gte=1"`
	BackoffBase       time.Duration `validate:"gt=0"`
	BackoffMultiplier float64       `validate:"gte=1"`
	BackoffMax        time.Duration `validate:"gt=0"`
	StaleAfter        time.Duration `validate:"gt=0"`
}

// MustQueueSettings reads and validates the queue settings.
func MustQueueSettings() QueueSettings {
	s := QueueSettings{
		WebhookURL:        viper.GetString("webhook.url"),
		WebhookTimeout:    secondsOrDefault("webhook.timeout_seconds", 10*time.Second),
		WebhookSecret:     viper.GetString("webhook.secret"),
		MaxRetries:        viper.GetInt("queue.max_retries"),
		BackoffBase:       secondsOrDefault("queue.backoff.base_seconds", 30*time.Second),
		BackoffMultiplier: viper.GetFloat64("queue.backoff.multiplier"),
		BackoffMax:        secondsOrDefault("queue.backoff.max_seconds", 30*time.Minute),
		StaleAfter:        minutesOrDefault("queue.stale_after_minutes", 15*time.Minute),
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 5
	}
	if s.BackoffMultiplier == 0 {
		s.BackoffMultiplier = 2
	}

	if err := validator.New().Struct(s); err != nil {
		panic("invalid queue settings: " + err.Error())
	}

	return s
}

func secondsOrDefault(key string, def time.Duration) time.Duration {
	if v := viper.GetInt(key); v > 0 {
		return time.Duration(v) * time.Second
	}
	return def
}

func minutesOrDefault(key string, def time.Duration) time.Duration {
	if v := viper.GetInt(key); v > 0 {
		return time.Duration(v) * time.Minute
	}
	return def
}
