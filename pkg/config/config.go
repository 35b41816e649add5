package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the service settings.
type Config struct {
	Port     string
	DBDriver string // sqlite3 or postgres
	DBDSN    string
	LogLevel string
	Location *time.Location

	RefreshSchedule string // cron spec for persisting loan projections
	AlertSchedule   string // cron spec for the due-date digest

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
	AlertEmails  []string
	EmailEnabled bool
}

// LoadConfig reads an optional .env file and then the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Warn(".env file not found, using environment")
	}

	tz := getEnv("TIMEZONE", "America/Lima")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBDriver:        getEnv("DB_DRIVER", "sqlite3"),
		DBDSN:           getEnv("DB_DSN", "microloans.db"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Location:        loc,
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", "@every 1h"),
		AlertSchedule:   getEnv("ALERT_SCHEDULE", "0 8 * * *"),
		SMTPHost:        getEnv("SMTP_HOST", "localhost"),
		SMTPPort:        getEnv("SMTP_PORT", "587"),
		SMTPUsername:    os.Getenv("SMTP_USER"),
		SMTPPassword:    os.Getenv("SMTP_PASS"),
		SenderEmail:     getEnv("ALERT_EMAIL_FROM", "alertas@microloans.local"),
		AlertEmails:     splitList(os.Getenv("ALERT_EMAIL_TO")),
		EmailEnabled:    getEnv("EMAIL_SENDER_ENABLED", "false") == "true",
	}
	return cfg, nil
}

// getEnv returns the value of key or defaultValue when it's unset.
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
