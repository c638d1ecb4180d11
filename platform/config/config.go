// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTSecret() string
}

// MessagingConfig provides settings for the messaging provider client.
type MessagingConfig interface {
	GetWebhookVerifyToken() string
	GetMessagingAccessToken() string
	GetMessagingAppSecret() string
	GetMessagingPhoneNumberID() string
	GetMessagingBaseURL() string
}

// CalendarConfig provides settings for the calendar provider client.
type CalendarConfig interface {
	GetCalendarTenantID() string
	GetCalendarClientID() string
	GetCalendarClientSecret() string
	GetCalendarUserEmail() string
	GetTimezone() string
	IsCalendarEnabled() bool
}

// LLMConfig provides settings for the agent model.
type LLMConfig interface {
	GetLLMAPIKey() string
	GetLLMModel() string
	GetLLMBaseURL() string
	GetHistoryWindow() int
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// RedisConfig provides settings for the background job queue.
type RedisConfig interface {
	GetRedisURL() string
	IsSchedulerEnabled() bool
}

// SMTPConfig provides settings for operator notification mail.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetSMTPFromAddress() string
	GetNotifyAddress() string
	IsMailEnabled() bool
}

// OrchestratorConfig provides tuning knobs for conversation processing.
type OrchestratorConfig interface {
	GetAgentTimeout() time.Duration
	GetMessagingTimeout() time.Duration
	GetCalendarTimeout() time.Duration
	GetAbandonAfter() time.Duration
	GetMinimumNotice() time.Duration
	GetSlotDuration() time.Duration
	GetWorkdayStartHour() int
	GetWorkdayEndHour() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	JWTSecret              string
	CORSAllowAll           bool
	CORSOrigins            []string
	CORSAllowCreds         bool
	WebhookVerifyToken     string
	MessagingAccessToken   string
	MessagingAppSecret     string
	MessagingPhoneNumberID string
	MessagingBaseURL       string
	CalendarTenantID       string
	CalendarClientID       string
	CalendarClientSecret   string
	CalendarUserEmail      string
	Timezone               string
	LLMAPIKey              string
	LLMModel               string
	LLMBaseURL             string
	HistoryWindow          int
	RedisURL               string
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	SMTPFromAddress        string
	NotifyAddress          string
	AgentTimeout           time.Duration
	MessagingTimeout       time.Duration
	CalendarTimeout        time.Duration
	AbandonAfter           time.Duration
	MinimumNotice          time.Duration
	SlotDuration           time.Duration
	WorkdayStartHour       int
	WorkdayEndHour         int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTSecret() string { return c.JWTSecret }

// MessagingConfig implementation
func (c *Config) GetWebhookVerifyToken() string     { return c.WebhookVerifyToken }
func (c *Config) GetMessagingAccessToken() string   { return c.MessagingAccessToken }
func (c *Config) GetMessagingAppSecret() string     { return c.MessagingAppSecret }
func (c *Config) GetMessagingPhoneNumberID() string { return c.MessagingPhoneNumberID }
func (c *Config) GetMessagingBaseURL() string       { return c.MessagingBaseURL }

// CalendarConfig implementation
func (c *Config) GetCalendarTenantID() string     { return c.CalendarTenantID }
func (c *Config) GetCalendarClientID() string     { return c.CalendarClientID }
func (c *Config) GetCalendarClientSecret() string { return c.CalendarClientSecret }
func (c *Config) GetCalendarUserEmail() string    { return c.CalendarUserEmail }
func (c *Config) GetTimezone() string             { return c.Timezone }
func (c *Config) IsCalendarEnabled() bool {
	return c.CalendarTenantID != "" && c.CalendarClientID != ""
}

// LLMConfig implementation
func (c *Config) GetLLMAPIKey() string  { return c.LLMAPIKey }
func (c *Config) GetLLMModel() string   { return c.LLMModel }
func (c *Config) GetLLMBaseURL() string { return c.LLMBaseURL }
func (c *Config) GetHistoryWindow() int { return c.HistoryWindow }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// RedisConfig implementation
func (c *Config) GetRedisURL() string      { return c.RedisURL }
func (c *Config) IsSchedulerEnabled() bool { return c.RedisURL != "" }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string        { return c.SMTPHost }
func (c *Config) GetSMTPPort() int           { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string    { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string    { return c.SMTPPassword }
func (c *Config) GetSMTPFromAddress() string { return c.SMTPFromAddress }
func (c *Config) GetNotifyAddress() string   { return c.NotifyAddress }
func (c *Config) IsMailEnabled() bool {
	return c.SMTPHost != "" && c.NotifyAddress != ""
}

// OrchestratorConfig implementation
func (c *Config) GetAgentTimeout() time.Duration     { return c.AgentTimeout }
func (c *Config) GetMessagingTimeout() time.Duration { return c.MessagingTimeout }
func (c *Config) GetCalendarTimeout() time.Duration  { return c.CalendarTimeout }
func (c *Config) GetAbandonAfter() time.Duration     { return c.AbandonAfter }
func (c *Config) GetMinimumNotice() time.Duration    { return c.MinimumNotice }
func (c *Config) GetSlotDuration() time.Duration     { return c.SlotDuration }
func (c *Config) GetWorkdayStartHour() int           { return c.WorkdayStartHour }
func (c *Config) GetWorkdayEndHour() int             { return c.WorkdayEndHour }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	httpAddr := getEnv("HTTP_ADDR", "")
	if httpAddr == "" {
		httpAddr = ":" + getEnv("PORT", "8080")
	}

	cfg := &Config{
		Env:                    getEnv("ENVIRONMENT", "development"),
		HTTPAddr:               httpAddr,
		DatabaseURL:            getEnv("STORE_URL", getEnv("DATABASE_URL", "")),
		JWTSecret:              getEnv("JWT_SECRET", ""),
		CORSAllowAll:           corsAllowAll,
		CORSOrigins:            corsOrigins,
		CORSAllowCreds:         strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		WebhookVerifyToken:     getEnv("WEBHOOK_VERIFY_TOKEN", ""),
		MessagingAccessToken:   getEnv("MESSAGING_ACCESS_TOKEN", ""),
		MessagingAppSecret:     getEnv("MESSAGING_APP_SECRET", ""),
		MessagingPhoneNumberID: getEnv("MESSAGING_PHONE_NUMBER_ID", ""),
		MessagingBaseURL:       getEnv("MESSAGING_BASE_URL", "https://graph.facebook.com/v19.0"),
		CalendarTenantID:       getEnv("CALENDAR_TENANT_ID", ""),
		CalendarClientID:       getEnv("CALENDAR_CLIENT_ID", ""),
		CalendarClientSecret:   getEnv("CALENDAR_CLIENT_SECRET", ""),
		CalendarUserEmail:      getEnv("CALENDAR_USER_EMAIL", ""),
		Timezone:               getEnv("TIMEZONE", "America/Bogota"),
		LLMAPIKey:              getEnv("LLM_API_KEY", ""),
		LLMModel:               getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMBaseURL:             getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		HistoryWindow:          mustInt(getEnv("HISTORY_WINDOW", "10")),
		RedisURL:               getEnv("REDIS_URL", ""),
		SMTPHost:               getEnv("SMTP_HOST", ""),
		SMTPPort:               mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:           getEnv("SMTP_USERNAME", ""),
		SMTPPassword:           getEnv("SMTP_PASSWORD", ""),
		SMTPFromAddress:        getEnv("SMTP_FROM_ADDRESS", ""),
		NotifyAddress:          getEnv("NOTIFY_ADDRESS", ""),
		AgentTimeout:           mustDuration(getEnv("AGENT_TIMEOUT", "60s")),
		MessagingTimeout:       mustDuration(getEnv("MESSAGING_TIMEOUT", "10s")),
		CalendarTimeout:        mustDuration(getEnv("CALENDAR_TIMEOUT", "30s")),
		AbandonAfter:           mustDuration(getEnv("ABANDON_AFTER", "168h")),
		MinimumNotice:          mustDuration(getEnv("MINIMUM_NOTICE", "48h")),
		SlotDuration:           mustDuration(getEnv("SLOT_DURATION", "1h")),
		WorkdayStartHour:       mustInt(getEnv("WORKDAY_START_HOUR", "8")),
		WorkdayEndHour:         mustInt(getEnv("WORKDAY_END_HOUR", "17")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("STORE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.WebhookVerifyToken == "" {
		return nil, fmt.Errorf("WEBHOOK_VERIFY_TOKEN is required")
	}
	if cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("TIMEZONE %q is invalid: %w", cfg.Timezone, err)
	}
	if cfg.WorkdayStartHour < 0 || cfg.WorkdayEndHour > 24 || cfg.WorkdayStartHour >= cfg.WorkdayEndHour {
		return nil, fmt.Errorf("workday hours %d-%d are invalid", cfg.WorkdayStartHour, cfg.WorkdayEndHour)
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
