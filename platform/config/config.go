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

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// WebhookConfig provides settings for the lead intake endpoint.
type WebhookConfig interface {
	GetWebhookAPIKey() string
}

// ReasoningConfig provides settings for the reasoning-engine collaborator.
type ReasoningConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	GetReasoningTimeout() time.Duration
	GetReasoningRPS() float64
}

// EnrichmentConfig provides settings for the firmographic data collaborator.
type EnrichmentConfig interface {
	GetEnrichmentBaseURL() string
	GetEnrichmentAPIKey() string
	GetEnrichmentTimeout() time.Duration
	GetEnrichmentRPS() float64
	IsEnrichmentEnabled() bool
}

// CalendarConfig provides settings for the calendar collaborator.
type CalendarConfig interface {
	GetCalendarBaseURL() string
	GetCalendarAPIKey() string
	GetCalendarID() string
	GetCalendarTimezone() string
	GetCalendarTimeout() time.Duration
}

// CRMConfig provides settings for the deal-handoff collaborator.
type CRMConfig interface {
	GetCRMBaseURL() string
	GetCRMAPIKey() string
	GetCRMTimeout() time.Duration
	IsCRMEnabled() bool
}

// SchedulingConfig provides meeting booking policy settings.
type SchedulingConfig interface {
	GetSchedulingLookaheadDays() int
	GetSchedulingDayStartHour() int
	GetSchedulingDayEndHour() int
	GetSchedulingMeetingDuration() time.Duration
	GetSchedulingHostEmail() string
}

// PipelineConfig provides orchestrator tuning settings.
type PipelineConfig interface {
	GetStageMaxRetries() int
	GetRetryBaseDelay() time.Duration
	GetPipelineMaxConcurrent() int
	GetCollaboratorMaxInFlight() int64
	GetScoreQualifyThreshold() int
}

// RulesConfig provides the qualification rules profile location.
type RulesConfig interface {
	GetRulesProfilePath() string
}

// NormalizeConfig provides settings for deterministic normalization.
type NormalizeConfig interface {
	GetPhoneRegion() string
}

// SchedulerConfig provides settings for background job processing.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// EmailConfig provides settings for ops notification email.
type EmailConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetOpsNotifyEmail() string
	IsEmailEnabled() bool
}

// NotificationConfig provides settings for the notification module.
type NotificationConfig interface {
	EmailConfig
	GetFollowupReminderDelay() time.Duration
}

// ArchiveConfig provides settings for terminal-lead archival.
type ArchiveConfig interface {
	GetArchiveAfter() time.Duration
	GetArchiveSweepInterval() time.Duration
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketLeadArchive() string
	IsMinIOEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	DatabaseURL             string
	CORSAllowAll            bool
	CORSOrigins             []string
	CORSAllowCreds          bool
	WebhookAPIKey           string
	GeminiAPIKey            string
	GeminiModel             string
	ReasoningTimeout        time.Duration
	ReasoningRPS            float64
	EnrichmentBaseURL       string
	EnrichmentAPIKey        string
	EnrichmentTimeout       time.Duration
	EnrichmentRPS           float64
	CalendarBaseURL         string
	CalendarAPIKey          string
	CalendarID              string
	CalendarTimezone        string
	CalendarTimeout         time.Duration
	CRMBaseURL              string
	CRMAPIKey               string
	CRMTimeout              time.Duration
	SchedulingLookaheadDays int
	SchedulingDayStartHour  int
	SchedulingDayEndHour    int
	SchedulingDuration      time.Duration
	SchedulingHostEmail     string
	StageMaxRetries         int
	RetryBaseDelay          time.Duration
	PipelineMaxConcurrent   int
	CollaboratorMaxInFlight int64
	ScoreQualifyThreshold   int
	RulesProfilePath        string
	PhoneRegion             string
	RedisURL                string
	RedisTLSInsecure        bool
	AsynqQueueName          string
	AsynqConcurrency        int
	SMTPHost                string
	SMTPPort                int
	SMTPUsername            string
	SMTPPassword            string
	EmailFromName           string
	EmailFromAddress        string
	OpsNotifyEmail          string
	FollowupReminderDelay   time.Duration
	ArchiveAfter            time.Duration
	ArchiveSweepInterval    time.Duration
	MinIOEndpoint           string
	MinIOAccessKey          string
	MinIOSecretKey          string
	MinIOUseSSL             bool
	MinioBucketLeadArchive  string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// WebhookConfig implementation
func (c *Config) GetWebhookAPIKey() string { return c.WebhookAPIKey }

// ReasoningConfig implementation
func (c *Config) GetGeminiAPIKey() string            { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string             { return c.GeminiModel }
func (c *Config) GetReasoningTimeout() time.Duration { return c.ReasoningTimeout }
func (c *Config) GetReasoningRPS() float64           { return c.ReasoningRPS }

// EnrichmentConfig implementation
func (c *Config) GetEnrichmentBaseURL() string        { return c.EnrichmentBaseURL }
func (c *Config) GetEnrichmentAPIKey() string         { return c.EnrichmentAPIKey }
func (c *Config) GetEnrichmentTimeout() time.Duration { return c.EnrichmentTimeout }
func (c *Config) GetEnrichmentRPS() float64           { return c.EnrichmentRPS }
func (c *Config) IsEnrichmentEnabled() bool           { return c.EnrichmentAPIKey != "" }

// CalendarConfig implementation
func (c *Config) GetCalendarBaseURL() string        { return c.CalendarBaseURL }
func (c *Config) GetCalendarAPIKey() string         { return c.CalendarAPIKey }
func (c *Config) GetCalendarID() string             { return c.CalendarID }
func (c *Config) GetCalendarTimezone() string       { return c.CalendarTimezone }
func (c *Config) GetCalendarTimeout() time.Duration { return c.CalendarTimeout }

// CRMConfig implementation
func (c *Config) GetCRMBaseURL() string        { return c.CRMBaseURL }
func (c *Config) GetCRMAPIKey() string         { return c.CRMAPIKey }
func (c *Config) GetCRMTimeout() time.Duration { return c.CRMTimeout }
func (c *Config) IsCRMEnabled() bool           { return c.CRMBaseURL != "" }

// SchedulingConfig implementation
func (c *Config) GetSchedulingLookaheadDays() int            { return c.SchedulingLookaheadDays }
func (c *Config) GetSchedulingDayStartHour() int             { return c.SchedulingDayStartHour }
func (c *Config) GetSchedulingDayEndHour() int               { return c.SchedulingDayEndHour }
func (c *Config) GetSchedulingMeetingDuration() time.Duration { return c.SchedulingDuration }
func (c *Config) GetSchedulingHostEmail() string             { return c.SchedulingHostEmail }

// PipelineConfig implementation
func (c *Config) GetStageMaxRetries() int              { return c.StageMaxRetries }
func (c *Config) GetRetryBaseDelay() time.Duration     { return c.RetryBaseDelay }
func (c *Config) GetPipelineMaxConcurrent() int        { return c.PipelineMaxConcurrent }
func (c *Config) GetCollaboratorMaxInFlight() int64    { return c.CollaboratorMaxInFlight }
func (c *Config) GetScoreQualifyThreshold() int        { return c.ScoreQualifyThreshold }

// RulesConfig implementation
func (c *Config) GetRulesProfilePath() string { return c.RulesProfilePath }

// NormalizeConfig implementation
func (c *Config) GetPhoneRegion() string { return c.PhoneRegion }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// EmailConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetOpsNotifyEmail() string   { return c.OpsNotifyEmail }
func (c *Config) IsEmailEnabled() bool        { return c.SMTPHost != "" && c.OpsNotifyEmail != "" }

// NotificationConfig implementation
func (c *Config) GetFollowupReminderDelay() time.Duration { return c.FollowupReminderDelay }

// ArchiveConfig implementation
func (c *Config) GetArchiveAfter() time.Duration         { return c.ArchiveAfter }
func (c *Config) GetArchiveSweepInterval() time.Duration { return c.ArchiveSweepInterval }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string         { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string        { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string        { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool             { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketLeadArchive() string { return c.MinioBucketLeadArchive }
func (c *Config) IsMinIOEnabled() bool             { return c.MinIOEndpoint != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "development"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		CORSAllowAll:            corsAllowAll,
		CORSOrigins:             corsOrigins,
		CORSAllowCreds:          strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		WebhookAPIKey:           getEnv("WEBHOOK_API_KEY", ""),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiModel:             getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		ReasoningTimeout:        mustDuration(getEnv("REASONING_TIMEOUT", "30s")),
		ReasoningRPS:            mustFloat(getEnv("REASONING_RPS", "2")),
		EnrichmentBaseURL:       getEnv("ENRICHMENT_BASE_URL", "https://person.clearbit.com"),
		EnrichmentAPIKey:        getEnv("ENRICHMENT_API_KEY", ""),
		EnrichmentTimeout:       mustDuration(getEnv("ENRICHMENT_TIMEOUT", "10s")),
		EnrichmentRPS:           mustFloat(getEnv("ENRICHMENT_RPS", "5")),
		CalendarBaseURL:         getEnv("CALENDAR_BASE_URL", ""),
		CalendarAPIKey:          getEnv("CALENDAR_API_KEY", ""),
		CalendarID:              getEnv("CALENDAR_ID", "primary"),
		CalendarTimezone:        getEnv("CALENDAR_TIMEZONE", "UTC"),
		CalendarTimeout:         mustDuration(getEnv("CALENDAR_TIMEOUT", "10s")),
		CRMBaseURL:              getEnv("CRM_BASE_URL", ""),
		CRMAPIKey:               getEnv("CRM_API_KEY", ""),
		CRMTimeout:              mustDuration(getEnv("CRM_TIMEOUT", "15s")),
		SchedulingLookaheadDays: mustInt(getEnv("SCHEDULING_LOOKAHEAD_DAYS", "5")),
		SchedulingDayStartHour:  mustInt(getEnv("SCHEDULING_DAY_START", "9")),
		SchedulingDayEndHour:    mustInt(getEnv("SCHEDULING_DAY_END", "17")),
		SchedulingDuration:      mustDuration(getEnv("SCHEDULING_MEETING_DURATION", "30m")),
		SchedulingHostEmail:     getEnv("SCHEDULING_HOST_EMAIL", ""),
		StageMaxRetries:         mustInt(getEnv("PIPELINE_STAGE_MAX_RETRIES", "3")),
		RetryBaseDelay:          mustDuration(getEnv("PIPELINE_RETRY_BASE_DELAY", "500ms")),
		PipelineMaxConcurrent:   mustInt(getEnv("PIPELINE_MAX_CONCURRENT", "32")),
		CollaboratorMaxInFlight: mustInt64(getEnv("COLLABORATOR_MAX_IN_FLIGHT", "16")),
		ScoreQualifyThreshold:   mustInt(getEnv("SCORE_QUALIFY_THRESHOLD", "70")),
		RulesProfilePath:        getEnv("RULES_PROFILE_PATH", "rules.yaml"),
		PhoneRegion:             getEnv("NORMALIZE_PHONE_REGION", "US"),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:          getEnv("ASYNQ_QUEUE_NAME", "default"),
		AsynqConcurrency:        mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		SMTPHost:                getEnv("SMTP_HOST", ""),
		SMTPPort:                mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:            getEnv("SMTP_USERNAME", ""),
		SMTPPassword:            getEnv("SMTP_PASSWORD", ""),
		EmailFromName:           getEnv("EMAIL_FROM_NAME", "Leadflow"),
		EmailFromAddress:        getEnv("EMAIL_FROM_ADDRESS", ""),
		OpsNotifyEmail:          getEnv("OPS_NOTIFY_EMAIL", ""),
		FollowupReminderDelay:   mustDuration(getEnv("FOLLOWUP_REMINDER_DELAY", "4h")),
		ArchiveAfter:            mustDuration(getEnv("ARCHIVE_AFTER", "72h")),
		ArchiveSweepInterval:    mustDuration(getEnv("ARCHIVE_SWEEP_INTERVAL", "1h")),
		MinIOEndpoint:           getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:          getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:          getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:             strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketLeadArchive:  getEnv("MINIO_BUCKET_LEAD_ARCHIVE", "lead-archive"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.StageMaxRetries < 1 {
		return nil, fmt.Errorf("PIPELINE_STAGE_MAX_RETRIES must be at least 1")
	}
	if cfg.SchedulingDayStartHour >= cfg.SchedulingDayEndHour {
		return nil, fmt.Errorf("SCHEDULING_DAY_START must be before SCHEDULING_DAY_END")
	}
	if cfg.ScoreQualifyThreshold < 0 || cfg.ScoreQualifyThreshold > 100 {
		return nil, fmt.Errorf("SCORE_QUALIFY_THRESHOLD must be between 0 and 100")
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

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
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
