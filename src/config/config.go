package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

const TIME_PARSE_FORMAT = "2006-01-02 15:04:05 -07:00"

var API_ENV = os.Getenv("API_ENV")

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

// Config carries every externally supplied setting the service needs. It is
// built once at boot and passed to component constructors; nothing reads the
// environment after that.
type Config struct {
	// Intake
	IntakeBucket           string
	IntakePrefix           string
	IntakeQuarantinePrefix string
	IntakeTempDir          string
	IntakeInterval         time.Duration
	IntakeTimeout          time.Duration

	// Archive snapshots
	ArchiveTempDir    string
	ArchiveStorageDir string

	// Notifications
	TemplateDir        string
	MailFrom           string
	MailFromName       string
	MailReplyTo        string
	SMTPHost           string
	SMTPPort           int
	SMTPUsername       string
	SMTPPassword       string
	SMTPPasswordSecret string
	NotifyTimeout      time.Duration

	// Lifecycle policy
	ExpiryAfter          time.Duration
	ConfirmedExpiryAfter time.Duration // 0 disables expiry of stale confirmed tickets
	RetentionAfter       time.Duration
	SweepInterval        time.Duration
	SweepBatchSize       int

	// Decision events
	DecisionQueue string
	DecisionTopic string
}

func Load() *Config {
	cfg := &Config{
		IntakeBucket:           os.Getenv("INTAKE_BUCKET"),
		IntakePrefix:           os.Getenv("INTAKE_PREFIX"),
		IntakeQuarantinePrefix: getEnvDefault("INTAKE_QUARANTINE_PREFIX", "quarantine/"),
		IntakeTempDir:          getEnvDefault("INTAKE_TEMP_DIR", "tmp/intake"),
		IntakeInterval:         getEnvDuration("INTAKE_INTERVAL", 5*time.Minute),
		IntakeTimeout:          getEnvDuration("INTAKE_TIMEOUT", 30*time.Second),

		ArchiveTempDir:    getEnvDefault("ARCHIVE_TEMP_DIR", "tmp/archive"),
		ArchiveStorageDir: getEnvDefault("ARCHIVE_STORAGE_DIR", "storage"),

		TemplateDir:        getEnvDefault("TEMPLATE_DIR", "templates"),
		MailFrom:           os.Getenv("MAIL_FROM"),
		MailFromName:       os.Getenv("MAIL_FROM_NAME"),
		MailReplyTo:        os.Getenv("MAIL_REPLY_TO"),
		SMTPHost:           os.Getenv("SMTP_HOST"),
		SMTPPort:           getEnvInt("SMTP_PORT", 587),
		SMTPUsername:       os.Getenv("SMTP_USERNAME"),
		SMTPPassword:       os.Getenv("SMTP_PASSWORD"),
		SMTPPasswordSecret: os.Getenv("SMTP_PASSWORD_SECRET"),
		NotifyTimeout:      getEnvDuration("NOTIFY_TIMEOUT", 30*time.Second),

		ExpiryAfter:          getEnvDuration("TICKET_EXPIRY_AFTER", 72*time.Hour),
		ConfirmedExpiryAfter: getEnvDuration("TICKET_CONFIRMED_EXPIRY_AFTER", 0),
		RetentionAfter:       getEnvDuration("TICKET_RETENTION_AFTER", 24*time.Hour),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", time.Hour),
		SweepBatchSize:       getEnvInt("SWEEP_BATCH_SIZE", 100),

		DecisionQueue: os.Getenv("DECISION_QUEUE"),
		DecisionTopic: os.Getenv("DECISION_TOPIC"),
	}
	return cfg
}

func getEnvDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid value for %s: %s\n", key, err.Error())
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Invalid value for %s: %s\n", key, err.Error())
		return fallback
	}
	return d
}
