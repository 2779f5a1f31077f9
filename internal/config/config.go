package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Mailbox providers
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// Config application configuration
type Config struct {
	// Database: a file path for SQLite or a postgres:// URL
	DatabaseURL string `env:"DATABASE_URL" envDefault:"./data/triage.db"`

	// Mailbox
	MailboxProvider string `env:"MAILBOX_PROVIDER" envDefault:"gmail"`
	GmailQuery      string `env:"GMAIL_QUERY" envDefault:"is:unread is:important"`
	BatchSize       int64  `env:"BATCH_SIZE" envDefault:"20"`
	FromAddress     string `env:"FROM_ADDRESS"` // Defaults to the authenticated account

	// Google OAuth (token acquisition happens outside this program)
	GoogleCredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE" envDefault:"credentials.json"`
	GoogleTokenFile       string `env:"GOOGLE_TOKEN_FILE" envDefault:"token.json"`
	UseKeyring            bool   `env:"USE_KEYRING" envDefault:"true"`

	// Calendar
	CalendarEnabled  bool   `env:"CALENDAR_ENABLED" envDefault:"true"`
	CalendarTimezone string `env:"CALENDAR_TIMEZONE" envDefault:"Asia/Kolkata"`

	// IMAP/SMTP (MAILBOX_PROVIDER=imap)
	IMAPServer      string        `env:"IMAP_SERVER"` // host:port, resolved from the address if empty
	IMAPUsername    string        `env:"IMAP_USERNAME"`
	IMAPPassword    string        `env:"IMAP_PASSWORD"`
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	ArchiveMailbox  string        `env:"ARCHIVE_MAILBOX" envDefault:"Archive"`
	SMTPServer      string        `env:"SMTP_SERVER"` // host:port
	SMTPUsername    string        `env:"SMTP_USERNAME"`
	SMTPPassword    string        `env:"SMTP_PASSWORD"`

	// Pipeline timing
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"20s"`
	ErrorBackoff time.Duration `env:"ERROR_BACKOFF" envDefault:"10s"`
	PacingDelay  time.Duration `env:"PACING_DELAY" envDefault:"2s"`
	CallTimeout  time.Duration `env:"CALL_TIMEOUT" envDefault:"30s"`

	// Classifier
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiModel   string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	SignatureName string `env:"SIGNATURE_NAME"`

	// Dashboard
	DashboardAddr  string        `env:"DASHBOARD_ADDR" envDefault:"127.0.0.1:5000"`
	NotifyInterval time.Duration `env:"NOTIFY_INTERVAL" envDefault:"2s"`
	NotifyBackoff  time.Duration `env:"NOTIFY_BACKOFF" envDefault:"5s"`

	// Telegram alerts (optional)
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// TelegramEnabled returns true if Telegram alerts are configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// ValidatePipeline checks the settings the triage pipeline needs
func (c *Config) ValidatePipeline() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}

	switch c.MailboxProvider {
	case ProviderGmail:
	case ProviderIMAP:
		if c.IMAPUsername == "" || c.IMAPPassword == "" {
			return fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD are required for the imap provider")
		}
		if c.SMTPServer == "" {
			return fmt.Errorf("SMTP_SERVER is required for the imap provider")
		}
		if c.CalendarEnabled {
			// Calendar events still go through Google
			if c.GoogleCredentialsFile == "" {
				return fmt.Errorf("GOOGLE_CREDENTIALS_FILE is required when CALENDAR_ENABLED=true")
			}
		}
	default:
		return fmt.Errorf("unknown MAILBOX_PROVIDER %q", c.MailboxProvider)
	}

	return nil
}
