package database

// Statements are kept portable between SQLite and Postgres
var schema = []string{
	`CREATE TABLE IF NOT EXISTS processed_messages (
    message_id TEXT PRIMARY KEY,
    processed_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS email_logs (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL,
    from_addr TEXT NOT NULL DEFAULT '',
    to_addr TEXT NOT NULL DEFAULT '',
    sent_date TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    reply_subject TEXT,
    reply_body TEXT,
    action_status TEXT NOT NULL DEFAULT '',
    category TEXT,
    summary TEXT NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    processed_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_email_logs_processed_at ON email_logs(processed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_email_logs_category ON email_logs(category)`,
	`CREATE INDEX IF NOT EXISTS idx_email_logs_message ON email_logs(message_id)`,
}
