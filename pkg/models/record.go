package models

import "time"

// ReplyLog is the reply stored with a processed record
type ReplyLog struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ProcessedRecord is the audit log entry for a processed message.
// Created once, never updated, deleted only by an operator.
type ProcessedRecord struct {
	ID           string    `json:"id"`
	MessageID    string    `json:"message_id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Date         string    `json:"date"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	Reply        *ReplyLog `json:"ai_reply"`
	ActionStatus string    `json:"action_status"`
	Category     Category  `json:"ai_category"`
	Summary      string    `json:"ai_summary"`
	Confidence   float64   `json:"ai_confidence"`
	ProcessedAt  time.Time `json:"processed_at"`
}
