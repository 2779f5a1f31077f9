package models

// CallbackAction type of callback action
type CallbackAction string

const (
	CallbackDelete CallbackAction = "del"
)

// CallbackData structure for inline button callback
type CallbackData struct {
	Action   CallbackAction `json:"a"`
	RecordID string         `json:"r"`
}
