package models

import "strings"

// ActionOutcome collects what happened to one message
type ActionOutcome struct {
	Trail           []string
	ReplySent       bool
	CalendarCreated bool
}

// Add appends a status fragment to the trail
func (o *ActionOutcome) Add(status string) {
	o.Trail = append(o.Trail, status)
}

// Status returns the trail as a single line
func (o *ActionOutcome) Status() string {
	return strings.Join(o.Trail, " ")
}
