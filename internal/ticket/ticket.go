// Package ticket wraps the external ticket CLI and decodes its "show" output.
package ticket

import "strings"

// Note is one append-only entry in a ticket's note log.
type Note struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

// Ticket is the structured form of a ticket CLI "show" record.
type Ticket struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Assignee    string   `json:"assignee,omitempty"`
	Tags        []string `json:"tags"`
	Subject     string   `json:"subject"`
	Description string   `json:"description,omitempty"`
	Notes       []Note   `json:"notes"`
}

// Closed reports whether a free-form ticket status is terminal-closed.
// Both "closed" and "done" are accepted.
func Closed(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "closed", "done":
		return true
	default:
		return false
	}
}

// LastNote returns the text of the newest note, or "" when there are none.
func (t *Ticket) LastNote() string {
	if len(t.Notes) == 0 {
		return ""
	}
	return t.Notes[len(t.Notes)-1].Text
}
