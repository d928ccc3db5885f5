package ticket

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned when "show" output is missing its front-matter
// delimiters. Callers must not guess partial structure out of such text.
var ErrMalformed = errors.New("malformed ticket")

const notesHeading = "## Notes"

// Parse decodes the ticket CLI's "show" output: a ----delimited metadata
// block, a "# subject" heading, a free-text description, and an optional
// "## Notes" section of **timestamp** markers each followed by the note
// body up to the next marker.
func Parse(id, raw string) (*Ticket, error) {
	lines := strings.Split(raw, "\n")

	// Locate the front-matter block.
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "---" {
			start = i
			break
		}
		if strings.TrimSpace(line) != "" {
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: missing front-matter open delimiter", ErrMalformed)
	}
	end := -1
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, fmt.Errorf("%w: missing front-matter close delimiter", ErrMalformed)
	}

	t := &Ticket{ID: id, Tags: []string{}, Notes: []Note{}}
	for _, line := range lines[start+1 : end] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "id":
			if value != "" {
				t.ID = value
			}
		case "status":
			t.Status = value
		case "assignee":
			t.Assignee = value
		case "tags":
			t.Tags = parseArray(value)
		}
	}

	body := lines[end+1:]

	// Subject heading.
	i := 0
	for ; i < len(body); i++ {
		line := strings.TrimSpace(body[i])
		if line == "" {
			continue
		}
		if after, ok := strings.CutPrefix(line, "# "); ok {
			t.Subject = strings.TrimSpace(after)
			i++
		}
		break
	}

	// Description runs until the notes heading.
	var desc []string
	for ; i < len(body); i++ {
		if strings.TrimSpace(body[i]) == notesHeading {
			i++
			break
		}
		desc = append(desc, body[i])
	}
	t.Description = strings.TrimSpace(strings.Join(desc, "\n"))

	// Notes: **timestamp** markers, each owning everything (including blank
	// lines) up to the next marker or end of input.
	var current *Note
	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(current.Text)
		t.Notes = append(t.Notes, *current)
		current = nil
	}
	for ; i < len(body); i++ {
		line := body[i]
		if ts, ok := noteMarker(line); ok {
			flush()
			current = &Note{Timestamp: ts}
			continue
		}
		if current != nil {
			if current.Text != "" {
				current.Text += "\n"
			}
			current.Text += line
		}
	}
	flush()

	return t, nil
}

// parseArray decodes "[a, b]" metadata values. "[]" yields an empty list.
func parseArray(value string) []string {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "[") || !strings.HasSuffix(value, "]") {
		if value == "" {
			return []string{}
		}
		return []string{value}
	}
	inner := strings.TrimSpace(value[1 : len(value)-1])
	if inner == "" {
		return []string{}
	}
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func noteMarker(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "**") || !strings.HasSuffix(trimmed, "**") || len(trimmed) <= 4 {
		return "", false
	}
	return trimmed[2 : len(trimmed)-2], true
}
