package core

import "strings"

// SourceInline marks a job context resolved from pasted text rather
// than a fetched URL.
const SourceInline = "inline"

// JobContext holds the subject-entity facts extracted from a job posting.
// It grounds every prompt of a run and is persisted on the session.
type JobContext struct {
	Company      string   `json:"company"`
	Role         string   `json:"role"`
	Location     string   `json:"location,omitempty"`
	Source       string   `json:"source"`
	Posting      string   `json:"posting"`
	Summary      string   `json:"summary,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

// DisplayName renders a short human-readable label ("Role at Company").
func (j JobContext) DisplayName() string {
	switch {
	case j.Role != "" && j.Company != "":
		return j.Role + " at " + j.Company
	case j.Company != "":
		return j.Company
	case j.Role != "":
		return j.Role
	default:
		return "unknown position"
	}
}

// Clone returns a deep copy safe for independent mutation.
func (j JobContext) Clone() JobContext {
	c := j
	c.Requirements = make([]string, len(j.Requirements))
	copy(c.Requirements, j.Requirements)
	return c
}

// Facts renders the extracted fields as prompt-ready lines, skipping
// anything empty.
func (j JobContext) Facts() string {
	var b strings.Builder
	write := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\n")
	}
	write("Company", j.Company)
	write("Role", j.Role)
	write("Location", j.Location)
	write("Summary", j.Summary)
	if len(j.Requirements) > 0 {
		b.WriteString("Key requirements:\n")
		for _, r := range j.Requirements {
			b.WriteString("- ")
			b.WriteString(r)
			b.WriteString("\n")
		}
	}
	return b.String()
}
