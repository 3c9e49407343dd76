package nats

import (
	"fmt"
	"strings"
)

// Subject naming convention:
// quantree.{area}.{action}[.{id}]
// Examples:
// - quantree.jobs.submit
// - quantree.jobs.progress.6f1c...
// - quantree.jobs.result.6f1c...
// - quantree.jobs.cancel.6f1c...

const subjectRoot = "quantree"

// Actions
const (
	ActionJobSubmit   = "jobs.submit"
	ActionJobProgress = "jobs.progress"
	ActionJobResult   = "jobs.result"
	ActionJobCancel   = "jobs.cancel"
)

// SubjectBuilder helps build NATS subjects
type SubjectBuilder struct {
	action string
	id     string
}

// NewSubjectBuilder creates a new subject builder
func NewSubjectBuilder() *SubjectBuilder {
	return &SubjectBuilder{}
}

// WithAction sets the action
func (sb *SubjectBuilder) WithAction(action string) *SubjectBuilder {
	sb.action = action
	return sb
}

// WithID sets the trailing id token; "*" matches any id
func (sb *SubjectBuilder) WithID(id string) *SubjectBuilder {
	sb.id = id
	return sb
}

// Build creates the subject string
func (sb *SubjectBuilder) Build() string {
	parts := []string{subjectRoot, sb.action}
	if sb.id != "" {
		parts = append(parts, sb.id)
	}
	return strings.Join(parts, ".")
}

// ParseSubject splits a subject into its action and id
func ParseSubject(subject string) (action, id string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 || parts[0] != subjectRoot {
		return "", "", fmt.Errorf("invalid subject format: %s", subject)
	}
	action = parts[1] + "." + parts[2]
	if len(parts) > 3 {
		id = strings.Join(parts[3:], ".")
	}
	return action, id, nil
}

// Common subject patterns

// SubmitSubject is where job requests arrive
func SubmitSubject() string {
	return NewSubjectBuilder().WithAction(ActionJobSubmit).Build()
}

// ProgressSubject carries one job's progress events
func ProgressSubject(jobID string) string {
	return NewSubjectBuilder().WithAction(ActionJobProgress).WithID(jobID).Build()
}

// ResultSubject carries one job's final report
func ResultSubject(jobID string) string {
	return NewSubjectBuilder().WithAction(ActionJobResult).WithID(jobID).Build()
}

// CancelSubject requests cancellation of one job; "*" subscribes to all
func CancelSubject(jobID string) string {
	return NewSubjectBuilder().WithAction(ActionJobCancel).WithID(jobID).Build()
}

// SubjectMatches reports whether subject matches pattern under NATS
// wildcard rules: "*" matches one token, a trailing ">" the rest
func SubjectMatches(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return i == len(p)-1 && len(s) > i
		}
		if i >= len(s) || (tok != "*" && tok != s[i]) {
			return false
		}
	}
	return len(p) == len(s)
}
