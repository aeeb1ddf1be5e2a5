// Package validate holds the field checks shared by the widget interpreter,
// the assembly state and the project committer.
package validate

import (
	"regexp"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// placeholderTokens are fragments of the date format the prompt shows the
// model. A value containing any of them was echoed, not decided.
var placeholderTokens = []string{"YYYY", "MM", "DD"}

// IsValidDate reports whether s is a real calendar date in strict YYYY-MM-DD
// form. 2024-02-30 and YYYY-MM-DD are both rejected.
func IsValidDate(s string) bool {
	if s == "" {
		return false
	}
	for _, tok := range placeholderTokens {
		if strings.Contains(s, tok) {
			return false
		}
	}
	if !dateRe.MatchString(s) {
		return false
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return false
	}
	return t.Format(dateLayout) == s
}

// ParseDate returns the calendar date for a valid string.
func ParseDate(s string) (time.Time, bool) {
	if !IsValidDate(s) {
		return time.Time{}, false
	}
	t, _ := time.Parse(dateLayout, s)
	return t, true
}

// Priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var priorities = map[string]string{
	"low":      PriorityLow,
	"medium":   PriorityMedium,
	"med":      PriorityMedium,
	"normal":   PriorityMedium,
	"high":     PriorityHigh,
	"urgent":   PriorityUrgent,
	"critical": PriorityUrgent,
}

// NormalizePriority maps a loosely spelled priority onto the canonical set.
func NormalizePriority(s string) (string, bool) {
	p, ok := priorities[strings.ToLower(strings.TrimSpace(s))]
	return p, ok
}

// PriorityOrDefault returns the normalized priority or medium.
func PriorityOrDefault(s string) string {
	if p, ok := NormalizePriority(s); ok {
		return p
	}
	return PriorityMedium
}

// Team roles, highest trust first.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// LowestTrustRole is assigned when the model gives no usable role.
const LowestTrustRole = RoleViewer

var roles = map[string]string{
	"owner":       RoleOwner,
	"admin":       RoleAdmin,
	"editor":      RoleEditor,
	"member":      RoleEditor,
	"contributor": RoleEditor,
	"viewer":      RoleViewer,
	"guest":       RoleViewer,
}

// RoleOrDefault normalizes a role, falling back to the lowest trust role.
func RoleOrDefault(s string) string {
	if r, ok := roles[strings.ToLower(strings.TrimSpace(s))]; ok {
		return r
	}
	return LowestTrustRole
}

// Project statuses.
const (
	StatusActive    = "active"
	StatusOnHold    = "on_hold"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

// NormalizeStatus maps a project status onto the canonical set.
func NormalizeStatus(s string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	switch v {
	case StatusActive, "in_progress", "open":
		return StatusActive, true
	case StatusOnHold, "paused":
		return StatusOnHold, true
	case StatusCompleted, "done":
		return StatusCompleted, true
	case StatusArchived:
		return StatusArchived, true
	}
	return "", false
}
