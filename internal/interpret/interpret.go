// Package interpret maps raw widgets onto typed field updates. It is pure:
// no I/O, no clock, no state.
package interpret

import (
	"strings"

	"github.com/giantsdigitaldev/cristos/internal/tagparse"
	"github.com/giantsdigitaldev/cristos/internal/validate"
)

// Field names shared by widget types, required/optional sets and prompts.
const (
	FieldProjectName        = "project_name"
	FieldProjectDescription = "project_description"
	FieldProjectCategory    = "project_category"
	FieldProjectPriority    = "project_priority"
	FieldProjectStatus      = "project_status"
	FieldEDCDate            = "edc_date"
	FieldFUDDate            = "fud_date"
	FieldTeamMembers        = "team_members"
	FieldTasks              = "tasks"
)

const (
	typeTask       = "task"
	typeSubtask    = "subtask"
	typeTeamMember = "team_member"
)

// Task is a task gathered from a widget.
type Task struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority"`
	DueDate     string   `json:"due_date,omitempty"`
	Assignees   []string `json:"assignees"`
	Subtask     bool     `json:"subtask,omitempty"`
	Parent      string   `json:"parent,omitempty"`
}

// TeamMember is a team member gathered from a widget.
type TeamMember struct {
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// FieldUpdate is the closed set of updates a widget can produce. Switch on
// the concrete type: ProjectField, TaskAppend, TeamMemberAppend, Unknown.
type FieldUpdate interface {
	fieldUpdate()
}

// ProjectField overwrites one project info field.
type ProjectField struct {
	Field string
	Value string
}

// TaskAppend appends a task.
type TaskAppend struct {
	Task Task
}

// TeamMemberAppend appends a team member.
type TeamMemberAppend struct {
	Member TeamMember
}

// Unknown carries a widget the vocabulary does not cover. It never touches
// the field sets.
type Unknown struct {
	Type       string
	Attributes map[string]string
	Content    string
}

func (ProjectField) fieldUpdate()     {}
func (TaskAppend) fieldUpdate()       {}
func (TeamMemberAppend) fieldUpdate() {}
func (Unknown) fieldUpdate()          {}

// Interpret converts a widget. The boolean is false when the widget carries
// nothing usable (empty title, bad date, unrecognized status) and should be
// dropped without error.
func Interpret(w tagparse.Widget) (FieldUpdate, bool) {
	switch w.Type {
	case FieldProjectName, FieldProjectDescription, FieldProjectCategory:
		v := valueOf(w)
		if v == "" {
			return nil, false
		}
		return ProjectField{Field: w.Type, Value: v}, true

	case FieldProjectPriority:
		p, ok := validate.NormalizePriority(valueOf(w))
		if !ok {
			return nil, false
		}
		return ProjectField{Field: w.Type, Value: p}, true

	case FieldProjectStatus:
		s, ok := validate.NormalizeStatus(valueOf(w))
		if !ok {
			return nil, false
		}
		return ProjectField{Field: w.Type, Value: s}, true

	case FieldEDCDate, FieldFUDDate:
		v := valueOf(w)
		if !validate.IsValidDate(v) {
			return nil, false
		}
		return ProjectField{Field: w.Type, Value: v}, true

	case typeTask, typeSubtask:
		t, ok := interpretTask(w)
		if !ok {
			return nil, false
		}
		return TaskAppend{Task: t}, true

	case typeTeamMember:
		m, ok := interpretMember(w)
		if !ok {
			return nil, false
		}
		return TeamMemberAppend{Member: m}, true
	}

	attrs := make(map[string]string, len(w.Attributes))
	for k, a := range w.Attributes {
		attrs[k] = a.Value
	}
	return Unknown{Type: w.Type, Attributes: attrs, Content: w.InnerText}, true
}

// All interprets widgets in order, dropping the unusable ones.
func All(widgets []tagparse.Widget) []FieldUpdate {
	out := make([]FieldUpdate, 0, len(widgets))
	for _, w := range widgets {
		if u, ok := Interpret(w); ok {
			out = append(out, u)
		}
	}
	return out
}

// valueOf prefers inner text and falls back to a value attribute, since the
// model emits both `<project_name>X</project_name>` and `<project_name value="X"/>`.
func valueOf(w tagparse.Widget) string {
	if v := strings.TrimSpace(w.InnerText); v != "" {
		return v
	}
	return w.Attr("value", "name", "date")
}

func interpretTask(w tagparse.Widget) (Task, bool) {
	inner := strings.TrimSpace(w.InnerText)
	title := w.Attr("title", "name")
	desc := w.Attr("description", "desc")
	if title == "" {
		title = inner
	} else if desc == "" {
		desc = inner
	}
	if title == "" {
		return Task{}, false
	}

	due := w.Attr("due_date", "due", "date")
	if !validate.IsValidDate(due) {
		due = ""
	}

	return Task{
		Title:       title,
		Description: desc,
		Priority:    validate.PriorityOrDefault(w.Attr("priority")),
		DueDate:     due,
		Assignees:   splitList(w.Attr("assignees", "assignee")),
		Subtask:     w.Type == typeSubtask,
		Parent:      w.Attr("parent", "parent_task"),
	}, true
}

func interpretMember(w tagparse.Widget) (TeamMember, bool) {
	name := w.Attr("name")
	if name == "" {
		name = strings.TrimSpace(w.InnerText)
	}
	if name == "" {
		return TeamMember{}, false
	}
	return TeamMember{
		Name:      name,
		Email:     w.Attr("email"),
		Role:      validate.RoleOrDefault(w.Attr("role")),
		AvatarURL: w.Attr("avatar_url", "avatar"),
	}, true
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
