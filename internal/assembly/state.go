// Package assembly turns conversational turns into a project. State is the
// per-conversation aggregate, Engine runs one turn, Committer materializes
// the project exactly once.
package assembly

import (
	"strings"
	"time"

	"github.com/giantsdigitaldev/cristos/internal/interpret"
	"github.com/giantsdigitaldev/cristos/internal/prompt"
)

// Step is the assembly state machine position.
type Step string

const (
	StepInitializing                Step = "initializing"
	StepGatheringProjectName        Step = "gathering_project_name"
	StepGatheringProjectDescription Step = "gathering_project_description"
	StepSuggestingTeamMembers       Step = "suggesting_team_members"
	StepSuggestingTasks             Step = "suggesting_tasks"
	StepConfirmingProject           Step = "confirming_project"
	StepCompleted                   Step = "completed"
	StepGatheringInfo               Step = "gathering_info"
)

// Status is the lifecycle of a state.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Task and TeamMember are the interpreter's records, stored as gathered.
type (
	Task       = interpret.Task
	TeamMember = interpret.TeamMember
)

// DefaultRequiredFields block leaving the gathering phase.
var DefaultRequiredFields = []string{
	interpret.FieldProjectName,
	interpret.FieldProjectDescription,
}

// DefaultOptionalFields are asked about but never block.
var DefaultOptionalFields = []string{
	interpret.FieldProjectCategory,
	interpret.FieldProjectPriority,
	interpret.FieldEDCDate,
	interpret.FieldFUDDate,
	interpret.FieldTeamMembers,
	interpret.FieldTasks,
}

// ProjectInfo is the gathered project record. Every field is optional until
// filled; dates are strict YYYY-MM-DD or empty.
type ProjectInfo struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Status      string `json:"status,omitempty"`
	EDCDate     string `json:"edc_date,omitempty"`
	FUDDate     string `json:"fud_date,omitempty"`
}

// State is the durable assembly aggregate.
type State struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	ConversationID string       `json:"conversation_id,omitempty"`
	ProjectID      string       `json:"project_id,omitempty"`
	ProjectInfo    ProjectInfo  `json:"gathered_project_info"`
	Tasks          []Task       `json:"gathered_tasks"`
	TeamMembers    []TeamMember `json:"gathered_team_members"`
	RequiredFields []string     `json:"required_fields"`
	OptionalFields []string     `json:"optional_fields"`
	CurrentStep    Step         `json:"current_step"`
	Status         Status       `json:"status"`
	// CommittedTasks and CommittedMembers count the leading entries of Tasks
	// and TeamMembers already offered to the committed project. Entries whose
	// writes failed are found again by title or name on the next sync.
	CommittedTasks   int       `json:"committed_tasks"`
	CommittedMembers int       `json:"committed_members"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewState returns a fresh state with the default field sets.
func NewState(id, userID, conversationID string, now time.Time) *State {
	return &State{
		ID:             id,
		UserID:         userID,
		ConversationID: conversationID,
		Tasks:          []Task{},
		TeamMembers:    []TeamMember{},
		RequiredFields: append([]string(nil), DefaultRequiredFields...),
		OptionalFields: append([]string(nil), DefaultOptionalFields...),
		CurrentStep:    StepInitializing,
		Status:         StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.Tasks = make([]Task, len(s.Tasks))
	for i, t := range s.Tasks {
		t.Assignees = append([]string{}, t.Assignees...)
		c.Tasks[i] = t
	}
	c.TeamMembers = append([]TeamMember{}, s.TeamMembers...)
	c.RequiredFields = append([]string{}, s.RequiredFields...)
	c.OptionalFields = append([]string{}, s.OptionalFields...)
	return &c
}

// Committed reports whether the project has been materialized.
func (s *State) Committed() bool {
	return s.ProjectID != ""
}

// TurnDedup remembers what one turn appended, so a response that repeats a
// task or member only adds it once. Use a fresh value per turn.
type TurnDedup struct {
	tasks   map[string]bool
	members map[string]bool
}

// NewTurnDedup returns an empty per-turn filter.
func NewTurnDedup() *TurnDedup {
	return &TurnDedup{tasks: map[string]bool{}, members: map[string]bool{}}
}

func (d *TurnDedup) seen(set map[string]bool, key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if set[k] {
		return true
	}
	set[k] = true
	return false
}

// Apply merges one update. Project fields overwrite, tasks and members
// append. It reports whether the state changed. Unknown updates never touch
// the field sets.
func (s *State) Apply(u interpret.FieldUpdate, dedup *TurnDedup) bool {
	if dedup == nil {
		dedup = NewTurnDedup()
	}
	changed := false
	switch u := u.(type) {
	case interpret.ProjectField:
		changed = s.setField(u.Field, u.Value)
	case interpret.TaskAppend:
		if strings.TrimSpace(u.Task.Title) == "" || dedup.seen(dedup.tasks, u.Task.Title) {
			return false
		}
		t := u.Task
		if t.Assignees == nil {
			t.Assignees = []string{}
		}
		s.Tasks = append(s.Tasks, t)
		changed = true
	case interpret.TeamMemberAppend:
		if strings.TrimSpace(u.Member.Name) == "" || dedup.seen(dedup.members, u.Member.Name) {
			return false
		}
		s.TeamMembers = append(s.TeamMembers, u.Member)
		changed = true
	case interpret.Unknown:
		return false
	}
	s.reconcile()
	return changed
}

func (s *State) setField(field, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	var dst *string
	switch field {
	case interpret.FieldProjectName:
		dst = &s.ProjectInfo.Name
	case interpret.FieldProjectDescription:
		dst = &s.ProjectInfo.Description
	case interpret.FieldProjectCategory:
		dst = &s.ProjectInfo.Category
	case interpret.FieldProjectPriority:
		dst = &s.ProjectInfo.Priority
	case interpret.FieldProjectStatus:
		dst = &s.ProjectInfo.Status
	case interpret.FieldEDCDate:
		dst = &s.ProjectInfo.EDCDate
	case interpret.FieldFUDDate:
		dst = &s.ProjectInfo.FUDDate
	default:
		return false
	}
	if *dst == value {
		return false
	}
	*dst = value
	return true
}

// satisfied reports whether the named field has a value.
func (s *State) satisfied(field string) bool {
	switch field {
	case interpret.FieldProjectName:
		return s.ProjectInfo.Name != ""
	case interpret.FieldProjectDescription:
		return s.ProjectInfo.Description != ""
	case interpret.FieldProjectCategory:
		return s.ProjectInfo.Category != ""
	case interpret.FieldProjectPriority:
		return s.ProjectInfo.Priority != ""
	case interpret.FieldProjectStatus:
		return s.ProjectInfo.Status != ""
	case interpret.FieldEDCDate:
		return s.ProjectInfo.EDCDate != ""
	case interpret.FieldFUDDate:
		return s.ProjectInfo.FUDDate != ""
	case interpret.FieldTeamMembers:
		return len(s.TeamMembers) > 0
	case interpret.FieldTasks:
		return len(s.Tasks) > 0
	}
	return false
}

// reconcile drops satisfied fields from the required and optional sets.
// Fields are only ever removed.
func (s *State) reconcile() {
	s.RequiredFields = s.without(s.RequiredFields)
	s.OptionalFields = s.without(s.OptionalFields)
}

func (s *State) without(fields []string) []string {
	out := fields[:0]
	for _, f := range fields {
		if !s.satisfied(f) {
			out = append(out, f)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// DetermineStep recomputes the step from the data, so out-of-order input is
// tolerated. A committed project that would be confirming reports completed.
func DetermineStep(s *State) Step {
	s.reconcile()
	step := baseStep(s)
	if step == StepConfirmingProject && s.Committed() {
		return StepCompleted
	}
	return step
}

func baseStep(s *State) Step {
	switch {
	case contains(s.RequiredFields, interpret.FieldProjectName):
		return StepGatheringProjectName
	case contains(s.RequiredFields, interpret.FieldProjectDescription):
		return StepGatheringProjectDescription
	case s.ProjectInfo.Name != "" && s.ProjectInfo.Description != "":
		switch {
		case len(s.TeamMembers) == 0:
			return StepSuggestingTeamMembers
		case len(s.Tasks) == 0:
			return StepSuggestingTasks
		default:
			return StepConfirmingProject
		}
	}
	return StepGatheringInfo
}

// MissingInfo lists unmet required fields, then unmet optional ones.
func MissingInfo(s *State) []string {
	s.reconcile()
	out := make([]string, 0, len(s.RequiredFields)+len(s.OptionalFields))
	out = append(out, s.RequiredFields...)
	out = append(out, s.OptionalFields...)
	return out
}

// Snapshot is the prompt view of the state. Gathered task and member lists
// are withheld so details from an unrelated earlier project cannot leak into
// the model's suggestions; only counts are shown.
func (s *State) Snapshot(today string) prompt.Snapshot {
	return prompt.Snapshot{
		Today: today,
		Step:  string(s.CurrentStep),
		Info: prompt.Info{
			Name:        s.ProjectInfo.Name,
			Description: s.ProjectInfo.Description,
			Category:    s.ProjectInfo.Category,
			Priority:    s.ProjectInfo.Priority,
			EDCDate:     s.ProjectInfo.EDCDate,
			FUDDate:     s.ProjectInfo.FUDDate,
		},
		TeamMemberCount: len(s.TeamMembers),
		TaskCount:       len(s.Tasks),
		Missing:         MissingInfo(s),
		Committed:       s.Committed(),
	}
}
