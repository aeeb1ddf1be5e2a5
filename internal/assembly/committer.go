package assembly

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/imagejob"
	"github.com/giantsdigitaldev/cristos/internal/metrics"
	"github.com/giantsdigitaldev/cristos/internal/project"
	"github.com/giantsdigitaldev/cristos/internal/validate"
)

// ProjectStore is what the committer writes to. *project.Store satisfies it.
type ProjectStore interface {
	CreateProject(ctx context.Context, in project.CreateProjectInput) (*project.Project, error)
	GetProjectByState(ctx context.Context, stateID string) (*project.Project, error)
	UpdateProject(ctx context.Context, id string, in project.UpdateProjectInput) error
	CreateTask(ctx context.Context, in project.CreateTaskInput) (*project.Task, error)
	ListTasks(ctx context.Context, projectID string) ([]project.Task, error)
	AddMember(ctx context.Context, in project.AddMemberInput) (*project.Member, error)
	ListMembers(ctx context.Context, projectID string) ([]project.Member, error)
}

// ImageQueue accepts cover image jobs without blocking.
type ImageQueue interface {
	Enqueue(job imagejob.Job) bool
}

// Commit outcomes, as recorded in metrics.
const (
	commitCommitted = "committed"
	commitPartial   = "partial"
	commitDuplicate = "duplicate"
	commitFailed    = "failed"
)

// CommitResult reports what a commit or post-commit sync wrote.
type CommitResult struct {
	// Committed is true only for the call that created the project.
	Committed      bool   `json:"committed"`
	ProjectID      string `json:"project_id,omitempty"`
	TasksWritten   int    `json:"tasks_written"`
	TasksFailed    int    `json:"tasks_failed"`
	MembersWritten int    `json:"members_written"`
	ImageQueued    bool   `json:"image_queued,omitempty"`
	// Partial is set when the project exists but some task writes failed.
	Partial *perrors.CommitPartialFailure `json:"-"`
}

// Committer materializes a state into a project exactly once.
type Committer struct {
	states   StateStore
	projects ProjectStore
	images   ImageQueue
	locks    *keyedMutex
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewCommitter creates a committer. images and m may be nil.
func NewCommitter(states StateStore, projects ProjectStore, images ImageQueue, m *metrics.Metrics, logger zerolog.Logger) *Committer {
	return &Committer{
		states:   states,
		projects: projects,
		images:   images,
		locks:    newKeyedMutex(),
		metrics:  m,
		logger:   logger.With().Str("component", "committer").Logger(),
	}
}

// CommitIfReady creates the project when the state has a name and no
// project yet. On success it sets s.ProjectID, marks the state completed and
// persists it. A project write failure leaves s uncommitted and is returned
// as an error; failed task writes only produce CommitResult.Partial.
func (c *Committer) CommitIfReady(ctx context.Context, s *State) (CommitResult, error) {
	if strings.TrimSpace(s.ProjectInfo.Name) == "" || s.Committed() {
		return CommitResult{ProjectID: s.ProjectID}, nil
	}

	unlock := c.locks.lock(s.ID)
	defer unlock()

	log := c.logger.With().Str("state_id", s.ID).Str("user_id", s.UserID).Logger()

	pid, err := c.states.ProjectID(ctx, s.ID)
	if err != nil {
		return CommitResult{}, fmt.Errorf("re-read project id: %w", err)
	}
	if pid != "" {
		c.markCommitted(s, pid)
		c.metrics.RecordCommit(commitDuplicate)
		log.Info().Str("project_id", pid).Msg("state already committed, skipping")
		return CommitResult{ProjectID: pid}, nil
	}

	info := s.ProjectInfo
	p, err := c.projects.CreateProject(ctx, project.CreateProjectInput{
		AssemblyStateID: s.ID,
		OwnerID:         s.UserID,
		Name:            info.Name,
		Description:     info.Description,
		Category:        info.Category,
		Priority:        info.Priority,
		Status:          info.Status,
		DueDate:         dueDate(info),
		EDCDate:         info.EDCDate,
		FUDDate:         info.FUDDate,
	})
	if errors.Is(err, perrors.ErrConflict) {
		// Lost the race to another writer for this state.
		existing, getErr := c.projects.GetProjectByState(ctx, s.ID)
		if getErr != nil || existing == nil {
			return CommitResult{}, fmt.Errorf("resolve concurrent commit: %w", err)
		}
		c.markCommitted(s, existing.ID)
		c.metrics.RecordCommit(commitDuplicate)
		log.Info().Str("project_id", existing.ID).Msg("concurrent commit detected, treating as done")
		return CommitResult{ProjectID: existing.ID}, nil
	}
	if err != nil {
		c.metrics.RecordCommit(commitFailed)
		return CommitResult{}, fmt.Errorf("create project: %w", err)
	}

	res := CommitResult{Committed: true, ProjectID: p.ID}
	failed := c.writeTasks(ctx, p.ID, s, nil, &res)
	c.writeMembers(ctx, p.ID, s, nil, &res)
	c.markCommitted(s, p.ID)

	if err := c.states.Update(ctx, s); err != nil {
		// The project row carries the state id; the next commit attempt
		// resolves it through the unique constraint.
		log.Error().Err(err).Str("project_id", p.ID).Msg("failed to record project on state")
	}

	if len(failed) > 0 {
		res.Partial = &perrors.CommitPartialFailure{ProjectID: p.ID, Failed: failed}
		c.metrics.RecordCommit(commitPartial)
		log.Warn().Err(res.Partial).Msg("project committed with failed task writes")
	} else {
		c.metrics.RecordCommit(commitCommitted)
	}

	if c.images != nil {
		res.ImageQueued = c.images.Enqueue(imagejob.Job{
			ProjectID:   p.ID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
		})
	}

	log.Info().
		Str("project_id", p.ID).
		Int("tasks_written", res.TasksWritten).
		Int("tasks_failed", res.TasksFailed).
		Int("members_written", res.MembersWritten).
		Msg("project committed")
	return res, nil
}

// Sync writes every task and member of s that the project does not have
// yet, matched by title and by name. That covers both additions gathered
// after the commit and writes that failed earlier. It pushes project field
// changes when infoChanged and advances the committed counters on s; the
// caller persists s.
func (c *Committer) Sync(ctx context.Context, s *State, infoChanged bool) (CommitResult, error) {
	res := CommitResult{ProjectID: s.ProjectID}
	if !s.Committed() {
		return res, nil
	}

	unlock := c.locks.lock(s.ID)
	defer unlock()

	if infoChanged {
		info := s.ProjectInfo
		err := c.projects.UpdateProject(ctx, s.ProjectID, project.UpdateProjectInput{
			Name:        info.Name,
			Description: info.Description,
			Category:    info.Category,
			Priority:    info.Priority,
			Status:      info.Status,
			DueDate:     dueDate(info),
			EDCDate:     info.EDCDate,
			FUDDate:     info.FUDDate,
		})
		if err != nil {
			return res, fmt.Errorf("update project: %w", err)
		}
	}

	existing, err := c.projects.ListTasks(ctx, s.ProjectID)
	if err != nil {
		return res, fmt.Errorf("list project tasks: %w", err)
	}
	members, err := c.projects.ListMembers(ctx, s.ProjectID)
	if err != nil {
		return res, fmt.Errorf("list project members: %w", err)
	}
	if failed := c.writeTasks(ctx, s.ProjectID, s, existing, &res); len(failed) > 0 {
		res.Partial = &perrors.CommitPartialFailure{ProjectID: s.ProjectID, Failed: failed}
	}
	c.writeMembers(ctx, s.ProjectID, s, members, &res)

	if res.TasksWritten > 0 || res.MembersWritten > 0 {
		c.logger.Info().
			Str("state_id", s.ID).
			Str("project_id", s.ProjectID).
			Int("tasks_written", res.TasksWritten).
			Int("members_written", res.MembersWritten).
			Msg("synced post-commit additions")
	}
	return res, nil
}

// writeTasks writes the tasks of s whose titles are not among existing and
// advances the counter. Top-level tasks go first so subtasks can reference
// them. A subtask links to the task whose title matches its parent, or to
// the nearest preceding top-level task when it names none. It returns the
// titles that failed.
func (c *Committer) writeTasks(ctx context.Context, projectID string, s *State, existing []project.Task, res *CommitResult) []string {
	s.CommittedTasks = len(s.Tasks)

	present := make(map[string]bool, len(existing)+len(s.Tasks))
	byTitle := make(map[string]string, len(existing)+len(s.Tasks))
	for _, t := range existing {
		present[titleKey(t.Title)] = true
		if t.ParentID == "" {
			byTitle[titleKey(t.Title)] = t.ID
		}
	}

	missing := func(t Task) bool {
		return strings.TrimSpace(t.Title) != "" && !present[titleKey(t.Title)]
	}

	var failed []string
	write := func(i int, t Task, parentID string) string {
		created, err := c.projects.CreateTask(ctx, project.CreateTaskInput{
			ProjectID:   projectID,
			ParentID:    parentID,
			Title:       t.Title,
			Description: t.Description,
			Priority:    t.Priority,
			DueDate:     t.DueDate,
			Assignees:   t.Assignees,
			Position:    i,
		})
		if err != nil {
			failed = append(failed, t.Title)
			res.TasksFailed++
			c.logger.Warn().Err(err).Str("project_id", projectID).Str("title", t.Title).Msg("task write failed")
			return ""
		}
		res.TasksWritten++
		present[titleKey(t.Title)] = true
		return created.ID
	}

	// Parents first.
	for i, t := range s.Tasks {
		if t.Subtask || !missing(t) {
			continue
		}
		if id := write(i, t, ""); id != "" {
			byTitle[titleKey(t.Title)] = id
		}
	}

	lastTop := ""
	for i, t := range s.Tasks {
		if !t.Subtask {
			if id, ok := byTitle[titleKey(t.Title)]; ok {
				lastTop = id
			}
			continue
		}
		if !missing(t) {
			continue
		}
		parentID := lastTop
		if t.Parent != "" {
			if id, ok := byTitle[titleKey(t.Parent)]; ok {
				parentID = id
			}
		}
		write(i, t, parentID)
	}

	return failed
}

// writeMembers adds the members of s whose names are not among existing.
func (c *Committer) writeMembers(ctx context.Context, projectID string, s *State, existing []project.Member, res *CommitResult) {
	s.CommittedMembers = len(s.TeamMembers)

	present := make(map[string]bool, len(existing))
	for _, m := range existing {
		present[titleKey(m.Name)] = true
	}
	for _, m := range s.TeamMembers {
		key := titleKey(m.Name)
		if key == "" || present[key] {
			continue
		}
		_, err := c.projects.AddMember(ctx, project.AddMemberInput{
			ProjectID: projectID,
			Name:      m.Name,
			Email:     m.Email,
			Role:      m.Role,
			AvatarURL: m.AvatarURL,
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("project_id", projectID).Str("member", m.Name).Msg("member write failed")
			continue
		}
		present[key] = true
		res.MembersWritten++
	}
}

// markCommitted records the project on s. Everything gathered so far counts
// as written, either by this commit or by the writer that won the race.
func (c *Committer) markCommitted(s *State, projectID string) {
	s.ProjectID = projectID
	s.Status = StatusCompleted
	s.CommittedTasks = len(s.Tasks)
	s.CommittedMembers = len(s.TeamMembers)
	s.CurrentStep = DetermineStep(s)
}

// dueDate picks the project due date: EDC when valid, else FUD.
func dueDate(info ProjectInfo) string {
	if validate.IsValidDate(info.EDCDate) {
		return info.EDCDate
	}
	if validate.IsValidDate(info.FUDDate) {
		return info.FUDDate
	}
	return ""
}

func titleKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
