// Package project persists committed projects, their tasks and members.
package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/store"
	"github.com/giantsdigitaldev/cristos/internal/validate"
)

// DefaultCategory is used when the conversation never settled on one.
const DefaultCategory = "general"

var slugRe = regexp.MustCompile(`[^a-z0-9-]+`)

// GenerateSlug converts a name into a URL-safe slug.
func GenerateSlug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = slugRe.ReplaceAllString(s, "")
	// collapse multiple hyphens
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = strings.TrimRight(s[:50], "-")
	}
	return s
}

// Store handles project-related SQLite operations.
type Store struct {
	ds     *store.Store
	logger zerolog.Logger
}

// NewStore creates a new project store.
func NewStore(ds *store.Store, logger zerolog.Logger) *Store {
	return &Store{
		ds:     ds,
		logger: logger.With().Str("component", "project.store").Logger(),
	}
}

// CreateProject inserts a project. A second project for the same assembly
// state fails with perrors.ErrConflict.
func (s *Store) CreateProject(ctx context.Context, in CreateProjectInput) (*Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("project name is empty: %w", perrors.ErrInvalidInput)
	}

	now := time.Now().UnixMilli()
	id := uuid.New().String()
	slug := GenerateSlug(name)
	if slug == "" {
		slug = "project"
	}
	// Names repeat across users; the id suffix keeps slugs unique.
	slug = slug + "-" + id[:8]

	p := &Project{
		ID:              id,
		AssemblyStateID: in.AssemblyStateID,
		Slug:            slug,
		Name:            name,
		Description:     strings.TrimSpace(in.Description),
		Category:        strings.TrimSpace(in.Category),
		Priority:        validate.PriorityOrDefault(in.Priority),
		Status:          validate.StatusActive,
		OwnerID:         in.OwnerID,
		DueDate:         in.DueDate,
		EDCDate:         in.EDCDate,
		FUDDate:         in.FUDDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.Category == "" {
		p.Category = DefaultCategory
	}
	if st, ok := validate.NormalizeStatus(in.Status); ok {
		p.Status = st
	}

	query := `
	INSERT INTO projects (id, assembly_state_id, slug, name, description, category, priority, status,
		owner_id, due_date, edc_date, fud_date, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.ds.DB().ExecContext(ctx, query,
		p.ID, sql.NullString{String: p.AssemblyStateID, Valid: p.AssemblyStateID != ""},
		p.Slug, p.Name, p.Description, p.Category, p.Priority, p.Status,
		p.OwnerID, p.DueDate, p.EDCDate, p.FUDDate, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, fmt.Errorf("project for assembly state %q already exists: %w", in.AssemblyStateID, perrors.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.logger.Info().Str("project_id", p.ID).Str("slug", p.Slug).Str("owner_id", p.OwnerID).Msg("project created")
	return p, nil
}

// projectColumns is the standard column list for project queries.
const projectColumns = `id, assembly_state_id, slug, name, description, category, priority, status,
	owner_id, due_date, edc_date, fud_date, cover_image_url, created_at, updated_at`

// GetProject retrieves a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	return s.scanProject(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
}

// GetProjectByState retrieves the project committed from an assembly state.
func (s *Store) GetProjectByState(ctx context.Context, stateID string) (*Project, error) {
	return s.scanProject(ctx, `SELECT `+projectColumns+` FROM projects WHERE assembly_state_id = ?`, stateID)
}

// ListProjects returns a user's projects, newest first.
func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]Project, error) {
	rows, err := s.ds.DB().QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SetCoverImage records the generated cover image for a project.
func (s *Store) SetCoverImage(ctx context.Context, projectID, url string) error {
	res, err := s.ds.DB().ExecContext(ctx,
		`UPDATE projects SET cover_image_url = ?, updated_at = ? WHERE id = ?`,
		url, time.Now().UnixMilli(), projectID)
	if err != nil {
		return fmt.Errorf("failed to set cover image: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", projectID, perrors.ErrNotFound)
	}
	return nil
}

// UpdateProject overwrites the non-empty fields of in. Priority and status
// are normalized; values that do not normalize are ignored.
func (s *Store) UpdateProject(ctx context.Context, id string, in UpdateProjectInput) error {
	priority := ""
	if p, ok := validate.NormalizePriority(in.Priority); ok {
		priority = p
	}
	status := ""
	if st, ok := validate.NormalizeStatus(in.Status); ok {
		status = st
	}
	due, edc, fud := validDate(in.DueDate), validDate(in.EDCDate), validDate(in.FUDDate)

	res, err := s.ds.DB().ExecContext(ctx, `
	UPDATE projects SET
		name = COALESCE(NULLIF(?, ''), name),
		description = COALESCE(NULLIF(?, ''), description),
		category = COALESCE(NULLIF(?, ''), category),
		priority = COALESCE(NULLIF(?, ''), priority),
		status = COALESCE(NULLIF(?, ''), status),
		due_date = COALESCE(NULLIF(?, ''), due_date),
		edc_date = COALESCE(NULLIF(?, ''), edc_date),
		fud_date = COALESCE(NULLIF(?, ''), fud_date),
		updated_at = ?
	WHERE id = ?`,
		strings.TrimSpace(in.Name), strings.TrimSpace(in.Description), strings.TrimSpace(in.Category),
		priority, status, due, edc, fud, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", id, perrors.ErrNotFound)
	}
	return nil
}

func validDate(s string) string {
	if validate.IsValidDate(s) {
		return s
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProjectRow(r rowScanner) (*Project, error) {
	p := &Project{}
	var stateID sql.NullString
	err := r.Scan(
		&p.ID, &stateID, &p.Slug, &p.Name, &p.Description, &p.Category, &p.Priority, &p.Status,
		&p.OwnerID, &p.DueDate, &p.EDCDate, &p.FUDDate, &p.CoverImageURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.AssemblyStateID = stateID.String
	return p, nil
}

func (s *Store) scanProject(ctx context.Context, query string, args ...any) (*Project, error) {
	p, err := scanProjectRow(s.ds.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// CreateTask inserts a task under a project.
func (s *Store) CreateTask(ctx context.Context, in CreateTaskInput) (*Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("task title is empty: %w", perrors.ErrInvalidInput)
	}
	assignees := in.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	assigneesJSON, err := json.Marshal(assignees)
	if err != nil {
		return nil, fmt.Errorf("marshal assignees: %w", err)
	}

	now := time.Now().UnixMilli()
	t := &Task{
		ID:          uuid.New().String(),
		ProjectID:   in.ProjectID,
		ParentID:    in.ParentID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Priority:    validate.PriorityOrDefault(in.Priority),
		Status:      "todo",
		DueDate:     in.DueDate,
		Assignees:   assignees,
		Position:    in.Position,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !validate.IsValidDate(t.DueDate) {
		t.DueDate = ""
	}

	_, err = s.ds.DB().ExecContext(ctx, `
	INSERT INTO tasks (id, project_id, parent_id, title, description, priority, status, due_date, assignees, position, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, sql.NullString{String: t.ParentID, Valid: t.ParentID != ""},
		t.Title, t.Description, t.Priority, t.Status, t.DueDate, string(assigneesJSON), t.Position,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task %q: %w", title, err)
	}
	return t, nil
}

// ListTasks returns a project's tasks in position order.
func (s *Store) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.ds.DB().QueryContext(ctx, `
	SELECT id, project_id, parent_id, title, description, priority, status, due_date, assignees, position, created_at, updated_at
	FROM tasks WHERE project_id = ? ORDER BY position, created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var parent sql.NullString
		var assignees string
		if err := rows.Scan(&t.ID, &t.ProjectID, &parent, &t.Title, &t.Description, &t.Priority,
			&t.Status, &t.DueDate, &assignees, &t.Position, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.ParentID = parent.String
		if err := json.Unmarshal([]byte(assignees), &t.Assignees); err != nil {
			t.Assignees = []string{}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddMember attaches a team member to a project.
func (s *Store) AddMember(ctx context.Context, in AddMemberInput) (*Member, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("member name is empty: %w", perrors.ErrInvalidInput)
	}
	m := &Member{
		ID:        uuid.New().String(),
		ProjectID: in.ProjectID,
		Name:      name,
		Email:     in.Email,
		Role:      validate.RoleOrDefault(in.Role),
		AvatarURL: in.AvatarURL,
		CreatedAt: time.Now().UnixMilli(),
	}
	_, err := s.ds.DB().ExecContext(ctx, `
	INSERT INTO project_members (id, project_id, name, email, role, avatar_url, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.Name, m.Email, m.Role, m.AvatarURL, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add member %q: %w", name, err)
	}
	return m, nil
}

// ListMembers returns a project's members in insertion order.
func (s *Store) ListMembers(ctx context.Context, projectID string) ([]Member, error) {
	rows, err := s.ds.DB().QueryContext(ctx, `
	SELECT id, project_id, name, email, role, avatar_url, created_at
	FROM project_members WHERE project_id = ? ORDER BY created_at, rowid`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Name, &m.Email, &m.Role, &m.AvatarURL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
