package project

// Project is a committed project record.
type Project struct {
	ID              string `json:"id"`
	AssemblyStateID string `json:"assembly_state_id,omitempty"`
	Slug            string `json:"slug"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	Priority        string `json:"priority"` // low | medium | high | urgent
	Status          string `json:"status"`   // active | on_hold | completed | archived
	OwnerID         string `json:"owner_id"`
	DueDate         string `json:"due_date,omitempty"`
	EDCDate         string `json:"edc_date,omitempty"`
	FUDDate         string `json:"fud_date,omitempty"`
	CoverImageURL   string `json:"cover_image_url,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// Task is a task row belonging to a project.
type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	ParentID    string   `json:"parent_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority"`
	Status      string   `json:"status"` // todo | in_progress | done
	DueDate     string   `json:"due_date,omitempty"`
	Assignees   []string `json:"assignees"`
	Position    int      `json:"position"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// Member is a team member attached to a project.
type Member struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// CreateProjectInput holds the parameters for creating a new project.
// Empty Category, Priority and Status take their defaults.
type CreateProjectInput struct {
	AssemblyStateID string
	OwnerID         string
	Name            string
	Description     string
	Category        string
	Priority        string
	Status          string
	DueDate         string
	EDCDate         string
	FUDDate         string
}

// CreateTaskInput holds the parameters for creating a task.
type CreateTaskInput struct {
	ProjectID   string
	ParentID    string
	Title       string
	Description string
	Priority    string
	DueDate     string
	Assignees   []string
	Position    int
}

// AddMemberInput holds the parameters for attaching a team member.
type AddMemberInput struct {
	ProjectID string
	Name      string
	Email     string
	Role      string
	AvatarURL string
}

// UpdateProjectInput carries fields gathered after commit. Empty fields
// leave the stored value alone.
type UpdateProjectInput struct {
	Name        string
	Description string
	Category    string
	Priority    string
	Status      string
	DueDate     string
	EDCDate     string
	FUDDate     string
}
