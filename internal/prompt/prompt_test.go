package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)

	assert.Greater(t, p.Version, 0)
	assert.Contains(t, p.Vocabulary, "project_name")
	assert.Contains(t, p.Vocabulary, "team_member")
	assert.NotEmpty(t, p.Apology)
	assert.NotEmpty(t, p.SummaryFallback)
}

func TestRenderSystem(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)

	out, err := p.RenderSystem(Snapshot{
		Today:           "2025-03-01",
		Step:            "suggesting_tasks",
		Info:            Info{Name: "Room Cleaning", Description: "Tidy up"},
		TeamMemberCount: 2,
		TaskCount:       0,
		Missing:         []string{"project_category", "tasks"},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Today is 2025-03-01")
	assert.Contains(t, out, "Name: Room Cleaning")
	assert.Contains(t, out, "Team members so far: 2")
	assert.Contains(t, out, "Still missing: project_category, tasks.")
	assert.Contains(t, out, "Suggest a few concrete tasks")
	assert.NotContains(t, out, "Category:")
}

func TestRenderSystem_FillsToday(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)

	out, err := p.RenderSystem(Snapshot{Step: "gathering_project_name"})
	require.NoError(t, err)
	assert.Regexp(t, `Today is \d{4}-\d{2}-\d{2}\.`, out)
}

func TestRenderSummary(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)

	out, err := p.RenderSummary(SummaryInput{Messages: []Message{
		{Role: "user", Content: "I want to clean my room"},
		{Role: "assistant", Content: "Sounds good"},
	}})
	require.NoError(t, err)
	assert.Contains(t, out, "at most\n200 words")
	assert.Contains(t, out, "user: I want to clean my room")
	assert.Contains(t, out, "assistant: Sounds good")
}

func TestParse_OverridesAndDefaults(t *testing.T) {
	t.Setenv("CRISTOS_TEST_PRODUCT", "Acme")

	p, err := Parse([]byte(`
version: 9
apology: "${CRISTOS_TEST_PRODUCT} is unavailable, costs $5 to retry"
`))
	require.NoError(t, err)

	assert.Equal(t, 9, p.Version)
	assert.Equal(t, "Acme is unavailable, costs $5 to retry", p.Apology)
	assert.NotEmpty(t, p.Vocabulary)
	assert.NotEmpty(t, p.System)
}

func TestParse_BadTemplate(t *testing.T) {
	_, err := Parse([]byte(`system: "{{.Step"`))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vocabulary: [project_name, milestone]\n"), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"project_name", "milestone"}, p.Vocabulary)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
