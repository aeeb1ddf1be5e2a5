package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_CreatesDB(t *testing.T) {
	s := newTestStore(t)

	tables := []string{
		"users", "assembly_states", "conversation_messages", "meta",
		"projects", "project_members", "tasks", "voice_sessions", "image_jobs",
	}
	for _, table := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestNew_MemoryDSN(t *testing.T) {
	s, err := New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestNew_ReopenKeepsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestProjectStateUniqueness(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	insert := func(id, slug string) error {
		_, err := s.db.Exec(`INSERT INTO projects (id, assembly_state_id, slug, name, owner_id, created_at, updated_at)
			VALUES (?, 'state-1', ?, 'P', 'u1', ?, ?)`, id, slug, now, now)
		return err
	}
	require.NoError(t, insert("p1", "p-1"))
	err := insert("p2", "p-2")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(nil))
}

func TestConversationStateUniqueness(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()

	_, err := s.db.Exec(`INSERT INTO users (id, created_at) VALUES ('u1', ?)`, now)
	require.NoError(t, err)

	insert := func(id, conv string) error {
		_, err := s.db.Exec(`INSERT INTO assembly_states (id, user_id, conversation_id, created_at, updated_at)
			VALUES (?, 'u1', ?, ?, ?)`, id, conv, now, now)
		return err
	}
	// Conversation-less states are not constrained.
	require.NoError(t, insert("s1", ""))
	require.NoError(t, insert("s2", ""))

	require.NoError(t, insert("s3", "c1"))
	assert.True(t, IsUniqueViolation(insert("s4", "c1")))
}

func TestRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-30 * 24 * time.Hour).UnixMilli()
	recent := time.Now().UnixMilli()

	_, err := s.db.Exec(`INSERT INTO voice_sessions (id, user_id, processing_status, created_at, updated_at) VALUES
		('v-old-done', 'u', 'completed', ?, ?),
		('v-old-rec', 'u', 'recording', ?, ?),
		('v-new-done', 'u', 'completed', ?, ?)`, old, old, old, old, recent, recent)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO image_jobs (id, project_id, status, created_at, updated_at) VALUES
		('j-old', 'p', 'completed', ?, ?),
		('j-queued', 'p', 'queued', ?, ?)`, old, old, old, old)
	require.NoError(t, err)

	require.NoError(t, s.RunRetention(ctx, DefaultRetention()))

	var voice, jobs int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM voice_sessions`).Scan(&voice))
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM image_jobs`).Scan(&jobs))
	assert.Equal(t, 2, voice)
	assert.Equal(t, 1, jobs)
}

func TestDBSize(t *testing.T) {
	s := newTestStore(t)
	size, err := s.DBSizeBytes()
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}
