// Package imagejob generates project cover images off the request path. A
// bounded worker pool drains the queue; every job leaves a row in image_jobs.
package imagejob

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/giantsdigitaldev/cristos/internal/metrics"
	"github.com/giantsdigitaldev/cristos/internal/store"
)

// Job statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusDropped   = "dropped"
)

// Job asks for a cover image for a freshly committed project.
type Job struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Generator produces an image URL for a job. An empty URL with a nil error
// means no image was produced.
type Generator interface {
	Generate(ctx context.Context, job Job) (string, error)
}

// CoverSetter records the generated image on the project.
type CoverSetter interface {
	SetCoverImage(ctx context.Context, projectID, url string) error
}

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds a single generation.
	Timeout time.Duration
}

// Queue is the cover image worker pool.
type Queue struct {
	queue   chan Job
	workers int
	timeout time.Duration
	gen     Generator
	covers  CoverSetter
	ds      *store.Store // optional job log
	metrics *metrics.Metrics
	logger  zerolog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// New creates a queue. ds and m may be nil.
func New(cfg Config, gen Generator, covers CoverSetter, ds *store.Store, m *metrics.Metrics, logger zerolog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Queue{
		queue:   make(chan Job, cfg.QueueSize),
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		gen:     gen,
		covers:  covers,
		ds:      ds,
		metrics: m,
		logger:  logger.With().Str("component", "imagejob").Logger(),
	}
}

// Start launches the workers. Jobs enqueued before Start wait in the buffer.
func (q *Queue) Start(ctx context.Context) {
	if q.running.Swap(true) {
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Info().Int("workers", q.workers).Msg("image job queue started")
}

// Stop cancels in-flight work and waits for the workers to exit.
func (q *Queue) Stop() {
	if !q.running.Swap(false) {
		return
	}
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	q.logger.Info().Msg("image job queue stopped")
}

// Enqueue hands a job to the pool without blocking. It reports false when
// the queue is full and the job was dropped.
func (q *Queue) Enqueue(job Job) bool {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	q.record(job, StatusQueued)

	select {
	case q.queue <- job:
		q.metrics.SetImageQueueDepth(len(q.queue))
		q.logger.Debug().Str("job_id", job.ID).Str("project_id", job.ProjectID).Msg("image job enqueued")
		return true
	default:
		q.finish(job.ID, StatusDropped, "", "image job queue is full")
		q.metrics.RecordImageJob(StatusDropped)
		q.logger.Warn().Str("job_id", job.ID).Str("project_id", job.ProjectID).Msg("image job queue is full, dropping job")
		return false
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	log := q.logger.With().Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.queue:
			q.metrics.SetImageQueueDepth(len(q.queue))
			q.run(ctx, job, log)
		}
	}
}

func (q *Queue) run(ctx context.Context, job Job, log zerolog.Logger) {
	q.start(job.ID)

	genCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	url, err := q.gen.Generate(genCtx, job)
	if err == nil && url != "" && q.covers != nil {
		err = q.covers.SetCoverImage(genCtx, job.ProjectID, url)
	}

	switch {
	case err != nil:
		q.finish(job.ID, StatusFailed, "", err.Error())
		q.metrics.RecordImageJob(StatusFailed)
		log.Warn().Err(err).Str("job_id", job.ID).Str("project_id", job.ProjectID).Msg("cover image generation failed")
	case url == "":
		q.finish(job.ID, StatusSkipped, "", "")
		q.metrics.RecordImageJob(StatusSkipped)
	default:
		q.finish(job.ID, StatusCompleted, url, "")
		q.metrics.RecordImageJob(StatusCompleted)
		log.Info().Str("job_id", job.ID).Str("project_id", job.ProjectID).Msg("cover image generated")
	}
}

// --- job log (graceful degradation: failures are logged, never returned) ---

func (q *Queue) record(job Job, status string) {
	if q.ds == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now().UnixMilli()
	_, err := q.ds.DB().ExecContext(ctx, `
	INSERT INTO image_jobs (id, project_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.ProjectID, status, now, now)
	if err != nil {
		q.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist image job")
	}
}

func (q *Queue) start(id string) {
	q.exec(id, `UPDATE image_jobs SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		StatusRunning, time.Now().UnixMilli(), id)
}

func (q *Queue) finish(id, status, url, errMsg string) {
	q.exec(id, `UPDATE image_jobs SET status = ?, image_url = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, url, errMsg, time.Now().UnixMilli(), id)
}

func (q *Queue) exec(id, query string, args ...any) {
	if q.ds == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := q.ds.DB().ExecContext(ctx, query, args...); err != nil {
		q.logger.Warn().Err(err).Str("job_id", id).Msg("failed to update image job")
	}
}

// Record is a row of the job log.
type Record struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	ImageURL  string `json:"image_url,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// ListByProject returns the jobs recorded for a project, oldest first.
func ListByProject(ctx context.Context, ds *store.Store, projectID string) ([]Record, error) {
	rows, err := ds.DB().QueryContext(ctx, `
	SELECT id, project_id, status, attempts, image_url, error, created_at, updated_at
	FROM image_jobs WHERE project_id = ? ORDER BY created_at, rowid`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list image jobs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Status, &r.Attempts, &r.ImageURL, &r.Error,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan image job: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
