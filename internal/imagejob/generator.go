package imagejob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/retry"
)

// WebhookGenerator delegates image generation to an external service. It
// POSTs the job as JSON and expects {"image_url": "..."} back.
type WebhookGenerator struct {
	url    string
	client *http.Client
	policy retry.Policy
	logger zerolog.Logger
}

// WebhookRequest is the JSON body sent to the webhook.
type WebhookRequest struct {
	JobID       string `json:"job_id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Prompt      string `json:"prompt"`
}

type webhookResponse struct {
	ImageURL string `json:"image_url"`
}

// NewWebhookGenerator creates a generator posting to url.
func NewWebhookGenerator(url string, timeout time.Duration, policy retry.Policy, logger zerolog.Logger) *WebhookGenerator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WebhookGenerator{
		url:    url,
		client: &http.Client{Timeout: timeout},
		policy: policy,
		logger: logger.With().Str("component", "imagejob.webhook").Logger(),
	}
}

// Generate calls the webhook with retries on transient failures.
func (g *WebhookGenerator) Generate(ctx context.Context, job Job) (string, error) {
	body, err := json.Marshal(WebhookRequest{
		JobID:       job.ID,
		ProjectID:   job.ProjectID,
		Name:        job.Name,
		Description: job.Description,
		Category:    job.Category,
		Prompt:      CoverPrompt(job),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling webhook payload: %w", err)
	}

	p := g.policy
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		g.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("image webhook failed, retrying")
	}

	var url string
	_, err = retry.Do(ctx, p, func(ctx context.Context) error {
		var callErr error
		url, callErr = g.post(ctx, body)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

func (g *WebhookGenerator) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cristos-imagejob/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("image webhook: %w: %w", perrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", perrors.NewAPIError("image-webhook", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", nil
	}
	var out webhookResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decoding webhook response: %w", err)
	}
	return strings.TrimSpace(out.ImageURL), nil
}

// CoverPrompt describes the image to generate.
func CoverPrompt(job Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A clean, modern cover illustration for a project named %q", job.Name)
	if job.Category != "" {
		fmt.Fprintf(&b, " in the %s category", job.Category)
	}
	b.WriteString(".")
	if job.Description != "" {
		fmt.Fprintf(&b, " The project: %s", job.Description)
	}
	return b.String()
}

// LogGenerator produces no image; it only logs the request. It is the
// generator when no webhook is configured.
type LogGenerator struct {
	logger zerolog.Logger
}

// NewLogGenerator creates a LogGenerator.
func NewLogGenerator(logger zerolog.Logger) *LogGenerator {
	return &LogGenerator{logger: logger.With().Str("component", "imagejob.log").Logger()}
}

// Generate logs the job and returns an empty URL.
func (g *LogGenerator) Generate(_ context.Context, job Job) (string, error) {
	g.logger.Info().
		Str("job_id", job.ID).
		Str("project_id", job.ProjectID).
		Str("prompt", CoverPrompt(job)).
		Msg("cover image requested (no generator configured)")
	return "", nil
}
