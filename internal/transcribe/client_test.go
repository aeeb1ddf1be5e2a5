package transcribe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/metrics"
	"github.com/giantsdigitaldev/cristos/internal/retry"
)

type fakeProvider struct {
	mu    sync.Mutex
	out   *Transcript
	errs  []error
	calls int
	last  Audio
}

func (f *fakeProvider) ModelID() string { return "fake" }

func (f *fakeProvider) Transcribe(_ context.Context, a Audio, _ Options) (*Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = a
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.out, nil
}

func fastPolicy() retry.Policy {
	p := retry.TranscriptionPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	p.Jitter = false
	return p
}

var wav = Audio{Data: []byte("RIFF...."), MIMEType: "audio/wav"}

func TestTranscribe_Success(t *testing.T) {
	fp := &fakeProvider{out: &Transcript{Text: "  Clean my room  ", Confidence: 0.9, DurationMs: 1200}}
	m := metrics.New()
	c := NewClient(fp, WithPolicy(fastPolicy()), WithMetrics(m))

	res := c.Transcribe(context.Background(), wav, Options{Language: "en-US"})
	require.True(t, res.Success)
	assert.Equal(t, "Clean my room", res.Text)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.Equal(t, "en-US", res.Language)
	assert.Equal(t, int64(1200), res.DurationMs)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.Err)
}

func TestTranscribe_RetriesTransientErrors(t *testing.T) {
	fp := &fakeProvider{
		out:  &Transcript{Text: "hello", Language: "en"},
		errs: []error{perrors.NewAPIError("gemini", 429, "slow"), perrors.ErrUnavailable},
	}
	res := NewClient(fp, WithPolicy(fastPolicy())).Transcribe(context.Background(), wav, Options{Language: "fr"})
	require.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "en", res.Language)
}

func TestTranscribe_ExhaustsAttempts(t *testing.T) {
	fp := &fakeProvider{errs: []error{
		perrors.NewAPIError("gemini", 503, "a"),
		perrors.NewAPIError("gemini", 503, "b"),
		perrors.NewAPIError("gemini", 503, "c"),
	}}
	res := NewClient(fp, WithPolicy(fastPolicy())).Transcribe(context.Background(), wav, Options{})
	assert.False(t, res.Success)
	assert.Equal(t, 3, fp.calls)
	assert.ErrorIs(t, res.Err, perrors.ErrTranscriptionFailed)
}

func TestTranscribe_EmptyTranscriptFails(t *testing.T) {
	fp := &fakeProvider{out: &Transcript{Text: "   "}}
	res := NewClient(fp, WithPolicy(fastPolicy())).Transcribe(context.Background(), wav, Options{})
	assert.False(t, res.Success)
	assert.Equal(t, 1, fp.calls)
	assert.ErrorIs(t, res.Err, ErrEmptyTranscript)
}

func TestTranscribe_RejectsBadAudio(t *testing.T) {
	fp := &fakeProvider{out: &Transcript{Text: "x"}}
	c := NewClient(fp, WithPolicy(fastPolicy()), WithMaxBytes(4))

	for name, a := range map[string]Audio{
		"empty":     {MIMEType: "audio/wav"},
		"too large": {Data: []byte("12345"), MIMEType: "audio/wav"},
		"not audio": {Data: []byte("1"), MIMEType: "text/plain"},
	} {
		t.Run(name, func(t *testing.T) {
			res := c.Transcribe(context.Background(), a, Options{})
			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, perrors.ErrInvalidInput)
			assert.ErrorIs(t, res.Err, perrors.ErrTranscriptionFailed)
		})
	}
	assert.Zero(t, fp.calls)
}

func TestTranscribe_OptionsMIMEOverrides(t *testing.T) {
	fp := &fakeProvider{out: &Transcript{Text: "ok"}}
	res := NewClient(fp, WithPolicy(fastPolicy())).Transcribe(context.Background(),
		Audio{Data: []byte("x"), MIMEType: "application/octet-stream"}, Options{MIMEType: "audio/ogg"})
	require.True(t, res.Success)
	assert.Equal(t, "audio/ogg", fp.last.MIMEType)
}
