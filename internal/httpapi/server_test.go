package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantsdigitaldev/cristos/internal/assembly"
	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/health"
	"github.com/giantsdigitaldev/cristos/internal/metrics"
	"github.com/giantsdigitaldev/cristos/internal/requestid"
	"github.com/giantsdigitaldev/cristos/internal/transcribe"
	"github.com/giantsdigitaldev/cristos/internal/voice"
)

type fakeEngine struct {
	inputs []assembly.TurnInput
	reqIDs []string
	err    error
	state  *assembly.State
}

func (f *fakeEngine) ProcessTurn(ctx context.Context, in assembly.TurnInput) (*assembly.TurnResult, error) {
	f.inputs = append(f.inputs, in)
	f.reqIDs = append(f.reqIDs, requestid.FromContext(ctx))
	if f.err != nil {
		return &assembly.TurnResult{Prose: "sorry"}, f.err
	}
	return &assembly.TurnResult{
		TurnID:   "t1",
		Prose:    "What should we call it?",
		NextStep: assembly.StepGatheringProjectName,
	}, nil
}

func (f *fakeEngine) State(_ context.Context, userID, _ string) (*assembly.State, error) {
	if f.state == nil || f.state.UserID != userID {
		return nil, nil
	}
	return f.state, nil
}

type fakeVoice struct {
	audio   transcribe.Audio
	session *voice.Session
}

func (f *fakeVoice) Start(_ context.Context, userID, conversationID, language string) (*voice.Session, error) {
	f.session = &voice.Session{ID: "v1", UserID: userID, ConversationID: conversationID, Language: language, Status: voice.StatusRecording}
	return f.session, nil
}

func (f *fakeVoice) Submit(_ context.Context, sessionID, userID string, audio transcribe.Audio) (*voice.Submission, error) {
	if f.session == nil || f.session.ID != sessionID || f.session.UserID != userID {
		return nil, perrors.ErrNotFound
	}
	f.audio = audio
	f.session.Status = voice.StatusCompleted
	f.session.Transcript = "clean my room"
	return &voice.Submission{Session: f.session, Turn: &assembly.TurnResult{Prose: "ok"}}, nil
}

func (f *fakeVoice) Abandon(_ context.Context, sessionID, userID string) (*voice.Session, error) {
	if f.session == nil || f.session.ID != sessionID || f.session.UserID != userID {
		return nil, perrors.ErrNotFound
	}
	if f.session.Status != voice.StatusRecording {
		return nil, perrors.ErrConflict
	}
	f.session.Status = voice.StatusFailed
	f.session.Error = "abandoned"
	return f.session, nil
}

func (f *fakeVoice) Get(_ context.Context, sessionID, userID string) (*voice.Session, error) {
	if f.session == nil || f.session.ID != sessionID || f.session.UserID != userID {
		return nil, perrors.ErrNotFound
	}
	return f.session, nil
}

type testServer struct {
	app    *fiber.App
	engine *fakeEngine
	voice  *fakeVoice
}

func newTestServer(t *testing.T, cfg ServerConfig, checker *health.Checker, m *metrics.Metrics) *testServer {
	t.Helper()
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = "none"
	}
	ts := &testServer{engine: &fakeEngine{}, voice: &fakeVoice{}}
	srv := NewServer(cfg, ts.engine, ts.voice, checker, m, zerolog.Nop())
	t.Cleanup(func() { _ = srv.Shutdown() })
	ts.app = srv.App()
	return ts
}

func do(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

var asU1 = map[string]string{UserHeader: "u1"}

func TestServer_Probes(t *testing.T) {
	checker := health.NewChecker(zerolog.Nop())
	checker.Register("store", func(context.Context) health.Status { return health.StatusDown })
	ts := newTestServer(t, ServerConfig{Auth: AuthConfig{Mode: "api-key", APIKey: "k"}}, checker, nil)

	resp := do(t, ts.app, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])

	resp = do(t, ts.app, "GET", "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	ts := newTestServer(t, ServerConfig{}, nil, m)

	do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, asU1)

	resp := do(t, ts.app, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `cristos_http_requests_total{route="/api/v1/turns",status="2xx"} 1`)
}

func TestPostTurn(t *testing.T) {
	ts := newTestServer(t, ServerConfig{}, nil, nil)

	resp := do(t, ts.app, "POST", "/api/v1/turns", `{"conversation_id":"c1","text":"Clean my room"}`, asU1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[assembly.TurnResult](t, resp)
	assert.Equal(t, "What should we call it?", res.Prose)
	assert.Equal(t, assembly.StepGatheringProjectName, res.NextStep)

	require.Len(t, ts.engine.inputs, 1)
	assert.Equal(t, assembly.TurnInput{UserID: "u1", ConversationID: "c1", Text: "Clean my room", Source: assembly.SourceText}, ts.engine.inputs[0])
}

func TestPostTurn_Validation(t *testing.T) {
	ts := newTestServer(t, ServerConfig{}, nil, nil)

	resp := do(t, ts.app, "POST", "/api/v1/turns", `{"text":"  "}`, asU1)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "missing_text", decode[ProblemDetail](t, resp).Type)

	resp = do(t, ts.app, "POST", "/api/v1/turns", `{"text":`, asU1)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, ts.engine.inputs)
}

func TestPostTurn_ErrorMapping(t *testing.T) {
	ts := newTestServer(t, ServerConfig{}, nil, nil)

	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{perrors.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
		{perrors.ErrConflict, http.StatusConflict, "conflict"},
		{perrors.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		ts.engine.err = tc.err
		resp := do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, asU1)
		assert.Equal(t, tc.status, resp.StatusCode, tc.typ)
		p := decode[ProblemDetail](t, resp)
		assert.Equal(t, tc.typ, p.Type)
		assert.Equal(t, "/api/v1/turns", p.Instance)
		assert.NotEmpty(t, p.RequestID)
	}
}

func TestPostTurn_InternalErrorLogged(t *testing.T) {
	var buf bytes.Buffer
	engine := &fakeEngine{err: io.ErrUnexpectedEOF}
	srv := NewServer(ServerConfig{Auth: AuthConfig{Mode: "none"}}, engine, nil, nil, nil, zerolog.New(&buf))
	t.Cleanup(func() { _ = srv.Shutdown() })

	resp := do(t, srv.App(), "POST", "/api/v1/turns", `{"text":"hi"}`, map[string]string{UserHeader: "u1", requestid.Header: "req-500"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	p := decode[ProblemDetail](t, resp)
	assert.Equal(t, "An internal error occurred", p.Detail)

	logs := buf.String()
	assert.Contains(t, logs, "request failed")
	assert.Contains(t, logs, `"request_id":"req-500"`)
	assert.Contains(t, logs, io.ErrUnexpectedEOF.Error())
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, ServerConfig{}, nil, nil)

	resp := do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, map[string]string{UserHeader: "u1", requestid.Header: "abc-123"})
	assert.Equal(t, "abc-123", resp.Header.Get(requestid.Header))
	assert.Equal(t, "abc-123", ts.engine.reqIDs[0])

	resp = do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, map[string]string{UserHeader: "u1", requestid.Header: "bad id!"})
	got := resp.Header.Get(requestid.Header)
	assert.NotEqual(t, "bad id!", got)
	assert.Len(t, got, 36)
}

func TestGetAssembly(t *testing.T) {
	ts := newTestServer(t, ServerConfig{}, nil, nil)

	resp := do(t, ts.app, "GET", "/api/v1/assembly?conversation_id=c1", "", asU1)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no_assembly", decode[ProblemDetail](t, resp).Type)

	st := assembly.NewState("s1", "u1", "c1", time.Now())
	st.ProjectInfo.Name = "Room"
	st.CurrentStep = assembly.DetermineStep(st)
	ts.engine.state = st

	resp = do(t, ts.app, "GET", "/api/v1/assembly?conversation_id=c1", "", asU1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[StateResponse](t, resp)
	assert.Equal(t, "Room", body.State.ProjectInfo.Name)
	assert.Equal(t, assembly.StepGatheringProjectDescription, body.NextStep)
	assert.Equal(t, "project_description", body.MissingInfo[0])

	// Another user sees nothing.
	resp = do(t, ts.app, "GET", "/api/v1/assembly?conversation_id=c1", "", map[string]string{UserHeader: "u2"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVoiceRoutes(t *testing.T) {
	ts := newTestServer(t, ServerConfig{}, nil, nil)

	resp := do(t, ts.app, "POST", "/api/v1/voice/sessions", `{"conversation_id":"c1","language":"en-US"}`, asU1)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := decode[voice.Session](t, resp)
	assert.Equal(t, voice.StatusRecording, sess.Status)
	assert.Equal(t, "en-US", sess.Language)

	resp = do(t, ts.app, "GET", "/api/v1/voice/sessions/v1", "", asU1)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, ts.app, "GET", "/api/v1/voice/sessions/v1", "", map[string]string{UserHeader: "u2"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest("POST", "/api/v1/voice/sessions/v1/audio", strings.NewReader("OggS-bytes"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "audio/ogg; codecs=opus")
	req.Header.Set(UserHeader, "u1")
	resp, err = ts.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sub := decode[voice.Submission](t, resp)
	assert.Equal(t, voice.StatusCompleted, sub.Session.Status)
	assert.Equal(t, "ok", sub.Turn.Prose)
	assert.Equal(t, "audio/ogg", ts.voice.audio.MIMEType)
	assert.Equal(t, []byte("OggS-bytes"), ts.voice.audio.Data)

	resp = do(t, ts.app, "DELETE", "/api/v1/voice/sessions/v1", "", asU1)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestVoiceRoutes_Abandon(t *testing.T) {
	ts := newTestServer(t, ServerConfig{}, nil, nil)

	resp := do(t, ts.app, "POST", "/api/v1/voice/sessions", "", asU1)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts.app, "DELETE", "/api/v1/voice/sessions/v1", "", asU1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[voice.Session](t, resp).Abandoned())
}

func TestVoiceRoutes_Disabled(t *testing.T) {
	srv := NewServer(ServerConfig{Auth: AuthConfig{Mode: "none"}}, &fakeEngine{}, nil, nil, nil, zerolog.Nop())
	t.Cleanup(func() { _ = srv.Shutdown() })

	resp := do(t, srv.App(), "POST", "/api/v1/voice/sessions", "", asU1)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "voice_disabled", decode[ProblemDetail](t, resp).Type)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, ServerConfig{RateLimit: RateLimitConfig{RPS: 1, Burst: 1}}, nil, nil)

	resp := do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, asU1)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, ts.app, "POST", "/api/v1/turns", `{"text":"hi"}`, asU1)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", decode[ProblemDetail](t, resp).Type)

	// Probes are never limited.
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(t, ts.app, "GET", "/healthz", "", nil).StatusCode)
	}
}

func TestRateLimiter_RefillAndSweep(t *testing.T) {
	clock := time.Now()
	rl := newRateLimiter(RateLimitConfig{RPS: 2, Burst: 2})
	rl.now = func() time.Time { return clock }

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))

	clock = clock.Add(500 * time.Millisecond)
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))

	clock = clock.Add(time.Hour)
	rl.sweep(10 * time.Minute)
	assert.Empty(t, rl.clients)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, ServerConfig{CORSOrigins: []string{"https://app.example.com"}}, nil, nil)

	resp := do(t, ts.app, "OPTIONS", "/api/v1/turns", "", map[string]string{
		"Origin":                        "https://app.example.com",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func signed(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}
