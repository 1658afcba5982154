package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"legalmind/internal/domain"
	"legalmind/internal/usecase/eventbus"
	"legalmind/internal/usecase/multiagent"
)

type fakeService struct {
	started  []domain.RunRequest
	executed []domain.RunRequest
	execSum  domain.RunSummary
	execErr  error
	runs     map[string]domain.RunSummary
	events   map[string][]domain.AgentEvent
}

func newFakeService() *fakeService {
	return &fakeService{
		runs:   map[string]domain.RunSummary{},
		events: map[string][]domain.AgentEvent{},
	}
}

func (f *fakeService) StartRun(_ context.Context, req domain.RunRequest) (domain.RunSummary, error) {
	if strings.TrimSpace(req.Query) == "" {
		return domain.RunSummary{}, domain.NewSubSystemError("run", "Run.Start", domain.ErrInvalidInput, "query is empty")
	}
	if req.Profile == "nope" {
		return domain.RunSummary{}, domain.NewDomainError("ProfileSet.Get", domain.ErrUnknownProfile, "nope")
	}
	f.started = append(f.started, req)
	return domain.RunSummary{RunID: "run-1", SessionID: "sess-1", Status: domain.RunRunning, Mode: domain.ModeAdaptive}, nil
}

func (f *fakeService) Execute(_ context.Context, req domain.RunRequest) (domain.RunSummary, error) {
	f.executed = append(f.executed, req)
	return f.execSum, f.execErr
}

func (f *fakeService) GetRunStatus(_ context.Context, id string) (domain.RunSummary, error) {
	sum, ok := f.runs[id]
	if !ok {
		return domain.RunSummary{}, domain.NewSubSystemError("run", "Engine.GetRunStatus", domain.ErrRunNotFound, id)
	}
	return sum, nil
}

func (f *fakeService) ListRuns(context.Context, int) ([]domain.RunSummary, error) {
	out := make([]domain.RunSummary, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeService) RunEvents(_ context.Context, id string) ([]domain.AgentEvent, error) {
	return f.events[id], nil
}

func (f *fakeService) ListAgents() []domain.AgentInfo {
	return []domain.AgentInfo{{ID: domain.AgentScheduler, DisplayName: "Scheduler"}}
}

func (f *fakeService) ListTemplates() []multiagent.TemplateInfo { return multiagent.ListTemplates() }

func (f *fakeService) ListProfiles() []multiagent.ProfileInfo {
	return []multiagent.ProfileInfo{{Name: "chatbot"}}
}

type fakeEventLog struct {
	events []domain.AgentEvent
}

func (f *fakeEventLog) AppendEvent(context.Context, domain.AgentEvent) error { return nil }
func (f *fakeEventLog) ListEvents(context.Context, string) ([]domain.AgentEvent, error) {
	return nil, nil
}
func (f *fakeEventLog) ListSessionEvents(_ context.Context, id string) ([]domain.AgentEvent, error) {
	var out []domain.AgentEvent
	for _, e := range f.events {
		if e.SessionID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventLog) Sessions(_ context.Context, limit int) ([]string, error) {
	var out []string
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if id := f.events[i].SessionID; !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, svc Service, mutate func(*Deps, *Config)) http.Handler {
	t.Helper()
	deps := Deps{Service: svc, Logger: slog.New(slog.DiscardHandler)}
	cfg := Config{WebSocketEnabled: true, Version: "test"}
	if mutate != nil {
		mutate(&deps, &cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewServer(deps, cfg).Handler(ctx)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStartRun(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(t, svc, nil)

	w := do(t, h, http.MethodPost, "/api/v1/runs", `{"query":"tariff risk for turbines","profile":"chatbot","context":{"contract_type":"lease"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp startRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "sess-1", resp.SessionID)
	require.Len(t, svc.started, 1)
	assert.Equal(t, "lease", svc.started[0].Context["contract_type"])

	// Security headers come from the middleware chain.
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestStartRunErrors(t *testing.T) {
	h := newTestServer(t, newFakeService(), nil)

	tests := []struct {
		name   string
		body   string
		status int
		code   domain.ErrorCode
	}{
		{"empty query", `{"query":"  "}`, http.StatusBadRequest, domain.CodeInvalidInput},
		{"unknown profile", `{"query":"q","profile":"nope"}`, http.StatusBadRequest, domain.CodeUnknownProfile},
		{"malformed", `{"query":`, http.StatusBadRequest, domain.CodeInvalidInput},
		{"unknown field", `{"query":"q","bogus":1}`, http.StatusBadRequest, domain.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/runs", tt.body)
			assert.Equal(t, tt.status, w.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestGetRunAndEvents(t *testing.T) {
	svc := newFakeService()
	svc.runs["run-1"] = domain.RunSummary{RunID: "run-1", Status: domain.RunCompleted, FinalAnswer: "report"}
	svc.events["run-1"] = []domain.AgentEvent{{RunID: "run-1", AgentName: "scheduler", Action: domain.ActionAgentResponse}}
	h := newTestServer(t, svc, nil)

	w := do(t, h, http.MethodGet, "/api/v1/runs/run-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sum domain.RunSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, "report", sum.FinalAnswer)

	w = do(t, h, http.MethodGet, "/api/v1/runs/run-1/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	var events []domain.AgentEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "scheduler", events[0].AgentName)

	w = do(t, h, http.MethodGet, "/api/v1/runs/missing/events", "")
	assert.Equal(t, "[]\n", w.Body.String())

	w = do(t, h, http.MethodGet, "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(domain.CodeRunNotFound))
}

func TestListRuns(t *testing.T) {
	svc := newFakeService()
	svc.runs["run-1"] = domain.RunSummary{RunID: "run-1"}
	h := newTestServer(t, svc, nil)

	w := do(t, h, http.MethodGet, "/api/v1/runs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "run-1")

	w = do(t, h, http.MethodGet, "/api/v1/runs?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionEvents(t *testing.T) {
	log := &fakeEventLog{events: []domain.AgentEvent{
		{RunID: "r1", SessionID: "s1", AgentName: "assistant", Action: domain.ActionAgentResponse},
		{RunID: "r2", SessionID: "s2", AgentName: "assistant", Action: domain.ActionAgentResponse},
	}}
	h := newTestServer(t, newFakeService(), func(d *Deps, _ *Config) { d.EventLog = log })

	w := do(t, h, http.MethodGet, "/api/v1/sessions/s1/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	var events []domain.AgentEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "r1", events[0].RunID)

	h = newTestServer(t, newFakeService(), nil)
	w = do(t, h, http.MethodGet, "/api/v1/sessions/s1/events", "")
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestListSessions(t *testing.T) {
	log := &fakeEventLog{events: []domain.AgentEvent{
		{RunID: "r1", SessionID: "s1"},
		{RunID: "r2", SessionID: "s2"},
		{RunID: "r3", SessionID: "s1"},
		{RunID: "r4", SessionID: "s3"},
	}}
	h := newTestServer(t, newFakeService(), func(d *Deps, _ *Config) { d.EventLog = log })

	w := do(t, h, http.MethodGet, "/api/v1/sessions?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ids []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ids))
	assert.Equal(t, []string{"s3", "s1"}, ids)

	w = do(t, h, http.MethodGet, "/api/v1/sessions", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ids))
	assert.Equal(t, []string{"s3", "s1", "s2"}, ids)

	w = do(t, h, http.MethodGet, "/api/v1/sessions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h = newTestServer(t, newFakeService(), nil)
	w = do(t, h, http.MethodGet, "/api/v1/sessions", "")
	assert.Equal(t, "[]\n", w.Body.String())
}

type fakeTrigger struct{ fired []string }

func (f *fakeTrigger) RunNow(_ context.Context, name string) (domain.RunSummary, error) {
	if name != "risk-report" {
		return domain.RunSummary{}, domain.NewDomainError("Scheduler.RunNow", domain.ErrNotFound, name)
	}
	f.fired = append(f.fired, name)
	return domain.RunSummary{RunID: "run-9", Status: domain.RunAborted}, domain.ErrExecutionTimeout
}

type fixedMeter int

func (m fixedMeter) InWindow() int { return int(m) }

func TestRunSchedule(t *testing.T) {
	trig := &fakeTrigger{}
	h := newTestServer(t, newFakeService(), func(d *Deps, _ *Config) {
		d.Scheduler = trig
		d.Limiter = fixedMeter(7)
	})

	w := do(t, h, http.MethodPost, "/api/v1/schedules/risk-report/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sum domain.RunSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, "run-9", sum.RunID)
	assert.Equal(t, domain.RunAborted, sum.Status)
	assert.Equal(t, []string{"risk-report"}, trig.fired)

	w = do(t, h, http.MethodPost, "/api/v1/schedules/nightly/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/health", "")
	assert.Contains(t, w.Body.String(), `"llm_calls_in_window":7`)
}

func TestRunScheduleWithoutScheduler(t *testing.T) {
	h := newTestServer(t, newFakeService(), nil)
	w := do(t, h, http.MethodPost, "/api/v1/schedules/risk-report/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/health", "")
	assert.NotContains(t, w.Body.String(), "llm_calls_in_window")
}

func TestChatSuccess(t *testing.T) {
	svc := newFakeService()
	svc.execSum = domain.RunSummary{
		RunID: "run-9", SessionID: "sess-9", Status: domain.RunCompleted,
		FinalAnswer: "Hello, how can I help with your contract?", TerminationReason: "assistant_replied",
	}
	h := newTestServer(t, svc, nil)

	w := do(t, h, http.MethodPost, "/api/v1/chat", `{"session_id":"sess-9","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "Hello, how can I help with your contract?", resp.Response)
	assert.Equal(t, "sess-9", resp.SessionID)
	require.Len(t, svc.executed, 1)
	assert.Equal(t, "sess-9", svc.executed[0].SessionID)
}

func TestChatFailureIsGeneric(t *testing.T) {
	svc := newFakeService()
	svc.execSum = domain.RunSummary{RunID: "run-9", SessionID: "sess-9", Status: domain.RunAborted}
	svc.execErr = domain.NewSubSystemError("agent", "Engine.invoke", domain.ErrExecutionError, "dial tcp 10.0.0.1:443: connection refused")
	h := newTestServer(t, svc, nil)

	w := do(t, h, http.MethodPost, "/api/v1/chat", `{"message":"analyze my lease"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, genericFailure, resp.Error)
	assert.Equal(t, string(domain.CodeExecutionError), resp.Reason)
	assert.Equal(t, "sess-9", resp.SessionID)
	assert.NotContains(t, w.Body.String(), "10.0.0.1")
}

func TestChatRequiresMessage(t *testing.T) {
	h := newTestServer(t, newFakeService(), nil)
	w := do(t, h, http.MethodPost, "/api/v1/chat", `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatTimeout(t *testing.T) {
	svc := newFakeService()
	var deadline time.Time
	h := newTestServer(t, &deadlineService{fakeService: svc, seen: &deadline}, func(_ *Deps, c *Config) {
		c.ChatTimeout = 2 * time.Second
	})
	do(t, h, http.MethodPost, "/api/v1/chat", `{"message":"hi"}`)
	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
}

type deadlineService struct {
	*fakeService
	seen *time.Time
}

func (d *deadlineService) Execute(ctx context.Context, _ domain.RunRequest) (domain.RunSummary, error) {
	*d.seen, _ = ctx.Deadline()
	return domain.RunSummary{RunID: "r", SessionID: "s", FinalAnswer: "ok"}, nil
}

func TestClassify(t *testing.T) {
	h := newTestServer(t, newFakeService(), nil)
	w := do(t, h, http.MethodPost, "/api/v1/classify", `{"text":"What is the tariff exposure on these turbines?"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp classifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, multiagent.Classify("What is the tariff exposure on these turbines?"), resp.Intent)
	assert.Equal(t, multiagent.AgentForIntent(resp.Intent), resp.Agent)
}

func TestListings(t *testing.T) {
	h := newTestServer(t, newFakeService(), nil)

	w := do(t, h, http.MethodGet, "/api/v1/agents", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scheduler"`)

	w = do(t, h, http.MethodGet, "/api/v1/templates", "")
	var templates []multiagent.TemplateInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &templates))
	assert.Equal(t, len(multiagent.ListTemplates()), len(templates))

	w = do(t, h, http.MethodGet, "/api/v1/profiles", "")
	assert.Contains(t, w.Body.String(), "chatbot")

	w = do(t, h, http.MethodGet, "/api/v1/health", "")
	var health healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, 1, health.Agents)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, newFakeService(), nil)
	w := do(t, h, http.MethodDelete, "/api/v1/agents", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, newFakeService(), func(_ *Deps, c *Config) {
		c.RateLimitPerMin = 1
		c.RateLimitBurst = 2
	})
	for i := 0; i < 2; i++ {
		w := do(t, h, http.MethodGet, "/api/v1/health", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(t, h, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT")
}

func TestEventStreamFiltersByRun(t *testing.T) {
	bus := eventbus.New(slog.New(slog.DiscardHandler))
	t.Cleanup(bus.Close)
	h := newTestServer(t, newFakeService(), func(d *Deps, _ *Config) { d.Bus = bus })
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?run_id=run-1"
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	bus.Publish(ctx, domain.Event{Type: domain.EventRunStarted, RunID: "run-2"})
	bus.Publish(ctx, domain.Event{Type: domain.EventAgentReplied, RunID: "run-1"})

	var ev domain.Event
	require.NoError(t, wsjson.Read(ctx, ws, &ev))
	assert.Equal(t, domain.EventAgentReplied, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
}

func TestEventStreamDisabled(t *testing.T) {
	bus := eventbus.New(slog.New(slog.DiscardHandler))
	t.Cleanup(bus.Close)
	h := newTestServer(t, newFakeService(), func(d *Deps, c *Config) {
		d.Bus = bus
		c.WebSocketEnabled = false
	})
	w := do(t, h, http.MethodGet, "/ws/events", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(Deps{Service: newFakeService()}, Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.BoundAddr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.BoundAddr() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
