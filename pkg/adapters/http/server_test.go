package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/static"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

func newService(t *testing.T, client ports.InferenceClient, opts ...parley.Option) *parley.Service {
	t.Helper()
	svc, err := parley.New(memory.NewStore(), memory.NewRunStore(), client, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := NewHandler(newService(t, static.Client{}))

	w := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, healthText, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestChatThenHistory(t *testing.T) {
	h := NewHandler(newService(t, static.Client{Reply: "hello there"}))

	w := do(t, h, http.MethodPost, "/chat", `{"sessionId":"s1","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"reply":"hello there"}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/history?sessionId=s1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Hist []domain.Turn `json:"hist"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Hist, 1)
	assert.Equal(t, "hi", body.Hist[0].User)
	assert.Equal(t, "hello there", body.Hist[0].AI)
}

func TestHistory_EmptySessionIsEmptyArray(t *testing.T) {
	h := NewHandler(newService(t, static.Client{}))

	w := do(t, h, http.MethodGet, "/history?sessionId=nobody", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"hist":[]}`, w.Body.String())
}

func TestChat_InvalidJSONUsesDefaults(t *testing.T) {
	h := NewHandler(newService(t, static.Client{}))

	w := do(t, h, http.MethodPost, "/chat", `not json`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"reply":"You said: Say hi"}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/history", "")
	assert.Contains(t, w.Body.String(), `"user":"Say hi"`)
}

func TestChat_WrongFieldTypeIsBadRequest(t *testing.T) {
	h := NewHandler(newService(t, static.Client{}))

	w := do(t, h, http.MethodPost, "/chat", `{"message":42}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "message")

	w = do(t, h, http.MethodPost, "/wf", `{"sessionId":["a"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_OversizedBody(t *testing.T) {
	h := NewHandler(newService(t, static.Client{}))

	big := fmt.Sprintf(`{"message":%q}`, strings.Repeat("x", maxBodyBytes))
	w := do(t, h, http.MethodPost, "/chat", big)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_InferenceFailureIsBadGateway(t *testing.T) {
	failing := ports.InferenceFunc(func(context.Context, domain.Prompt) (domain.Completion, error) {
		return domain.Completion{}, fmt.Errorf("%w: upstream 503", domain.ErrInferenceUnavailable)
	})
	h := NewHandler(newService(t, failing))

	w := do(t, h, http.MethodPost, "/chat", `{"sessionId":"s1","message":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)

	w = do(t, h, http.MethodGet, "/history?sessionId=s1", "")
	assert.JSONEq(t, `{"hist":[]}`, w.Body.String())
}

func TestWorkflow_StartAndPoll(t *testing.T) {
	svc := newService(t, static.Client{Reply: "pong"})
	h := NewHandler(svc)

	w := do(t, h, http.MethodPost, "/wf", `{"sessionId":"s1","message":"ping"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var started struct {
		OK    bool   `json:"ok"`
		RunID string `json:"workflowRunId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.True(t, started.OK)
	require.NotEmpty(t, started.RunID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := svc.Workflows().Wait(ctx, started.RunID)
	require.NoError(t, err)

	w = do(t, h, http.MethodGet, "/wf/"+started.RunID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var run domain.WorkflowRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, domain.RunCompleted, run.Status)

	w = do(t, h, http.MethodGet, "/history?sessionId=s1", "")
	assert.Contains(t, w.Body.String(), `"ai":"pong"`)
}

func TestWorkflow_UnknownRunIsNotFound(t *testing.T) {
	h := NewHandler(newService(t, static.Client{}))

	w := do(t, h, http.MethodGet, "/wf/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownRoutes(t *testing.T) {
	h := NewHandler(newService(t, static.Client{}))

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/chat"},
		{http.MethodPost, "/history"},
		{http.MethodPut, "/wf"},
	} {
		w := do(t, h, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Not found", w.Body.String())
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := NewHandler(newService(t, static.Client{}))

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://example.pages.dev")
	req.Header.Set("Access-Control-Request-Headers", "content-type,x-trace")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST,OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "content-type,x-trace", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	h := NewHandler(newService(t, static.Client{}), WithAllowedOrigins("https://app.example"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("parley_up 1\n"))
	})

	h := NewHandler(newService(t, static.Client{}), WithMetricsHandler(metrics))
	w := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "parley_up 1\n", w.Body.String())

	h = NewHandler(newService(t, static.Client{}))
	w = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscribeEvents_Session(t *testing.T) {
	streams := NewStreamManager()
	svc := newService(t, static.Client{Reply: "yo"}, parley.WithLifecycleHooks(streams.Hooks()))
	srv := NewServer(svc, WithStreams(streams))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?sessionId=sess-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: ping", lines.Text())

	_, err = svc.Chat(context.Background(), "sess-1", "hi")
	require.NoError(t, err)

	for lines.Scan() {
		line := lines.Text()
		if !strings.HasPrefix(line, "data: {") {
			continue
		}
		var ev domain.TurnEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		assert.Equal(t, domain.EventTurnAppended, ev.Type)
		assert.Equal(t, "sess-1", ev.SessionID)
		assert.Equal(t, 1, ev.Size)
		return
	}
	t.Fatal("no turn event received")
}

func TestStreamManager_DropsForSlowClient(t *testing.T) {
	sm := NewStreamManager()
	ch, cancel := sm.Subscribe("s")
	defer cancel()

	for i := 0; i < 20; i++ {
		sm.Broadcast("s", fmt.Sprint(i))
	}
	assert.Len(t, ch, 10)

	sm.Broadcast("other", "ignored")
	assert.Len(t, ch, 10)
}

func TestSubscribeEvents_UsesConfiguredDefaultSession(t *testing.T) {
	svc := newService(t, static.Client{}, parley.WithDefaults(parley.Defaults{SessionID: "lobby"}))
	srv := NewServer(svc)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: ping", lines.Text())

	// Subscribed before the ping was written
	srv.Streams.Broadcast("lobby", "hello lobby")
	for lines.Scan() {
		if line := lines.Text(); line != "" && line != "data: connected" {
			assert.Equal(t, "data: hello lobby", line)
			return
		}
	}
	t.Fatal("no event received on the default session")
}

func TestServer_LoggerReachesStreams(t *testing.T) {
	var buf bytes.Buffer
	srv := NewServer(newService(t, static.Client{}),
		WithLogger(logging.NewWriter(&buf, slog.LevelDebug, logging.FormatText)))

	ch, cancel := srv.Streams.Subscribe("s")
	defer cancel()
	for i := 0; i < cap(ch)+1; i++ {
		srv.Streams.Broadcast("s", fmt.Sprint(i))
	}

	assert.Contains(t, buf.String(), "dropping message")
}
