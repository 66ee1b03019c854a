package diag

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "remindd/pkg/logx"
)

func testSources(ok bool) Sources {
	return Sources{
		Health: func() Health {
			return Health{OK: ok, Components: map[string]any{"scheduler": map[string]int{"active": 2}}}
		},
		Jobs: func() any {
			return []map[string]string{{"id": "a"}, {"id": "b"}}
		},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "remindd_up 1\n")
		}),
	}
}

func get(t *testing.T, h http.Handler, target, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEndpoints(t *testing.T) {
	t.Parallel()

	h := New(Config{}, testSources(true), logx.Nop()).Handler("")

	rec := get(t, h, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.True(t, health.OK)
	assert.Contains(t, health.Components, "scheduler")

	rec = get(t, h, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var jobs []map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 2)

	rec = get(t, h, "/metrics", "")
	assert.Equal(t, "remindd_up 1\n", rec.Body.String())

	rec = get(t, h, "/debug/pprof/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnhealthyAnswers503(t *testing.T) {
	t.Parallel()

	h := New(Config{}, testSources(false), logx.Nop()).Handler("")
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/healthz", "").Code)
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()

	h := New(Config{}, testSources(true), logx.Nop()).Handler("s3cret")

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/jobs", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/jobs", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/jobs", "s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz?token=s3cret", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/debug/pprof/", "").Code)
}

func TestServeAndReconfigure(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testSources(true), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	assert.Nil(t, s.Supervisor())
	assert.Equal(t, "", s.Addr())
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, testSources(true), logx.Nop())
	s.Start(context.Background())
	sup := s.Supervisor()
	require.NotNil(t, sup)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// serveOnce returns nil, so the task ends without restarts.
	require.Eventually(t, func() bool {
		snap := sup.Snapshot()
		return len(snap.Tasks) == 1 && snap.Tasks[0].Starts == 1 && !snap.Tasks[0].Running
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "", s.Addr())
	s.Stop(ctx)
}
