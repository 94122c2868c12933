package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	ops  atomic.Int64
	errs atomic.Int64
}

func (r *fakeRecorder) IncCleanupOperations() { r.ops.Add(1) }
func (r *fakeRecorder) IncCleanupErrors()     { r.errs.Add(1) }

type backendCalls struct {
	ready   atomic.Int64
	deletes atomic.Int64
	compact atomic.Int64
}

// newBackend stands up a fake Loki answering /ready, delete, and compactor
// requests with the given statuses.
func newBackend(t *testing.T, calls *backendCalls, readyStatus, deleteStatus, compactStatus int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		calls.ready.Add(1)
		w.WriteHeader(readyStatus)
	})

	mux.HandleFunc("/loki/api/v1/delete", func(w http.ResponseWriter, r *http.Request) {
		calls.deletes.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload struct {
			Query string `json:"query"`
			Start string `json:"start"`
			End   string `json:"end"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		assert.Equal(t, `{job="container_monitoring"}`, payload.Query)

		start, err := time.Parse(time.RFC3339, payload.Start)
		require.NoError(t, err)
		end, err := time.Parse(time.RFC3339, payload.End)
		require.NoError(t, err)

		assert.True(t, start.Before(end), "window start must precede end")
		assert.True(t, end.Before(time.Now()), "window must lie in the past")

		w.WriteHeader(deleteStatus)
	})

	mux.HandleFunc("/compactor/ring", func(w http.ResponseWriter, _ *http.Request) {
		calls.compact.Add(1)
		w.WriteHeader(compactStatus)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func newTestClient(url string, recorder CleanupRecorder) *Client {
	return NewClient(url, `{job="container_monitoring"}`, recorder)
}

func TestClient_IsHealthy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "ready", status: http.StatusOK, want: true},
		{name: "not ready", status: http.StatusServiceUnavailable, want: false},
		{name: "non-200 success status", status: http.StatusNoContent, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls backendCalls
			server := newBackend(t, &calls, tt.status, http.StatusOK, http.StatusOK)

			client := newTestClient(server.URL, &fakeRecorder{})

			assert.Equal(t, tt.want, client.IsHealthy(context.Background()))
		})
	}
}

func TestClient_IsHealthy_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client := newTestClient(server.URL, &fakeRecorder{})

	assert.False(t, client.IsHealthy(context.Background()))
}

func TestClient_RunCleanup_UnhealthyBackendSkips(t *testing.T) {
	var calls backendCalls
	server := newBackend(t, &calls, http.StatusServiceUnavailable, http.StatusOK, http.StatusOK)

	recorder := &fakeRecorder{}
	client := newTestClient(server.URL, recorder)

	assert.False(t, client.RunCleanup(context.Background()))

	// No deletion request may reach a backend that cannot safely process it,
	// and no counters move.
	assert.Equal(t, int64(0), calls.deletes.Load())
	assert.Equal(t, int64(0), calls.compact.Load())
	assert.Equal(t, int64(0), recorder.ops.Load())
	assert.Equal(t, int64(0), recorder.errs.Load())
}

func TestClient_RunCleanup_AcceptedStatuses(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusAccepted, http.StatusNoContent} {
		var calls backendCalls
		server := newBackend(t, &calls, http.StatusOK, status, http.StatusOK)

		recorder := &fakeRecorder{}
		client := newTestClient(server.URL, recorder)

		assert.True(t, client.RunCleanup(context.Background()), "status %d", status)
		assert.Equal(t, int64(1), recorder.ops.Load())
		assert.Equal(t, int64(0), recorder.errs.Load())
		assert.Equal(t, int64(1), calls.compact.Load())
	}
}

func TestClient_RunCleanup_CompactionFailureIsBestEffort(t *testing.T) {
	var calls backendCalls
	server := newBackend(t, &calls, http.StatusOK, http.StatusAccepted, http.StatusInternalServerError)

	recorder := &fakeRecorder{}
	client := newTestClient(server.URL, recorder)

	assert.True(t, client.RunCleanup(context.Background()))
	assert.Equal(t, int64(1), recorder.ops.Load())
	assert.Equal(t, int64(0), recorder.errs.Load())
	assert.Equal(t, int64(1), calls.compact.Load())
}

func TestClient_RunCleanup_DeleteRejected(t *testing.T) {
	var calls backendCalls
	server := newBackend(t, &calls, http.StatusOK, http.StatusInternalServerError, http.StatusOK)

	recorder := &fakeRecorder{}
	client := newTestClient(server.URL, recorder)

	assert.False(t, client.RunCleanup(context.Background()))
	assert.Equal(t, int64(1), calls.deletes.Load())
	assert.Equal(t, int64(0), calls.compact.Load(), "no compaction after failed delete")
	assert.Equal(t, int64(0), recorder.ops.Load())
	assert.Equal(t, int64(1), recorder.errs.Load())
}

func TestClient_RunCleanup_RequestError(t *testing.T) {
	ready := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ready" {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Kill the connection mid-request.
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)

		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	t.Cleanup(ready.Close)

	recorder := &fakeRecorder{}
	client := newTestClient(ready.URL, recorder)

	assert.False(t, client.RunCleanup(context.Background()))
	assert.Equal(t, int64(0), recorder.ops.Load())
	assert.Equal(t, int64(1), recorder.errs.Load())
}

func TestWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	start, end := Window(now)

	assert.Equal(t, now.Add(-7*24*time.Hour), start)
	assert.Equal(t, now.Add(-3*24*time.Hour), end)
	assert.Equal(t, 4*24*time.Hour, end.Sub(start), "fixed 4-day retention band")
}

func TestClient_WindowFormatting(t *testing.T) {
	// The fixed clock makes the serialized window deterministic.
	fixed := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	var gotStart, gotEnd string

	mux := http.NewServeMux()
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/loki/api/v1/delete", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Start string `json:"start"`
			End   string `json:"end"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		gotStart, gotEnd = payload.Start, payload.End
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/compactor/ring", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := newTestClient(server.URL, &fakeRecorder{})
	client.now = func() time.Time { return fixed }

	require.True(t, client.RunCleanup(context.Background()))
	assert.Equal(t, "2025-06-08T12:00:00Z", gotStart)
	assert.Equal(t, "2025-06-12T12:00:00Z", gotEnd)
}
