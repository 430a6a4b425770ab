package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/progress"
	"github.com/conorfennell/recall/internal/scheduler"
	"github.com/conorfennell/recall/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, store storage.Store) *Server {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStore()
	}
	locker := storage.NewStripedLocker(8)
	return NewServer(
		scheduler.New(store, locker, nil),
		progress.NewProcessor(store, locker, progress.DefaultAssessmentPolicy(), nil),
		nil,
		WithClock(func() time.Time { return fixedNow }),
	)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestScheduleEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/schedule", `{
		"session_id": "s1",
		"plan_id": "p1",
		"items": [{"id": "c2", "front": "A", "back": "B"}, {"id": "c1", "difficulty": "hard"}],
		"now": "2025-01-01T00:00:00.000Z"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"c1", "c2"}, resp.Order)
	assert.Equal(t, "2025-01-01T00:00:00.000Z", resp.Due)
	assert.Equal(t, "sm2-lite", resp.Meta.Algo)
	assert.Equal(t, "v0", resp.Meta.Version)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "p1", resp.PlanID)
}

func TestScheduleDefaultsNowToClock(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/api/certified/schedule",
		`{"session_id":"s","plan_id":"p","items":[{"id":"a"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.FormatTime(fixedNow), resp.Due)
}

func TestScheduleWithPrior(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := newTestServer(t, store)
	rec := do(t, srv, http.MethodPost, "/schedule", `{
		"session_id": "s", "plan_id": "p",
		"items": [{"id": "a"}, {"id": "b"}],
		"prior": [{"card_id": "a", "reps": 2, "ef": 2.6, "intervalDays": 6, "lastGrade": 5, "dueISO": "2025-01-07T00:00:00.000Z"}],
		"now": "2025-01-01T00:00:00.000Z"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"b", "a"}, resp.Order)

	snap, err := store.Get(context.Background(), "s")
	require.NoError(t, err)
	st, ok := snap.Find("a")
	require.True(t, ok)
	assert.Equal(t, 2, st.Reps)
	assert.Equal(t, 2.6, st.Ease)
}

func TestScheduleValidation(t *testing.T) {
	srv := newTestServer(t, nil)
	testCases := []struct {
		name string
		body string
	}{
		{"empty items", `{"session_id":"s","plan_id":"p","items":[]}`},
		{"missing session", `{"plan_id":"p","items":[{"id":"a"}]}`},
		{"missing plan", `{"session_id":"s","items":[{"id":"a"}]}`},
		{"card without id", `{"session_id":"s","plan_id":"p","items":[{"front":"x"}]}`},
		{"duplicate cards", `{"session_id":"s","plan_id":"p","items":[{"id":"a"},{"id":"a"}]}`},
		{"bad difficulty", `{"session_id":"s","plan_id":"p","items":[{"id":"a","difficulty":"extreme"}]}`},
		{"unknown algo", `{"session_id":"s","plan_id":"p","items":[{"id":"a"}],"algo":"fsrs"}`},
		{"bad now", `{"session_id":"s","plan_id":"p","items":[{"id":"a"}],"now":"yesterday"}`},
		{"unknown field", `{"session_id":"s","plan_id":"p","items":[{"id":"a"}],"extra":1}`},
		{"prior ease out of range", `{"session_id":"s","plan_id":"p","items":[{"id":"a"}],
			"prior":[{"card_id":"a","reps":0,"ef":4.0,"intervalDays":0,"dueISO":"2025-01-01T00:00:00.000Z"}]}`},
		{"prior bad due", `{"session_id":"s","plan_id":"p","items":[{"id":"a"}],
			"prior":[{"card_id":"a","reps":0,"ef":2.5,"intervalDays":0,"dueISO":"soon"}]}`},
		{"not json", `{"session_id":`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/schedule", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, CodeBadRequest, errorCode(t, rec))
		})
	}
}

func TestRejectsNonJSONContentType(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, path := range []string{"/schedule", "/progress", "/api/certified/progress"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code, path)
		assert.Equal(t, CodeUnsupportedMediaType, errorCode(t, rec))
	}
}

func TestProgressRoundTrip(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/certified/progress",
		`{"session_id":"s1","card_id":"c1","action":"grade","grade":4,"at":"2025-01-01T00:00:00.000Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/certified/progress?sid=s1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{
		"session_id": "s1",
		"items": [{"card_id":"c1","reps":1,"ef":2.5,"intervalDays":1,"lastGrade":4,"dueISO":"2025-01-02T00:00:00.000Z"}]
	}`, rec.Body.String())
}

func TestProgressSubmit(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodPost, "/progress", `{
		"session_id":"s","card_id":"c","action":"submit","at":"2025-01-01T00:00:00Z",
		"result":{"correct":true,"latency_ms":3000,"item_difficulty":"easy","hint_count":0,"retry_count":0}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/progress?sid=s", "")
	var snap struct {
		Items []struct {
			LastGrade int `json:"lastGrade"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 5, snap.Items[0].LastGrade)
}

func TestProgressValidation(t *testing.T) {
	srv := newTestServer(t, nil)
	testCases := []struct {
		name string
		body string
	}{
		{"grade without value", `{"session_id":"s2","card_id":"x1","action":"grade","at":"2025-01-01T00:00:00.000Z"}`},
		{"grade out of range", `{"session_id":"s","card_id":"c","action":"grade","grade":6,"at":"2025-01-01T00:00:00.000Z"}`},
		{"unknown action", `{"session_id":"s","card_id":"c","action":"skip","at":"2025-01-01T00:00:00.000Z"}`},
		{"missing at", `{"session_id":"s","card_id":"c","action":"flip"}`},
		{"missing card", `{"session_id":"s","action":"flip","at":"2025-01-01T00:00:00.000Z"}`},
		{"submit without result", `{"session_id":"s","card_id":"c","action":"submit","at":"2025-01-01T00:00:00.000Z"}`},
		{"negative latency", `{"session_id":"s","card_id":"c","action":"submit","at":"2025-01-01T00:00:00.000Z",
			"result":{"correct":true,"latency_ms":-1,"hint_count":0,"retry_count":0}}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/progress", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, CodeBadRequest, errorCode(t, rec))
		})
	}
}

func TestGetProgress(t *testing.T) {
	srv := newTestServer(t, nil)

	t.Run("unknown session is empty", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/progress?sid=nobody", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"session_id":"nobody","items":[]}`, rec.Body.String())
	})

	t.Run("sid required", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/progress", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeBadRequest, errorCode(t, rec))
	})
}

// corruptStore hands back a state that violates the ease bounds.
type corruptStore struct{ *storage.MemoryStore }

func (corruptStore) Get(_ context.Context, sessionID string) (*domain.Snapshot, error) {
	return &domain.Snapshot{SessionID: sessionID, Items: []domain.MemoryState{
		{CardID: "c", Ease: 9, DueAt: fixedNow},
	}}, nil
}

func TestSnapshotSelfCheck(t *testing.T) {
	srv := newTestServer(t, corruptStore{storage.NewMemoryStore()})
	rec := do(t, srv, http.MethodGet, "/progress?sid=s", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, errorCode(t, rec))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/certified/schedule", nil)
	req.Header.Set("Origin", "https://learner.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Contains(t, []int{http.StatusOK, http.StatusNoContent}, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProgressRoundsFractionalGrade(t *testing.T) {
	srv := newTestServer(t, nil)
	testCases := []struct {
		grade    string
		expected int
		reps     int
	}{
		{"3.6", 4, 1},
		{"2.4", 2, 0},
		{"4.5", 5, 1},
	}
	for i, tc := range testCases {
		t.Run(tc.grade, func(t *testing.T) {
			card := string(rune('a' + i))
			rec := do(t, srv, http.MethodPost, "/progress",
				`{"session_id":"frac","card_id":"`+card+`","action":"grade","grade":`+tc.grade+`,"at":"2025-01-01T00:00:00.000Z"}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = do(t, srv, http.MethodGet, "/progress?sid=frac", "")
			var snap domain.Snapshot
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
			st, ok := snap.Find(card)
			require.True(t, ok)
			require.NotNil(t, st.LastGrade)
			assert.Equal(t, tc.expected, *st.LastGrade)
			assert.Equal(t, tc.reps, st.Reps)
		})
	}
}

// stuckLocker never grants a lock; callers wait until their context ends.
type stuckLocker struct{}

func (stuckLocker) Lock(ctx context.Context, _ string) (context.Context, func(), error) {
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func TestLockWaitIsBoundedByRequestTimeout(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := NewServer(
		scheduler.New(store, stuckLocker{}, nil),
		progress.NewProcessor(store, stuckLocker{}, progress.DefaultAssessmentPolicy(), nil),
		nil,
		WithRequestTimeout(50*time.Millisecond),
	)

	testCases := map[string]string{
		"/progress": `{"session_id":"s","card_id":"c","action":"grade","grade":4,"at":"2025-01-01T00:00:00.000Z"}`,
		"/schedule": `{"session_id":"s","plan_id":"p","items":[{"id":"c"}]}`,
	}
	for path, body := range testCases {
		t.Run(path, func(t *testing.T) {
			done := make(chan *httptest.ResponseRecorder, 1)
			go func() { done <- do(t, srv, http.MethodPost, path, body) }()

			select {
			case rec := <-done:
				assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
				assert.Equal(t, CodeUnavailable, errorCode(t, rec))
			case <-time.After(5 * time.Second):
				t.Fatal("request waited on the session lock past its timeout")
			}
		})
	}
}

type brokenWriter struct{ header http.Header }

func (b *brokenWriter) Header() http.Header { return b.header }
func (b *brokenWriter) WriteHeader(int)     {}
func (b *brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestWriteJSONLogsEncodeFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	writeJSON(logger, &brokenWriter{header: http.Header{}}, http.StatusOK, okResponse{OK: true})

	assert.Contains(t, buf.String(), "failed to write response body")
	assert.Contains(t, buf.String(), "connection reset by peer")
}
