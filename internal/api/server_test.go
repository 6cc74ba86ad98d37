package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"weekplan/internal/domain"
	"weekplan/internal/engine"
	"weekplan/internal/lock"
	"weekplan/internal/store"
)

// Monday 07:00.
var now = time.Date(2030, 10, 14, 7, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))

	repo := store.NewSQLiteRepo(db)
	clock := func() time.Time { return now }
	sched := engine.NewScheduler(repo, engine.Options{Clock: clock})
	return NewServer(repo, sched, Options{Horizon: "14 D", Clock: clock})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "weekplan_up 1")
}

func TestScheduleThroughAPI(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/blocks", map[string]any{"id": "mon", "start": 28800, "end": 57600})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/tasks", map[string]any{
		"id": "B", "duration": 1800, "urgency": 2, "due": now.Add(10 * 24 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/api/tasks", map[string]any{
		"id": "A", "duration": 3600, "urgency": 5, "due": now.Add(24 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/schedule", map[string]any{"horizon": "14 D"})
	require.Equal(t, 200, rec.Code, rec.Body.String())
	run := decode[runView](t, rec)
	require.Len(t, run.Placed, 2)
	assert.Empty(t, run.Unplaced)
	assert.Equal(t, "A", run.Placed[0].TaskID)
	assert.True(t, run.Placed[0].Start.Equal(now.Add(2*time.Hour)), "A at 09:00, got %v", run.Placed[0].Start)
	assert.True(t, run.Placed[1].Start.Equal(now.Add(3*time.Hour+5*time.Minute)), "B at 10:05, got %v", run.Placed[1].Start)

	rec = do(t, h, http.MethodGet, "/api/tasks/A", nil)
	require.Equal(t, 200, rec.Code)
	assert.True(t, decode[taskView](t, rec).Scheduled)

	rec = do(t, h, http.MethodGet, "/api/agenda?horizon=7%20D", nil)
	require.Equal(t, 200, rec.Code)
	days := decode[[]agendaDay](t, rec)
	require.Len(t, days, 1)
	assert.Equal(t, "Monday, October 14", days[0].Date)
	require.Len(t, days[0].Events, 2)
	assert.Equal(t, "09:00 AM", days[0].Events[0].Start)
	assert.Equal(t, "10:35 AM", days[0].Events[1].End)

	rec = do(t, h, http.MethodGet, "/api/agenda?format=text", nil)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "Monday, October 14\n  09:00 AM - 10:00 AM  A")

	rec = do(t, h, http.MethodGet, "/api/runs", nil)
	require.Equal(t, 200, rec.Code)
	runs := decode[[]store.RunRecord](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].ID)

	rec = do(t, h, http.MethodPost, "/api/schedule", nil)
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Empty(t, decode[runView](t, rec).Placed)
}

func TestUnscheduleFreesTheSlot(t *testing.T) {
	h := newTestServer(t)
	do(t, h, http.MethodPost, "/api/blocks", map[string]any{"start": 28800, "end": 57600})
	do(t, h, http.MethodPost, "/api/tasks", map[string]any{"id": "A", "duration": 3600, "urgency": 3, "due": now.Add(48 * time.Hour)})
	require.Equal(t, 200, do(t, h, http.MethodPost, "/api/schedule", nil).Code)

	rec := do(t, h, http.MethodPost, "/api/tasks/A/unschedule", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	events := decode[[]eventView](t, do(t, h, http.MethodGet, "/api/events", nil))
	assert.Empty(t, events)

	rec = do(t, h, http.MethodPatch, "/api/tasks/A", map[string]any{"urgency": 5})
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decode[taskView](t, rec).Urgency)

	rec = do(t, h, http.MethodPost, "/api/schedule", nil)
	require.Len(t, decode[runView](t, rec).Placed, 1)

	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/tasks/A/complete", nil).Code)
	tasks := decode[[]taskView](t, do(t, h, http.MethodGet, "/api/tasks", nil))
	assert.Empty(t, tasks)
	tasks = decode[[]taskView](t, do(t, h, http.MethodGet, "/api/tasks?all=true", nil))
	assert.Len(t, tasks, 1)
}

func TestEventsAndBlocksCRUD(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/events", map[string]any{
		"id": "dentist", "description": "checkup", "start": now.Add(time.Hour), "end": now.Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/api/events", map[string]any{
		"id": "dentist", "start": now.Add(3 * time.Hour), "end": now.Add(4 * time.Hour),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	events := decode[[]eventView](t, do(t, h, http.MethodGet, "/api/events?horizon=1%20D", nil))
	require.Len(t, events, 1)
	assert.Equal(t, "checkup", events[0].Description)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/events/dentist", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/events/dentist", nil).Code)

	rec = do(t, h, http.MethodPost, "/api/blocks", map[string]any{"start": 100, "end": 50})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/blocks", map[string]any{"id": "tue", "start": 86400 + 32400, "end": 86400 + 61200})
	require.Equal(t, http.StatusCreated, rec.Code)
	blocks := decode[[]blockReq](t, do(t, h, http.MethodGet, "/api/blocks", nil))
	require.Len(t, blocks, 1)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/blocks/tue", nil).Code)
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/tasks", map[string]any{"id": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/tasks", map[string]any{
		"duration": 60, "urgency": 9, "due": now,
	}).Code)

	task := map[string]any{"id": "dup", "duration": 60, "urgency": 3, "due": now}
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/tasks", task).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/tasks", task).Code)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/tasks/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/tasks/missing/complete", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/schedule", map[string]any{"horizon": "2 W"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/agenda?horizon=soon", nil).Code)
}

func TestWriteErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("horizon: %w", engine.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("task x: %w", store.ErrInvalid), http.StatusBadRequest},
		{fmt.Errorf("task x: %w", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("task x: %w", store.ErrExists), http.StatusConflict},
		{fmt.Errorf("%w: commit run: %w", engine.ErrStorage, store.ErrConflict), http.StatusConflict},
		{fmt.Errorf("acquire run lock: %w", lock.ErrTimeout), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: read tasks: disk", engine.ErrStorage), http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, c.err)
		assert.Equal(t, c.code, rec.Code, c.err.Error())
	}
}

type stuckRunner struct{}

func (stuckRunner) ScheduleTasks(ctx context.Context, horizon string) (domain.RunReport, error) {
	return domain.RunReport{}, fmt.Errorf("acquire run lock: %w", lock.ErrTimeout)
}

func TestScheduleWhileAnotherRunHoldsTheLock(t *testing.T) {
	db, err := sql.Open("sqlite", "file:stuck?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))

	h := NewServer(store.NewSQLiteRepo(db), stuckRunner{}, Options{})
	rec := do(t, h, http.MethodPost, "/api/schedule", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
