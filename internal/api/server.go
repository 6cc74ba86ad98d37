package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"weekplan/internal/domain"
	"weekplan/internal/engine"
	"weekplan/internal/lock"
	"weekplan/internal/store"
	"weekplan/internal/timeutil"
)

// Runner is satisfied by *engine.Scheduler.
type Runner interface {
	ScheduleTasks(ctx context.Context, horizon string) (domain.RunReport, error)
}

type Server struct {
	r       *chi.Mux
	repo    store.Repository
	runner  Runner
	horizon string
	now     func() time.Time
}

type Options struct {
	// Horizon is used when a request names none.
	Horizon     string
	EnableDebug bool
	Clock       func() time.Time
}

func NewServer(repo store.Repository, runner Runner, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, repo: repo, runner: runner, horizon: opts.Horizon, now: opts.Clock}
	if s.horizon == "" {
		s.horizon = "14 D"
	}
	if s.now == nil {
		s.now = time.Now
	}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", s.createTask)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{id}", s.getTask)
		r.Patch("/tasks/{id}", s.updateTask)
		r.Post("/tasks/{id}/complete", s.completeTask)
		r.Post("/tasks/{id}/unschedule", s.unscheduleTask)
		r.Delete("/tasks/{id}", s.deleteTask)

		r.Post("/events", s.createEvent)
		r.Get("/events", s.listEvents)
		r.Delete("/events/{id}", s.deleteEvent)

		r.Post("/blocks", s.createBlock)
		r.Get("/blocks", s.listBlocks)
		r.Delete("/blocks/{id}", s.deleteBlock)

		r.Post("/schedule", s.schedule)
		r.Get("/runs", s.listRuns)
		r.Get("/agenda", s.agenda)
	})

	// Debug routes (pprof)
	if opts.EnableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.repo.ListTasks(r.Context(), false)
	if err != nil {
		writeError(w, err)
		return
	}
	var open, scheduled int
	for _, t := range tasks {
		if t.Scheduled {
			scheduled++
		} else {
			open++
		}
	}
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "weekplan_up 1\nweekplan_tasks_unscheduled %d\nweekplan_tasks_scheduled %d\n", open, scheduled)
}

type taskReq struct {
	ID       string     `json:"id"`
	Duration *int64     `json:"duration"` // seconds
	Urgency  *int       `json:"urgency"`
	Due      *time.Time `json:"due"`
}

type taskView struct {
	ID        string    `json:"id"`
	Duration  int64     `json:"duration"`
	Urgency   int       `json:"urgency"`
	Due       time.Time `json:"due"`
	Scheduled bool      `json:"scheduled"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

func newTaskView(t domain.Task) taskView {
	return taskView{
		ID: t.ID, Duration: t.Duration, Urgency: t.Urgency, Due: t.DueDate,
		Scheduled: t.Scheduled, Completed: t.Completed, CreatedAt: t.CreatedAt,
	}
}

type createResp struct {
	ID string `json:"id"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Duration == nil || req.Urgency == nil || req.Due == nil {
		http.Error(w, "duration, urgency and due are required", 400)
		return
	}
	t := domain.Task{ID: strings.TrimSpace(req.ID), Duration: *req.Duration, Urgency: *req.Urgency, DueDate: *req.Due}
	if err := validateTask(t); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	id, err := s.repo.CreateTask(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResp{ID: id})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	tasks, err := s.repo.ListTasks(r.Context(), all)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, newTaskView(t))
	}
	writeJSON(w, 200, out)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.repo.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, newTaskView(t))
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.repo.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Duration != nil {
		t.Duration = *req.Duration
	}
	if req.Urgency != nil {
		t.Urgency = *req.Urgency
	}
	if req.Due != nil {
		t.DueDate = *req.Due
	}
	if err := validateTask(t); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.repo.UpdateTask(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	t.Scheduled = false
	writeJSON(w, 200, newTaskView(t))
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.CompleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unscheduleTask(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.UnscheduleTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type eventReq struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type eventView struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	FromTask    bool      `json:"from_task"`
	Completed   bool      `json:"completed"`
}

func newEventView(e domain.Event) eventView {
	return eventView{ID: e.ID, Description: e.Description, Start: e.Start, End: e.End, FromTask: e.FromTask, Completed: e.Completed}
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req eventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Start.IsZero() || !req.End.After(req.Start) {
		http.Error(w, "start is required and end must be after start", 400)
		return
	}
	id, err := s.repo.CreateEvent(r.Context(), domain.Event{
		ID: strings.TrimSpace(req.ID), Description: req.Description, Start: req.Start, End: req.End,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResp{ID: id})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	events, _, err := s.window(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, newEventView(e))
	}
	writeJSON(w, 200, out)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type blockReq struct {
	ID    string `json:"id"`
	Start int64  `json:"start"` // seconds from Monday 00:00
	End   int64  `json:"end"`
}

func (s *Server) createBlock(w http.ResponseWriter, r *http.Request) {
	var req blockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Start < 0 || req.End <= req.Start || req.End > domain.WeekSeconds {
		http.Error(w, fmt.Sprintf("block offsets must satisfy 0 <= start < end <= %d", domain.WeekSeconds), 400)
		return
	}
	id, err := s.repo.CreateBlock(r.Context(), domain.Block{ID: strings.TrimSpace(req.ID), Start: req.Start, End: req.End})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResp{ID: id})
}

func (s *Server) listBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.repo.Blocks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]blockReq, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, blockReq{ID: b.ID, Start: b.Start, End: b.End})
	}
	writeJSON(w, 200, out)
}

func (s *Server) deleteBlock(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteBlock(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scheduleReq struct {
	Horizon string `json:"horizon"`
}

type placedView struct {
	TaskID      string    `json:"task_id"`
	Score       float64   `json:"score"`
	Urgency     int       `json:"urgency"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
}

type runView struct {
	RunID      string       `json:"run_id"`
	Now        time.Time    `json:"now"`
	Horizon    string       `json:"horizon"`
	FreeSlots  int          `json:"free_slots"`
	Placed     []placedView `json:"placed"`
	Unplaced   []string     `json:"unplaced"`
	FinishedAt time.Time    `json:"finished_at"`
}

func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
	}
	if req.Horizon == "" {
		req.Horizon = s.horizon
	}

	run, err := s.runner.ScheduleTasks(r.Context(), req.Horizon)
	if err != nil {
		writeError(w, err)
		return
	}
	view := runView{
		RunID: run.RunID, Now: run.Now, Horizon: run.Horizon, FreeSlots: run.FreeSlots,
		Placed: make([]placedView, 0, len(run.Placed)), Unplaced: append([]string{}, run.Unplaced...),
		FinishedAt: run.FinishedAt,
	}
	for _, p := range run.Placed {
		view.Placed = append(view.Placed, placedView{
			TaskID: p.Task.ID, Score: p.Task.Score, Urgency: p.Task.Urgency,
			Start: p.Event.Start, End: p.Event.End, Description: p.Event.Description,
		})
	}
	writeJSON(w, 200, view)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	runs, err := s.repo.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, 200, runs)
}

// window loads events between now and now+horizon, horizon taken from the
// query string or the server default.
func (s *Server) window(r *http.Request) ([]domain.Event, time.Time, error) {
	horizon := r.URL.Query().Get("horizon")
	if horizon == "" {
		horizon = s.horizon
	}
	span, err := timeutil.ParseHorizon(horizon)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", engine.ErrInvalidInput, err)
	}
	now := s.now()
	events, err := s.repo.EventsInWindow(r.Context(), now, now.Add(span))
	return events, now, err
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, store.ErrInvalid):
		code = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, store.ErrExists), errors.Is(err, store.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, lock.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), code)
}

func validateTask(t domain.Task) error {
	if t.Duration <= 0 {
		return errors.New("duration must be a positive number of seconds")
	}
	if t.Urgency < engine.MinUrgency || t.Urgency > engine.MaxUrgency {
		return fmt.Errorf("urgency must be within %d-%d", engine.MinUrgency, engine.MaxUrgency)
	}
	if t.DueDate.IsZero() {
		return errors.New("due is required")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
