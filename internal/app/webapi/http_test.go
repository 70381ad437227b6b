package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tasksync/backend/internal/app/calendar"
	"github.com/tasksync/backend/internal/app/identity"
	"github.com/tasksync/backend/internal/app/tasks"
	"github.com/tasksync/backend/internal/platform/auth"
)

type memUserRepo struct {
	byUsername map[string]identity.User
	nextID     int64
}

func (m *memUserRepo) EnsureSchema(context.Context) error { return nil }

func (m *memUserRepo) CreateUser(_ context.Context, user identity.User) (identity.User, error) {
	user.ID = m.nextID
	m.nextID++
	user.CreatedAt = time.Now().UTC()
	m.byUsername[user.Username] = user
	return user, nil
}

func (m *memUserRepo) FindUserByUsername(_ context.Context, username string) (identity.User, error) {
	u, ok := m.byUsername[username]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

func (m *memUserRepo) FindUserByID(_ context.Context, userID int64) (identity.User, error) {
	for _, u := range m.byUsername {
		if u.ID == userID {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrNotFound
}

type memTaskRepo struct {
	tasks  map[int64]tasks.Task
	nextID int64
}

func (m *memTaskRepo) EnsureSchema(context.Context) error { return nil }

func (m *memTaskRepo) Insert(_ context.Context, task tasks.Task) (tasks.Task, error) {
	task.ID = m.nextID
	m.nextID++
	task.CreatedAt = time.Now().UTC()
	task.UpdatedAt = task.CreatedAt
	m.tasks[task.ID] = task
	return task, nil
}

func (m *memTaskRepo) Update(_ context.Context, task tasks.Task) (tasks.Task, error) {
	current, ok := m.tasks[task.ID]
	if !ok || current.UserID != task.UserID {
		return tasks.Task{}, tasks.ErrNotFound
	}
	task.CreatedAt = current.CreatedAt
	m.tasks[task.ID] = task
	return task, nil
}

func (m *memTaskRepo) Delete(_ context.Context, taskID, userID int64) (tasks.Task, error) {
	current, ok := m.tasks[taskID]
	if !ok || current.UserID != userID {
		return tasks.Task{}, tasks.ErrNotFound
	}
	delete(m.tasks, taskID)
	return current, nil
}

func (m *memTaskRepo) GetByID(_ context.Context, taskID int64) (tasks.Task, error) {
	current, ok := m.tasks[taskID]
	if !ok {
		return tasks.Task{}, tasks.ErrNotFound
	}
	return current, nil
}

func (m *memTaskRepo) ListForUser(_ context.Context, userID int64) ([]tasks.Task, error) {
	result := make([]tasks.Task, 0)
	for _, t := range m.tasks {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *memTaskRepo) StatsForUser(_ context.Context, userID int64) (tasks.Stats, error) {
	var s tasks.Stats
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		s.TotalTasks++
		if t.Completed {
			s.CompletedTasks++
		} else {
			s.PendingTasks++
		}
	}
	return s, nil
}

type memEventRepo struct {
	events map[int64]calendar.Event
	nextID int64
}

func (m *memEventRepo) EnsureSchema(context.Context) error { return nil }

func (m *memEventRepo) Insert(_ context.Context, event calendar.Event) (calendar.Event, error) {
	event.ID = m.nextID
	m.nextID++
	event.CreatedAt = time.Now().UTC()
	m.events[event.ID] = event
	return event, nil
}

func (m *memEventRepo) Update(_ context.Context, event calendar.Event) (calendar.Event, error) {
	current, ok := m.events[event.ID]
	if !ok || current.UserID != event.UserID {
		return calendar.Event{}, calendar.ErrNotFound
	}
	m.events[event.ID] = event
	return event, nil
}

func (m *memEventRepo) Delete(_ context.Context, eventID, userID int64) error {
	current, ok := m.events[eventID]
	if !ok || current.UserID != userID {
		return calendar.ErrNotFound
	}
	delete(m.events, eventID)
	return nil
}

func (m *memEventRepo) GetByID(_ context.Context, eventID int64) (calendar.Event, error) {
	current, ok := m.events[eventID]
	if !ok {
		return calendar.Event{}, calendar.ErrNotFound
	}
	return current, nil
}

func (m *memEventRepo) ListForUser(_ context.Context, userID int64, _ calendar.Range) ([]calendar.Event, error) {
	result := make([]calendar.Event, 0)
	for _, e := range m.events {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func newTestHandler() http.Handler {
	userRepo := &memUserRepo{byUsername: map[string]identity.User{}, nextID: 1}
	taskRepo := &memTaskRepo{tasks: map[int64]tasks.Task{}, nextID: 1}
	eventRepo := &memEventRepo{events: map[int64]calendar.Event{}, nextID: 1}

	identitySvc := identity.NewService(userRepo, auth.NewManager("test-secret", time.Hour))
	taskSvc := tasks.NewService(taskRepo, nil)
	calendarSvc := calendar.NewService(eventRepo)
	return NewHandler(identitySvc, taskSvc, calendarSvc, "").Router()
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "",
		`{"username":"alice","password":"correct horse","email":"alice@example.com"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp identity.AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("register response invalid: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("register did not return a token")
	}
	return resp.Token
}

func TestAuthFlow(t *testing.T) {
	h := newTestHandler()
	registerAndLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", "",
		`{"username":"alice","password":"correct horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "",
		`{"username":"alice","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", rec.Code)
	}
}

func TestTasksRequireAuth(t *testing.T) {
	h := newTestHandler()

	rec := doJSON(t, h, http.MethodGet, "/api/tasks", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/tasks", "not.a.token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestTaskLifecycle(t *testing.T) {
	h := newTestHandler()
	token := registerAndLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/tasks", token,
		`{"title":"Buy milk","priority":"high","due_date":"2026-03-05T09:00:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Task tasks.Task `json:"task"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("create response invalid: %v", err)
	}
	if created.Task.Priority != tasks.PriorityHigh || created.Task.DueDate == nil {
		t.Fatalf("unexpected created task: %+v", created.Task)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/tasks/1", token, `{"completed":true,"due_date":null}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Task tasks.Task `json:"task"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("update response invalid: %v", err)
	}
	if !updated.Task.Completed || updated.Task.DueDate != nil {
		t.Fatalf("explicit null must clear due_date: %+v", updated.Task)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/tasks", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/stats", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}
	var stats tasks.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("stats response invalid: %v", err)
	}
	if stats.TotalTasks != 1 || stats.CompletedTasks != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/tasks/1", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/tasks/1", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestCreateTask_BadInput(t *testing.T) {
	h := newTestHandler()
	token := registerAndLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/tasks", token, `{"title":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty title: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/tasks", token,
		`{"title":"Buy milk","due_date":"next tuesday"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad due_date: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/tasks/abc", token, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad task id: expected 400, got %d", rec.Code)
	}
}

func TestCalendarLifecycle(t *testing.T) {
	h := newTestHandler()
	token := registerAndLogin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/calendar", token,
		`{"title":"Standup","start_time":"2026-03-10T14:00:00Z"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create event: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/calendar", token, `{"title":"No start"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing start_time: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/calendar", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list events: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/calendar/1", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete event: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/calendar/1", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	h := newTestHandler()
	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow-origin: %q", got)
	}
}
