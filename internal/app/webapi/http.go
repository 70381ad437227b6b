package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tasksync/backend/internal/app/calendar"
	"github.com/tasksync/backend/internal/app/identity"
	"github.com/tasksync/backend/internal/app/tasks"
	platformauth "github.com/tasksync/backend/internal/platform/auth"
	"github.com/tasksync/backend/internal/syncproto"
)

type Handler struct {
	Identity      *identity.Service
	Tasks         *tasks.Service
	Calendar      *calendar.Service
	AllowedOrigin string
}

func NewHandler(identitySvc *identity.Service, taskSvc *tasks.Service, calendarSvc *calendar.Service, allowedOrigin string) *Handler {
	return &Handler{
		Identity:      identitySvc,
		Tasks:         taskSvc,
		Calendar:      calendarSvc,
		AllowedOrigin: allowedOrigin,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/api/auth/register", h.handleRegister)
	r.Post("/api/auth/login", h.handleLogin)
	r.Post("/api/auth/logout", h.handleLogout)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)
		authR.Get("/api/auth/me", h.handleMe)

		authR.Get("/api/tasks", h.handleListTasks)
		authR.Post("/api/tasks", h.handleCreateTask)
		authR.Put("/api/tasks/{taskID}", h.handleUpdateTask)
		authR.Delete("/api/tasks/{taskID}", h.handleDeleteTask)

		authR.Get("/api/calendar", h.handleListEvents)
		authR.Post("/api/calendar", h.handleCreateEvent)
		authR.Put("/api/calendar/{eventID}", h.handleUpdateEvent)
		authR.Delete("/api/calendar/{eventID}", h.handleDeleteEvent)

		authR.Get("/api/stats", h.handleStats)
	})

	return r
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Register(r.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidUsername), errors.Is(err, identity.ErrInvalidPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
				h.writeError(w, http.StatusConflict, "username already exists")
				return
			}
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, _ *http.Request) {
	// Tokens are stateless; the client discards its copy.
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	profile, err := h.Identity.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]identity.Profile{"user": profile})
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
	Priority    string `json:"priority"`
}

type updateTaskRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Completed   *bool           `json:"completed"`
	DueDate     json.RawMessage `json:"due_date"`
	Priority    *string         `json:"priority"`
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	list, err := h.Tasks.List(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]tasks.Task{"tasks": list})
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	var dueDate *time.Time
	if req.DueDate != "" {
		parsed, err := syncproto.ParseTimestamp(req.DueDate)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid due_date")
			return
		}
		dueDate = &parsed
	}

	claims := claimsFromContext(r.Context())
	task, err := h.Tasks.Create(r.Context(), claims.UserID, tasks.CreateRequest{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     dueDate,
		Priority:    req.Priority,
	})
	if err != nil {
		h.writeTaskError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]tasks.Task{"task": task})
}

func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.pathID(w, r, "taskID")
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	update := tasks.UpdateRequest{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
		Priority:    req.Priority,
	}
	if len(req.DueDate) > 0 {
		update.SetDueDate = true
		dueDate, err := parseOptionalTime(req.DueDate)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid due_date")
			return
		}
		update.DueDate = dueDate
	}

	claims := claimsFromContext(r.Context())
	task, err := h.Tasks.Update(r.Context(), claims.UserID, taskID, update)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]tasks.Task{"task": task})
}

func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.pathID(w, r, "taskID")
	if !ok {
		return
	}
	claims := claimsFromContext(r.Context())
	if _, err := h.Tasks.Delete(r.Context(), claims.UserID, taskID); err != nil {
		h.writeTaskError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"task_id": taskID})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	stats, err := h.Tasks.Stats(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrTitleRequired), errors.Is(err, tasks.ErrInvalidPriority):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tasks.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type createEventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	AllDay      bool   `json:"all_day"`
	Color       string `json:"color"`
}

type updateEventRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	StartTime   *string         `json:"start_time"`
	EndTime     json.RawMessage `json:"end_time"`
	AllDay      *bool           `json:"all_day"`
	Color       *string         `json:"color"`
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var rng calendar.Range
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := syncproto.ParseTimestamp(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid start")
			return
		}
		rng.Start = parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := syncproto.ParseTimestamp(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid end")
			return
		}
		rng.End = parsed
	}

	claims := claimsFromContext(r.Context())
	events, err := h.Calendar.List(r.Context(), claims.UserID, rng)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]calendar.Event{"events": events})
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	create := calendar.CreateRequest{
		Title:       req.Title,
		Description: req.Description,
		AllDay:      req.AllDay,
		Color:       req.Color,
	}
	if req.StartTime != "" {
		parsed, err := syncproto.ParseTimestamp(req.StartTime)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid start_time")
			return
		}
		create.StartTime = parsed
	}
	if req.EndTime != "" {
		parsed, err := syncproto.ParseTimestamp(req.EndTime)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid end_time")
			return
		}
		create.EndTime = &parsed
	}

	claims := claimsFromContext(r.Context())
	event, err := h.Calendar.Create(r.Context(), claims.UserID, create)
	if err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]calendar.Event{"event": event})
}

func (h *Handler) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	var req updateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	update := calendar.UpdateRequest{
		Title:       req.Title,
		Description: req.Description,
		AllDay:      req.AllDay,
		Color:       req.Color,
	}
	if req.StartTime != nil {
		parsed, err := syncproto.ParseTimestamp(*req.StartTime)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid start_time")
			return
		}
		update.StartTime = &parsed
	}
	if len(req.EndTime) > 0 {
		update.SetEndTime = true
		endTime, err := parseOptionalTime(req.EndTime)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid end_time")
			return
		}
		update.EndTime = endTime
	}

	claims := claimsFromContext(r.Context())
	event, err := h.Calendar.Update(r.Context(), claims.UserID, eventID, update)
	if err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]calendar.Event{"event": event})
}

func (h *Handler) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	claims := claimsFromContext(r.Context())
	if err := h.Calendar.Delete(r.Context(), claims.UserID, eventID); err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"event_id": eventID})
}

func (h *Handler) writeEventError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calendar.ErrTitleRequired), errors.Is(err, calendar.ErrStartRequired):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, calendar.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseOptionalTime(raw json.RawMessage) (*time.Time, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	t, err := syncproto.ParseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := h.AllowedOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

type claimsContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Identity.AuthToken.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func contextWithClaims(ctx context.Context, claims platformauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}
