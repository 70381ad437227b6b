package calendar

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrTitleRequired = errors.New("title is required")
	ErrStartRequired = errors.New("start_time is required")
)

const defaultColor = "#667eea"

type Service struct {
	Repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{Repo: repo}
}

type CreateRequest struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     *time.Time
	AllDay      bool
	Color       string
}

type UpdateRequest struct {
	Title       *string
	Description *string
	StartTime   *time.Time
	EndTime     *time.Time
	SetEndTime  bool
	AllDay      *bool
	Color       *string
}

func (s *Service) Create(ctx context.Context, userID int64, req CreateRequest) (Event, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return Event{}, ErrTitleRequired
	}
	if req.StartTime.IsZero() {
		return Event{}, ErrStartRequired
	}
	color := req.Color
	if color == "" {
		color = defaultColor
	}
	return s.Repo.Insert(ctx, Event{
		UserID:      userID,
		Title:       title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		AllDay:      req.AllDay,
		Color:       color,
	})
}

func (s *Service) Update(ctx context.Context, userID, eventID int64, req UpdateRequest) (Event, error) {
	current, err := s.Repo.GetByID(ctx, eventID)
	if err != nil {
		return Event{}, err
	}
	if current.UserID != userID {
		return Event{}, ErrNotFound
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return Event{}, ErrTitleRequired
		}
		current.Title = title
	}
	if req.Description != nil {
		current.Description = *req.Description
	}
	if req.StartTime != nil {
		current.StartTime = *req.StartTime
	}
	if req.SetEndTime {
		current.EndTime = req.EndTime
	}
	if req.AllDay != nil {
		current.AllDay = *req.AllDay
	}
	if req.Color != nil && *req.Color != "" {
		current.Color = *req.Color
	}

	return s.Repo.Update(ctx, current)
}

func (s *Service) Delete(ctx context.Context, userID, eventID int64) error {
	return s.Repo.Delete(ctx, eventID, userID)
}

func (s *Service) List(ctx context.Context, userID int64, rng Range) ([]Event, error) {
	return s.Repo.ListForUser(ctx, userID, rng)
}
