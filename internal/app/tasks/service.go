package tasks

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrTitleRequired   = errors.New("title is required")
	ErrInvalidPriority = errors.New("priority must be low, normal or high")
)

type MutationKind string

const (
	MutationCreated MutationKind = "created"
	MutationUpdated MutationKind = "updated"
	MutationDeleted MutationKind = "deleted"
)

// Broadcaster is notified synchronously right after a commit, with the
// projection read back from the store. A nil Broadcaster disables broadcast;
// mutations are never affected by what the broadcaster does with the call.
type Broadcaster interface {
	TaskCommitted(kind MutationKind, task Task)
}

type Service struct {
	Repo      Repository
	Broadcast Broadcaster
}

func NewService(repo Repository, broadcast Broadcaster) *Service {
	return &Service{Repo: repo, Broadcast: broadcast}
}

type CreateRequest struct {
	Title       string
	Description string
	DueDate     *time.Time
	Priority    string
}

// UpdateRequest carries only the fields present in the caller's payload;
// nil means "leave unchanged". SetDueDate distinguishes clearing the due
// date from not touching it.
type UpdateRequest struct {
	Title       *string
	Description *string
	Completed   *bool
	DueDate     *time.Time
	SetDueDate  bool
	Priority    *string
}

func validPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	default:
		return false
	}
}

func (s *Service) Create(ctx context.Context, userID int64, req CreateRequest) (Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return Task{}, ErrTitleRequired
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !validPriority(priority) {
		return Task{}, ErrInvalidPriority
	}

	committed, err := s.Repo.Insert(ctx, Task{
		UserID:      userID,
		Title:       title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Priority:    priority,
	})
	if err != nil {
		return Task{}, err
	}
	s.notify(MutationCreated, committed)
	return committed, nil
}

func (s *Service) Update(ctx context.Context, userID, taskID int64, req UpdateRequest) (Task, error) {
	current, err := s.Repo.GetByID(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if current.UserID != userID {
		return Task{}, ErrNotFound
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return Task{}, ErrTitleRequired
		}
		current.Title = title
	}
	if req.Description != nil {
		current.Description = *req.Description
	}
	if req.Completed != nil {
		current.Completed = *req.Completed
	}
	if req.SetDueDate {
		current.DueDate = req.DueDate
	}
	if req.Priority != nil {
		if !validPriority(*req.Priority) {
			return Task{}, ErrInvalidPriority
		}
		current.Priority = *req.Priority
	}

	committed, err := s.Repo.Update(ctx, current)
	if err != nil {
		return Task{}, err
	}
	s.notify(MutationUpdated, committed)
	return committed, nil
}

func (s *Service) Delete(ctx context.Context, userID, taskID int64) (Task, error) {
	deleted, err := s.Repo.Delete(ctx, taskID, userID)
	if err != nil {
		return Task{}, err
	}
	s.notify(MutationDeleted, deleted)
	return deleted, nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]Task, error) {
	return s.Repo.ListForUser(ctx, userID)
}

func (s *Service) Stats(ctx context.Context, userID int64) (Stats, error) {
	return s.Repo.StatsForUser(ctx, userID)
}

func (s *Service) notify(kind MutationKind, task Task) {
	if s.Broadcast == nil {
		return
	}
	s.Broadcast.TaskCommitted(kind, task)
}
