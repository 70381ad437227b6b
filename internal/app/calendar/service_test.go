package calendar

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRepository struct {
	events map[int64]Event
	nextID int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{events: map[int64]Event{}, nextID: 1}
}

func (f *fakeRepository) EnsureSchema(context.Context) error { return nil }

func (f *fakeRepository) Insert(_ context.Context, event Event) (Event, error) {
	event.ID = f.nextID
	f.nextID++
	event.CreatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.events[event.ID] = event
	return event, nil
}

func (f *fakeRepository) Update(_ context.Context, event Event) (Event, error) {
	current, ok := f.events[event.ID]
	if !ok || current.UserID != event.UserID {
		return Event{}, ErrNotFound
	}
	event.CreatedAt = current.CreatedAt
	f.events[event.ID] = event
	return event, nil
}

func (f *fakeRepository) Delete(_ context.Context, eventID, userID int64) error {
	current, ok := f.events[eventID]
	if !ok || current.UserID != userID {
		return ErrNotFound
	}
	delete(f.events, eventID)
	return nil
}

func (f *fakeRepository) GetByID(_ context.Context, eventID int64) (Event, error) {
	current, ok := f.events[eventID]
	if !ok {
		return Event{}, ErrNotFound
	}
	return current, nil
}

func (f *fakeRepository) ListForUser(_ context.Context, userID int64, rng Range) ([]Event, error) {
	var result []Event
	for _, e := range f.events {
		if e.UserID != userID {
			continue
		}
		if !rng.Start.IsZero() && e.StartTime.Before(rng.Start) {
			continue
		}
		if !rng.End.IsZero() && e.EndTime != nil && e.EndTime.After(rng.End) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func start() time.Time {
	return time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(newFakeRepository())

	if _, err := svc.Create(context.Background(), 1, CreateRequest{StartTime: start()}); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("expected ErrTitleRequired, got %v", err)
	}
	if _, err := svc.Create(context.Background(), 1, CreateRequest{Title: "Standup"}); !errors.Is(err, ErrStartRequired) {
		t.Fatalf("expected ErrStartRequired, got %v", err)
	}
}

func TestCreate_DefaultsColor(t *testing.T) {
	svc := NewService(newFakeRepository())
	created, err := svc.Create(context.Background(), 1, CreateRequest{Title: "Standup", StartTime: start()})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.Color != defaultColor {
		t.Fatalf("expected default color %q, got %q", defaultColor, created.Color)
	}
}

func TestUpdate_PartialAndOwnership(t *testing.T) {
	svc := NewService(newFakeRepository())
	end := start().Add(time.Hour)
	created, err := svc.Create(context.Background(), 1, CreateRequest{
		Title: "Standup", StartTime: start(), EndTime: &end, Color: "#ff0000",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	title := "Retro"
	updated, err := svc.Update(context.Background(), 1, created.ID, UpdateRequest{Title: &title})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Title != "Retro" || updated.Color != "#ff0000" || updated.EndTime == nil {
		t.Fatalf("untouched fields changed: %+v", updated)
	}

	updated, err = svc.Update(context.Background(), 1, created.ID, UpdateRequest{SetEndTime: true})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.EndTime != nil {
		t.Fatalf("end time not cleared: %v", updated.EndTime)
	}

	if _, err := svc.Update(context.Background(), 2, created.ID, UpdateRequest{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign event, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc := NewService(newFakeRepository())
	created, err := svc.Create(context.Background(), 1, CreateRequest{Title: "Standup", StartTime: start()})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := svc.Delete(context.Background(), 2, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign event, got %v", err)
	}
	if err := svc.Delete(context.Background(), 1, created.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := svc.Delete(context.Background(), 1, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
