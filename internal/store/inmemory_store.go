package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu sync.RWMutex

	todos      map[string]Todo
	cpayErrors map[string]CpayError
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		todos:      make(map[string]Todo),
		cpayErrors: make(map[string]CpayError),
	}
}

func (s *InMemoryStore) ListTodos(ctx context.Context) ([]Todo, error) {
	s.mu.RLock()
	out := make([]Todo, 0, len(s.todos))
	for _, t := range s.todos {
		out = append(out, t)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) GetTodo(ctx context.Context, id string) (Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.todos[id]
	if !ok {
		return Todo{}, ErrNotFound
	}
	return t, nil
}

func (s *InMemoryStore) AddTodo(ctx context.Context, t Todo) error {
	if err := validateTodo(t); err != nil {
		return err
	}
	s.mu.Lock()
	s.todos[t.ID] = t
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) RenameTodo(ctx context.Context, id, title string) (Todo, error) {
	if title == "" {
		return Todo{}, ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.todos[id]
	if !ok {
		return Todo{}, ErrNotFound
	}
	t.Title = title
	s.todos[id] = t
	return t, nil
}

func (s *InMemoryStore) ToggleTodo(ctx context.Context, id string) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.todos[id]
	if !ok {
		return Todo{}, ErrNotFound
	}
	t.Completed = !t.Completed
	s.todos[id] = t
	return t, nil
}

func (s *InMemoryStore) DeleteTodo(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.todos[id]; !ok {
		return ErrNotFound
	}
	delete(s.todos, id)
	return nil
}

func (s *InMemoryStore) DeleteCompleted(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.todos {
		if t.Completed {
			delete(s.todos, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ListCpayErrors(ctx context.Context) ([]CpayError, error) {
	s.mu.RLock()
	out := make([]CpayError, 0, len(s.cpayErrors))
	for _, e := range s.cpayErrors {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) AddCpayError(ctx context.Context, e CpayError) error {
	if err := validateCpayError(e); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cpayErrors[e.ID]; ok {
		return ErrAlreadyExists
	}
	s.cpayErrors[e.ID] = e
	return nil
}

func (s *InMemoryStore) HandleCpayError(ctx context.Context, id, remark string, at time.Time) (CpayError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cpayErrors[id]
	if !ok {
		return CpayError{}, ErrNotFound
	}
	if e.Handled {
		return e, ErrAlreadyHandled
	}
	e.Handled = true
	e.Remark = remark
	e.HandledAt = &at
	s.cpayErrors[id] = e
	return e, nil
}
