package service

import (
	"context"
	"errors"
	"strings"

	"github.com/lyhniupi1/flexgate/internal/store"
	"github.com/lyhniupi1/flexgate/protocol"
)

type todoListResponse struct {
	Items     []store.Todo `json:"items"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Pending   int          `json:"pending"`
}

type todoRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (s *Service) queryTodoList(ctx context.Context, env *protocol.RawEnvelope) (any, error) {
	items, err := s.store.ListTodos(ctx)
	if err != nil {
		return nil, err
	}
	resp := todoListResponse{Items: items, Total: len(items)}
	for _, t := range items {
		if t.Completed {
			resp.Completed++
		}
	}
	resp.Pending = resp.Total - resp.Completed
	return resp, nil
}

func (s *Service) addTodo(ctx context.Context, env *protocol.RawEnvelope) (any, error) {
	var req todoRequest
	if err := env.DecodeBody(&req); err != nil {
		return nil, badRequest(err)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, &protocol.BusinessError{Code: CodeTodoTitleRequired, Message: "title is required"}
	}

	t := store.Todo{ID: s.newID(), Title: title, CreatedAt: s.now()}
	if err := s.store.AddTodo(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) updateTodo(ctx context.Context, env *protocol.RawEnvelope) (any, error) {
	var req todoRequest
	if err := env.DecodeBody(&req); err != nil {
		return nil, badRequest(err)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, &protocol.BusinessError{Code: CodeTodoTitleRequired, Message: "title is required"}
	}

	t, err := s.store.RenameTodo(ctx, req.ID, title)
	if err != nil {
		return nil, todoError(err, req.ID)
	}
	return t, nil
}

func (s *Service) toggleTodo(ctx context.Context, env *protocol.RawEnvelope) (any, error) {
	var req todoRequest
	if err := env.DecodeBody(&req); err != nil {
		return nil, badRequest(err)
	}

	t, err := s.store.ToggleTodo(ctx, req.ID)
	if err != nil {
		return nil, todoError(err, req.ID)
	}
	return t, nil
}

func (s *Service) deleteTodo(ctx context.Context, env *protocol.RawEnvelope) (any, error) {
	var req todoRequest
	if err := env.DecodeBody(&req); err != nil {
		return nil, badRequest(err)
	}
	if err := s.store.DeleteTodo(ctx, req.ID); err != nil {
		return nil, todoError(err, req.ID)
	}
	return map[string]string{"id": req.ID}, nil
}

func (s *Service) clearCompletedTodo(ctx context.Context, env *protocol.RawEnvelope) (any, error) {
	n, err := s.store.DeleteCompleted(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{"removed": n}, nil
}

func todoError(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &protocol.BusinessError{Code: CodeTodoNotFound, Message: "no todo with id " + id}
	}
	return err
}
