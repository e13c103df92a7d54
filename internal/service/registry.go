package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/lyhniupi1/flexgate/internal/dispatcher"
	"github.com/lyhniupi1/flexgate/internal/store"
	"github.com/lyhniupi1/flexgate/protocol"
)

// Business error codes reported in RESP_HEAD.ERROR_CODE.
const (
	CodeBadRequest              = "BAD_REQUEST"
	CodeTodoTitleRequired       = "TODO_TITLE_REQUIRED"
	CodeTodoNotFound            = "TODO_NOT_FOUND"
	CodeCpayErrorNotFound       = "CPAY_ERROR_NOT_FOUND"
	CodeCpayErrorAlreadyHandled = "CPAY_ERROR_ALREADY_HANDLED"
)

// Service implements the backend processes on top of a store.
type Service struct {
	store store.Store
	now   func() time.Time
	newID func() string
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides uuid.NewString for new records.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandlers wires every process to reg.
//
// This keeps the server thin and lets the store be swapped (in-memory or
// Redis) without touching the transport.
func (s *Service) RegisterHandlers(reg *dispatcher.Registry) {
	reg.Register(protocol.ProcessQueryTodoList, s.queryTodoList)
	reg.Register(protocol.ProcessAddTodo, s.addTodo)
	reg.Register(protocol.ProcessUpdateTodo, s.updateTodo)
	reg.Register(protocol.ProcessToggleTodo, s.toggleTodo)
	reg.Register(protocol.ProcessDeleteTodo, s.deleteTodo)
	reg.Register(protocol.ProcessClearCompletedTodo, s.clearCompletedTodo)

	reg.Register(protocol.ProcessQueryCpayTotalError, s.queryCpayTotalError)
	reg.Register(protocol.ProcessHandleCpayError, s.handleCpayError)
}

func badRequest(err error) error {
	return &protocol.BusinessError{Code: CodeBadRequest, Message: err.Error()}
}
