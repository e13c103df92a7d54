package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrAlreadyHandled = errors.New("cpay error already handled")
	ErrInvalidRecord  = errors.New("invalid record")
	ErrAlreadyExists  = errors.New("record already exists")
)

type Todo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

// CpayError is a failed payment waiting for an operator to handle it.
type CpayError struct {
	ID           string     `json:"id" yaml:"id"`
	OrderNo      string     `json:"orderNo" yaml:"order_no"`
	Amount       int64      `json:"amount" yaml:"amount"` // minor units
	ErrorCode    string     `json:"errorCode" yaml:"error_code"`
	ErrorMessage string     `json:"errorMessage" yaml:"error_message"`
	Handled      bool       `json:"handled" yaml:"-"`
	Remark       string     `json:"remark,omitempty" yaml:"-"`
	CreatedAt    time.Time  `json:"createdAt" yaml:"created_at"`
	HandledAt    *time.Time `json:"handledAt,omitempty" yaml:"-"`
}

// TodoStore keeps todo items. List results are ordered by creation time.
type TodoStore interface {
	ListTodos(ctx context.Context) ([]Todo, error)
	GetTodo(ctx context.Context, id string) (Todo, error)
	AddTodo(ctx context.Context, t Todo) error
	// RenameTodo sets the title of an existing item and returns it.
	RenameTodo(ctx context.Context, id, title string) (Todo, error)
	// ToggleTodo flips completed of an existing item atomically and returns it.
	ToggleTodo(ctx context.Context, id string) (Todo, error)
	DeleteTodo(ctx context.Context, id string) error
	// DeleteCompleted removes every completed item and reports how many.
	DeleteCompleted(ctx context.Context) (int, error)
}

type CpayErrorStore interface {
	ListCpayErrors(ctx context.Context) ([]CpayError, error)
	// AddCpayError inserts e. An existing record with the same ID is left
	// untouched and ErrAlreadyExists is returned.
	AddCpayError(ctx context.Context, e CpayError) error
	// HandleCpayError marks a pending record handled. It fails with
	// ErrAlreadyHandled if another operator got there first.
	HandleCpayError(ctx context.Context, id, remark string, at time.Time) (CpayError, error)
}

// Store is implemented by InMemoryStore (local dev) and RedisStore.
type Store interface {
	TodoStore
	CpayErrorStore
}

func validateTodo(t Todo) error {
	if t.ID == "" || t.Title == "" {
		return ErrInvalidRecord
	}
	return nil
}

func validateCpayError(e CpayError) error {
	if e.ID == "" {
		return ErrInvalidRecord
	}
	return nil
}
