package service

import (
	"encoding/json"

	"github.com/alecgard/famledger/internal/apperr"
)

// Result is the envelope every facade operation returns. Error holds a
// message safe to show to end users.
type Result[T any] struct {
	Success bool
	Data    T
	Error   string
	Kind    apperr.Kind
}

// Err reconstructs a classifiable error from a failed result, or nil.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	return &Failure{Kind: r.Kind, Message: r.Error}
}

// MarshalJSON omits data from failures and error fields from successes.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	type envelope struct {
		Success bool        `json:"success"`
		Data    any         `json:"data,omitempty"`
		Error   string      `json:"error,omitempty"`
		Kind    apperr.Kind `json:"kind,omitempty"`
	}
	e := envelope{Success: r.Success, Error: r.Error, Kind: r.Kind}
	if r.Success {
		e.Data = r.Data
	}
	return json.Marshal(e)
}

// Failure is the error form of a failed Result.
type Failure struct {
	Kind    apperr.Kind
	Message string
}

func (f *Failure) Error() string { return f.Message }

func ok[T any](v T) Result[T] {
	return Result[T]{Success: true, Data: v}
}

func fail[T any](err error) Result[T] {
	return Result[T]{Error: apperr.Message(err), Kind: apperr.KindOf(err)}
}
