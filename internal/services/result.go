package services

import (
	"errors"

	"fincal/internal/core"
)

// ErrorKind classifies a failed Result for callers mapping it to a response.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindStore      ErrorKind = "store"
	KindInternal   ErrorKind = "internal"
)

// Result is returned by every AccountService operation instead of a bare
// error, so the HTTP layer can render success and failure uniformly.
type Result[T any] struct {
	Success bool
	Message string
	Data    T
	Err     error
}

func succeed[T any](data T, msg string) Result[T] {
	return Result[T]{Success: true, Message: msg, Data: data}
}

func fail[T any](err error) Result[T] {
	return Result[T]{Message: err.Error(), Err: err}
}

func (r Result[T]) Kind() ErrorKind {
	if r.Success || r.Err == nil {
		return KindNone
	}
	return KindOf(r.Err)
}

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, core.ErrValidation):
		return KindValidation
	case errors.Is(err, core.ErrNotFound):
		return KindNotFound
	case errors.Is(err, core.ErrConflict):
		return KindConflict
	case errors.Is(err, core.ErrStore):
		return KindStore
	default:
		return KindInternal
	}
}
