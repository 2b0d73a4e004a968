package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/db"
)

// Kind is the stable identifier clients switch on.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindPageBlocked       Kind = "PageBlocked"
	KindDrawDateMismatch  Kind = "DrawDateMismatch"
	KindNumberConflict    Kind = "NumberConflict"
	KindNotFound          Kind = "NotFound"
	KindInvalidTransition Kind = "InvalidTransition"
	KindAlreadyInState    Kind = "AlreadyInState"
	KindTransientConflict Kind = "TransientConflict"
	KindTimeout           Kind = "Timeout"
	KindStoreFailure      Kind = "StoreFailure"
)

// Error is the error type every service operation returns.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on Kind, so errors.Is(err, ErrNumberConflict) works for any
// conflict regardless of the numbers involved.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrPageBlocked       = &Error{Kind: KindPageBlocked}
	ErrDrawDateMismatch  = &Error{Kind: KindDrawDateMismatch}
	ErrNumberConflict    = &Error{Kind: KindNumberConflict}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrAlreadyInState    = &Error{Kind: KindAlreadyInState}
	ErrTransientConflict = &Error{Kind: KindTransientConflict}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrStoreFailure      = &Error{Kind: KindStoreFailure}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

// AsError extracts the service error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// translate turns whatever came back from the store into a service error.
// Backend messages are logged, never returned.
func translate(log logrus.FieldLogger, op string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Kind: KindTimeout, Message: "operation deadline exceeded", cause: err}
	case errors.Is(err, db.ErrConflict):
		log.WithField("op", op).WithError(err).Warn("transaction retry budget exhausted")
		return &Error{Kind: KindTransientConflict, Message: "too much contention, try again", cause: err}
	case errors.Is(err, db.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: "not found", cause: err}
	}

	log.WithField("op", op).WithError(err).Error("store failure")
	return &Error{Kind: KindStoreFailure, Message: "storage error", cause: err}
}
