// Package remote defines the persistence API the survey editor talks to.
//
// The editor never assumes a transport: the SQLite store implements API
// in-process and the HTTP client implements it over the wire.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"surveyor/internal/model"
)

// Fields is a partial field map with PATCH semantics. Updates may carry a
// "version" key; the store rejects the write with CodeConflict when it does
// not match the persisted version.
type Fields map[string]any

const FieldVersion = "version"

// Has reports whether any of keys is present.
func (f Fields) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := f[k]; ok {
			return true
		}
	}
	return false
}

// Decode copies f[key] into dst, converting through JSON so values that
// arrived over the wire (float64, json.RawMessage) land in typed fields.
// It reports whether key was present.
func (f Fields) Decode(key string, dst any) (bool, error) {
	v, ok := f[key]
	if !ok {
		return false, nil
	}
	var b []byte
	switch raw := v.(type) {
	case json.RawMessage:
		b = raw
	default:
		var err error
		if b, err = json.Marshal(v); err != nil {
			return true, NewInvalidError(fmt.Sprintf("%s: %v", key, err))
		}
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return true, NewInvalidError(fmt.Sprintf("%s: %v", key, err))
	}
	return true, nil
}

type API interface {
	GetSurvey(ctx context.Context, id model.ID) (model.Survey, error)
	CreateSurvey(ctx context.Context, fields Fields) (model.Survey, error)
	UpdateSurvey(ctx context.Context, id model.ID, fields Fields) (model.Survey, error)

	CreateGroup(ctx context.Context, surveyID model.ID, fields Fields) (model.Group, error)
	UpdateGroup(ctx context.Context, id model.ID, fields Fields) (model.Group, error)
	DeleteGroup(ctx context.Context, id model.ID) error

	CreateQuestion(ctx context.Context, groupID model.ID, fields Fields) (model.Question, error)
	UpdateQuestion(ctx context.Context, id model.ID, fields Fields) (model.Question, error)
	DeleteQuestion(ctx context.Context, id model.ID) error

	CreateOption(ctx context.Context, questionID model.ID, fields Fields) (model.Option, error)
	UpdateOption(ctx context.Context, id model.ID, fields Fields) (model.Option, error)
	DeleteOption(ctx context.Context, id model.ID) error

	UpdateSettings(ctx context.Context, questionID model.ID, settings model.QuestionSettings) (model.QuestionSettings, error)
}

type Code string

const (
	CodeInvalid     Code = "invalid"
	CodeNotFound    Code = "not_found"
	CodeConflict    Code = "conflict"
	CodeUnavailable Code = "unavailable"
	CodeForbidden   Code = "forbidden"
)

// Error is the persistence layer's classified failure.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

func NewInvalidError(msg string) error     { return &Error{Code: CodeInvalid, Message: msg} }
func NewNotFoundError(msg string) error    { return &Error{Code: CodeNotFound, Message: msg} }
func NewConflictError(msg string) error    { return &Error{Code: CodeConflict, Message: msg} }
func NewUnavailableError(msg string) error { return &Error{Code: CodeUnavailable, Message: msg} }
func NewForbiddenError(msg string) error   { return &Error{Code: CodeForbidden, Message: msg} }

func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// CodeOf returns the classified code of err, or CodeUnavailable for
// unclassified failures (network loss, timeouts).
func CodeOf(err error) Code {
	if re, ok := AsError(err); ok {
		return re.Code
	}
	return CodeUnavailable
}
