package editor

import (
	"errors"
	"fmt"

	"surveyor/internal/broadcast"
	"surveyor/internal/model"
	"surveyor/internal/remote"
)

type NotFoundError struct {
	Kind broadcast.Kind
	ID   model.ID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Kind, e.ID)
}

// PendingError is returned for operations that need a durable id while the
// entity is still waiting for the store to confirm its creation.
type PendingError struct {
	Kind broadcast.Kind
	ID   model.ID
}

func (e PendingError) Error() string {
	return fmt.Sprintf("%s %d is still being saved", e.Kind, e.ID)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConflictError means the store saw a newer version of the entity. It is
// never merged automatically; the caller must reload.
type ConflictError struct {
	Kind broadcast.Kind
	ID   model.ID
	Err  error
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %d was changed elsewhere; reload required", e.Kind, e.ID)
}

func (e ConflictError) Unwrap() error { return e.Err }

// RemoteError wraps a persistence failure that is not a conflict or a
// validation problem (network loss, outage, unclassified errors).
type RemoteError struct {
	Op  string
	Err error
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e RemoteError) Unwrap() error { return e.Err }

// classify maps a persistence error to the editor's taxonomy.
func classify(op string, kind broadcast.Kind, id model.ID, err error) error {
	if err == nil {
		return nil
	}
	var (
		ce ConflictError
		ve ValidationError
		re RemoteError
	)
	if errors.As(err, &ce) || errors.As(err, &ve) || errors.As(err, &re) {
		return err
	}
	switch remote.CodeOf(err) {
	case remote.CodeConflict, remote.CodeNotFound:
		return ConflictError{Kind: kind, ID: id, Err: err}
	case remote.CodeInvalid:
		msg := err.Error()
		if rerr, ok := remote.AsError(err); ok {
			msg = rerr.Message
		}
		return ValidationError{Message: msg}
	default:
		return RemoteError{Op: op, Err: err}
	}
}

// Message turns an editor error into a short human-readable message for
// the UI boundary.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var (
		ce ConflictError
		ve ValidationError
		pe PendingError
		nf NotFoundError
		re RemoteError
	)
	switch {
	case errors.As(err, &ce):
		return "This item was changed by someone else. Reload to continue."
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &pe):
		return "Still saving, try again in a moment."
	case errors.As(err, &nf):
		return nf.Error()
	case errors.As(err, &re):
		if remote.CodeOf(re.Err) == remote.CodeForbidden {
			return "You are not allowed to edit this survey."
		}
		return "Could not save your change. Please try again."
	default:
		return err.Error()
	}
}

// IsReloadRequired reports whether err means the local model is out of date.
func IsReloadRequired(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}
