package sync

import (
	"errors"
	"fmt"

	"pharmacy-favorites-sync/internal/remote"
	"pharmacy-favorites-sync/internal/store"
)

var ErrEmptyID = errors.New("relation id is empty")

// FetchError reports a failed full load. The cache keeps its last good state.
type FetchError struct {
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "fetch favorites: " + e.Message
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MutationError reports a failed add or remove. The cache has been rolled
// back to its state before the call.
type MutationError struct {
	Op      OpType
	Kind    store.Kind
	ID      string
	Message string
	Err     error
}

func (e *MutationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s/%s: %s", e.Op, e.Kind, e.ID, e.Message)
}

func (e *MutationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func messageOf(err error) string {
	var re *remote.Error
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return err.Error()
}

func validateKey(kind store.Kind, id string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", store.ErrUnknownKind, kind)
	}
	if id == "" {
		return ErrEmptyID
	}
	return nil
}
