package sync

import (
	"fmt"

	"pharmacy-favorites-sync/internal/store"
)

type OpType string

const (
	OpFetch     OpType = "fetch"
	OpAdd       OpType = "add"
	OpRemove    OpType = "remove"
	OpReconcile OpType = "reconcile"
)

// Key identifies one relation.
type Key struct {
	Kind store.Kind
	ID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Kind, k.ID)
}

// Status mirrors the engine's loading, error and initialization flags.
type Status struct {
	IsLoading     bool   `json:"isLoading"`
	Error         string `json:"error,omitempty"`
	IsInitialized bool   `json:"isInitialized"`
}
