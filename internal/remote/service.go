package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"pharmacy-favorites-sync/internal/store"
)

// Relations is the server's full view of the user's favorites.
type Relations struct {
	Deals      []store.EntityRef `json:"deals"`
	Pharmacies []store.EntityRef `json:"pharmacies"`
}

type AddResult struct {
	Entity store.EntityRef `json:"entity"`
}

// UnmarshalJSON accepts an entity without an id. The add is committed
// server-side, so the caller keys the entity by the id it requested.
func (a *AddResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Entity json.RawMessage `json:"entity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Entity = store.EntityRef{}
	if len(raw.Entity) == 0 || string(raw.Entity) == "null" {
		return nil
	}
	ref, err := store.DecodeEntityRef(raw.Entity)
	if err != nil {
		return err
	}
	a.Entity = ref
	return nil
}

// Service is the remote authority for favorite relations. Implementations
// return *Error for every failure.
type Service interface {
	GetAll(ctx context.Context) (Relations, error)
	Add(ctx context.Context, kind store.Kind, id string) (AddResult, error)
	Remove(ctx context.Context, kind store.Kind, id string) error
}

// Error is a transport failure normalized into a user-facing message.
type Error struct {
	Message    string
	StatusCode int
	Temporary  bool
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote: %s (status %d)", e.Message, e.StatusCode)
	}
	return "remote: " + e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
