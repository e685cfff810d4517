package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is the category of a favorited entity.
type Kind string

const (
	KindDeal     Kind = "deal"
	KindPharmacy Kind = "pharmacy"
)

// Kinds lists every relation kind in a stable order.
var Kinds = []Kind{KindDeal, KindPharmacy}

var ErrUnknownKind = errors.New("unknown relation kind")

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDeal, KindPharmacy:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) Valid() bool {
	return k == KindDeal || k == KindPharmacy
}

// EntityRef references a favorited entity. A ref with no Attrs is a
// placeholder inserted before the server has confirmed the relation.
// On the wire it is a flat object: {"id":"42","name":"Aspirin"}.
type EntityRef struct {
	ID    string
	Attrs map[string]any
}

func Placeholder(id string) EntityRef {
	return EntityRef{ID: id}
}

func (r EntityRef) IsPlaceholder() bool {
	return len(r.Attrs) == 0
}

func (r EntityRef) Clone() EntityRef {
	if r.Attrs == nil {
		return EntityRef{ID: r.ID}
	}
	attrs := make(map[string]any, len(r.Attrs))
	for k, v := range r.Attrs {
		attrs[k] = v
	}
	return EntityRef{ID: r.ID, Attrs: attrs}
}

func (r EntityRef) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Attrs)+1)
	for k, v := range r.Attrs {
		out[k] = v
	}
	out["id"] = r.ID
	return json.Marshal(out)
}

func (r *EntityRef) UnmarshalJSON(data []byte) error {
	ref, err := DecodeEntityRef(data)
	if err != nil {
		return err
	}
	if ref.ID == "" {
		return errors.New("entity ref: missing id")
	}
	*r = ref
	return nil
}

// DecodeEntityRef decodes a flat entity object, allowing the id to be
// absent. Numeric ids keep their literal digits.
func DecodeEntityRef(data []byte) (EntityRef, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return EntityRef{}, err
	}

	var ref EntityRef
	if id, ok := raw["id"]; ok && string(id) != "null" {
		if len(id) > 0 && id[0] == '"' {
			if err := json.Unmarshal(id, &ref.ID); err != nil {
				return EntityRef{}, err
			}
		} else {
			var n json.Number
			if err := json.Unmarshal(id, &n); err != nil {
				return EntityRef{}, fmt.Errorf("entity ref: unsupported id %s", id)
			}
			ref.ID = n.String()
		}
	}
	delete(raw, "id")

	if len(raw) > 0 {
		ref.Attrs = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return EntityRef{}, err
			}
			ref.Attrs[k] = val
		}
	}
	return ref, nil
}

// FavoriteState is the user's favorites grouped by kind.
type FavoriteState struct {
	Deals      []EntityRef `json:"deals"`
	Pharmacies []EntityRef `json:"pharmacies"`
}

func (s FavoriteState) ByKind(kind Kind) []EntityRef {
	switch kind {
	case KindDeal:
		return s.Deals
	case KindPharmacy:
		return s.Pharmacies
	}
	return nil
}

// Snapshot row persisted for warm starts.
type SnapshotEntry struct {
	Owner     string    `db:"owner"`
	Kind      string    `db:"kind"`
	Position  int       `db:"position"`
	EntityID  string    `db:"entity_id"`
	Payload   []byte    `db:"payload"`
	UpdatedAt time.Time `db:"updated_at"`
}

type SyncHistory struct {
	ID           string         `db:"id"`
	StartedAt    time.Time      `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	Operation    string         `db:"operation"`
	Kind         sql.NullString `db:"kind"`
	EntityID     sql.NullString `db:"entity_id"`
	Status       string         `db:"status"`
	ErrorMessage sql.NullString `db:"error_message"`
}
