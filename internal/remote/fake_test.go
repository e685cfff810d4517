package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy-favorites-sync/internal/store"
)

func TestFake_AddHydratesFromCatalogue(t *testing.T) {
	f := NewFake()
	aspirin := store.EntityRef{ID: "42", Attrs: map[string]any{"name": "Aspirin"}}
	f.SetEntity(store.KindDeal, aspirin)

	res, err := f.Add(context.Background(), store.KindDeal, "42")
	require.NoError(t, err)
	assert.Equal(t, aspirin, res.Entity)
	assert.Equal(t, []store.EntityRef{aspirin}, f.Favorites(store.KindDeal))

	require.NoError(t, f.Remove(context.Background(), store.KindDeal, "42"))
	assert.Empty(t, f.Favorites(store.KindDeal))
	assert.Equal(t, 1, f.Calls(OpAdd))
	assert.Equal(t, 1, f.Calls(OpRemove))
}

func TestFake_FailNextWrapsPlainErrors(t *testing.T) {
	f := NewFake()
	f.FailNext(OpGetAll, errors.New("boom"))

	_, err := f.GetAll(context.Background())
	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "boom", re.Message)

	_, err = f.GetAll(context.Background())
	assert.NoError(t, err, "failure applies to one call only")
}

func TestFake_HoldParksCall(t *testing.T) {
	f := NewFake()
	h := f.Hold(OpRemove)

	done := make(chan error, 1)
	go func() { done <- f.Remove(context.Background(), store.KindDeal, "1") }()

	select {
	case <-h.Entered():
	case <-time.After(time.Second):
		t.Fatal("call never entered")
	}

	select {
	case <-done:
		t.Fatal("held call returned early")
	default:
	}

	h.Release()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("held call never returned")
	}
}

func TestFake_HoldStaleReturnsEarlyRead(t *testing.T) {
	f := NewFake()
	f.SetFavorites(store.KindDeal, store.Placeholder("1"))
	h := f.HoldStale()

	done := make(chan Relations, 1)
	go func() {
		rel, err := f.GetAll(context.Background())
		assert.NoError(t, err)
		done <- rel
	}()

	select {
	case <-h.Entered():
	case <-time.After(time.Second):
		t.Fatal("call never entered")
	}
	_, err := f.Add(context.Background(), store.KindDeal, "2")
	require.NoError(t, err)
	h.Release()

	rel := <-done
	assert.Equal(t, []store.EntityRef{store.Placeholder("1")}, rel.Deals)
	assert.Len(t, f.Favorites(store.KindDeal), 2)
}
