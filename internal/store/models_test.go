package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityRef_JSONIsFlat(t *testing.T) {
	ref := EntityRef{ID: "42", Attrs: map[string]any{"name": "Aspirin"}}

	data, err := json.Marshal(ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42","name":"Aspirin"}`, string(data))

	var back EntityRef
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ref, back)
}

func TestEntityRef_UnmarshalPlaceholder(t *testing.T) {
	var ref EntityRef
	require.NoError(t, json.Unmarshal([]byte(`{"id":"9"}`), &ref))
	assert.True(t, ref.IsPlaceholder())
	assert.Nil(t, ref.Attrs)
}

func TestEntityRef_UnmarshalNumericID(t *testing.T) {
	var ref EntityRef
	require.NoError(t, json.Unmarshal([]byte(`{"id":17,"city":"Oslo"}`), &ref))
	assert.Equal(t, "17", ref.ID)
	assert.Equal(t, "Oslo", ref.Attrs["city"])

	require.NoError(t, json.Unmarshal([]byte(`{"id":1234567}`), &ref))
	assert.Equal(t, "1234567", ref.ID)
	require.NoError(t, json.Unmarshal([]byte(`{"id":9007199254740993}`), &ref))
	assert.Equal(t, "9007199254740993", ref.ID)
}

func TestEntityRef_UnmarshalRejectsNonScalarID(t *testing.T) {
	var ref EntityRef
	assert.Error(t, json.Unmarshal([]byte(`{"id":true}`), &ref))
	assert.Error(t, json.Unmarshal([]byte(`{"id":{"n":1}}`), &ref))
}

func TestDecodeEntityRef_AllowsMissingID(t *testing.T) {
	ref, err := DecodeEntityRef([]byte(`{"name":"Aspirin"}`))
	require.NoError(t, err)
	assert.Equal(t, "", ref.ID)
	assert.Equal(t, "Aspirin", ref.Attrs["name"])
}

func TestEntityRef_UnmarshalMissingID(t *testing.T) {
	var ref EntityRef
	assert.Error(t, json.Unmarshal([]byte(`{"name":"x"}`), &ref))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("deal")
	require.NoError(t, err)
	assert.Equal(t, KindDeal, k)

	_, err = ParseKind("coupon")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
