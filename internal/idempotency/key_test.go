package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	payload := []byte(`{"id":"rec-1","table":"plants"}`)

	first, err := DeriveKey("/api/v1/sync/push", payload)
	require.NoError(t, err)
	second, err := DeriveKey("/api/v1/sync/push", payload)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64) // hex-encoded SHA256
}

func TestDeriveKey_CanonicalizesJSON(t *testing.T) {
	// Одинаковое содержимое с разным порядком ключей и пробелами
	a, err := DeriveKey("/push", []byte(`{"table":"plants","id":"rec-1"}`))
	require.NoError(t, err)
	b, err := DeriveKey("/push", []byte(`{ "id": "rec-1", "table": "plants" }`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestDeriveKey_DistinguishesEndpointAndPayload(t *testing.T) {
	payload := []byte(`{"id":"rec-1"}`)

	byEndpoint, err := DeriveKey("/push", payload)
	require.NoError(t, err)
	other, err := DeriveKey("/pull", payload)
	require.NoError(t, err)
	assert.NotEqual(t, byEndpoint, other)

	byPayload, err := DeriveKey("/push", []byte(`{"id":"rec-2"}`))
	require.NoError(t, err)
	assert.NotEqual(t, byEndpoint, byPayload)
}

func TestDeriveKey_EmptyEndpoint(t *testing.T) {
	_, err := DeriveKey("", []byte(`{}`))
	assert.Error(t, err)
}

func TestHashPayload(t *testing.T) {
	a, err := HashPayload([]byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	b, err := HashPayload([]byte(`{"a":1,"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := HashPayload([]byte(`{"a":1,"b":3}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	// Не-JSON payload хешируется как есть
	d, err := HashPayload([]byte("raw-bytes"))
	require.NoError(t, err)
	assert.Len(t, d, 64)
}
