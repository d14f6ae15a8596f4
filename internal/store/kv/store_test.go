package kv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	_, err := s.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, key, []byte("first"), 0))
	require.NoError(t, s.Set(ctx, key, []byte("second"), 0))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	type record struct {
		Name string `json:"name"`
	}
	require.NoError(t, SetJSON(ctx, s, key, record{Name: "Ada"}, time.Minute))
	var out record
	require.NoError(t, GetJSON(ctx, s, key, &out))
	assert.Equal(t, "Ada", out.Name)
	require.NoError(t, s.Delete(ctx, key))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "otp", []byte("123456"), 10*time.Minute))

	now = now.Add(9 * time.Minute)
	_, err := s.Get(ctx, "otp")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = s.Get(ctx, "otp")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf, 0))
	buf[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	s, err := NewRedisStore(context.Background(), url, "carbeez-test")
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}
