package rediskv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/authrim/authrim/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, "authrim-test")
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "foo", []byte("bar"), time.Minute))
	val, err := s.Get(ctx, "foo")
	require.NoError(t, err)
	require.Equal(t, []byte("bar"), val)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPutIfAbsentRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutIfAbsent(ctx, "code-1", []byte("x"), time.Minute))
	err := s.PutIfAbsent(ctx, "code-1", []byte("y"), time.Minute)
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestGetAndDeleteIsOneTimeUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "challenge-1", []byte("payload"), time.Minute))

	val, err := s.GetAndDelete(ctx, "challenge-1")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), val)

	_, err = s.GetAndDelete(ctx, "challenge-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListWithPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "session/a", []byte("1"), time.Minute))
	require.NoError(t, s.Put(ctx, "session/b", []byte("2"), time.Minute))
	require.NoError(t, s.Put(ctx, "other/c", []byte("3"), time.Minute))

	keys, _, err := s.List(ctx, "session/", "")
	require.NoError(t, err)
	require.Len(t, keys, 2)
}
