package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

func newLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	l, err := New(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func TestTryLockIsExclusive(t *testing.T) {
	t.Parallel()

	l, mr := newLocker(t)
	ctx := context.Background()

	release, err := l.TryLock(ctx, "newsindexer:run", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("newsindexer:run"))
	assert.Equal(t, time.Minute, mr.TTL("newsindexer:run"))

	_, err = l.TryLock(ctx, "newsindexer:run", time.Minute)
	require.ErrorIs(t, err, news.ErrLocked)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("newsindexer:run"))

	again, err := l.TryLock(ctx, "newsindexer:run", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestReleaseDoesNotDeleteForeignLock(t *testing.T) {
	t.Parallel()

	l, mr := newLocker(t)
	ctx := context.Background()

	release, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	other, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("k"), "stale release must not remove the new holder's lock")
	require.NoError(t, other(ctx))
	assert.False(t, mr.Exists("k"))
}

func TestTryLockValidatesTTL(t *testing.T) {
	t.Parallel()

	l, _ := newLocker(t)
	_, err := l.TryLock(context.Background(), "k", 0)
	require.Error(t, err)
}

func TestTryLockSurfacesConnectionErrors(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	l := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = l.Close() })
	mr.Close()

	_, err := l.TryLock(context.Background(), "k", time.Minute)
	require.Error(t, err)
	require.NotErrorIs(t, err, news.ErrLocked)
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "http://not-redis")
	require.Error(t, err)
}
