package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTTL = time.Hour

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return mr, client
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// storeFixture runs the same behaviour checks against every Store.
type storeFixture struct {
	name    string
	store   Store
	advance func(d time.Duration)
}

func storeFixtures(t *testing.T) []storeFixture {
	clock := testEpoch
	mem := NewMemoryStore(testTTL)
	mem.now = func() time.Time { return clock }

	mr, client := setupTestRedis(t)

	return []storeFixture{
		{
			name:    "memory",
			store:   mem,
			advance: func(d time.Duration) { clock = clock.Add(d) },
		},
		{
			name:    "redis",
			store:   NewRedisStore(client, quietLogger(), "test:sessions:", testTTL),
			advance: mr.FastForward,
		},
	}
}

func TestStoreSaveGetDelete(t *testing.T) {
	for _, fx := range storeFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession(29.97, 12.5)
			s.addPicture(BlobURL{PNG: "blob:p", JPEG: "blob:j"}, 1.5, testEpoch)

			require.NoError(t, fx.store.Save(ctx, s))

			got, err := fx.store.Get(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, s.ID, got.ID)
			assert.Equal(t, s.Video, got.Video)
			assert.Equal(t, s.Upload, got.Upload)
			require.Len(t, got.Pictures, 1)
			assert.Equal(t, s.Pictures[0].BlobURL, got.Pictures[0].BlobURL)
			assert.True(t, s.Pictures[0].CreatedAt.Equal(got.Pictures[0].CreatedAt))
			assert.Equal(t, int64(1), got.NextPictureID)

			// Returned sessions are copies.
			got.Video.Width = 640
			again, err := fx.store.Get(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, again.Video.Width)

			require.NoError(t, fx.store.Delete(ctx, s.ID))
			_, err = fx.store.Get(ctx, s.ID)
			assert.ErrorIs(t, err, ErrSessionNotFound)
			assert.ErrorIs(t, fx.store.Delete(ctx, s.ID), ErrSessionNotFound)
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for _, fx := range storeFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			_, err := fx.store.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrSessionNotFound)

			_, err = fx.store.Update(context.Background(), "missing", func(*Session) error { return nil })
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestStoreUpdate(t *testing.T) {
	for _, fx := range storeFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession(30, 10)
			require.NoError(t, fx.store.Save(ctx, s))

			updated, err := fx.store.Update(ctx, s.ID, func(sess *Session) error {
				sess.seek(4.01)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, 4.0, updated.Video.CurrentTime)

			got, err := fx.store.Get(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, 4.0, got.Video.CurrentTime)
			assert.True(t, got.Video.Seeking)
		})
	}
}

func TestStoreUpdateAbortsOnError(t *testing.T) {
	for _, fx := range storeFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession(30, 10)
			require.NoError(t, fx.store.Save(ctx, s))

			boom := errors.New("boom")
			_, err := fx.store.Update(ctx, s.ID, func(sess *Session) error {
				sess.Video.Width = 1280
				return boom
			})
			assert.ErrorIs(t, err, boom)

			got, err := fx.store.Get(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, got.Video.Width)
		})
	}
}

func TestStoreExpiry(t *testing.T) {
	for _, fx := range storeFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession(30, 10)
			require.NoError(t, fx.store.Save(ctx, s))

			// Writes refresh the TTL.
			fx.advance(testTTL - time.Minute)
			_, err := fx.store.Update(ctx, s.ID, func(sess *Session) error { return nil })
			require.NoError(t, err)

			fx.advance(testTTL - time.Minute)
			_, err = fx.store.Get(ctx, s.ID)
			require.NoError(t, err)

			fx.advance(2 * time.Minute)
			_, err = fx.store.Get(ctx, s.ID)
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestStorePing(t *testing.T) {
	for _, fx := range storeFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			assert.NoError(t, fx.store.Ping(context.Background()))
		})
	}
}

func TestStoreConcurrentUpdates(t *testing.T) {
	for _, fx := range storeFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession(30, 100)
			require.NoError(t, fx.store.Save(ctx, s))

			const workers = 8
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := fx.store.Update(ctx, s.ID, func(sess *Session) error {
						sess.addPicture(BlobURL{JPEG: "blob"}, float64(i), testEpoch)
						return nil
					})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			got, err := fx.store.Get(ctx, s.ID)
			require.NoError(t, err)
			assert.Len(t, got.Pictures, workers)
			assert.Equal(t, int64(workers), got.NextPictureID)
		})
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	clock := testEpoch
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	a := testSession(30, 10)
	b := testSession(30, 10)
	b.ID = "sess-2"
	require.NoError(t, store.Save(ctx, a))
	clock = clock.Add(30 * time.Second)
	require.NoError(t, store.Save(ctx, b))

	clock = clock.Add(45 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())

	_, err := store.Get(ctx, b.ID)
	assert.NoError(t, err)
}

func TestMemoryStoreRunSweeperStops(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestMemoryStoreClose(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, testSession(30, 10)))

	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(ctx))
	assert.Error(t, store.Save(ctx, testSession(30, 10)))
	_, err := store.Get(ctx, "sess-1")
	assert.Error(t, err)
}

func TestRedisStoreKeyLayout(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, quietLogger(), "fc:", testTTL)

	require.NoError(t, store.Save(context.Background(), testSession(30, 10)))

	assert.True(t, mr.Exists("fc:sess-1"))
	assert.Equal(t, testTTL, mr.TTL("fc:sess-1"))
}

func TestRedisStoreUpdateRetriesOnConflict(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewRedisStore(client, quietLogger(), "fc:", testTTL)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, testSession(30, 10)))

	calls := 0
	updated, err := store.Update(ctx, "sess-1", func(sess *Session) error {
		calls++
		if calls == 1 {
			// A concurrent writer changes the key after it is watched.
			other := testSession(30, 10)
			other.Video.Width = 1920
			data, err := encodeSession(other)
			require.NoError(t, err)
			require.NoError(t, client.Set(ctx, "fc:sess-1", data, testTTL).Err())
		}
		sess.Video.Height = 1080
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1920, updated.Video.Width)
	assert.Equal(t, 1080, updated.Video.Height)
}

func TestRedisStoreUpdateGivesUp(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewRedisStore(client, quietLogger(), "fc:", testTTL)
	store.attempts = 3
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, testSession(30, 10)))

	calls := 0
	_, err := store.Update(ctx, "sess-1", func(sess *Session) error {
		calls++
		require.NoError(t, client.Set(ctx, "fc:sess-1", mustEncode(t, testSession(30, 10)), testTTL).Err())
		return nil
	})

	assert.ErrorIs(t, err, ErrUpdateConflict)
	assert.Equal(t, 3, calls)
}

func TestRedisStorePingFailure(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, quietLogger(), "", 0)

	assert.Equal(t, "framecap:sessions:", store.prefix)
	assert.Equal(t, 2*time.Hour, store.ttl)

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}

func mustEncode(t *testing.T, s *Session) []byte {
	t.Helper()
	data, err := encodeSession(s)
	require.NoError(t, err)
	return data
}
