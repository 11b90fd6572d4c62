package position

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/geotrack/pkg/logger"
	"github.com/danghamo/geotrack/pkg/redisx"
	"github.com/danghamo/geotrack/pkg/sqlitex"
)

func newSQLiteQueue(t *testing.T, path string) (*SQLiteQueue, *sqlitex.DB) {
	t.Helper()
	db, err := sqlitex.Open(path, logger.NewNop())
	require.NoError(t, err)
	q, err := NewSQLiteQueue(context.Background(), db, logger.NewNop())
	require.NoError(t, err)
	return q, db
}

func newRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis test")
	}

	ns := "geotrack-test-" + uuid.NewString()
	client, err := redisx.NewClient(redisURL, logger.NewNop(), redisx.WithNamespace(ns))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, ns+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return NewRedisQueue(client, logger.NewNop())
}

func queueBackends(t *testing.T) map[string]func(t *testing.T) Queue {
	return map[string]func(t *testing.T) Queue{
		"sqlite": func(t *testing.T) Queue {
			q, db := newSQLiteQueue(t, filepath.Join(t.TempDir(), "queue.db"))
			t.Cleanup(func() { db.Close() })
			return q
		},
		"redis": func(t *testing.T) Queue {
			return newRedisQueue(t)
		},
	}
}

func fixAt(ms int64) Fix {
	return Fix{Latitude: 52.52, Longitude: 13.405, Accuracy: 4.5, CapturedAtMillis: ms}
}

func capturedTimes(records []Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.CapturedAtMillis
	}
	return out
}

func TestQueue_Contract(t *testing.T) {
	for name, newQueue := range queueBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("should return pending records in capture order", func(t *testing.T) {
				q := newQueue(t)
				for _, ms := range []int64{300, 100, 200} {
					_, err := q.Insert(ctx, fixAt(ms))
					require.NoError(t, err)
				}

				pending, err := q.PendingInOrder(ctx)
				require.NoError(t, err)
				assert.Equal(t, []int64{100, 200, 300}, capturedTimes(pending))
				for _, r := range pending {
					assert.Equal(t, Pending, r.SyncStatus)
				}
			})

			t.Run("should break capture time ties by id", func(t *testing.T) {
				q := newQueue(t)
				first, err := q.Insert(ctx, fixAt(500))
				require.NoError(t, err)
				second, err := q.Insert(ctx, fixAt(500))
				require.NoError(t, err)
				assert.Greater(t, second, first)

				pending, err := q.PendingInOrder(ctx)
				require.NoError(t, err)
				require.Len(t, pending, 2)
				assert.Equal(t, first, pending[0].ID)
				assert.Equal(t, second, pending[1].ID)
			})

			t.Run("should keep synced records synced", func(t *testing.T) {
				q := newQueue(t)
				id, err := q.Insert(ctx, fixAt(100))
				require.NoError(t, err)

				require.NoError(t, q.MarkSynced(ctx, id))
				require.NoError(t, q.MarkSynced(ctx, id))

				pending, err := q.PendingInOrder(ctx)
				require.NoError(t, err)
				assert.Empty(t, pending)

				stats, err := q.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(0), stats.Pending)
				assert.Equal(t, int64(1), stats.Synced)
				require.NotNil(t, stats.Latest)
				assert.Equal(t, Synced, stats.Latest.SyncStatus)
			})

			t.Run("should ignore unknown ids", func(t *testing.T) {
				q := newQueue(t)
				assert.NoError(t, q.MarkSynced(ctx, 9999))

				stats, err := q.Stats(ctx)
				require.NoError(t, err)
				assert.Zero(t, stats.Pending)
				assert.Zero(t, stats.Synced)
				assert.Nil(t, stats.Latest)
			})

			t.Run("should report latest record by capture time", func(t *testing.T) {
				q := newQueue(t)
				for _, ms := range []int64{100, 900, 400} {
					_, err := q.Insert(ctx, fixAt(ms))
					require.NoError(t, err)
				}

				stats, err := q.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(3), stats.Pending)
				require.NotNil(t, stats.Latest)
				assert.Equal(t, int64(900), stats.Latest.CapturedAtMillis)
				assert.Equal(t, 52.52, stats.Latest.Latitude)
			})

			t.Run("should accept concurrent inserts", func(t *testing.T) {
				q := newQueue(t)
				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func(ms int64) {
						defer wg.Done()
						_, err := q.Insert(ctx, fixAt(ms))
						assert.NoError(t, err)
					}(int64(1000 + i))
				}
				wg.Wait()

				pending, err := q.PendingInOrder(ctx)
				require.NoError(t, err)
				assert.Len(t, pending, 20)
				assert.IsIncreasing(t, capturedTimes(pending))
			})
		})
	}
}

func TestSQLiteQueue_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	q, db := newSQLiteQueue(t, path)
	ids := make([]int64, 0, 3)
	for _, ms := range []int64{100, 200, 300} {
		id, err := q.Insert(ctx, fixAt(ms))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, q.MarkSynced(ctx, ids[0]))
	require.NoError(t, db.Close())

	reopened, db2 := newSQLiteQueue(t, path)
	defer db2.Close()

	pending, err := reopened.PendingInOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{200, 300}, capturedTimes(pending))

	next, err := reopened.Insert(ctx, fixAt(400))
	require.NoError(t, err)
	assert.Greater(t, next, ids[2])
}

func TestSQLiteQueue_StorageFailure(t *testing.T) {
	ctx := context.Background()
	q, db := newSQLiteQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, db.Close())

	_, err := q.Insert(ctx, fixAt(100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage insert failed")
}

func TestSyncStatus_String(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "synced", Synced.String())
	assert.Equal(t, "unknown", SyncStatus(7).String())
}
