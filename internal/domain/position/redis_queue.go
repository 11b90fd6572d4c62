package position

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/domain/shared"
	"github.com/danghamo/geotrack/pkg/logger"
	"github.com/danghamo/geotrack/pkg/redisx"
)

// RedisQueue implements Queue with one hash per record and two sorted sets.
//
//	{ns}:locations:seq      INCR counter for ids
//	{ns}:locations:{id}     hash of the record fields
//	{ns}:locations:pending  ZSET score=captured_at member=zero padded id
//	{ns}:locations:all      ZSET score=captured_at member=zero padded id
//
// Zero padding makes equal scores sort by id.
type RedisQueue struct {
	client *redisx.Client
	logger *logger.Logger
}

// NewRedisQueue creates a Redis backed queue
func NewRedisQueue(client *redisx.Client, log *logger.Logger) *RedisQueue {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &RedisQueue{client: client, logger: log.WithComponent("position-queue")}
}

func (q *RedisQueue) seqKey() string     { return q.client.Key("locations", "seq") }
func (q *RedisQueue) pendingKey() string { return q.client.Key("locations", "pending") }
func (q *RedisQueue) allKey() string     { return q.client.Key("locations", "all") }

func (q *RedisQueue) recordKey(id int64) string {
	return q.client.Key("locations", strconv.FormatInt(id, 10))
}

func member(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func (q *RedisQueue) Insert(ctx context.Context, fix Fix) (int64, error) {
	id, err := q.client.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return 0, shared.ErrStorage(err, "insert")
	}

	score := float64(fix.CapturedAtMillis)
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.recordKey(id),
			"id", id,
			"latitude", fix.Latitude,
			"longitude", fix.Longitude,
			"accuracy", fix.Accuracy,
			"captured_at", fix.CapturedAtMillis,
			"sync_status", int(Pending),
		)
		pipe.ZAdd(ctx, q.pendingKey(), redis.Z{Score: score, Member: member(id)})
		pipe.ZAdd(ctx, q.allKey(), redis.Z{Score: score, Member: member(id)})
		return nil
	})
	if err != nil {
		return 0, shared.ErrStorage(err, "insert")
	}

	q.logger.Debug("Location inserted",
		zap.Int64("id", id),
		zap.Int64("captured_at", fix.CapturedAtMillis),
	)
	return id, nil
}

func (q *RedisQueue) MarkSynced(ctx context.Context, id int64) error {
	key := q.recordKey(id)

	err := q.client.Watch(ctx, func(tx *redis.Tx) error {
		status, err := tx.HGet(ctx, key, "sync_status").Result()
		if err == redis.Nil {
			q.logger.Debug("MarkSynced on unknown id", zap.Int64("id", id))
			return nil
		}
		if err != nil {
			return err
		}
		if status == strconv.Itoa(int(Synced)) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "sync_status", int(Synced))
			pipe.ZRem(ctx, q.pendingKey(), member(id))
			return nil
		})
		return err
	}, key)
	if err != nil {
		return shared.ErrStorage(err, "mark_synced")
	}
	return nil
}

func (q *RedisQueue) PendingInOrder(ctx context.Context) ([]Record, error) {
	members, err := q.client.ZRange(ctx, q.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, shared.ErrStorage(err, "pending")
	}

	records, err := q.load(ctx, members)
	if err != nil {
		return nil, shared.ErrStorage(err, "pending")
	}

	pending := records[:0]
	for _, r := range records {
		if r.SyncStatus == Pending {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var pendingCmd, allCmd *redis.IntCmd
	var latestCmd *redis.StringSliceCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pendingCmd = pipe.ZCard(ctx, q.pendingKey())
		allCmd = pipe.ZCard(ctx, q.allKey())
		latestCmd = pipe.ZRevRange(ctx, q.allKey(), 0, 0)
		return nil
	})
	if err != nil {
		return Stats{}, shared.ErrStorage(err, "stats")
	}

	stats := Stats{
		Pending: pendingCmd.Val(),
		Synced:  allCmd.Val() - pendingCmd.Val(),
	}

	latest, err := q.load(ctx, latestCmd.Val())
	if err != nil {
		return Stats{}, shared.ErrStorage(err, "stats")
	}
	if len(latest) > 0 {
		stats.Latest = &latest[0]
	}
	return stats, nil
}

// load fetches the record hashes for members, keeping their order
func (q *RedisQueue) load(ctx context.Context, members []string) ([]Record, error) {
	if len(members) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			id, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid queue member %q: %w", m, err)
			}
			cmds[i] = pipe.HGetAll(ctx, q.recordKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(members))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		r, err := recordFromHash(fields)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func recordFromHash(h map[string]string) (Record, error) {
	var r Record
	var err error
	if r.ID, err = strconv.ParseInt(h["id"], 10, 64); err != nil {
		return Record{}, fmt.Errorf("invalid id: %w", err)
	}
	if r.Latitude, err = strconv.ParseFloat(h["latitude"], 64); err != nil {
		return Record{}, fmt.Errorf("invalid latitude: %w", err)
	}
	if r.Longitude, err = strconv.ParseFloat(h["longitude"], 64); err != nil {
		return Record{}, fmt.Errorf("invalid longitude: %w", err)
	}
	if r.Accuracy, err = strconv.ParseFloat(h["accuracy"], 64); err != nil {
		return Record{}, fmt.Errorf("invalid accuracy: %w", err)
	}
	if r.CapturedAtMillis, err = strconv.ParseInt(h["captured_at"], 10, 64); err != nil {
		return Record{}, fmt.Errorf("invalid captured_at: %w", err)
	}
	status, err := strconv.Atoi(h["sync_status"])
	if err != nil {
		return Record{}, fmt.Errorf("invalid sync_status: %w", err)
	}
	r.SyncStatus = SyncStatus(status)
	return r, nil
}
