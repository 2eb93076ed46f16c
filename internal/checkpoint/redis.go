package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/session"
)

const redisKeyPrefix = "upload:checkpoint:"

// RedisStore shares checkpoints across processes. TTL of zero keeps them
// until deleted.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisStore(connectionString string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, err
	}
	return &RedisStore{Client: redis.NewClient(opts), TTL: ttl}, nil
}

func (rs *RedisStore) Save(ctx context.Context, s *session.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return rs.Client.Set(ctx, redisKeyPrefix+s.ID, raw, rs.TTL).Err()
}

func (rs *RedisStore) Load(ctx context.Context, id string) (*session.Session, error) {
	raw, err := rs.Client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var s session.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	return rs.Client.Del(ctx, redisKeyPrefix+id).Err()
}

func (rs *RedisStore) List(ctx context.Context) ([]*session.Session, error) {
	var sessions []*session.Session
	iter := rs.Client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := rs.Client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		var s session.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			logger.Error("skipping corrupt checkpoint", "key", iter.Val(), "error", err.Error())
			continue
		}
		sessions = append(sessions, &s)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (rs *RedisStore) Health(ctx context.Context) (rsp models.ServiceHealthResp) {
	rsp.Service = "Redis Checkpoint Store"
	rsp.Status = models.STATUS_UP
	rsp.HealthIssue = models.HEALTH_ISSUE_NONE
	if err := rs.Client.Ping(ctx).Err(); err != nil {
		return rsp.BuildErrorResponse(err)
	}
	return rsp
}
