package cli

import (
	"github.com/redis/go-redis/v9"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/appconfig"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/checkpoint"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/health"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/lockerhealth"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/uploadlocker"
)

// GetCheckpointStore picks where sessions are checkpointed: redis when a
// connection string is configured, otherwise JSON files on the local disk.
func GetCheckpointStore(appConfig appconfig.AppConfig) (checkpoint.Store, health.Checkable, error) {
	if appConfig.RedisConnectionString != "" {
		logger.Info("checkpointing uploads to redis")

		store, err := checkpoint.NewRedisStore(appConfig.RedisConnectionString, 0)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	} // .if

	store := &checkpoint.FileStore{Dir: appConfig.LocalCheckpointsFolder}
	logger.Info("checkpointing uploads to local folder", "dir", store.Dir)
	return store, store, nil
} // .GetCheckpointStore

// GetLocker picks the upload lock implementation. Redis locks keep two
// processes from resuming the same checkpoint; the in-memory locker covers
// single-process runs.
func GetLocker(appConfig appconfig.AppConfig) (uploadlocker.Locker, health.Checkable, error) {
	if appConfig.RedisConnectionString != "" {
		opts, err := redis.ParseURL(appConfig.RedisConnectionString)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)

		hc, err := lockerhealth.New(appConfig.RedisConnectionString)
		if err != nil {
			return nil, nil, err
		}
		return uploadlocker.NewRedisLocker(client, uploadlocker.WithLogger(logger)), hc, nil
	} // .if

	return uploadlocker.NewMemoryLocker(), nil, nil
} // .GetLocker
