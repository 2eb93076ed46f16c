package lockerhealth

import (
	"context"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
	"github.com/redis/go-redis/v9"
)

// LockerHealth reports on the redis instance backing the upload locks and
// checkpoint store.
type LockerHealth struct {
	client *redis.Client
}

func New(uri string) (*LockerHealth, error) {

	connection, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(connection)
	if res := client.Ping(context.Background()); res.Err() != nil {
		return nil, res.Err()
	}

	return &LockerHealth{
		client: client,
	}, nil

} // .New

func (lockerHealth LockerHealth) Health(ctx context.Context) models.ServiceHealthResp {
	var shr models.ServiceHealthResp
	shr.Service = models.UPLOAD_LOCKS

	// Ping redis service
	client := lockerHealth.client
	if res := client.Ping(ctx); res.Err() != nil {
		return lockerDown(res.Err())
	}

	// all good
	shr.Status = models.STATUS_UP
	shr.HealthIssue = models.HEALTH_ISSUE_NONE
	return shr
}

func lockerDown(err error) models.ServiceHealthResp {
	return models.ServiceHealthResp{
		Service:     models.UPLOAD_LOCKS,
		Status:      models.STATUS_DOWN,
		HealthIssue: err.Error(),
	}
}
