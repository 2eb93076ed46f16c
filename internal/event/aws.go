package event

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
)

// SNSPublisher sends events to an SNS topic as base64-encoded JSON.
type SNSPublisher[T Identifiable] struct {
	Options  sns.Options
	TopicArn string
}

func (s *SNSPublisher[T]) Client() *sns.Client {
	return sns.New(s.Options)
}

func (s *SNSPublisher[T]) Publish(ctx context.Context, e T) error {
	c := s.Client()

	var b bytes.Buffer
	encoder := base64.NewEncoder(base64.StdEncoding, &b)
	jsonEncoder := json.NewEncoder(encoder)
	if err := jsonEncoder.Encode(e); err != nil {
		return err
	}
	encoder.Close()
	m := b.String()
	result, err := c.Publish(ctx, &sns.PublishInput{
		Message:  &m,
		TopicArn: &s.TopicArn,
	})
	if err != nil {
		return err
	}
	logger.Info("SNS event publish response", "response", result, "event", e)
	return nil
}

func (s *SNSPublisher[T]) Close() error {
	return nil
}

func (s *SNSPublisher[T]) Health(ctx context.Context) (rsp models.ServiceHealthResp) {
	rsp.Service = "SNS Event Publisher"
	rsp.Status = models.STATUS_UP
	rsp.HealthIssue = models.HEALTH_ISSUE_NONE

	c := s.Client()
	if _, err := c.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: &s.TopicArn}); err != nil {
		return rsp.BuildErrorResponse(err)
	}
	return rsp
}
