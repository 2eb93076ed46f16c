package cli

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/appconfig"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/event"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/health"
)

// NewEventPublisher builds the lifecycle event fan-out from config: SNS and
// Azure Service Bus when connections are configured, otherwise the in-memory
// bus plus a local JSONL trail.
func NewEventPublisher[T event.Identifiable](ctx context.Context, appConfig appconfig.AppConfig, defaultBus event.Publisher[T]) (*event.Publishers[T], error) {
	var pubs []event.Publisher[T]

	if appConfig.SNSConnection != nil {
		opts := sns.Options{Region: appConfig.SNSConnection.Region}
		if appConfig.SNSConnection.Endpoint != "" {
			opts.BaseEndpoint = &appConfig.SNSConnection.Endpoint
		}
		snsPub := &event.SNSPublisher[T]{
			Options:  opts,
			TopicArn: appConfig.SNSConnection.TopicArn,
		}
		health.Register(snsPub)
		pubs = append(pubs, snsPub)
	}

	if appConfig.PublisherConnection != nil {
		ap, err := event.NewAzurePublisher[T](ctx, *appConfig.PublisherConnection)
		if err != nil {
			return nil, err
		}
		health.Register(ap)
		pubs = append(pubs, ap)
	}

	if len(pubs) < 1 {
		pubs = append(pubs,
			defaultBus,
			&event.FilePublisher[T]{
				Dir: appConfig.LocalEventsFolder,
			})
	}

	return event.NewPublishers(pubs...), nil
}
