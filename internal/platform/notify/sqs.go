package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDispatcher enqueues alerts for the on-call paging worker.
type SQSDispatcher struct {
	client   sqsAPI
	queueURL string
}

// NewSQSDispatcher loads the default AWS config chain. queue may be a full
// queue URL or a queue name to resolve.
func NewSQSDispatcher(ctx context.Context, queue string) (*SQSDispatcher, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := sqs.New(sqs.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
	})

	queueURL := queue
	if !strings.HasPrefix(queue, "https://") && !strings.HasPrefix(queue, "http://") {
		out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
		if err != nil {
			return nil, fmt.Errorf("resolve SQS queue %q: %w", queue, err)
		}
		queueURL = aws.ToString(out.QueueUrl)
	}

	return &SQSDispatcher{client: client, queueURL: queueURL}, nil
}

func (d *SQSDispatcher) Dispatch(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	_, err = d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String("emergency")},
		},
	})
	if err != nil {
		return fmt.Errorf("send alert %s to SQS: %w", a.RequestID, err)
	}
	return nil
}
