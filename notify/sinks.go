package notify

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"

	"github.com/purushoth411/postmanback/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueSink writes events to an Azure Storage queue.
type QueueSink struct {
	queue queueClient
	ttl   *int32
}

// NewQueueSink connects to the named queue. Messages never expire.
func NewQueueSink(connStr, queue string) (*QueueSink, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, &opts)
	if err != nil {
		return nil, err
	}
	return newQueueSink(qc), nil
}

func newQueueSink(q queueClient) *QueueSink {
	forever := int32(-1)
	return &QueueSink{queue: q, ttl: &forever}
}

func (s *QueueSink) Name() string { return "queue" }

func (s *QueueSink) Send(ctx context.Context, _ domain.Event, payload []byte) error {
	_, err := s.queue.EnqueueMessage(ctx, string(payload), &azqueue.EnqueueMessageOptions{TimeToLive: s.ttl})
	return err
}

// RedisSink publishes events on a Redis channel.
type RedisSink struct {
	rc      *redis.Client
	channel string
}

func NewRedisSink(rc *redis.Client, channel string) *RedisSink {
	return &RedisSink{rc: rc, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, _ domain.Event, payload []byte) error {
	return s.rc.Publish(ctx, s.channel, payload).Err()
}
