package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"credential-lifecycle/internal/logger"
	otpdomain "credential-lifecycle/internal/otp/domain"
)

// Publisher publishes a message body to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// QueueChannel enqueues delivery jobs for the worker. Email and SMS jobs go to
// separate queues.
type QueueChannel struct {
	pub        Publisher
	emailQueue string
	smsQueue   string
	log        *zap.Logger
	now        func() time.Time
}

// NewQueueChannel returns a QueueChannel publishing through pub.
func NewQueueChannel(pub Publisher, emailQueue, smsQueue string, log *zap.Logger) *QueueChannel {
	return &QueueChannel{
		pub:        pub,
		emailQueue: emailQueue,
		smsQueue:   smsQueue,
		log:        logger.OrNop(log),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *QueueChannel) queueFor(ch otpdomain.Channel) (string, error) {
	switch ch {
	case otpdomain.ChannelEmail:
		return c.emailQueue, nil
	case otpdomain.ChannelPhone:
		return c.smsQueue, nil
	}
	return "", errors.New("notify: unknown channel " + string(ch))
}

func (c *QueueChannel) SendCode(ctx context.Context, target otpdomain.Target, code string) error {
	queue, err := c.queueFor(target.Channel)
	if err != nil {
		return err
	}
	body, err := json.Marshal(Job{Channel: target.Channel, Address: target.Address, Code: code, SentAt: c.now()})
	if err != nil {
		return err
	}
	if err := c.pub.Publish(ctx, queue, body); err != nil {
		return err
	}
	c.log.Debug("otp delivery queued", zap.String("queue", queue), zap.String("target", logger.MaskTarget(target.Address)))
	return nil
}

// Consumer delivers queued jobs through a Channel, usually a DirectChannel.
// Deliveries are acked on success and dropped (nack without requeue) on failure.
type Consumer struct {
	ch      Channel
	log     *zap.Logger
	timeout time.Duration
}

// NewConsumer returns a Consumer that gives each delivery up to timeout.
func NewConsumer(ch Channel, timeout time.Duration, log *zap.Logger) *Consumer {
	return &Consumer{ch: ch, timeout: timeout, log: logger.OrNop(log)}
}

// Run handles deliveries until ctx is done or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle delivers one job and settles the delivery.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		c.log.Error("malformed delivery job", zap.String("routing_key", d.RoutingKey), zap.Error(err))
		c.settle(d.Nack(false, false))
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.ch.SendCode(sendCtx, job.Target(), job.Code); err != nil {
		c.log.Error("otp delivery failed",
			zap.String("channel", string(job.Channel)),
			zap.String("target", logger.MaskTarget(job.Address)),
			zap.Error(err))
		c.settle(d.Nack(false, false))
		return
	}
	c.log.Info("otp delivered",
		zap.String("channel", string(job.Channel)),
		zap.String("target", logger.MaskTarget(job.Address)),
		zap.Duration("queued_for", time.Since(job.SentAt)))
	c.settle(d.Ack(false))
}

func (c *Consumer) settle(err error) {
	if err != nil {
		c.log.Warn("settle delivery", zap.Error(err))
	}
}
