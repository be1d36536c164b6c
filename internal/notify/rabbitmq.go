package notify

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
)

// AMQPClient holds one RabbitMQ connection and channel.
type AMQPClient struct {
	conn *amqp.Connection
	chn  *amqp.Channel
}

// DialAMQP connects to url, opens a channel and declares the given durable queues.
func DialAMQP(url string, queues ...string) (*AMQPClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, oops.Code("AMQP_DIAL_FAILED").Wrapf(err, "dial rabbitmq")
	}
	chn, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, oops.Code("AMQP_CHANNEL_FAILED").Wrapf(err, "open rabbitmq channel")
	}
	c := &AMQPClient{conn: conn, chn: chn}
	for _, q := range queues {
		if _, err := chn.QueueDeclare(q, true, false, false, false, nil); err != nil {
			_ = c.Close()
			return nil, oops.Code("AMQP_QUEUE_DECLARE_FAILED").With("queue", q).Wrapf(err, "declare queue")
		}
	}
	return c, nil
}

// Publish sends body to queue through the default exchange as a persistent JSON message.
func (c *AMQPClient) Publish(ctx context.Context, queue string, body []byte) error {
	err := c.chn.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return oops.Code("AMQP_PUBLISH_FAILED").With("queue", queue).Wrapf(err, "publish delivery job")
	}
	return nil
}

// Consume starts a manual-ack consumer on queue.
func (c *AMQPClient) Consume(queue, consumer string) (<-chan amqp.Delivery, error) {
	msgs, err := c.chn.Consume(queue, consumer, false, false, false, false, nil)
	if err != nil {
		return nil, oops.Code("AMQP_CONSUME_FAILED").With("queue", queue).Wrapf(err, "start consumer")
	}
	return msgs, nil
}

// Qos limits unacked deliveries per consumer.
func (c *AMQPClient) Qos(prefetch int) error {
	return c.chn.Qos(prefetch, 0, false)
}

// Close closes the channel and then the connection.
func (c *AMQPClient) Close() error {
	if err := c.chn.Close(); err != nil {
		_ = c.conn.Close()
		return err
	}
	return c.conn.Close()
}
