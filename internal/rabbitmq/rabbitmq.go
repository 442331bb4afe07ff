package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"credential_service/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
)

const (
	publishAttempts = 4
	publishBackoff  = 100 * time.Millisecond
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Client публикует уведомления в очередь и читает их оттуда в mail_sender.
type Client struct {
	conn    *amqp.Connection
	channel channel
	queue   string
	backoff time.Duration
}

func New(urlForConn string, queueName string) (*Client, error) {
	const op = "rabbitmq.New"

	conn, err := amqp.Dial(urlForConn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q, err := ch.QueueDeclare(
		queueName, true, false, false, false, nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Client{
		conn:    conn,
		channel: ch,
		queue:   q.Name,
		backoff: publishBackoff,
	}, nil
}

// * Notify публикует письмо, повторяя попытку с экспоненциальной задержкой
func (c *Client) Notify(ctx context.Context, msg models.Message) error {
	const op = "rabbitmq.Notify"

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	backoff := retry.WithMaxRetries(publishAttempts-1, retry.NewExponential(c.backoff))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.channel.PublishWithContext(
			ctx,
			"",
			c.queue,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)
		if err != nil {
			return retry.RetryableError(err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Handler обрабатывает одно уведомление. Ошибка отклоняет сообщение без возврата в очередь.
type Handler func(ctx context.Context, msg models.Message) error

// * StartReading читает очередь до отмены ctx или закрытия канала доставки
func (c *Client) StartReading(ctx context.Context, handler Handler) error {
	const op = "rabbitmq.StartReading"

	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}

			if err := handle(ctx, d, handler); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
	}
}

// handle возвращает ошибку только если не удалось подтвердить доставку.
func handle(ctx context.Context, d amqp.Delivery, handler Handler) error {
	var msg models.Message

	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return d.Reject(false)
	}

	if err := handler(ctx, msg); err != nil {
		return d.Reject(false)
	}

	return d.Ack(false)
}

func (c *Client) Close() {
	_ = c.channel.Close()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
