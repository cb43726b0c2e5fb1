package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConfirmedExchange carries one event per accepted order; the notification
// layer fans these out to the originating chat channel.
const (
	ConfirmedExchange = "orders.confirmed"
	NotificationsQ    = "notifications.q"
)

type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func Dial(host string, port int, user, pass string) (*Client, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/", user, pass, host, port)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Client{conn: conn, ch: ch}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) DeclareAll() error {
	if c == nil || c.ch == nil {
		return fmt.Errorf("nil channel")
	}
	if err := c.ch.ExchangeDeclare(ConfirmedExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := c.ch.QueueDeclare(NotificationsQ, true, false, false, false, nil); err != nil {
		return err
	}
	return c.ch.QueueBind(NotificationsQ, "", ConfirmedExchange, false, nil)
}

// PublishConfirmed emits an order.confirmed event. correlationID is the
// human order number so the notification layer can track it end to end.
func (c *Client) PublishConfirmed(ctx context.Context, correlationID string, body []byte) error {
	return c.ch.PublishWithContext(ctx, ConfirmedExchange, "", false, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Body:          body,
	})
}
