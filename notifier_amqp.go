package account

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// AMQPPublisher is the subset of *amqp.Channel used by AMQPNotifier.
type AMQPPublisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes notification intents as JSON so a mail worker can
// deliver them. The routing key is the notification kind.
type AMQPNotifier struct {
	publisher AMQPPublisher
	exchange  string
}

func NewAMQPNotifier(publisher AMQPPublisher, exchange string) *AMQPNotifier {
	return &AMQPNotifier{publisher: publisher, exchange: exchange}
}

// DialAMQPNotifier connects to cfg.URL, declares the exchange and returns a
// notifier bound to a fresh channel together with the connection so the
// caller can close it.
func DialAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, *amqp.Connection, error) {
	const op = "account.DialAMQPNotifier"

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewAMQPNotifier(ch, cfg.Exchange), conn, nil
}

func (a *AMQPNotifier) Send(ctx context.Context, n *Notification) error {
	const op = "account.AMQPNotifier.Send"

	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = a.publisher.Publish(
		a.exchange,
		string(n.Kind),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    n.ID.String(),
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
