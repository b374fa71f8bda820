// Package queue carries keyframe pre-warm jobs from the API to workers over
// RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/composer/internal/config"
	"github.com/therealutkarshpriyadarshi/composer/internal/logging"
	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

const (
	PrewarmQueueName = "keyframe_prewarm"
	ExchangeName     = "composer"
)

// ErrPermanent marks handler failures that must not be retried
var ErrPermanent = errors.New("permanent job failure")

// Handler processes one pre-warm job
type Handler func(ctx context.Context, job *models.PrewarmJob) error

// channel is the subset of *amqp.Channel the queue uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueInspect(name string) (amqp.Queue, error)
	Close() error
}

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel channel
	logger  *logging.Logger
}

// New connects to RabbitMQ and declares the pre-warm topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	q := newQueue(ch, logger)
	q.conn = conn
	return q, nil
}

func newQueue(ch channel, logger *logging.Logger) *Queue {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Queue{channel: ch, logger: logger}
}

func declare(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		PrewarmQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(PrewarmQueueName, PrewarmQueueName, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return declareDeadLetter(ch)
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishPrewarm enqueues a pre-warm job
func (q *Queue) PublishPrewarm(ctx context.Context, job *models.PrewarmJob) error {
	if err := q.publish(ctx, ExchangeName, PrewarmQueueName, job, nil, ""); err != nil {
		return err
	}
	metrics.RecordPrewarmJob("queued")
	return nil
}

func (q *Queue) publish(ctx context.Context, exchange, key string, job *models.PrewarmJob, headers amqp.Table, expiration string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.ID,
			Body:         body,
			Timestamp:    time.Now(),
			Headers:      headers,
			Expiration:   expiration,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// ConsumePrewarm starts consuming pre-warm jobs. Deliveries are handled one at
// a time per consumer until ctx is done.
func (q *Queue) ConsumePrewarm(ctx context.Context, prefetch int, handler Handler) error {
	if prefetch < 1 {
		prefetch = 1
	}
	if err := q.channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		PrewarmQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				q.handleDelivery(ctx, msg, handler)
			}
		}
	}()

	return nil
}

// handleDelivery runs handler on one delivery. Failures are moved to the
// retry queue until MaxRetries, then to the dead letter queue.
func (q *Queue) handleDelivery(ctx context.Context, msg amqp.Delivery, handler Handler) {
	var job models.PrewarmJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		q.logger.WithError(err).Warn("Dropping malformed pre-warm job")
		metrics.RecordPrewarmJob("malformed")
		msg.Nack(false, false)
		return
	}

	logger := q.logger.WithField("job_id", job.ID).WithCompositionID(job.CompositionID)
	metrics.RecordPrewarmJob("started")

	err := handler(ctx, &job)
	if err == nil {
		metrics.RecordPrewarmJob("completed")
		msg.Ack(false)
		return
	}

	attempt := retryCount(msg.Headers)
	logger.WithError(err).Warnf("Pre-warm job failed on attempt %d", attempt+1)

	var moveErr error
	if errors.Is(err, ErrPermanent) {
		moveErr = q.PublishToDeadLetterQueue(ctx, &job, err.Error())
	} else {
		moveErr = q.PublishToRetryQueue(ctx, &job, attempt)
	}
	if moveErr != nil {
		// Leave it with the broker rather than lose it
		logger.WithError(moveErr).Error("Failed to reroute pre-warm job")
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

// QueueDepth returns the number of pending pre-warm jobs
func (q *Queue) QueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(PrewarmQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return info.Messages, nil
}

// ReportDepth publishes queue and DLQ depth gauges every interval until ctx
// is done
func (q *Queue) ReportDepth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		q.reportDepth()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (q *Queue) reportDepth() {
	if depth, err := q.QueueDepth(); err == nil {
		metrics.UpdateQueueDepth(PrewarmQueueName, depth)
	} else {
		q.logger.WithError(err).Warn("Failed to read queue depth")
	}
	if depth, err := q.DLQDepth(); err == nil {
		metrics.UpdateQueueDepth(DeadLetterQueueName, depth)
	} else {
		q.logger.WithError(err).Warn("Failed to read DLQ depth")
	}
}
