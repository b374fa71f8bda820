package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

const (
	DeadLetterQueueName    = "keyframe_prewarm_dlq"
	DeadLetterExchangeName = "composer_dlq"
	RetryQueueName         = "keyframe_prewarm_retry"
	MaxRetries             = 3

	retryCountHeader    = "x-retry-count"
	failureReasonHeader = "x-failure-reason"
)

// declareDeadLetter declares the retry and dead letter queues. Messages in
// the retry queue expire back onto the pre-warm queue.
func declareDeadLetter(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(DeadLetterExchangeName, "direct", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(DeadLetterQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	if err := ch.QueueBind(DeadLetterQueueName, DeadLetterQueueName, DeadLetterExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": PrewarmQueueName,
	}
	if _, err := ch.QueueDeclare(RetryQueueName, true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}
	return nil
}

// PublishToRetryQueue schedules another attempt, or dead-letters the job
// once retryCount reaches MaxRetries
func (q *Queue) PublishToRetryQueue(ctx context.Context, job *models.PrewarmJob, retryCount int) error {
	if retryCount >= MaxRetries {
		return q.PublishToDeadLetterQueue(ctx, job, "max retries exceeded")
	}

	delay := backoffDelay(retryCount)
	headers := amqp.Table{retryCountHeader: int32(retryCount + 1)}
	if err := q.publish(ctx, "", RetryQueueName, job, headers, fmt.Sprintf("%d", delay.Milliseconds())); err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	metrics.RecordPrewarmJob("retried")
	q.logger.WithField("job_id", job.ID).Infof("Pre-warm job queued for retry #%d in %v", retryCount+1, delay)
	return nil
}

// PublishToDeadLetterQueue parks a failed job for inspection
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, job *models.PrewarmJob, reason string) error {
	headers := amqp.Table{
		failureReasonHeader: reason,
		"x-failed-at":       time.Now().Format(time.RFC3339),
	}
	if err := q.publish(ctx, DeadLetterExchangeName, DeadLetterQueueName, job, headers, ""); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.RecordPrewarmJob("dead_lettered")
	q.logger.WithField("job_id", job.ID).Warnf("Pre-warm job moved to dead letter queue: %s", reason)
	return nil
}

// DLQDepth returns the number of dead-lettered jobs
func (q *Queue) DLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}
	return info.Messages, nil
}

// backoffDelay doubles from five seconds and caps at one minute
func backoffDelay(retryCount int) time.Duration {
	delay := 5 * time.Second * time.Duration(1<<retryCount)
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

func retryCount(headers amqp.Table) int {
	switch v := headers[retryCountHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}
