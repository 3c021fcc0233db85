package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitcar/leadtime/internal/db"
	"github.com/pitcar/leadtime/internal/metrics"
	"github.com/pitcar/leadtime/internal/repository"
	"github.com/pitcar/leadtime/internal/storage"
)

const (
	shutdownTimeout = 30 * time.Second
	releaseTimeout  = 5 * time.Second
)

var errStopped = errors.New("publisher stopped mid-batch")

type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Publisher moves order events from the outbox table to the broker.
// Claiming happens in its own transaction with SKIP LOCKED, so several
// publishers may poll the same table.
type Publisher struct {
	pool     db.DB
	outbox   storage.OutboxTaskRepository
	producer Producer
	cfg      PublisherConfig
	logger   *zap.Logger
	timeNow  func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	running  sync.WaitGroup
}

func NewPublisher(pool db.DB, outbox storage.OutboxTaskRepository, producer Producer, cfg PublisherConfig, logger *zap.Logger) *Publisher {
	return &Publisher{
		pool:     pool,
		outbox:   outbox,
		producer: producer,
		cfg:      cfg,
		logger:   logger,
		timeNow:  time.Now,
		stop:     make(chan struct{}),
	}
}

// Run polls the outbox every PollInterval until ctx is cancelled or
// Shutdown is called.
func (p *Publisher) Run(ctx context.Context) {
	p.running.Add(1)
	defer p.running.Done()

	p.logger.Info("outbox publisher started",
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.drain(ctx); err != nil && !errors.Is(err, errStopped) {
				p.logger.Error("outbox batch failed", zap.Error(err))
			}
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops polling, waits for the in-flight batch and closes the
// producer. Safe to call more than once.
func (p *Publisher) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.stop)

		finished := make(chan struct{})
		go func() {
			p.running.Wait()
			close(finished)
		}()
		select {
		case <-finished:
			p.logger.Info("outbox publisher stopped")
		case <-time.After(shutdownTimeout):
			p.logger.Warn("outbox publisher did not stop in time")
		}

		if err := p.producer.Close(); err != nil {
			p.logger.Error("failed to close kafka producer", zap.Error(err))
		}
	})
}

// drain claims one batch and publishes it task by task. A failed task does
// not abort the batch. Tasks not yet sent when the publisher stops are
// released back to the outbox.
func (p *Publisher) drain(ctx context.Context) error {
	tasks, err := p.claim(ctx)
	if err != nil || len(tasks) == 0 {
		return err
	}
	p.logger.Debug("claimed outbox tasks", zap.Int("count", len(tasks)))

	for i, task := range tasks {
		select {
		case <-p.stop:
			p.release(tasks[i:])
			return errStopped
		case <-ctx.Done():
			p.release(tasks[i:])
			return ctx.Err()
		default:
		}

		if err := p.publish(ctx, task); err != nil {
			p.logger.Error("failed to publish outbox task", zap.Stringer("task_id", task.ID), zap.Error(err))
		}
	}
	return nil
}

// claim locks a batch of processable tasks and marks them PROCESSING.
func (p *Publisher) claim(ctx context.Context) (tasks []*repository.OutboxTask, err error) {
	tx, err := p.pool.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	tasks, err = p.outbox.GetProcessableTasksTx(ctx, tx, p.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("select outbox tasks: %w", err)
	}
	for _, task := range tasks {
		if err = p.outbox.UpdateTaskStatusTx(ctx, tx, task.ID, repository.TaskStatusProcessing, task.Attempts, nil, nil); err != nil {
			return nil, fmt.Errorf("claim task %s: %w", task.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return tasks, nil
}

// release puts claimed but unsent tasks back to CREATED. A task that cannot
// be released is picked up again once its claim lease expires.
func (p *Publisher) release(tasks []*repository.OutboxTask) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	for _, task := range tasks {
		err := p.outbox.UpdateTaskStatus(ctx, p.pool, task.ID, repository.TaskStatusCreated, task.Attempts, task.LastError, nil)
		if err != nil {
			p.logger.Warn("failed to release outbox task", zap.Stringer("task_id", task.ID), zap.Error(err))
		}
	}
	p.logger.Info("released unsent outbox tasks", zap.Int("count", len(tasks)))
}

// publish sends one task and records the outcome. A failure leaves the task
// FAILED so it is retried until MaxAttempts is reached.
func (p *Publisher) publish(ctx context.Context, task *repository.OutboxTask) error {
	attempt := task.Attempts + 1
	l := p.logger.With(zap.Stringer("task_id", task.ID), zap.Int("attempt", attempt))

	sendErr := p.producer.SendMessage(ctx, task.Topic, messageKey(task), task.Payload)
	if sendErr != nil {
		metrics.OutboxPublishedTotal.WithLabelValues("failed").Inc()
		if attempt >= p.cfg.MaxAttempts {
			l.Warn("outbox task exhausted its attempts", zap.Int("max_attempts", p.cfg.MaxAttempts))
		}
		reason := sendErr.Error()
		if err := p.outbox.UpdateTaskStatus(ctx, p.pool, task.ID, repository.TaskStatusFailed, attempt, &reason, nil); err != nil {
			return fmt.Errorf("record send failure (%v): %w", sendErr, err)
		}
		return sendErr
	}

	metrics.OutboxPublishedTotal.WithLabelValues("done").Inc()
	completedAt := p.timeNow().UTC()
	if err := p.outbox.UpdateTaskStatus(ctx, p.pool, task.ID, repository.TaskStatusDone, attempt, nil, &completedAt); err != nil {
		return fmt.Errorf("mark task done: %w", err)
	}
	l.Debug("outbox task published")
	return nil
}

// messageKey keys order events by order id so events of one order keep their
// order within a partition.
func messageKey(task *repository.OutboxTask) []byte {
	var event repository.OrderEventPayload
	if err := json.Unmarshal(task.Payload, &event); err == nil && event.OrderID != "" {
		return []byte(event.OrderID)
	}
	return []byte(task.ID.String())
}
