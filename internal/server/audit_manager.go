package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// AuditManager collects request audit entries into batches and writes them
// to the logger from a fixed pool of workers. A batch is flushed when it
// reaches batchSize or flushEvery after its first entry, whichever is first.
type AuditManager struct {
	workers    int
	batchSize  int
	flushEvery time.Duration
	logger     *zap.Logger

	entries chan AuditLogEntry
	batches chan []AuditLogEntry
	stop    chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup
	pending  atomic.Int64
}

func NewAuditManager(workers, batchSize int, flushEvery time.Duration, logger *zap.Logger) *AuditManager {
	return &AuditManager{
		workers:    workers,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		logger:     logger.Named("audit"),
		entries:    make(chan AuditLogEntry, workers*batchSize*2),
		batches:    make(chan []AuditLogEntry, workers*2),
		stop:       make(chan struct{}),
	}
}

func (m *AuditManager) Start(ctx context.Context) {
	m.logger.Debug("starting audit manager", zap.Int("workers", m.workers))

	m.wg.Add(1 + m.workers)
	go m.collect()
	for i := 0; i < m.workers; i++ {
		go m.work(i)
	}

	go func() {
		select {
		case <-ctx.Done():
			m.Shutdown(context.Background())
		case <-m.stop:
		}
	}()
}

// Shutdown stops accepting entries, flushes what was already queued and
// waits for the workers until ctx expires.
func (m *AuditManager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() {
		close(m.stop)

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			m.logger.Info("audit manager stopped")
		case <-ctx.Done():
			m.logger.Warn("audit manager stopped before queue was drained", zap.Int("pending", m.Pending()))
		}
	})
}

func (m *AuditManager) LogEntry(ctx context.Context, entry AuditLogEntry) {
	m.pending.Add(1)

	select {
	case <-m.stop:
		m.writeNow(entry)
		return
	default:
	}

	select {
	case m.entries <- entry:
	case <-ctx.Done():
		m.writeNow(entry)
	case <-m.stop:
		m.writeNow(entry)
	}
}

// Pending returns the number of entries accepted but not yet written.
func (m *AuditManager) Pending() int {
	return int(m.pending.Load())
}

func (m *AuditManager) collect() {
	defer m.wg.Done()
	defer close(m.batches)

	var (
		batch []AuditLogEntry
		timer *time.Timer
		flush <-chan time.Time
	)
	send := func() {
		if timer != nil {
			timer.Stop()
		}
		flush = nil
		if len(batch) == 0 {
			return
		}
		select {
		case m.batches <- batch:
		default:
			m.write(-1, batch)
		}
		batch = nil
	}

	for {
		select {
		case entry := <-m.entries:
			batch = append(batch, entry)
			switch {
			case len(batch) >= m.batchSize:
				send()
			case len(batch) == 1:
				timer = time.NewTimer(m.flushEvery)
				flush = timer.C
			}
		case <-flush:
			send()
		case <-m.stop:
			for {
				select {
				case entry := <-m.entries:
					batch = append(batch, entry)
				default:
					send()
					return
				}
			}
		}
	}
}

func (m *AuditManager) work(id int) {
	defer m.wg.Done()
	for batch := range m.batches {
		m.write(id, batch)
	}
}

func (m *AuditManager) writeNow(entry AuditLogEntry) {
	m.logger.Warn("audit entry written directly", entry.fields()...)
	m.pending.Add(-1)
}

func (m *AuditManager) write(worker int, batch []AuditLogEntry) {
	l := m.logger
	if worker >= 0 {
		l = l.With(zap.Int("worker", worker))
	}
	for _, entry := range batch {
		l.Info("request", entry.fields()...)
	}
	m.pending.Add(-int64(len(batch)))
}
