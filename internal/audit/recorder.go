package audit

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/metrics"
	"github.com/aman-churiwal/octra-faucet/internal/models"
	"go.uber.org/zap"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
)

// Writer persists a batch of attempts.
type Writer interface {
	CreateBatch(ctx context.Context, attempts []models.ClaimAttempt) error
}

// Recorder queues claim attempts and writes them to the database in the
// background so a slow database never holds up a claim response.
type Recorder struct {
	writer        Writer
	entries       chan models.ClaimAttempt
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func NewRecorder(writer Writer, opts Options, logger *zap.Logger) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}

	r := &Recorder{
		writer:        writer,
		entries:       make(chan models.ClaimAttempt, opts.BufferSize),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		logger:        logger.With(zap.String("component", "audit")),
		done:          make(chan struct{}),
	}
	go r.run()

	return r
}

// Record enqueues an attempt without blocking. It reports false when the
// entry was dropped.
func (r *Recorder) Record(attempt models.ClaimAttempt) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false
	}

	select {
	case r.entries <- attempt:
		return true
	default:
		metrics.AuditDropped.Inc()
		r.logger.Warn("audit buffer full, dropping claim attempt",
			zap.String("address", attempt.Address),
			zap.String("outcome", string(attempt.Outcome)))
		return false
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	batch := make([]models.ClaimAttempt, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-r.entries:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = make([]models.ClaimAttempt, 0, r.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = make([]models.ClaimAttempt, 0, r.batchSize)
			}
		}
	}
}

func (r *Recorder) flush(batch []models.ClaimAttempt) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.writer.CreateBatch(ctx, batch); err != nil {
		r.logger.Error("failed to persist claim attempts",
			zap.Int("count", len(batch)),
			zap.Error(err))
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to
// expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.entries)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
