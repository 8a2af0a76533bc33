package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/trogers1052/bot-copy-service/internal/metrics"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

var (
	ErrQueueFull   = errors.New("dispatch queue is full")
	ErrQueueClosed = errors.New("dispatch queue is closed")
)

// Handler processes one dequeued signal
type Handler interface {
	Dispatch(ctx context.Context, sig *models.Signal) (models.FanOutResult, error)
}

// Queue decouples signal intake from fan-out. Publish returns once the
// signal is enqueued; a fixed set of workers drains the queue.
type Queue struct {
	handler Handler
	ch      chan *models.Signal
	workers int
	logger  *zap.Logger
	metrics *metrics.Metrics

	// OnResult, when set before Start, receives every fan-out outcome
	OnResult func(models.FanOutResult, error)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue creates a queue holding up to size pending signals
func NewQueue(handler Handler, size, workers int, logger *zap.Logger, m *metrics.Metrics) *Queue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		handler: handler,
		ch:      make(chan *models.Signal, size),
		workers: workers,
		logger:  logger,
		metrics: m,
	}
}

// Start launches the workers. Dequeued signals are dispatched to completion
// even after ctx is cancelled; use Close to stop intake and drain.
func (q *Queue) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(base, i)
	}
	q.logger.Info("dispatch workers started", zap.Int("workers", q.workers), zap.Int("capacity", cap(q.ch)))
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()
	for sig := range q.ch {
		q.metrics.SetQueueDepth(len(q.ch))
		res, err := q.handler.Dispatch(ctx, sig)
		if err != nil {
			q.logger.Error("fan-out aborted",
				zap.Int("worker", id),
				zap.String("signal_id", sig.ID.String()),
				zap.Error(err),
			)
		}
		if q.OnResult != nil {
			q.OnResult(res, err)
		}
	}
}

// Publish enqueues sig without waiting for its fan-out. When the queue is
// full it waits for a free slot until ctx is done.
func (q *Queue) Publish(ctx context.Context, sig *models.Signal) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- sig:
		q.metrics.SetQueueDepth(len(q.ch))
		return nil
	default:
	}
	select {
	case q.ch <- sig:
		q.metrics.SetQueueDepth(len(q.ch))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrQueueFull, ctx.Err())
	}
}

// Len is the number of signals waiting for a worker
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops intake and waits for queued signals to be dispatched
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("dispatch workers stopped")
}
