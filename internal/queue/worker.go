package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"record-import-pipeline/internal/domain"
	"record-import-pipeline/internal/logger"
	"record-import-pipeline/internal/metrics"
)

// Handler consumes one work item from a channel.
type Handler func(ctx context.Context, item *domain.WorkItem) error

// Worker runs a pool of goroutines consuming work items and dispatching them
// to per-channel handlers.
type Worker struct {
	queue       Queue
	authToken   string
	concurrency int

	mu       sync.Mutex
	handlers map[string]Handler
	limiters map[string]*rate.Limiter

	wg sync.WaitGroup
}

// NewWorker creates a worker pool of the given size. Items whose auth token
// does not match authToken are dropped without being handled.
func NewWorker(q Queue, authToken string, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		authToken:   authToken,
		concurrency: concurrency,
		handlers:    make(map[string]Handler),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Handle registers the handler for a channel. Must be called before Run.
func (w *Worker) Handle(channel string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[channel] = h
}

// SetRateLimit caps how many items per second the pool takes from a channel.
func (w *Worker) SetRateLimit(channel string, perSecond float64, burst int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.limiters[channel] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Run blocks consuming items until the context is cancelled, then waits for
// in-flight items to finish.
func (w *Worker) Run(ctx context.Context) {
	channels := w.channels()
	if len(channels) == 0 {
		logger.Warn("worker started with no registered handlers")
		return
	}

	logger.Info("worker pool starting",
		slog.Int("concurrency", w.concurrency),
		slog.Int("channels", len(channels)),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.consume(ctx, id, channels)
		}(i)
	}
	w.wg.Wait()

	logger.Info("worker pool stopped")
}

func (w *Worker) consume(ctx context.Context, id int, channels []string) {
	for {
		item, channel, err := w.queue.Dequeue(ctx, channels)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}
			logger.Error("dequeue failed",
				slog.Int("worker", id),
				slog.String("error", err.Error()),
			)
			// Transient transport error; back off before retrying.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		if item.AuthToken != w.authToken {
			metrics.ItemsRejected.WithLabelValues(channel).Inc()
			logger.WithChannel(channel).Warn("dropping item with invalid auth token",
				slog.String("job_id", item.JobID),
			)
			continue
		}

		if limiter := w.limiterFor(channel); limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		w.handle(ctx, channel, item)
	}
}

func (w *Worker) handle(ctx context.Context, channel string, item *domain.WorkItem) {
	timer := metrics.NewTimer()
	err := w.handlerFor(channel)(ctx, item)
	if err != nil {
		metrics.ObserveItem(channel, "failed", timer.Elapsed())
		logger.WithChannel(channel).Error("work item failed",
			slog.String("job_id", item.JobID),
			slog.String("item_token", item.ItemToken),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.ObserveItem(channel, "ok", timer.Elapsed())
}

func (w *Worker) channels() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.handlers))
	for ch := range w.handlers {
		out = append(out, ch)
	}
	return out
}

func (w *Worker) handlerFor(channel string) Handler {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handlers[channel]
}

func (w *Worker) limiterFor(channel string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.limiters[channel]
}
