// Package worker consumes the generation queue and drives jobs through their
// state machine. Consumption is poll-based with a best-effort wake-up channel
// layered on top, so a freshly enqueued job does not have to wait a full poll
// interval.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/restyle-app/server/internal/infra"
	"github.com/restyle-app/server/internal/queue"
)

// JobQueue is the consumer-side queue surface.
type JobQueue interface {
	Read(ctx context.Context, visibility time.Duration, max int) ([]queue.Message, error)
	Delete(ctx context.Context, msgID int64) error
	OldestVisibleAge(ctx context.Context) (time.Duration, error)
}

// Options wires a Worker.
type Options struct {
	Queue             JobQueue
	Processor         *Processor
	Logger            *infra.Logger
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	ReadBatchSize     int
	Concurrency       int
	// MaxQueueAge is the starvation alarm threshold. Zero disables the alarm.
	MaxQueueAge time.Duration
}

// Worker owns the consumer goroutines for one queue.
type Worker struct {
	queue     JobQueue
	processor *Processor
	logger    *infra.Logger

	pollInterval time.Duration
	visibility   time.Duration
	batchSize    int
	concurrency  int
	maxQueueAge  time.Duration

	wake chan struct{}
}

func New(opts Options) *Worker {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	batch := opts.ReadBatchSize
	if batch <= 0 {
		batch = 1
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		queue:        opts.Queue,
		processor:    opts.Processor,
		logger:       opts.Logger,
		pollInterval: pollInterval,
		visibility:   opts.VisibilityTimeout,
		batchSize:    batch,
		concurrency:  concurrency,
		maxQueueAge:  opts.MaxQueueAge,
		wake:         make(chan struct{}, 1),
	}
}

// Wake nudges the consumers to poll immediately. Safe to call from any
// goroutine; a wake that arrives while one is already pending is dropped.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done, consuming with the configured concurrency.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.consume(ctx, id)
		}(i)
	}
	if w.maxQueueAge > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.watchQueueAge(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) consume(ctx context.Context, id int) {
	logger := w.logger.With().Int("consumer", id).Logger()
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := w.queue.Read(ctx, w.visibility, w.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("worker: read queue")
			w.sleep(ctx)
			continue
		}

		if len(msgs) == 0 {
			w.sleep(ctx)
			continue
		}

		for _, msg := range msgs {
			w.handle(ctx, &logger, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, logger *infra.Logger, msg queue.Message) {
	jobID, err := msg.JobID()
	if err != nil {
		// A malformed payload will never parse; drop it.
		logger.Error().Int64("msg_id", msg.ID).Err(err).Msg("worker: bad queue payload")
		if err := w.queue.Delete(ctx, msg.ID); err != nil {
			logger.Error().Int64("msg_id", msg.ID).Err(err).Msg("worker: delete bad message")
		}
		return
	}

	ack, err := w.processor.Process(ctx, jobID)
	if err != nil {
		logger.Error().Int64("msg_id", msg.ID).Str("job_id", jobID).Err(err).Msg("worker: process job")
	}
	if !ack {
		return
	}
	if err := w.queue.Delete(ctx, msg.ID); err != nil {
		// At-least-once: the message comes back and the state machine treats
		// it as a duplicate.
		logger.Error().Int64("msg_id", msg.ID).Str("job_id", jobID).Err(err).Msg("worker: ack message")
	}
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.wake:
	case <-timer.C:
	}
}

// watchQueueAge alarms when the oldest ready message has been waiting longer
// than the threshold. Neither the submitter's wake-up nor any single poll is
// guaranteed, so sustained queue age is the one reliable starvation signal.
func (w *Worker) watchQueueAge(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		age, err := w.queue.OldestVisibleAge(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("worker: queue age probe")
			}
			continue
		}
		if age > w.maxQueueAge {
			w.logger.Error().
				Dur("oldest_age", age).
				Dur("threshold", w.maxQueueAge).
				Msg("worker: queue starvation, messages are not being consumed")
		}
	}
}
