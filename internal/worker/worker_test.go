package worker

import (
	"context"
	"testing"
	"time"

	"github.com/restyle-app/server/internal/domain"
	"github.com/restyle-app/server/internal/queue"
)

type fakeQueue struct {
	deleted []int64
}

func (q *fakeQueue) Read(ctx context.Context, visibility time.Duration, max int) ([]queue.Message, error) {
	return nil, nil
}

func (q *fakeQueue) Delete(ctx context.Context, msgID int64) error {
	q.deleted = append(q.deleted, msgID)
	return nil
}

func (q *fakeQueue) OldestVisibleAge(ctx context.Context) (time.Duration, error) {
	return 0, nil
}

func newTestWorker(t *testing.T, f *processorFixture, q JobQueue) *Worker {
	t.Helper()
	return New(Options{
		Queue:        q,
		Processor:    f.processor,
		Logger:       testLogger(),
		PollInterval: time.Millisecond,
	})
}

func TestHandleAcksProcessedMessage(t *testing.T) {
	f := newFixture(t, queuedJob())
	q := &fakeQueue{}
	w := newTestWorker(t, f, q)

	logger := testLogger()
	w.handle(context.Background(), logger, queue.Message{ID: 7, Payload: []byte(`{"job_id":"job-1"}`)})

	if len(q.deleted) != 1 || q.deleted[0] != 7 {
		t.Errorf("deleted = %v, want [7]", q.deleted)
	}
	if _, ok := f.jobs.succeeded["job-1"]; !ok {
		t.Error("job not processed")
	}
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	f := newFixture(t, queuedJob())
	q := &fakeQueue{}
	w := newTestWorker(t, f, q)

	logger := testLogger()
	w.handle(context.Background(), logger, queue.Message{ID: 9, Payload: []byte(`{}`)})

	if len(q.deleted) != 1 || q.deleted[0] != 9 {
		t.Errorf("deleted = %v, want [9]; unparseable payloads must not loop", q.deleted)
	}
	if f.generator.calls != 0 {
		t.Error("no job should have run")
	}
}

func TestHandleKeepsMessageWhenNotAcked(t *testing.T) {
	job := queuedJob()
	job.Status = domain.JobStatusProcessing
	started := time.Now().Add(-time.Minute)
	job.StartedAt = &started
	f := newFixture(t, job)
	q := &fakeQueue{}
	w := newTestWorker(t, f, q)

	logger := testLogger()
	w.handle(context.Background(), logger, queue.Message{ID: 3, Payload: []byte(`{"job_id":"job-1"}`)})

	if len(q.deleted) != 0 {
		t.Errorf("deleted = %v, want none while another worker holds the job", q.deleted)
	}
}

func TestWakeNeverBlocks(t *testing.T) {
	f := newFixture(t, queuedJob())
	w := newTestWorker(t, f, &fakeQueue{})
	w.pollInterval = time.Hour
	for i := 0; i < 10; i++ {
		w.Wake()
	}

	// A pending wake cuts the sleep short.
	done := make(chan struct{})
	go func() {
		w.sleep(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sleep did not observe the pending wake")
	}
}
