// Package queue is a Postgres-backed message queue with visibility-timeout
// semantics: at-least-once delivery, no ordering guarantee, redelivery of any
// message that is read but never deleted. The job pipeline layers its own
// idempotency on top, so duplicate delivery here is expected and harmless.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/restyle-app/server/internal/infra"
	"github.com/restyle-app/server/internal/sqlinline"
)

// Message is the ephemeral envelope handed to a consumer. It stays invisible
// to other consumers until its visibility window lapses.
type Message struct {
	ID         int64
	Payload    []byte
	ReadCount  int
	EnqueuedAt time.Time
}

// JobPayload is the only payload shape this service enqueues.
type JobPayload struct {
	JobID string `json:"job_id"`
}

// JobID decodes the job id from the message payload.
func (m Message) JobID() (string, error) {
	var p JobPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return "", fmt.Errorf("decode queue payload: %w", err)
	}
	if p.JobID == "" {
		return "", fmt.Errorf("queue payload missing job_id")
	}
	return p.JobID, nil
}

type Queue struct {
	sql  infra.SQLExecutor
	name string
}

func New(sql infra.SQLExecutor, name string) *Queue {
	return &Queue{sql: sql, name: name}
}

// SendJob enqueues a {job_id} envelope, optionally delayed, and returns the
// server-assigned message id.
func (q *Queue) SendJob(ctx context.Context, jobID string, delay time.Duration) (int64, error) {
	payload, err := json.Marshal(JobPayload{JobID: jobID})
	if err != nil {
		return 0, fmt.Errorf("encode queue payload: %w", err)
	}
	row := q.sql.QueryRow(ctx, sqlinline.QQueueSend, q.name, payload, int(delay.Seconds()))
	var msgID int64
	if err := row.Scan(&msgID); err != nil {
		return 0, fmt.Errorf("enqueue message: %w", err)
	}
	return msgID, nil
}

// Read claims up to max visible messages, hiding each for the visibility
// window. An empty slice means the queue had nothing ready.
func (q *Queue) Read(ctx context.Context, visibility time.Duration, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	rows, err := q.sql.Query(ctx, sqlinline.QQueueRead, q.name, int(visibility.Seconds()), max)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Payload, &m.ReadCount, &m.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Delete acknowledges a message so it is never redelivered.
func (q *Queue) Delete(ctx context.Context, msgID int64) error {
	if _, err := q.sql.Exec(ctx, sqlinline.QQueueDelete, q.name, msgID); err != nil {
		return fmt.Errorf("delete message %d: %w", msgID, err)
	}
	return nil
}

// OldestVisibleAge reports how long the oldest ready message has been waiting.
// The worker alarms on this to surface queue starvation, since neither the
// submitter's best-effort wake-up nor the periodic poll is individually
// guaranteed to happen.
func (q *Queue) OldestVisibleAge(ctx context.Context) (time.Duration, error) {
	row := q.sql.QueryRow(ctx, sqlinline.QQueueOldestAge, q.name)
	var seconds float64
	if err := row.Scan(&seconds); err != nil {
		return 0, fmt.Errorf("oldest message age: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
