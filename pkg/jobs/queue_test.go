package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFailedJobRetriesInPlaceBeforeLaterJobs(t *testing.T) {
	var mu sync.Mutex
	var completed []string
	failedOnce := false

	q := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		if job.ID == "first" && !failedOnce {
			failedOnce = true
			return errors.New("transient")
		}
		completed = append(completed, job.ID)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})

	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{ID: "first", Type: "t"}))
	require.NoError(t, q.Enqueue(Job{ID: "second", Type: "t"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completed) == 2
	}, 2*time.Second, 5*time.Millisecond)
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, completed)
}

func TestJobExceedingRetriesIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		return errors.New("permanent")
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond, Logger: zap.New(core)})

	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{ID: "doomed", Type: "t"}))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("job exceeded retries").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	q.Stop()

	assert.Equal(t, 2, logs.FilterMessage("job failed, retrying").Len())
}

func TestStopLogsUnprocessedJobsAsDropped(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		<-ctx.Done()
		return ctx.Err()
	}, QueueConfig{Workers: 1, BufferSize: 4, RetryDelay: time.Minute, Logger: zap.New(core)})

	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{ID: "in-flight", Type: "t"}))
	require.Eventually(t, func() bool { return q.Depth() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(Job{ID: "buffered-1", Type: "t"}))
	require.NoError(t, q.Enqueue(Job{ID: "buffered-2", Type: "t"}))

	q.Stop()

	assert.Equal(t, 3, logs.FilterMessage("job dropped at shutdown").Len())
	assert.Equal(t, 0, q.Depth())
}
