package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, BackoffFactor: 1.5, MaxDelay: 5 * time.Millisecond}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	var notified []int

	got, err := Do(context.Background(), fastPolicy, func(ctx context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("seek failed")
		}
		return "frame", nil
	}, func(attempt int, err error, wait time.Duration) {
		notified = append(notified, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, "frame", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	lastErr := errors.New("decode failed")

	_, err := Do(context.Background(), fastPolicy, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, lastErr
	}, nil)

	assert.ErrorIs(t, err, lastErr)
	assert.Equal(t, 5, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	stop := errors.New("error ceiling reached")

	_, err := Do(context.Background(), fastPolicy, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, Permanent(stop)
	}, nil)

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := Policy{MaxAttempts: 5, BaseDelay: time.Hour, BackoffFactor: 1.5, MaxDelay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, slow, func(ctx context.Context, attempt int) (int, error) {
			calls++
			return 0, errors.New("fail")
		}, nil)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestPolicyDelay(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, 1000 * time.Millisecond},
		{2, 1500 * time.Millisecond},
		{3, 2250 * time.Millisecond},
		{4, 3375 * time.Millisecond},
		{5, 5000 * time.Millisecond},
		{9, 5000 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultPolicy.Delay(tt.retry), "retry %d", tt.retry)
	}
}
