package operation

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/apprunner-scale/internal/controlplane"
	"github.com/rshade/apprunner-scale/internal/controlplane/controlplanetest"
)

const interval = 10 * time.Second

func newTestPoller(fake *controlplanetest.Fake, maxWait time.Duration) (*Poller, *fakeclock.FakeClock) {
	fc := fakeclock.NewFakeClock(time.Unix(1700000000, 0))
	return &Poller{Source: fake, Interval: interval, MaxWait: maxWait, Clock: fc}, fc
}

func awaitAsync(ctx context.Context, p *Poller) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- p.Await(ctx, "arn:svc1", "op-1")
	}()
	return done
}

func receive(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Await did not return")
		return nil
	}
}

func TestAwait_SucceedsAfterTwoWaits(t *testing.T) {
	fake := controlplanetest.NewFake()
	fake.Statuses["arn:svc1"] = []controlplane.OperationStatus{
		controlplane.OperationPending,
		controlplane.OperationInProgress,
		controlplane.OperationSucceeded,
	}
	p, fc := newTestPoller(fake, time.Minute)

	done := awaitAsync(context.Background(), p)
	fc.WaitForWatcherAndIncrement(interval)
	fc.WaitForWatcherAndIncrement(interval)

	require.NoError(t, receive(t, done))
	assert.Equal(t, 3, fake.Polls("arn:svc1"))
}

func TestAwait_FailedIsImmediate(t *testing.T) {
	fake := controlplanetest.NewFake()
	fake.Statuses["arn:svc1"] = []controlplane.OperationStatus{controlplane.OperationFailed}
	p, _ := newTestPoller(fake, time.Minute)

	err := p.Await(context.Background(), "arn:svc1", "op-1")

	var failed *OperationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, controlplane.OperationFailed, failed.Status)
	assert.Contains(t, err.Error(), "FAILED")
	assert.Equal(t, 1, fake.Polls("arn:svc1"))
}

func TestAwait_RollbackAndUnknownAreFailures(t *testing.T) {
	for _, status := range []controlplane.OperationStatus{
		controlplane.OperationRollbackSucceeded,
		controlplane.OperationRollbackInProgress,
		"",
	} {
		t.Run(string(status), func(t *testing.T) {
			fake := controlplanetest.NewFake()
			fake.Statuses["arn:svc1"] = []controlplane.OperationStatus{status}
			p, _ := newTestPoller(fake, time.Minute)

			var failed *OperationFailedError
			assert.ErrorAs(t, p.Await(context.Background(), "arn:svc1", "op-1"), &failed)
		})
	}
}

func TestAwait_EmptyOperationList(t *testing.T) {
	fake := controlplanetest.NewFake()
	fake.NoOperations["arn:svc1"] = true
	p, _ := newTestPoller(fake, time.Minute)

	err := p.Await(context.Background(), "arn:svc1", "op-1")
	assert.ErrorIs(t, err, controlplane.ErrNoOperations)
	assert.Equal(t, 1, fake.Polls("arn:svc1"))
}

func TestAwait_EmptyOperationID(t *testing.T) {
	fake := controlplanetest.NewFake()
	p, _ := newTestPoller(fake, time.Minute)

	err := p.Await(context.Background(), "arn:svc1", "")
	assert.ErrorIs(t, err, ErrEmptyOperationID)
	assert.Empty(t, fake.Calls(), "no API call for a missing id")
}

func TestAwait_APIError(t *testing.T) {
	fake := controlplanetest.NewFake()
	apiErr := errors.New("ThrottlingException")
	fake.Errors["PollOperation"] = apiErr
	p, _ := newTestPoller(fake, time.Minute)

	err := p.Await(context.Background(), "arn:svc1", "op-1")
	assert.ErrorIs(t, err, apiErr)

	var timeout *TimeoutError
	assert.False(t, errors.As(err, &timeout))
}

func TestAwait_TimesOut(t *testing.T) {
	fake := controlplanetest.NewFake()
	fake.Statuses["arn:svc1"] = []controlplane.OperationStatus{controlplane.OperationInProgress}
	p, fc := newTestPoller(fake, 25*time.Second)

	done := awaitAsync(context.Background(), p)
	fc.WaitForWatcherAndIncrement(interval)
	fc.WaitForWatcherAndIncrement(interval)

	err := receive(t, done)
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 20*time.Second, timeout.Waited)
	assert.Equal(t, controlplane.OperationInProgress, timeout.LastStatus)
	assert.Equal(t, 3, fake.Polls("arn:svc1"))
}

func TestAwait_ContextCanceled(t *testing.T) {
	fake := controlplanetest.NewFake()
	fake.Statuses["arn:svc1"] = []controlplane.OperationStatus{controlplane.OperationPending}
	p, fc := newTestPoller(fake, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := awaitAsync(ctx, p)
	require.Eventually(t, func() bool { return fc.WatcherCount() > 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	assert.ErrorIs(t, receive(t, done), context.Canceled)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status controlplane.OperationStatus
		want   Phase
	}{
		{controlplane.OperationPending, PhaseRunning},
		{controlplane.OperationInProgress, PhaseRunning},
		{controlplane.OperationSucceeded, PhaseSucceeded},
		{controlplane.OperationFailed, PhaseFailed},
		{controlplane.OperationRollbackFailed, PhaseFailed},
		{"SOMETHING_NEW", PhaseFailed},
	}
	for _, tt := range tests {
		if got := Classify(tt.status); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
