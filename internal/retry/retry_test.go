package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTimeout(t *testing.T) {
	kind := Classify(context.DeadlineExceeded, 0, "")
	assert.Equal(t, Retriable, kind)
}

func TestClassifyContextCanceled(t *testing.T) {
	kind := Classify(context.Canceled, 0, "")
	assert.Equal(t, NonRetriable, kind)
}

func TestClassifyDpkgLock(t *testing.T) {
	stderr := "E: Could not get lock /var/lib/dpkg/lock-frontend. It is held by process 1234 (unattended-upgr)"
	assert.Equal(t, Retriable, Classify(errors.New("exit status 100"), 100, stderr))
}

func TestClassifyMirrorFailure(t *testing.T) {
	kind := Classify(errors.New("fail"), 100, "E: Failed to fetch http://archive.ubuntu.com/... Temporary failure resolving")
	assert.Equal(t, Retriable, kind)
}

func TestClassifyConnectionError(t *testing.T) {
	kind := Classify(errors.New("fail"), 1, "curl: (7) Failed to connect: Connection refused")
	assert.Equal(t, Retriable, kind)
}

func TestClassifyMissingPackage(t *testing.T) {
	kind := Classify(errors.New("fail"), 100, "E: Unable to locate package nginxx")
	assert.Equal(t, NonRetriable, kind)
}

func TestClassifyPermissionDenied(t *testing.T) {
	kind := Classify(errors.New("fail"), 1, "permission denied")
	assert.Equal(t, NonRetriable, kind)
}

func TestClassifyHighExitCode(t *testing.T) {
	kind := Classify(errors.New("fail"), 2, "something broke")
	assert.Equal(t, NonRetriable, kind)
}

func TestClassifyLaunchFailure(t *testing.T) {
	kind := Classify(errors.New("exec: not started"), -1, "")
	assert.Equal(t, NonRetriable, kind)
}

func TestClassifyUnknown(t *testing.T) {
	kind := Classify(errors.New("fail"), 1, "some weird error")
	assert.Equal(t, Unknown, kind)
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "RETRIABLE", Retriable.String())
	assert.Equal(t, "NON_RETRIABLE", NonRetriable.String())
	assert.Equal(t, "UNKNOWN", Unknown.String())
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.InitDelay)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
}

func TestPolicyExecuteSuccessFirstAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}
	calls := 0
	err := p.Execute(context.Background(), func() (ErrorKind, error) {
		calls++
		return Retriable, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicyExecuteRetriableSucceedsOnThird(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitDelay: time.Millisecond, Multiplier: 1.0, MaxDelay: time.Second}
	calls := 0
	var retried []int
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		retried = append(retried, attempt)
	}
	err := p.Execute(context.Background(), func() (ErrorKind, error) {
		calls++
		if calls < 3 {
			return Retriable, errors.New("transient")
		}
		return Retriable, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestPolicyExecuteNonRetriableStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}
	calls := 0
	permanent := errors.New("permanent")
	err := p.Execute(context.Background(), func() (ErrorKind, error) {
		calls++
		return NonRetriable, permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Same(t, permanent, err)
}

func TestPolicyExecuteUnknownRetriesLikeRetriable(t *testing.T) {
	p := Policy{MaxAttempts: 2, InitDelay: time.Millisecond, Multiplier: 1.0, MaxDelay: time.Second}
	calls := 0
	mystery := errors.New("mystery")
	err := p.Execute(context.Background(), func() (ErrorKind, error) {
		calls++
		return Unknown, mystery
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.ErrorIs(t, err, mystery)
}

func TestPolicyExecuteRespectsContext(t *testing.T) {
	p := Policy{MaxAttempts: 10, InitDelay: time.Second, Multiplier: 2.0, MaxDelay: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Execute(ctx, func() (ErrorKind, error) {
		return Retriable, errors.New("fail")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNoRetry(t *testing.T) {
	calls := 0
	err := NoRetry().Execute(context.Background(), func() (ErrorKind, error) {
		calls++
		return Retriable, errors.New("once")
	})
	assert.EqualError(t, err, "once")
	assert.Equal(t, 1, calls)
}

func TestPolicyDelayCalculation(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: 500 * time.Millisecond}
	// attempt 0: 100ms, attempt 1: 200ms, attempt 2: 400ms, attempt 3: 500ms (capped)
	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 400*time.Millisecond, p.delay(2))
	assert.Equal(t, 500*time.Millisecond, p.delay(3))
}
