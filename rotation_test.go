package gatekeeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refreshStub struct {
	mu      sync.Mutex
	calls   int
	err     error
	entered chan struct{}
	release chan struct{}
	next    func(current gatekeeper.StoredToken) gatekeeper.StoredToken
}

func (r *refreshStub) refresh(ctx context.Context, current gatekeeper.StoredToken) (gatekeeper.StoredToken, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	if r.err != nil {
		return gatekeeper.StoredToken{}, r.err
	}
	if r.next != nil {
		return r.next(current), nil
	}
	refreshed := current
	refreshed.AccessToken = "rotated-access"
	refreshed.RefreshToken = "rotated-refresh"
	refreshed.IssuedAt = time.Now()
	refreshed.ExpiresAt = current.ExpiresAt.Add(time.Hour)
	return refreshed, nil
}

func (r *refreshStub) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func waitRotation(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rotation outcome")
	}
}

func TestNewRotationScheduler_Validation(t *testing.T) {
	store := gatekeeper.NewMemoryTokenStore(gatekeeper.StoredToken{})
	refresh := func(ctx context.Context, current gatekeeper.StoredToken) (gatekeeper.StoredToken, error) {
		return current, nil
	}

	_, err := gatekeeper.NewRotationScheduler(nil, refresh, gatekeeper.RotationConfig{})
	assert.Error(t, err)

	_, err = gatekeeper.NewRotationScheduler(store, nil, gatekeeper.RotationConfig{})
	assert.Error(t, err)

	_, err = gatekeeper.NewRotationScheduler(store, refresh, gatekeeper.RotationConfig{})
	assert.NoError(t, err)
}

func TestRotationScheduler_NeedsRotation(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	scheduler, err := gatekeeper.NewRotationScheduler(
		gatekeeper.NewMemoryTokenStore(gatekeeper.StoredToken{}),
		(&refreshStub{}).refresh,
		gatekeeper.RotationConfig{GracePeriod: 5 * time.Minute},
		gatekeeper.WithRotationClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	assert.True(t, scheduler.NeedsRotation(gatekeeper.StoredToken{ExpiresAt: now.Add(60 * time.Second)}))
	assert.True(t, scheduler.NeedsRotation(gatekeeper.StoredToken{ExpiresAt: now.Add(5 * time.Minute)}))
	assert.False(t, scheduler.NeedsRotation(gatekeeper.StoredToken{ExpiresAt: now.Add(10 * time.Minute)}))
	assert.False(t, scheduler.NeedsRotation(gatekeeper.StoredToken{}), "tokens without expiry never rotate")
}

func TestRotationScheduler_RotateNow(t *testing.T) {
	initial := gatekeeper.StoredToken{
		AccessToken: "initial-access",
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	store := gatekeeper.NewMemoryTokenStore(initial)
	stub := &refreshStub{}

	var rotated gatekeeper.StoredToken
	done := make(chan struct{}, 1)

	scheduler, err := gatekeeper.NewRotationScheduler(store, stub.refresh, gatekeeper.RotationConfig{},
		gatekeeper.WithRotationObserver(gatekeeper.RotationObserver{
			OnRotationComplete: func(token gatekeeper.StoredToken) {
				rotated = token
				done <- struct{}{}
			},
		}),
	)
	require.NoError(t, err)

	require.NoError(t, scheduler.RotateNow(context.Background()))
	waitRotation(t, done)

	assert.Equal(t, "rotated-access", rotated.AccessToken)
	assert.True(t, rotated.ExpiresAt.After(initial.ExpiresAt), "rotated token must outlive the old one")

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rotated-access", persisted.AccessToken)

	status := scheduler.Status()
	assert.Equal(t, gatekeeper.RotationIdle, status.State)
	assert.Zero(t, status.RetryCount)
	assert.NoError(t, status.LastError)
	assert.False(t, status.LastRotationAt.IsZero())
}

func TestRotationScheduler_RotateNowWhileInFlight(t *testing.T) {
	store := gatekeeper.NewMemoryTokenStore(gatekeeper.StoredToken{
		ExpiresAt: time.Now().Add(time.Minute),
	})
	stub := &refreshStub{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}

	scheduler, err := gatekeeper.NewRotationScheduler(store, stub.refresh, gatekeeper.RotationConfig{})
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- scheduler.RotateNow(context.Background())
	}()

	<-stub.entered
	assert.Equal(t, gatekeeper.RotationRotating, scheduler.Status().State)

	err = scheduler.RotateNow(context.Background())
	assert.ErrorIs(t, err, gatekeeper.ErrRotationInFlight)

	close(stub.release)
	require.NoError(t, <-firstDone)
	assert.Equal(t, 1, stub.callCount())
}

func TestRotationScheduler_RejectsNonOutlivingToken(t *testing.T) {
	current := gatekeeper.StoredToken{
		AccessToken: "initial-access",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	store := gatekeeper.NewMemoryTokenStore(current)
	stub := &refreshStub{
		next: func(token gatekeeper.StoredToken) gatekeeper.StoredToken {
			token.ExpiresAt = current.ExpiresAt
			return token
		},
	}

	scheduler, err := gatekeeper.NewRotationScheduler(store, stub.refresh, gatekeeper.RotationConfig{})
	require.NoError(t, err)

	err = scheduler.RotateNow(context.Background())
	require.Error(t, err)

	persisted, loadErr := store.Load(context.Background())
	require.NoError(t, loadErr)
	assert.Equal(t, "initial-access", persisted.AccessToken, "failed rotations never mutate the stored token")
}

func TestRotationScheduler_BackgroundRotation(t *testing.T) {
	store := gatekeeper.NewMemoryTokenStore(gatekeeper.StoredToken{
		AccessToken: "initial-access",
		// already inside the grace period, rotation fires on the first tick
		ExpiresAt: time.Now().Add(time.Minute),
	})
	stub := &refreshStub{}

	done := make(chan struct{}, 1)
	scheduler, err := gatekeeper.NewRotationScheduler(store, stub.refresh,
		gatekeeper.RotationConfig{
			Interval:    10 * time.Millisecond,
			GracePeriod: 5 * time.Minute,
		},
		gatekeeper.WithRotationObserver(gatekeeper.RotationObserver{
			OnRotationComplete: func(gatekeeper.StoredToken) { done <- struct{}{} },
		}),
	)
	require.NoError(t, err)

	scheduler.Start()
	defer scheduler.Stop()
	waitRotation(t, done)

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rotated-access", persisted.AccessToken)

	// a successful rotation leaves the cadence armed
	assert.Eventually(t, func() bool {
		return scheduler.Status().State == gatekeeper.RotationScheduled
	}, time.Second, 5*time.Millisecond)
}

func TestRotationScheduler_RetriesThenParks(t *testing.T) {
	store := gatekeeper.NewMemoryTokenStore(gatekeeper.StoredToken{
		ExpiresAt: time.Now().Add(time.Minute),
	})
	stub := &refreshStub{err: errors.New("refresh endpoint down")}

	var failures int
	var mu sync.Mutex
	parked := make(chan struct{}, 4)

	scheduler, err := gatekeeper.NewRotationScheduler(store, stub.refresh,
		gatekeeper.RotationConfig{
			Interval:       10 * time.Millisecond,
			GracePeriod:    5 * time.Minute,
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
		gatekeeper.WithRotationObserver(gatekeeper.RotationObserver{
			OnRotationError: func(error) {
				mu.Lock()
				failures++
				mu.Unlock()
				parked <- struct{}{}
			},
		}),
	)
	require.NoError(t, err)

	scheduler.Start()
	defer scheduler.Stop()

	// initial attempt plus two retries
	for i := 0; i < 3; i++ {
		waitRotation(t, parked)
	}

	assert.Eventually(t, func() bool {
		return scheduler.Status().State == gatekeeper.RotationIdle
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 3, failures)
	mu.Unlock()
	assert.Equal(t, 3, stub.callCount())

	status := scheduler.Status()
	assert.Error(t, status.LastError)
	assert.Equal(t, 2, status.RetryCount)
}

func TestRotationScheduler_RotateNowResetsRetryCount(t *testing.T) {
	store := gatekeeper.NewMemoryTokenStore(gatekeeper.StoredToken{
		ExpiresAt: time.Now().Add(time.Minute),
	})
	stub := &refreshStub{err: errors.New("refresh endpoint down")}

	scheduler, err := gatekeeper.NewRotationScheduler(store, stub.refresh, gatekeeper.RotationConfig{})
	require.NoError(t, err)

	require.Error(t, scheduler.RotateNow(context.Background()))
	require.Error(t, scheduler.Status().LastError)

	stub.mu.Lock()
	stub.err = nil
	stub.mu.Unlock()

	require.NoError(t, scheduler.RotateNow(context.Background()))

	status := scheduler.Status()
	assert.Zero(t, status.RetryCount)
	assert.NoError(t, status.LastError)
}

func TestRotationScheduler_StopPreventsFurtherRefreshes(t *testing.T) {
	store := gatekeeper.NewMemoryTokenStore(gatekeeper.StoredToken{
		// outside the grace period, the first tick only reschedules
		ExpiresAt: time.Now().Add(time.Hour),
	})
	stub := &refreshStub{}

	scheduler, err := gatekeeper.NewRotationScheduler(store, stub.refresh,
		gatekeeper.RotationConfig{
			Interval:    5 * time.Millisecond,
			GracePeriod: time.Minute,
		},
	)
	require.NoError(t, err)

	scheduler.Start()
	assert.Equal(t, gatekeeper.RotationScheduled, scheduler.Status().State)

	scheduler.Stop()
	assert.Equal(t, gatekeeper.RotationIdle, scheduler.Status().State)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, stub.callCount())
}

func TestRotationScheduler_SinkReceivesOutcomes(t *testing.T) {
	store := gatekeeper.NewMemoryTokenStore(gatekeeper.StoredToken{
		ExpiresAt: time.Now().Add(time.Minute),
	})
	stub := &refreshStub{}

	var events []gatekeeper.ActivityEvent
	var mu sync.Mutex

	scheduler, err := gatekeeper.NewRotationScheduler(store, stub.refresh, gatekeeper.RotationConfig{},
		gatekeeper.WithRotationSink(gatekeeper.ActivitySinkFunc(func(ctx context.Context, event gatekeeper.ActivityEvent) error {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		})),
	)
	require.NoError(t, err)

	require.NoError(t, scheduler.RotateNow(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, gatekeeper.ActivityEventRotationSuccess, events[0].EventType)
	assert.Equal(t, true, events[0].Metadata["manual"])
}
