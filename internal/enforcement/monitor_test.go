package enforcement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-service/internal/domain/parking"
	"parking-service/internal/ledger"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []parking.ViolationAlert
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, alert parking.ViolationAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, alert)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeFailureSink struct {
	mu       sync.Mutex
	failures int
}

func (f *fakeFailureSink) LogDeliveryFailure(parking.ViolationAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

func (f *fakeFailureSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

func snap(count int, identities ...string) ledger.Snapshot {
	return ledger.Snapshot{Count: count, Identities: identities, TakenAt: time.Now()}
}

func newTestMonitor(capacity int, n Notifier, f FailureSink) *Monitor {
	return NewMonitor(capacity, 1, time.Second, n, f, zerolog.Nop())
}

func TestMonitor_ViolationOnExceedingCapacity(t *testing.T) {
	notifier := &fakeNotifier{}
	m := newTestMonitor(2, notifier, nil)

	// capacity=2: two vehicles is still NORMAL.
	assert.Nil(t, m.Evaluate("lot", snap(1, "A")))
	assert.Nil(t, m.Evaluate("lot", snap(2, "A", "B")))
	assert.Equal(t, StateNormal, m.State())

	alert := m.Evaluate("lot", snap(3, "A", "B", "C"))
	require.NotNil(t, alert)
	assert.Equal(t, StateViolation, m.State())
	assert.Equal(t, 3, alert.Count)
	assert.Equal(t, 2, alert.Capacity)
	assert.Equal(t, []string{"A", "B", "C"}, alert.Identities)
	assert.NotNil(t, m.ViolationSince())

	m.Wait()
	assert.Equal(t, 1, notifier.count())
}

func TestMonitor_SingleNotificationPerEpisode(t *testing.T) {
	notifier := &fakeNotifier{}
	m := newTestMonitor(2, notifier, nil)

	require.NotNil(t, m.Evaluate("lot", snap(3, "A", "B", "C")))

	// Staying in violation across many evaluations fires nothing more.
	for i := 0; i < 10; i++ {
		assert.Nil(t, m.Evaluate("lot", snap(3+i%2, "A", "B", "C")))
	}
	m.Wait()
	assert.Equal(t, 1, notifier.count())
}

func TestMonitor_ReturnToNormalThenNewEpisode(t *testing.T) {
	notifier := &fakeNotifier{}
	m := newTestMonitor(2, notifier, nil)

	require.NotNil(t, m.Evaluate("lot", snap(3, "A", "B", "C")))

	// Back to capacity: NORMAL, no notification, onset cleared.
	assert.Nil(t, m.Evaluate("lot", snap(2, "A", "B")))
	assert.Equal(t, StateNormal, m.State())
	assert.Nil(t, m.ViolationSince())

	// A new episode fires exactly one more notification.
	require.NotNil(t, m.Evaluate("lot", snap(3, "A", "B", "D")))
	m.Wait()
	assert.Equal(t, 2, notifier.count())
}

func TestMonitor_TransitionCompletesDespiteDeliveryFailure(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("smtp unreachable")}
	failures := &fakeFailureSink{}
	m := newTestMonitor(2, notifier, failures)

	alert := m.Evaluate("lot", snap(3, "A", "B", "C"))
	require.NotNil(t, alert)
	// State truth is never blocked by the external side effect.
	assert.Equal(t, StateViolation, m.State())

	m.Wait()
	// One initial attempt plus the single bounded retry, then dropped.
	assert.Equal(t, 2, notifier.count())
	assert.Equal(t, 1, failures.count())
	assert.Error(t, m.LastDeliveryError())
}

func TestMonitor_DeliveryErrorClearsOnSuccess(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("smtp unreachable")}
	m := newTestMonitor(2, notifier, &fakeFailureSink{})

	require.NotNil(t, m.Evaluate("lot", snap(3, "A", "B", "C")))
	m.Wait()
	require.Error(t, m.LastDeliveryError())

	// Recover, end the episode, start a new one: delivery succeeds and
	// the dashboard warning clears.
	notifier.mu.Lock()
	notifier.err = nil
	notifier.mu.Unlock()

	assert.Nil(t, m.Evaluate("lot", snap(1, "A")))
	require.NotNil(t, m.Evaluate("lot", snap(3, "A", "B", "C")))
	m.Wait()
	assert.NoError(t, m.LastDeliveryError())
}

func TestMonitor_NilNotifierStillTransitions(t *testing.T) {
	m := newTestMonitor(1, nil, nil)

	require.NotNil(t, m.Evaluate("lot", snap(2, "A", "B")))
	assert.Equal(t, StateViolation, m.State())
	m.Wait()
}
