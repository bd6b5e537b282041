package enforcement

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
	"parking-service/internal/ledger"
)

type State string

const (
	StateNormal    State = "NORMAL"
	StateViolation State = "VIOLATION"
)

// Notifier delivers a violation alert to the authority. Implementations
// must treat delivery as best-effort; the monitor never depends on
// synchronous success.
type Notifier interface {
	Notify(ctx context.Context, alert parking.ViolationAlert) error
}

// FailureSink receives a durable record when alert delivery ultimately
// fails, so dashboards can surface the warning.
type FailureSink interface {
	LogDeliveryFailure(alert parking.ViolationAlert, err error)
}

// Monitor is the capacity enforcement state machine. It transitions
// between NORMAL and VIOLATION after every ledger mutation and fires
// exactly one notification per NORMAL -> VIOLATION edge, however many
// frames elapse while occupancy stays above capacity. The state
// transition itself is synchronous; notification delivery runs off the
// critical path and never stalls frame processing.
type Monitor struct {
	capacity   int
	retryCount int
	timeout    time.Duration

	notifier Notifier
	failures FailureSink
	log      zerolog.Logger

	mu             sync.RWMutex
	state          State
	violationSince *time.Time
	lastDelivery   error

	wg sync.WaitGroup
}

func NewMonitor(capacity, retryCount int, timeout time.Duration, notifier Notifier, failures FailureSink, log zerolog.Logger) *Monitor {
	return &Monitor{
		capacity:   capacity,
		retryCount: retryCount,
		timeout:    timeout,
		notifier:   notifier,
		failures:   failures,
		log:        log,
		state:      StateNormal,
	}
}

// Evaluate applies the transition function to a fresh ledger snapshot.
// It returns the alert fired on a NORMAL -> VIOLATION edge, nil
// otherwise. Callers invoke it after every ledger mutation.
func (m *Monitor) Evaluate(cameraID string, snap ledger.Snapshot) *parking.ViolationAlert {
	m.mu.Lock()

	next := StateNormal
	if snap.Count > m.capacity {
		next = StateViolation
	}
	prev := m.state
	m.state = next

	if prev == next || next != StateViolation {
		if prev == StateViolation && next == StateNormal {
			m.violationSince = nil
			m.log.Info().
				Str("camera_id", cameraID).
				Int("count", snap.Count).
				Int("capacity", m.capacity).
				Msg("capacity violation cleared")
		}
		m.mu.Unlock()
		return nil
	}

	now := snap.TakenAt
	m.violationSince = &now
	m.mu.Unlock()

	alert := &parking.ViolationAlert{
		CameraID:   cameraID,
		Count:      snap.Count,
		Capacity:   m.capacity,
		Timestamp:  now,
		Identities: snap.Identities,
	}
	m.log.Warn().
		Str("camera_id", cameraID).
		Int("count", alert.Count).
		Int("capacity", alert.Capacity).
		Strs("identities", alert.Identities).
		Msg("capacity exceeded, violation episode started")

	m.dispatch(*alert)
	return alert
}

// dispatch sends the alert in the background with a bounded retry. A
// failed send never blocks or rolls back the state transition; it is
// logged, recorded with the failure sink, and dropped.
func (m *Monitor) dispatch(alert parking.ViolationAlert) {
	if m.notifier == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		var err error
		for attempt := 0; attempt <= m.retryCount; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			err = m.notifier.Notify(ctx, alert)
			cancel()
			if err == nil {
				m.setDeliveryErr(nil)
				m.log.Info().Int("attempt", attempt+1).Msg("violation alert delivered")
				return
			}
			m.log.Error().Err(err).Int("attempt", attempt+1).Msg("violation alert delivery failed")
		}

		m.setDeliveryErr(err)
		if m.failures != nil {
			m.failures.LogDeliveryFailure(alert, err)
		}
	}()
}

// State returns the current enforcement state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ViolationSince returns the onset of the current violation episode, or
// nil when the state is NORMAL.
func (m *Monitor) ViolationSince() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.violationSince == nil {
		return nil
	}
	t := *m.violationSince
	return &t
}

// LastDeliveryError exposes the most recent notification failure so
// dashboards can surface it; nil once a later delivery succeeds.
func (m *Monitor) LastDeliveryError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastDelivery
}

func (m *Monitor) setDeliveryErr(err error) {
	m.mu.Lock()
	m.lastDelivery = err
	m.mu.Unlock()
}

// Wait blocks until in-flight notification attempts finish. Used by
// shutdown and tests.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
