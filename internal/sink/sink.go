package sink

import (
	"parking-service/internal/domain/parking"
)

// EventSink is the append-only record of parking record lifecycle
// transitions, consumed read-only by dashboards. Implementations must
// write at most once per transition, in transition order.
type EventSink interface {
	LogEntry(rec parking.ParkingRecord) error
	LogExit(rec parking.ParkingRecord) error
	LogDeliveryFailure(alert parking.ViolationAlert, deliveryErr error)
	Flush() error
}

// Multi fans transitions out to several sinks. Errors from individual
// sinks are collected by the caller's logging; the first error wins.
type Multi []EventSink

func (m Multi) LogEntry(rec parking.ParkingRecord) error {
	var first error
	for _, s := range m {
		if err := s.LogEntry(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) LogExit(rec parking.ParkingRecord) error {
	var first error
	for _, s := range m {
		if err := s.LogExit(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) LogDeliveryFailure(alert parking.ViolationAlert, deliveryErr error) {
	for _, s := range m {
		s.LogDeliveryFailure(alert, deliveryErr)
	}
}

func (m Multi) Flush() error {
	var first error
	for _, s := range m {
		if err := s.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
