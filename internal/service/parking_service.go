package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/enforcement"
	"parking-service/internal/ledger"
	"parking-service/internal/repository"
	"parking-service/internal/sink"
	"parking-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// CrossingPublisher streams crossing events to an external broker.
type CrossingPublisher interface {
	PublishCrossing(event parking.CrossingEvent) error
}

// ParkingService ties the per-feed ledgers, the enforcement monitors,
// the event log sinks and the optional persistence layer together. All
// ledger mutations flow through ProcessCrossing; the HTTP layer only
// calls the read methods.
type ParkingService struct {
	scope    string
	capacity int

	ledgers  map[string]*ledger.Ledger
	monitors map[string]*enforcement.Monitor
	events   sink.EventSink
	pub      CrossingPublisher
	repo     *repository.ParkingRepository
	log      zerolog.Logger

	// evalMu serializes snapshot and evaluation across feeds so a stale
	// snapshot is never evaluated after a fresher one, which would flap
	// the violation state and re-fire a notification mid-episode.
	evalMu sync.Mutex
}

// Options carries the optional collaborators; any of them may be nil.
type Options struct {
	Events    sink.EventSink
	Publisher CrossingPublisher
	Repo      *repository.ParkingRepository
}

// monitorKeyLot is the monitor key used when enforcement applies to the
// aggregate of all feeds.
const monitorKeyLot = "lot"

func NewParkingService(cfg *config.Config, newMonitor func(key string) *enforcement.Monitor, opts Options, log zerolog.Logger) *ParkingService {
	s := &ParkingService{
		scope:    cfg.Parking.EnforcementScope,
		capacity: cfg.Parking.CapacityLimit,
		ledgers:  make(map[string]*ledger.Ledger, len(cfg.Cameras)),
		monitors: make(map[string]*enforcement.Monitor),
		events:   opts.Events,
		pub:      opts.Publisher,
		repo:     opts.Repo,
		log:      log,
	}
	for _, cam := range cfg.Cameras {
		s.ledgers[cam.ID] = ledger.New(cfg.Parking.HourlyRate, log.With().Str("camera_id", cam.ID).Logger())
		if s.scope == config.ScopeFeed {
			s.monitors[cam.ID] = newMonitor(cam.ID)
		}
	}
	if s.scope == config.ScopeLot {
		s.monitors[monitorKeyLot] = newMonitor(monitorKeyLot)
	}
	return s
}

// ProcessCrossing applies one crossing event: ledger first (the single
// source of truth), then the durable sinks and the enforcement check.
// Sink and repository failures are logged but never roll back or block
// the ledger mutation.
func (s *ParkingService) ProcessCrossing(ctx context.Context, event parking.CrossingEvent) (ledger.Update, error) {
	led, ok := s.ledgers[event.CameraID]
	if !ok {
		return ledger.Update{}, fmt.Errorf("%w: unknown camera %q", ErrInvalidInput, event.CameraID)
	}
	if event.Identity == "" {
		return ledger.Update{}, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}

	upd := led.Apply(event)

	s.persistEvent(ctx, event)
	if s.pub != nil {
		if err := s.pub.PublishCrossing(event); err != nil {
			s.log.Error().Err(err).Str("event_id", event.ID).Msg("failed to publish crossing event")
		}
	}

	switch upd.Result {
	case ledger.ResultEntered:
		s.log.Info().
			Str("identity", event.Identity).
			Str("camera_id", event.CameraID).
			Int("count", upd.Count).
			Msg("vehicle entered")
		if s.events != nil {
			if err := s.events.LogEntry(*upd.Record); err != nil {
				s.log.Error().Err(err).Str("identity", event.Identity).Msg("failed to log entry")
			}
		}
		s.persistEntry(ctx, event, *upd.Record)

	case ledger.ResultExited:
		s.log.Info().
			Str("identity", event.Identity).
			Str("camera_id", event.CameraID).
			Float64("duration_hours", *upd.Record.DurationHours).
			Float64("fare", *upd.Record.Fare).
			Int("count", upd.Count).
			Msg("vehicle exited")
		if s.events != nil {
			if err := s.events.LogExit(*upd.Record); err != nil {
				s.log.Error().Err(err).Str("identity", event.Identity).Msg("failed to log exit")
			}
		}
		s.persistExit(ctx, *upd.Record)
	}

	if upd.Mutated() {
		s.evaluate(event.CameraID)
	}
	return upd, nil
}

// evaluate runs the capacity check against the scope the service was
// configured with: the mutated feed's ledger, or the whole lot.
func (s *ParkingService) evaluate(cameraID string) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	if s.scope == config.ScopeFeed {
		if m := s.monitors[cameraID]; m != nil {
			m.Evaluate(cameraID, s.ledgers[cameraID].Snapshot())
		}
		return
	}
	s.monitors[monitorKeyLot].Evaluate(monitorKeyLot, s.lotSnapshot())
}

// lotSnapshot merges all feed snapshots into one aggregate view.
func (s *ParkingService) lotSnapshot() ledger.Snapshot {
	agg := ledger.Snapshot{TakenAt: time.Now()}
	for _, led := range s.ledgers {
		snap := led.Snapshot()
		agg.Count += snap.Count
		agg.Active = append(agg.Active, snap.Active...)
		agg.Identities = append(agg.Identities, snap.Identities...)
	}
	sort.Strings(agg.Identities)
	sort.Slice(agg.Active, func(i, j int) bool {
		return agg.Active[i].EntryTime.Before(agg.Active[j].EntryTime)
	})
	return agg
}

func (s *ParkingService) persistEvent(ctx context.Context, event parking.CrossingEvent) {
	if s.repo == nil {
		return
	}
	if err := s.repo.CreateCrossingEvent(ctx, event); err != nil {
		s.log.Error().Err(err).Str("event_id", event.ID).Msg("failed to persist crossing event")
	}
}

func (s *ParkingService) persistEntry(ctx context.Context, event parking.CrossingEvent, rec parking.ParkingRecord) {
	if s.repo == nil {
		return
	}
	var vehicleID *int64
	if normalized := utils.NormalizePlate(event.Plate); normalized != "" {
		id, err := s.repo.GetOrCreateVehicle(ctx, normalized, event.Plate)
		if err != nil {
			s.log.Error().Err(err).Str("plate", normalized).Msg("failed to get or create vehicle")
		} else {
			vehicleID = &id
		}
	}
	if err := s.repo.CreateParkingRecord(ctx, vehicleID, rec); err != nil {
		s.log.Error().Err(err).Str("identity", rec.Identity).Msg("failed to persist parking record")
	}
}

func (s *ParkingService) persistExit(ctx context.Context, rec parking.ParkingRecord) {
	if s.repo == nil {
		return
	}
	if err := s.repo.CompleteParkingRecord(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("identity", rec.Identity).Msg("failed to complete parking record")
	}
}

// Status is the dashboard occupancy projection.
type Status struct {
	Occupancy       int            `json:"occupancy"`
	Capacity        int            `json:"capacity"`
	PercentFull     float64        `json:"percent_full"`
	Violation       bool           `json:"violation"`
	ViolationSince  *time.Time     `json:"violation_since,omitempty"`
	PerCamera       map[string]int `json:"per_camera"`
	AlertDeliveryOK bool           `json:"alert_delivery_ok"`
	AlertError      string         `json:"alert_error,omitempty"`
}

// GetStatus returns a consistent snapshot of occupancy and enforcement
// state. It never blocks frame processing.
func (s *ParkingService) GetStatus() Status {
	st := Status{
		Capacity:        s.capacity,
		PerCamera:       make(map[string]int, len(s.ledgers)),
		AlertDeliveryOK: true,
	}
	for id, led := range s.ledgers {
		count := led.Count()
		st.PerCamera[id] = count
		st.Occupancy += count
	}
	if s.capacity > 0 {
		st.PercentFull = float64(st.Occupancy) / float64(s.capacity) * 100
	}
	for _, m := range s.monitors {
		if m.State() == enforcement.StateViolation {
			st.Violation = true
			if since := m.ViolationSince(); since != nil && (st.ViolationSince == nil || since.Before(*st.ViolationSince)) {
				st.ViolationSince = since
			}
		}
		if err := m.LastDeliveryError(); err != nil {
			st.AlertDeliveryOK = false
			st.AlertError = err.Error()
		}
	}
	return st
}

// ActiveVehicle is one currently-parked vehicle as shown on dashboards.
type ActiveVehicle struct {
	Identity  string    `json:"identity"`
	Plate     string    `json:"plate,omitempty"`
	CameraID  string    `json:"camera_id"`
	EntryTime time.Time `json:"entry_time"`
}

// ActiveVehicles lists currently-parked vehicles across all feeds,
// oldest entry first.
func (s *ParkingService) ActiveVehicles() []ActiveVehicle {
	var out []ActiveVehicle
	for _, led := range s.ledgers {
		for _, rec := range led.Snapshot().Active {
			out = append(out, ActiveVehicle{
				Identity:  rec.Identity,
				Plate:     rec.Plate,
				CameraID:  rec.CameraID,
				EntryTime: rec.EntryTime,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// RecordInfo is one parking session for the records listing.
type RecordInfo struct {
	Identity      string     `json:"identity"`
	CameraID      string     `json:"camera_id"`
	EntryTime     time.Time  `json:"entry_time"`
	ExitTime      *time.Time `json:"exit_time,omitempty"`
	DurationHours *float64   `json:"duration_hours,omitempty"`
	Fare          *float64   `json:"fare,omitempty"`
}

// FindRecords queries parking history. With a database configured the
// durable store is queried; otherwise the in-memory ledger history is
// returned (completed sessions plus active ones, newest first).
func (s *ParkingService) FindRecords(ctx context.Context, plateQuery *string, from, to *string, limit, offset int) ([]RecordInfo, error) {
	var identity *string
	if plateQuery != nil {
		normalized := utils.NormalizePlate(*plateQuery)
		if normalized != "" {
			identity = &normalized
		}
	}

	fromTime, toTime, err := parseRange(from, to)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	if s.repo != nil {
		rows, err := s.repo.FindRecords(ctx, identity, fromTime, toTime, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to find records: %w", err)
		}
		result := make([]RecordInfo, 0, len(rows))
		for _, row := range rows {
			result = append(result, RecordInfo{
				Identity:      row.Identity,
				CameraID:      row.CameraID,
				EntryTime:     row.EntryTime,
				ExitTime:      row.ExitTime,
				DurationHours: row.DurationHours,
				Fare:          row.Fare,
			})
		}
		return result, nil
	}

	var all []parking.ParkingRecord
	for _, led := range s.ledgers {
		all = append(all, led.History()...)
		all = append(all, led.Snapshot().Active...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].EntryTime.After(all[j].EntryTime) })

	result := make([]RecordInfo, 0, limit)
	skipped := 0
	for _, rec := range all {
		if identity != nil && rec.Identity != *identity {
			continue
		}
		if fromTime != nil && rec.EntryTime.Before(*fromTime) {
			continue
		}
		if toTime != nil && rec.EntryTime.After(*toTime) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, RecordInfo{
			Identity:      rec.Identity,
			CameraID:      rec.CameraID,
			EntryTime:     rec.EntryTime,
			ExitTime:      rec.ExitTime,
			DurationHours: rec.DurationHours,
			Fare:          rec.Fare,
		})
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// EventInfo is one crossing event for the events listing.
type EventInfo struct {
	ID        string    `json:"id"`
	TrackID   string    `json:"track_id"`
	CameraID  string    `json:"camera_id"`
	Direction string    `json:"direction"`
	Identity  string    `json:"identity"`
	EventTime time.Time `json:"event_time"`
}

// FindEvents queries the durable crossing event log.
func (s *ParkingService) FindEvents(ctx context.Context, plateQuery *string, from, to *string, limit, offset int) ([]EventInfo, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("%w: event history requires a database", ErrNotFound)
	}

	var identity *string
	if plateQuery != nil {
		normalized := utils.NormalizePlate(*plateQuery)
		if normalized != "" {
			identity = &normalized
		}
	}

	fromTime, toTime, err := parseRange(from, to)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.repo.FindEvents(ctx, identity, fromTime, toTime, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}

	result := make([]EventInfo, 0, len(rows))
	for _, row := range rows {
		result = append(result, EventInfo{
			ID:        row.ID,
			TrackID:   row.TrackID,
			CameraID:  row.CameraID,
			Direction: row.Direction,
			Identity:  row.Identity,
			EventTime: row.EventTime,
		})
	}
	return result, nil
}

// Wait blocks until in-flight alert deliveries complete. Used at
// shutdown.
func (s *ParkingService) Wait() {
	for _, m := range s.monitors {
		m.Wait()
	}
}

func parseRange(from, to *string) (*time.Time, *time.Time, error) {
	var fromTime, toTime *time.Time
	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		fromTime = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		toTime = &t
	}
	return fromTime, toTime, nil
}
