package ledger

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

// Result classifies the outcome of applying a crossing event.
type Result int

const (
	ResultEntered Result = iota
	ResultExited
	ResultDuplicateEntry
	ResultOrphanExit
)

func (r Result) String() string {
	switch r {
	case ResultEntered:
		return "entered"
	case ResultExited:
		return "exited"
	case ResultDuplicateEntry:
		return "duplicate_entry"
	default:
		return "orphan_exit"
	}
}

// Update is the outcome of one Apply call.
type Update struct {
	Result Result
	Record *parking.ParkingRecord
	Count  int
}

// Mutated reports whether the event changed ledger state.
func (u Update) Mutated() bool {
	return u.Result == ResultEntered || u.Result == ResultExited
}

// Snapshot is a consistent read-only view of ledger state for
// dashboards and enforcement.
type Snapshot struct {
	Count      int
	Active     []parking.ParkingRecord
	Identities []string
	TakenAt    time.Time
}

// Ledger is the authoritative in-memory store of currently-parked
// identities. Apply is the only mutator; after every call the count
// equals the number of records with a nil exit time, and never goes
// negative. Reads take snapshots under a read lock so dashboard polling
// never delays frame processing.
type Ledger struct {
	mu         sync.RWMutex
	active     map[string]*parking.ParkingRecord
	history    []parking.ParkingRecord
	hourlyRate float64
	log        zerolog.Logger
}

func New(hourlyRate float64, log zerolog.Logger) *Ledger {
	return &Ledger{
		active:     make(map[string]*parking.ParkingRecord),
		hourlyRate: hourlyRate,
		log:        log,
	}
}

// Apply folds one crossing event into the ledger.
//
// A duplicate ENTRY (identity already parked) is ignored rather than
// double-counted: the tracker can re-detect an already-parked vehicle
// under a new track and the single-active-record invariant must hold.
// An EXIT with no matching active record is an orphan and is likewise
// ignored rather than decrementing below the true occupancy.
func (l *Ledger) Apply(event parking.CrossingEvent) Update {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch event.Direction {
	case parking.DirectionEntry:
		if existing, ok := l.active[event.Identity]; ok {
			l.log.Warn().
				Str("identity", event.Identity).
				Str("track_id", event.TrackID).
				Time("entered_at", existing.EntryTime).
				Msg("duplicate entry ignored, identity already parked")
			return Update{Result: ResultDuplicateEntry, Record: existing, Count: len(l.active)}
		}
		rec := &parking.ParkingRecord{
			Identity:  event.Identity,
			Plate:     event.Plate,
			CameraID:  event.CameraID,
			EntryTime: event.Timestamp,
		}
		l.active[event.Identity] = rec
		return Update{Result: ResultEntered, Record: rec, Count: len(l.active)}

	case parking.DirectionExit:
		rec, ok := l.active[event.Identity]
		if !ok {
			l.log.Warn().
				Str("identity", event.Identity).
				Str("track_id", event.TrackID).
				Msg("orphan exit ignored, no matching entry")
			return Update{Result: ResultOrphanExit, Count: len(l.active)}
		}
		// A plate learned while the vehicle was parked arrives on the
		// exit event; keep it on the completed record.
		if rec.Plate == "" && event.Plate != "" {
			rec.Plate = event.Plate
		}
		exit := event.Timestamp
		duration := exit.Sub(rec.EntryTime).Hours()
		if duration < 0 {
			duration = 0
		}
		fare := l.fare(duration)
		duration = round2(duration)
		rec.ExitTime = &exit
		rec.DurationHours = &duration
		rec.Fare = &fare
		delete(l.active, event.Identity)
		l.history = append(l.history, *rec)
		return Update{Result: ResultExited, Record: rec, Count: len(l.active)}
	}

	l.log.Error().Str("direction", string(event.Direction)).Msg("unknown crossing direction")
	return Update{Result: ResultOrphanExit, Count: len(l.active)}
}

// Count returns the current number of parked vehicles.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.active)
}

// Snapshot copies the active set for non-blocking reads.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := Snapshot{
		Count:      len(l.active),
		Active:     make([]parking.ParkingRecord, 0, len(l.active)),
		Identities: make([]string, 0, len(l.active)),
		TakenAt:    time.Now(),
	}
	for id, rec := range l.active {
		snap.Active = append(snap.Active, *rec)
		snap.Identities = append(snap.Identities, id)
	}
	sort.Strings(snap.Identities)
	sort.Slice(snap.Active, func(i, j int) bool {
		return snap.Active[i].EntryTime.Before(snap.Active[j].EntryTime)
	})
	return snap
}

// History returns completed parking records in exit order.
func (l *Ledger) History() []parking.ParkingRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]parking.ParkingRecord, len(l.history))
	copy(out, l.history)
	return out
}

// fare charges a minimum of one hour, then rounds the stay up to whole
// hours at the configured rate.
func (l *Ledger) fare(durationHours float64) float64 {
	hours := math.Ceil(durationHours)
	if hours < 1 {
		hours = 1
	}
	return round2(hours * l.hourlyRate)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
