package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func entry(identity string, ts time.Time) parking.CrossingEvent {
	return parking.CrossingEvent{
		ID:        identity + "-entry",
		TrackID:   "track-" + identity,
		CameraID:  "cam-1",
		Direction: parking.DirectionEntry,
		Identity:  identity,
		Timestamp: ts,
	}
}

func exit(identity string, ts time.Time) parking.CrossingEvent {
	return parking.CrossingEvent{
		ID:        identity + "-exit",
		TrackID:   "track-" + identity,
		CameraID:  "cam-1",
		Direction: parking.DirectionExit,
		Identity:  identity,
		Timestamp: ts,
	}
}

func TestLedger_EntryThenExit(t *testing.T) {
	l := New(50, testLogger())
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	upd := l.Apply(entry("DL12345", t0))
	assert.Equal(t, ResultEntered, upd.Result)
	assert.Equal(t, 1, upd.Count)
	assert.Equal(t, 1, l.Count())

	upd = l.Apply(exit("DL12345", t0.Add(30*time.Minute)))
	assert.Equal(t, ResultExited, upd.Result)
	assert.Equal(t, 0, upd.Count)
	assert.Equal(t, 0, l.Count())

	require.NotNil(t, upd.Record.ExitTime)
	require.NotNil(t, upd.Record.DurationHours)
	require.NotNil(t, upd.Record.Fare)
	assert.Equal(t, 0.5, *upd.Record.DurationHours)
	// Minimum charge is one full hour.
	assert.Equal(t, 50.0, *upd.Record.Fare)
}

func TestLedger_DuplicateEntryIgnored(t *testing.T) {
	l := New(50, testLogger())
	t0 := time.Now()

	first := l.Apply(entry("DL12345", t0))
	assert.Equal(t, ResultEntered, first.Result)

	dup := l.Apply(entry("DL12345", t0.Add(time.Minute)))
	assert.Equal(t, ResultDuplicateEntry, dup.Result)
	assert.False(t, dup.Mutated())
	assert.Equal(t, 1, l.Count())

	// The original record is untouched.
	assert.Equal(t, t0.Unix(), dup.Record.EntryTime.Unix())
}

func TestLedger_OrphanExitIgnored(t *testing.T) {
	l := New(50, testLogger())

	upd := l.Apply(exit("GH54321", time.Now()))
	assert.Equal(t, ResultOrphanExit, upd.Result)
	assert.False(t, upd.Mutated())
	assert.Equal(t, 0, l.Count())
	assert.GreaterOrEqual(t, l.Count(), 0)
}

func TestLedger_CountMatchesActiveRecords(t *testing.T) {
	l := New(50, testLogger())
	t0 := time.Now()

	events := []parking.CrossingEvent{
		entry("AA11111", t0),
		entry("BB22222", t0),
		exit("CC33333", t0),  // orphan
		entry("AA11111", t0), // duplicate
		exit("AA11111", t0.Add(time.Hour)),
		entry("CC33333", t0.Add(2 * time.Hour)),
		exit("BB22222", t0.Add(3 * time.Hour)),
	}

	for _, ev := range events {
		l.Apply(ev)
		snap := l.Snapshot()
		assert.Equal(t, len(snap.Active), snap.Count, "count must equal active records after every apply")
		assert.GreaterOrEqual(t, snap.Count, 0)
	}

	assert.Equal(t, 1, l.Count())
	assert.Equal(t, []string{"CC33333"}, l.Snapshot().Identities)
	assert.Len(t, l.History(), 2)
}

func TestLedger_FarePolicy(t *testing.T) {
	tests := []struct {
		duration time.Duration
		rate     float64
		expected float64
	}{
		{10 * time.Minute, 50, 50},          // minimum one hour
		{time.Hour, 50, 50},                 // exactly one hour
		{90 * time.Minute, 50, 100},         // rounds up
		{3*time.Hour + time.Minute, 50, 200},
		{2 * time.Hour, 0, 0},               // free lot
	}

	for i, test := range tests {
		l := New(test.rate, testLogger())
		t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
		id := fmt.Sprintf("XY%05d", i)
		l.Apply(entry(id, t0))
		upd := l.Apply(exit(id, t0.Add(test.duration)))
		require.NotNil(t, upd.Record.Fare)
		assert.Equal(t, test.expected, *upd.Record.Fare, "duration %v rate %v", test.duration, test.rate)
	}
}

func TestLedger_LatePlateKeptOnExit(t *testing.T) {
	l := New(50, testLogger())
	t0 := time.Now()

	l.Apply(entry("UNKNOWN_t1", t0))

	ev := exit("UNKNOWN_t1", t0.Add(time.Hour))
	ev.Plate = "DL12345"
	upd := l.Apply(ev)
	assert.Equal(t, ResultExited, upd.Result)
	assert.Equal(t, "DL12345", upd.Record.Plate)
	assert.Equal(t, "UNKNOWN_t1", upd.Record.Identity)
}

func TestLedger_ReEntryAfterExit(t *testing.T) {
	l := New(50, testLogger())
	t0 := time.Now()

	l.Apply(entry("DL12345", t0))
	l.Apply(exit("DL12345", t0.Add(time.Hour)))

	upd := l.Apply(entry("DL12345", t0.Add(2*time.Hour)))
	assert.Equal(t, ResultEntered, upd.Result)
	assert.Equal(t, 1, l.Count())
	assert.Len(t, l.History(), 1)
}

func TestLedger_SnapshotIsCopy(t *testing.T) {
	l := New(50, testLogger())
	l.Apply(entry("DL12345", time.Now()))

	snap := l.Snapshot()
	snap.Active[0].Identity = "mutated"
	snap.Identities[0] = "mutated"

	fresh := l.Snapshot()
	assert.Equal(t, "DL12345", fresh.Active[0].Identity)
	assert.Equal(t, []string{"DL12345"}, fresh.Identities)
}
