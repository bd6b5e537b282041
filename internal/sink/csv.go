package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

var csvHeader = []string{"event", "entry_time", "exit_time", "identity", "duration_hours", "fare"}

const timeLayout = "2006-01-02 15:04:05"

// CSVSink appends one row per parking record lifecycle transition to a
// CSV file: an entry row with blank exit fields when a vehicle enters,
// and a completed row when it exits. The file is created with a header
// when missing; an existing file is appended to across restarts.
type CSVSink struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
	log  zerolog.Logger
}

func NewCSVSink(path string, log zerolog.Logger) (*CSVSink, error) {
	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv log %s: %w", path, err)
	}

	s := &CSVSink{file: f, w: csv.NewWriter(f), log: log}
	if fresh {
		if err := s.w.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		s.w.Flush()
	}
	return s, nil
}

func (s *CSVSink) LogEntry(rec parking.ParkingRecord) error {
	return s.write([]string{
		"entry",
		rec.EntryTime.Format(timeLayout),
		"",
		rec.Identity,
		"",
		"",
	})
}

func (s *CSVSink) LogExit(rec parking.ParkingRecord) error {
	if rec.ExitTime == nil || rec.DurationHours == nil || rec.Fare == nil {
		return fmt.Errorf("exit record for %s is incomplete", rec.Identity)
	}
	return s.write([]string{
		"exit",
		rec.EntryTime.Format(timeLayout),
		rec.ExitTime.Format(timeLayout),
		rec.Identity,
		strconv.FormatFloat(*rec.DurationHours, 'f', 2, 64),
		strconv.FormatFloat(*rec.Fare, 'f', 2, 64),
	})
}

// LogDeliveryFailure records a dropped violation alert so dashboard
// consumers can surface the warning alongside ledger state.
func (s *CSVSink) LogDeliveryFailure(alert parking.ViolationAlert, deliveryErr error) {
	row := []string{
		"alert_delivery_failure",
		alert.Timestamp.Format(timeLayout),
		time.Now().Format(timeLayout),
		fmt.Sprintf("count=%d capacity=%d", alert.Count, alert.Capacity),
		"",
		"",
	}
	if err := s.write(row); err != nil {
		s.log.Error().Err(err).Msg("failed to log alert delivery failure")
	}
}

func (s *CSVSink) write(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.file.Sync()
}

// Close flushes and closes the underlying file.
func (s *CSVSink) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
