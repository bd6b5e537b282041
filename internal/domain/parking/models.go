package parking

import (
	"fmt"
	"time"
)

// BBox is a detection bounding box in pixel coordinates.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Centroid returns the box center.
func (b BBox) Centroid() Point {
	return Point{X: float64(b.X) + float64(b.W)/2, Y: float64(b.Y) + float64(b.H)/2}
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is a single per-frame detector output. The plate fields are
// an opaque identifier stub filled in by the upstream ANPR stage when it
// recognized one; empty otherwise.
type Detection struct {
	CameraID        string    `json:"camera_id"`
	Frame           int       `json:"frame"`
	BBox            BBox      `json:"bbox"`
	Confidence      float64   `json:"confidence"`
	Plate           string    `json:"plate,omitempty"`
	PlateConfidence float64   `json:"plate_confidence,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Frame is one frame's worth of detections from a single camera.
type Frame struct {
	CameraID   string      `json:"camera_id"`
	Number     int         `json:"number"`
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
}

type TrackState int

const (
	TrackActive TrackState = iota
	TrackLost
)

func (s TrackState) String() string {
	if s == TrackLost {
		return "LOST"
	}
	return "ACTIVE"
}

// TrackPosition is one entry of a track's centroid history.
type TrackPosition struct {
	Point     Point
	Timestamp time.Time
}

// Track is a persistent association of detections across frames believed
// to represent one physical vehicle. Owned exclusively by the tracker;
// IDs are uuids and never reused after a track is purged.
type Track struct {
	ID              string
	CameraID        string
	History         []TrackPosition
	LastSeen        time.Time
	State           TrackState
	Plate           string
	PlateConfidence float64
	Misses          int
}

// Centroid returns the most recent position, or false when the track has
// no history yet.
func (t *Track) Centroid() (Point, bool) {
	if len(t.History) == 0 {
		return Point{}, false
	}
	return t.History[len(t.History)-1].Point, true
}

// Identity returns the key the ledger files this track under: the
// normalized plate when one was recognized, otherwise a synthetic
// UNKNOWN_<trackID> identifier.
func (t *Track) Identity() string {
	if t.Plate != "" {
		return t.Plate
	}
	return fmt.Sprintf("UNKNOWN_%s", t.ID)
}

type Direction string

const (
	DirectionEntry Direction = "ENTRY"
	DirectionExit  Direction = "EXIT"
)

// CrossingEvent is an edge-triggered ENTRY/EXIT signal derived from a
// track crossing the configured boundary line. Immutable once emitted;
// produced at most once per physical line traversal.
type CrossingEvent struct {
	ID        string    `json:"id"`
	TrackID   string    `json:"track_id"`
	CameraID  string    `json:"camera_id"`
	Direction Direction `json:"direction"`
	Identity  string    `json:"identity"`
	Plate     string    `json:"plate,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ParkingRecord is one parking session. ExitTime, DurationHours and Fare
// stay nil until the matching EXIT event arrives. Records are never
// deleted; completed ones move to the ledger history.
type ParkingRecord struct {
	Identity      string     `json:"identity"`
	Plate         string     `json:"plate,omitempty"`
	CameraID      string     `json:"camera_id"`
	EntryTime     time.Time  `json:"entry_time"`
	ExitTime      *time.Time `json:"exit_time,omitempty"`
	DurationHours *float64   `json:"duration_hours,omitempty"`
	Fare          *float64   `json:"fare,omitempty"`
}

// ViolationAlert is the payload sent to the notification sink on a
// NORMAL -> VIOLATION transition.
type ViolationAlert struct {
	CameraID   string    `json:"camera_id,omitempty"`
	Count      int       `json:"count"`
	Capacity   int       `json:"capacity"`
	Timestamp  time.Time `json:"timestamp"`
	Identities []string  `json:"identities"`
}
