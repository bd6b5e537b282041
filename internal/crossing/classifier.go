package crossing

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/utils"
)

// Side of the boundary line a centroid is on, relative to the lot.
type side int

const (
	sideOutside side = iota
	sideInside
)

// Classifier decides whether a track crossed the virtual boundary line
// between its previous and current centroid. It is edge-triggered: an
// event fires only when a track's stored side of the line flips, so a
// track lingering near the boundary across many frames emits nothing.
// A genuine re-crossing (vehicle backs out after entering) emits the
// opposite event, which is correct behavior rather than a duplicate.
type Classifier struct {
	line  config.LineConfig
	sides map[string]side
	log   zerolog.Logger

	// entries records the identity each track's ENTRY was emitted under.
	// A plate learned between entry and exit must not change the exit's
	// identity, or the open ledger record would never be settled.
	entries map[string]string
}

func NewClassifier(line config.LineConfig, log zerolog.Logger) *Classifier {
	return &Classifier{
		line:    line,
		sides:   make(map[string]side),
		entries: make(map[string]string),
		log:     log,
	}
}

// Classify inspects the track's latest centroid against the boundary and
// returns a crossing event when the side flipped, nil otherwise. The
// first observation of a track seeds its side without emitting.
func (c *Classifier) Classify(track *parking.Track) *parking.CrossingEvent {
	center, ok := track.Centroid()
	if !ok {
		return nil
	}

	// Centroids inside the debounce margin never flip state; this is
	// what guarantees at most one event per physical crossing when a
	// vehicle crawls across the line.
	if math.Abs(c.coord(center)-c.line.Position) < c.line.Margin {
		return nil
	}

	current := c.sideOf(center)
	prev, known := c.sides[track.ID]
	c.sides[track.ID] = current

	if !known || prev == current {
		return nil
	}

	direction := parking.DirectionExit
	if current == sideInside {
		direction = parking.DirectionEntry
	}

	id := identity(track)
	if direction == parking.DirectionEntry {
		c.entries[track.ID] = id
	} else if entryID, ok := c.entries[track.ID]; ok {
		id = entryID
		delete(c.entries, track.ID)
	}

	ts := track.LastSeen
	if ts.IsZero() {
		ts = time.Now()
	}

	ev := &parking.CrossingEvent{
		ID:        uuid.NewString(),
		TrackID:   track.ID,
		CameraID:  track.CameraID,
		Direction: direction,
		Identity:  id,
		Plate:     utils.NormalizePlate(track.Plate),
		Timestamp: ts,
	}
	c.log.Info().
		Str("track_id", track.ID).
		Str("camera_id", track.CameraID).
		Str("direction", string(direction)).
		Str("identity", ev.Identity).
		Msg("boundary crossing")
	return ev
}

// Forget drops the state for a purged track.
func (c *Classifier) Forget(trackID string) {
	delete(c.sides, trackID)
	delete(c.entries, trackID)
}

func (c *Classifier) coord(p parking.Point) float64 {
	if c.line.Axis == "vertical" {
		return p.X
	}
	return p.Y
}

func (c *Classifier) sideOf(p parking.Point) side {
	// Image coordinates: smaller y is above the line, smaller x is to
	// the left of it.
	lower := c.coord(p) < c.line.Position
	switch c.line.Inside {
	case "above", "left":
		if lower {
			return sideInside
		}
		return sideOutside
	default: // below, right
		if lower {
			return sideOutside
		}
		return sideInside
	}
}

func identity(track *parking.Track) string {
	if p := utils.NormalizePlate(track.Plate); p != "" {
		return p
	}
	return track.Identity()
}
