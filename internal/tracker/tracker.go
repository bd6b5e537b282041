package tracker

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

// Tracker assigns stable identities to detections across frames using
// nearest-centroid association. One tracker instance owns the track
// state for a single camera feed and is not safe for concurrent use;
// the pipeline calls Update strictly once per frame.
type Tracker struct {
	maxMatchDistance float64
	lostTimeout      time.Duration
	historyLen       int

	tracks map[string]*parking.Track
	log    zerolog.Logger

	// purged receives IDs of tracks removed on this Update call so the
	// caller can drop any per-track state of its own.
	purged []string
}

func New(maxMatchDistance float64, lostTimeout time.Duration, historyLen int, log zerolog.Logger) *Tracker {
	if historyLen < 2 {
		historyLen = 2
	}
	return &Tracker{
		maxMatchDistance: maxMatchDistance,
		lostTimeout:      lostTimeout,
		historyLen:       historyLen,
		tracks:           make(map[string]*parking.Track),
		log:              log,
	}
}

type candidate struct {
	trackID  string
	detIdx   int
	distance float64
}

// Update associates the frame's detections with existing tracks, creates
// fresh tracks for unmatched detections, and purges tracks unseen for
// longer than the lost-track timeout. Every detection ends up on exactly
// one track. Returns the tracks that matched or were created this frame.
func (t *Tracker) Update(detections []parking.Detection, now time.Time) []*parking.Track {
	t.purged = t.purged[:0]

	// Build all track/detection pairs within range, then assign greedily
	// closest-first. Under heavy occlusion this can mismatch; that is
	// accepted as best-effort and absorbed by the crossing debounce.
	var pairs []candidate
	for id, tr := range t.tracks {
		center, ok := tr.Centroid()
		if !ok {
			continue
		}
		for i, det := range detections {
			d := dist(center, det.BBox.Centroid())
			if d <= t.maxMatchDistance {
				pairs = append(pairs, candidate{trackID: id, detIdx: i, distance: d})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].distance < pairs[j].distance })

	matchedTrack := make(map[string]bool, len(t.tracks))
	matchedDet := make(map[int]bool, len(detections))
	var updated []*parking.Track

	for _, p := range pairs {
		if matchedTrack[p.trackID] || matchedDet[p.detIdx] {
			continue
		}
		matchedTrack[p.trackID] = true
		matchedDet[p.detIdx] = true

		tr := t.tracks[p.trackID]
		t.observe(tr, detections[p.detIdx], now)
		updated = append(updated, tr)
	}

	for i, det := range detections {
		if matchedDet[i] {
			continue
		}
		tr := &parking.Track{
			ID:       uuid.NewString(),
			CameraID: det.CameraID,
			State:    parking.TrackActive,
		}
		t.observe(tr, det, now)
		t.tracks[tr.ID] = tr
		updated = append(updated, tr)
		t.log.Debug().
			Str("track_id", tr.ID).
			Str("camera_id", tr.CameraID).
			Float64("x", tr.History[0].Point.X).
			Float64("y", tr.History[0].Point.Y).
			Msg("new track")
	}

	for id, tr := range t.tracks {
		if matchedTrack[id] || tr.LastSeen.Equal(now) {
			continue
		}
		tr.Misses++
		if now.Sub(tr.LastSeen) > t.lostTimeout {
			tr.State = parking.TrackLost
			delete(t.tracks, id)
			t.purged = append(t.purged, id)
			t.log.Debug().
				Str("track_id", id).
				Int("misses", tr.Misses).
				Time("last_seen", tr.LastSeen).
				Msg("track lost, purged")
		}
	}

	return updated
}

// Purged returns the IDs of tracks removed by the most recent Update.
// Purged IDs are never reused; a returning vehicle gets a fresh uuid.
func (t *Tracker) Purged() []string {
	return t.purged
}

// ActiveCount returns the number of tracks currently maintained.
func (t *Tracker) ActiveCount() int {
	return len(t.tracks)
}

func (t *Tracker) observe(tr *parking.Track, det parking.Detection, now time.Time) {
	tr.History = append(tr.History, parking.TrackPosition{
		Point:     det.BBox.Centroid(),
		Timestamp: det.Timestamp,
	})
	if len(tr.History) > t.historyLen {
		tr.History = tr.History[len(tr.History)-t.historyLen:]
	}
	tr.LastSeen = now
	tr.Misses = 0

	// Keep the best plate reading seen for this track.
	if det.Plate != "" && det.PlateConfidence > tr.PlateConfidence {
		tr.Plate = det.Plate
		tr.PlateConfidence = det.PlateConfidence
	}
}

func dist(a, b parking.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
