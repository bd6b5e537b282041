package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

// CSVSource replays recorded detection output from a CSV file, grouping
// consecutive rows with the same frame number into one frame. Expected
// header columns: frame_number, timestamp_sec, bbox_x, bbox_y, bbox_w,
// bbox_h, confidence, and optionally plate and plate_confidence.
type CSVSource struct {
	cameraID string
	filePath string
	start    time.Time
	log      zerolog.Logger
}

func NewCSVSource(cameraID, filePath string, log zerolog.Logger) *CSVSource {
	return &CSVSource{
		cameraID: cameraID,
		filePath: filePath,
		start:    time.Now(),
		log:      log,
	}
}

func (s *CSVSource) Stream(ctx context.Context, frames chan<- parking.Frame) error {
	file, err := os.Open(s.filePath)
	if err != nil {
		return fmt.Errorf("open detection csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	colMap := make(map[string]int, len(header))
	for i, col := range header {
		colMap[col] = i
	}
	for _, required := range []string{"frame_number", "timestamp_sec", "confidence"} {
		if _, ok := colMap[required]; !ok {
			return fmt.Errorf("detection csv missing column %q", required)
		}
	}

	var current *parking.Frame
	rows := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping malformed csv row")
			continue
		}

		det, frameNum, err := s.parseRow(row, colMap)
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping unparseable detection row")
			continue
		}
		rows++

		if current != nil && current.Number != frameNum {
			if err := send(ctx, frames, *current); err != nil {
				return err
			}
			current = nil
		}
		if current == nil {
			current = &parking.Frame{
				CameraID:  s.cameraID,
				Number:    frameNum,
				Timestamp: det.Timestamp,
			}
		}
		current.Detections = append(current.Detections, det)
	}

	if current != nil {
		if err := send(ctx, frames, *current); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("camera_id", s.cameraID).
		Int("rows", rows).
		Msg("detection csv replay complete")
	return nil
}

func (s *CSVSource) parseRow(row []string, colMap map[string]int) (parking.Detection, int, error) {
	get := func(name string) (string, bool) {
		idx, ok := colMap[name]
		if !ok || idx >= len(row) {
			return "", false
		}
		return row[idx], true
	}

	frameStr, _ := get("frame_number")
	frameNum, err := strconv.Atoi(frameStr)
	if err != nil {
		return parking.Detection{}, 0, fmt.Errorf("invalid frame_number: %w", err)
	}

	tsStr, _ := get("timestamp_sec")
	tsSec, err := strconv.ParseFloat(tsStr, 64)
	if err != nil {
		return parking.Detection{}, 0, fmt.Errorf("invalid timestamp_sec: %w", err)
	}

	confStr, _ := get("confidence")
	conf, err := strconv.ParseFloat(confStr, 64)
	if err != nil {
		return parking.Detection{}, 0, fmt.Errorf("invalid confidence: %w", err)
	}

	var bbox parking.BBox
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"bbox_x", &bbox.X},
		{"bbox_y", &bbox.Y},
		{"bbox_w", &bbox.W},
		{"bbox_h", &bbox.H},
	} {
		v, ok := get(f.name)
		if !ok {
			return parking.Detection{}, 0, fmt.Errorf("missing column %q", f.name)
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return parking.Detection{}, 0, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = n
	}

	det := parking.Detection{
		CameraID:   s.cameraID,
		Frame:      frameNum,
		BBox:       bbox,
		Confidence: conf,
		Timestamp:  s.start.Add(time.Duration(tsSec * float64(time.Second))),
	}

	if plate, ok := get("plate"); ok && plate != "" {
		det.Plate = plate
		if pc, ok := get("plate_confidence"); ok && pc != "" {
			if v, err := strconv.ParseFloat(pc, 64); err == nil {
				det.PlateConfidence = v
			}
		}
	}
	return det, frameNum, nil
}

func send(ctx context.Context, frames chan<- parking.Frame, f parking.Frame) error {
	select {
	case frames <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
