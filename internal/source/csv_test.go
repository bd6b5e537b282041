package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-service/internal/domain/parking"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detections.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collect(t *testing.T, src *CSVSource) []parking.Frame {
	t.Helper()
	frames := make(chan parking.Frame, 64)
	err := src.Stream(context.Background(), frames)
	require.NoError(t, err)
	close(frames)

	var out []parking.Frame
	for f := range frames {
		out = append(out, f)
	}
	return out
}

func TestCSVSource_GroupsRowsByFrame(t *testing.T) {
	path := writeCSV(t, `frame_number,timestamp_sec,bbox_x,bbox_y,bbox_w,bbox_h,confidence,plate,plate_confidence
1,0.033,100,50,40,30,0.91,,
1,0.033,300,60,42,28,0.87,DL12345,0.8
2,0.066,104,52,40,30,0.90,,
3,0.100,108,54,40,30,0.92,,
`)
	src := NewCSVSource("cam-1", path, zerolog.Nop())
	frames := collect(t, src)

	require.Len(t, frames, 3)
	assert.Equal(t, 1, frames[0].Number)
	require.Len(t, frames[0].Detections, 2)
	assert.Equal(t, "cam-1", frames[0].CameraID)
	assert.Equal(t, "DL12345", frames[0].Detections[1].Plate)
	assert.Equal(t, 0.8, frames[0].Detections[1].PlateConfidence)

	require.Len(t, frames[1].Detections, 1)
	assert.Equal(t, parking.BBox{X: 104, Y: 52, W: 40, H: 30}, frames[1].Detections[0].BBox)

	// Frame timestamps advance with timestamp_sec.
	assert.True(t, frames[1].Timestamp.After(frames[0].Timestamp))
}

func TestCSVSource_SkipsMalformedRows(t *testing.T) {
	path := writeCSV(t, `frame_number,timestamp_sec,bbox_x,bbox_y,bbox_w,bbox_h,confidence
1,0.033,100,50,40,30,0.91
bogus,0.066,1,2,3,4,0.5
2,0.100,104,52,40,30,not-a-float
3,0.133,108,54,40,30,0.92
`)
	src := NewCSVSource("cam-1", path, zerolog.Nop())
	frames := collect(t, src)

	require.Len(t, frames, 2)
	assert.Equal(t, 1, frames[0].Number)
	assert.Equal(t, 3, frames[1].Number)
}

func TestCSVSource_MissingColumnFails(t *testing.T) {
	path := writeCSV(t, "frame_number,confidence\n1,0.9\n")
	src := NewCSVSource("cam-1", path, zerolog.Nop())

	frames := make(chan parking.Frame, 1)
	err := src.Stream(context.Background(), frames)
	assert.Error(t, err)
}

func TestCSVSource_CancelledContext(t *testing.T) {
	path := writeCSV(t, `frame_number,timestamp_sec,bbox_x,bbox_y,bbox_w,bbox_h,confidence
1,0.033,100,50,40,30,0.91
2,0.066,104,52,40,30,0.90
`)
	src := NewCSVSource("cam-1", path, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frames := make(chan parking.Frame) // unbuffered, nobody reading
	err := src.Stream(ctx, frames)
	assert.ErrorIs(t, err, context.Canceled)
}
