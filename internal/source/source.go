package source

import (
	"context"

	"parking-service/internal/domain/parking"
)

// Source produces frames of detections for one camera feed, in frame
// order. Implementations close over whatever actually supplies the
// detections (CSV replay, network feed); the detection model itself is
// an external black box.
type Source interface {
	// Stream sends frames until the source is exhausted or ctx is
	// cancelled. The channel is not closed by Stream; the caller owns it.
	Stream(ctx context.Context, frames chan<- parking.Frame) error
}
