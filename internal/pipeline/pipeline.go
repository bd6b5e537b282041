package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"parking-service/internal/crossing"
	"parking-service/internal/domain/parking"
	"parking-service/internal/service"
	"parking-service/internal/source"
	"parking-service/internal/tracker"
)

// Pipeline is the sequential processing loop for one camera feed:
// confidence filter, tracker, classifier, ledger. Frames are processed
// strictly in arrival order because crossing detection depends on the
// immediately preceding centroid; there is no intra-feed parallelism.
type Pipeline struct {
	cameraID      string
	src           source.Source
	tracker       *tracker.Tracker
	classifier    *crossing.Classifier
	svc           *service.ParkingService
	minConfidence float64
	log           zerolog.Logger
}

func New(
	cameraID string,
	src source.Source,
	trk *tracker.Tracker,
	cls *crossing.Classifier,
	svc *service.ParkingService,
	minConfidence float64,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		cameraID:      cameraID,
		src:           src,
		tracker:       trk,
		classifier:    cls,
		svc:           svc,
		minConfidence: minConfidence,
		log:           log.With().Str("camera_id", cameraID).Logger(),
	}
}

// Run consumes the feed until the source is exhausted or ctx is
// cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	frames := make(chan parking.Frame, 1)
	srcErr := make(chan error, 1)
	go func() {
		srcErr <- p.src.Stream(ctx, frames)
		close(frames)
	}()

	for {
		select {
		case <-ctx.Done():
			<-srcErr
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return <-srcErr
			}
			p.processFrame(ctx, frame)
		}
	}
}

// processFrame runs one frame through the full chain. Tracker, classifier
// and ledger updates for this frame complete before the next frame's
// detections are applied.
func (p *Pipeline) processFrame(ctx context.Context, frame parking.Frame) {
	detections := frame.Detections[:0:0]
	for _, det := range frame.Detections {
		if det.Confidence < p.minConfidence {
			continue
		}
		detections = append(detections, det)
	}

	tracks := p.tracker.Update(detections, frame.Timestamp)
	for _, tr := range tracks {
		event := p.classifier.Classify(tr)
		if event == nil {
			continue
		}
		if _, err := p.svc.ProcessCrossing(ctx, *event); err != nil {
			p.log.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("identity", event.Identity).
				Msg("failed to process crossing event")
		}
	}

	for _, id := range p.tracker.Purged() {
		p.classifier.Forget(id)
	}
}

// RunAll supervises one pipeline per camera feed. Feeds are independent;
// a failing feed cancels the group so the process can restart cleanly.
func RunAll(ctx context.Context, pipelines []*Pipeline) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range pipelines {
		p := p
		g.Go(func() error {
			if err := p.Run(ctx); err != nil && err != context.Canceled {
				return fmt.Errorf("camera %s: %w", p.cameraID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
