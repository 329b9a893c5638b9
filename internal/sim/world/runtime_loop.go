package world

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// ViewSource supplies the viewpoint for each frame.
type ViewSource interface {
	Viewpoint() mgl32.Vec3
}

// FixedView is a ViewSource that never moves.
type FixedView mgl32.Vec3

func (v FixedView) Viewpoint() mgl32.Vec3 { return mgl32.Vec3(v) }

// Run calls Update at FrameRateHz until ctx ends.
func (w *World) Run(ctx context.Context, views ViewSource) error {
	interval := time.Second / time.Duration(w.cfg.FrameRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Update(views.Viewpoint())
		}
	}
}

// StepOnce runs one frame at p and waits for the load pass it started, so
// the resulting state depends only on the inputs.
func (w *World) StepOnce(p mgl32.Vec3) FrameStats {
	s := w.Update(p)
	w.Wait()
	return s
}
