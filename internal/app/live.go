package app

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/didata-ai/didata/internal/audioio"
	"github.com/didata-ai/didata/internal/live"
	"github.com/didata-ai/didata/internal/visual"
)

// View is one visualizer tick of a running voice session.
type View struct {
	Status  live.Status
	Signals audioio.Signals
	Frame   visual.Frame

	// LogVersion changes whenever the conversation log does.
	LogVersion uint64
}

// RunLive runs a voice session for the open lesson until ctx is done. The
// archive bridge persists the conversation in the background; render, when
// non-nil, receives a [View] on every visualizer frame. A failure to start
// capture is returned; transport failures only surface in the status.
func (a *App) RunLive(ctx context.Context, render func(View), opts ...visual.DriverOption) error {
	if a.live == nil {
		return ErrNoLive
	}
	lc := a.Lesson()
	if !lc.Valid() {
		return ErrNoLessonOpen
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.bridge.Start(ctx)
	g, gctx := errgroup.WithContext(ctx)

	if render != nil {
		view := func() View {
			return View{Status: a.live.Status(), Signals: a.audio.Signals(), LogVersion: a.log.Version()}
		}
		drv := visual.NewDriver(func() visual.Input {
			v := view()
			return visual.InputFrom(v.Status, v.Signals)
		}, opts...)
		g.Go(func() error {
			err := drv.Run(gctx, func(f visual.Frame) {
				v := view()
				v.Frame = f
				render(v)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := a.live.Start(gctx, lc); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	a.logger.Info("live session started", "course_id", lc.CourseID, "lesson_id", lc.LessonID, "voice", a.settings.Get().VoiceName)

	g.Go(func() error {
		<-gctx.Done()
		a.live.Stop()
		return nil
	})
	return g.Wait()
}

// LiveStatus returns the live controller's status, or the idle status when
// voice sessions are unavailable.
func (a *App) LiveStatus() live.Status {
	if a.live == nil {
		return live.Status{State: live.StateIdle, Text: live.StatusIdle}
	}
	return a.live.Status()
}
