// loop.go - the per-cycle dispatcher: capture, import, extract, smooth, drive

package main

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// cycleIdleSleep is the interruptible pause between cycles when there
// is no in-flight capture request outstanding.
const cycleIdleSleep = 100 * time.Millisecond

// Daemon wires every component together and runs the capture/predict
// cycle until told to stop.
type Daemon struct {
	wayland    *WaylandCapture
	gpu        *GPUContext
	extractor  *LumaExtractor
	sensor     *LightSensor
	backlight  *Backlight
	controller *Controller
	smoother   *LuxSmoother
	log        zerolog.Logger

	stopping atomic.Bool
}

// Run drives cycles until ctx is cancelled (SIGINT) or a permanent
// error occurs. The cycle runner is supervised by an errgroup so a
// fatal error torn down here also cancels ctx for any other goroutine
// sharing it.
func (d *Daemon) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return d.runCycles(ctx)
	})
	return group.Wait()
}

func (d *Daemon) runCycles(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if d.stopping.Load() {
			return nil
		}

		if err := d.cycle(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				// A transition cut short by shutdown is not a failure.
				return nil
			}
			var cancelErr *CancelError
			if errors.As(err, &cancelErr) {
				if cancelErr.Permanent {
					return err
				}
				d.log.Warn().Err(err).Msg("capture cancelled, retrying")
				continue
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cycleIdleSleep):
		}
	}
}

func (d *Daemon) cycle(ctx context.Context) error {
	frame, free, err := d.wayland.CaptureFrame()
	if err != nil {
		return err
	}
	defer free()

	imported, err := ImportFrame(d.gpu, frame)
	if err != nil {
		var permErr *PermanentImportError
		if errors.As(err, &permErr) {
			return err
		}
		d.log.Warn().Err(err).Msg("frame import failed, skipping cycle")
		return nil
	}
	defer imported.Release()

	luma, err := d.extractor.Extract(imported)
	if err != nil {
		var permErr *PermanentExtractError
		if errors.As(err, &permErr) {
			return err
		}
		d.log.Warn().Err(err).Msg("luma extraction failed, skipping cycle")
		return nil
	}

	rawLux, err := d.sensor.Read()
	if err != nil {
		d.log.Warn().Err(err).Msg("light sensor read failed, skipping cycle")
		return nil
	}
	currentPercent, err := d.backlight.ReadPercent()
	if err != nil {
		d.log.Warn().Err(err).Msg("backlight read failed, skipping cycle")
		return nil
	}

	d.smoother.Push(rawLux)
	if !d.smoother.Ready() {
		// Warm-up: the lux window has not filled yet. Track the
		// observed backlight so the first real cycle doesn't mistake
		// whatever is already on screen for a brand new edit.
		d.controller.RefreshLastWritten(currentPercent)
		return nil
	}
	lux := d.smoother.Value()

	return d.controller.Cycle(ctx, lux, luma, currentPercent, d.backlight)
}

// Stop requests a graceful shutdown after the in-flight cycle
// finishes; it does not abort a backlight transition in progress
// (the caller's ctx cancellation handles that).
func (d *Daemon) Stop() {
	d.stopping.Store(true)
}
