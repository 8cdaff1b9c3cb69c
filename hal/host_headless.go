package hal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	// Hz is the rate step is called at.
	Hz int
	// Ticks stops the runner after that many steps. Zero runs until the
	// system halts or ctx is done.
	Ticks uint64
	// Input feeds the keyboard controller, typically stdin.
	Input io.Reader
}

// RunHeadless calls step at cfg.Hz without opening a window. The timer is
// advanced by elapsed host time before each step.
func RunHeadless(ctx context.Context, h *Host, step func() error, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Input != nil {
		g.Go(func() error { return pumpInput(ctx, cfg.Input, h.kbd) })
	}
	g.Go(func() error {
		defer cancel()
		t := time.NewTicker(d)
		defer t.Stop()

		var tick uint64
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				h.t.step(1)
				if step != nil {
					if err := step(); err != nil {
						if errors.Is(err, ErrHalt) {
							return nil
						}
						return err
					}
				}
				tick++
				if cfg.Ticks > 0 && tick >= cfg.Ticks {
					return nil
				}
			}
		}
	})

	return g.Wait()
}

// ServeConfig controls Serve.
type ServeConfig struct {
	// Hz is how often the timer is advanced from host time.
	Hz    int
	Input io.Reader
}

// Serve runs a system that owns its dispatch loop. The timer and input
// are driven in the background and every interrupt the PIC latches is
// passed to deliver, which must not block past ctx. Serve returns when
// run does.
func Serve(ctx context.Context, h *Host, cfg ServeConfig,
	deliver func(ctx context.Context, line uint8) error,
	run func(ctx context.Context) error,
) error {
	if cfg.Hz <= 0 {
		cfg.Hz = DefaultHz
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return run(ctx)
	})
	g.Go(func() error {
		t := time.NewTicker(time.Second / time.Duration(cfg.Hz))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				h.t.step(1)
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-h.pic.Notify():
			}
			for {
				line, ok := h.pic.Next()
				if !ok {
					break
				}
				if err := deliver(ctx, line); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
			}
		}
	})
	if cfg.Input != nil {
		g.Go(func() error { return pumpInput(ctx, cfg.Input, h.kbd) })
	}
	return g.Wait()
}
