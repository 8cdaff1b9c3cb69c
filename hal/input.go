package hal

import (
	"context"
	"errors"
	"io"
	"time"
)

// pumpInput copies bytes from r into the keyboard controller until r is
// exhausted or ctx is done. Input waits while the controller is full
// instead of being lost. A blocked read is abandoned on cancel.
func pumpInput(ctx context.Context, r io.Reader, c *controller) error {
	ch := make(chan byte, keyboardBufferSize)
	errc := make(chan error, 1)
	go func() {
		defer close(ch)
		buf := make([]byte, 64)
		for {
			n, err := r.Read(buf)
			for _, b := range buf[:n] {
				select {
				case ch <- b:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					errc <- err
				}
				return
			}
		}
	}()

	retry := time.NewTicker(time.Millisecond)
	defer retry.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-ch:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			for !c.put(b) {
				select {
				case <-ctx.Done():
					return nil
				case <-retry.C:
				}
			}
		}
	}
}
