package edit

import "context"

// Task tracks one background composite. It is created by a stage's Apply
// and finishes exactly once: committed, failed, or discarded.
type Task struct {
	op     string
	lease  uint64
	cancel context.CancelFunc
	done   chan struct{}

	// Written by the worker before done is closed.
	result *RasterImage
	err    error
}

// Op names the composite, e.g. "text composite".
func (t *Task) Op() string { return t.op }

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel cancels the composite. The result, if any arrives, is discarded
// and the stage stays active, free to Apply again. Use Session.Cancel to
// also end the stage.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the task finishes or ctx is done. On success the
// returned image is the newly committed current image.
func (t *Task) Wait(ctx context.Context) (*RasterImage, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Finished reports whether the task has finished, and if so its result.
func (t *Task) Finished() (done bool, img *RasterImage, err error) {
	select {
	case <-t.done:
		return true, t.result, t.err
	default:
		return false, nil, nil
	}
}
