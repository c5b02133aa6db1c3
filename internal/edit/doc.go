// Package edit implements the modal photo edit pipeline.
//
// A Session owns exactly one current image (a RasterImage) and at most one
// active editing stage. Stages never modify the current image directly:
// each one computes a new RasterImage from a snapshot of the current image
// and hands it back to the Session, which swaps it in and returns to Idle.
// This gives a linear history where only "current" is retained.
//
// # Stages
//
// The Session is always in exactly one Mode:
//   - Idle: no stage active; an image may be selected or a stage begun
//   - Filtering: a FilterStage previews one FilterSpec at a time
//   - Transforming: a GeometryStage tracks rotation and scale gestures
//   - Drawing: a DrawingStage collects pen strokes over the display frame
//   - Annotating: a TextStage positions and styles a text box
//
// Transitions only go Idle -> stage -> Idle, either by commit or by
// Cancel. Beginning a stage while another is active is rejected with
// ErrInvalidState, as is beginning any stage before an image is selected.
//
// # Coordinate Spaces
//
// Interactive input (gesture points, strokes, text positions) arrives in
// viewport space. The DisplayFrame is the aspect-fit rectangle inside the
// viewport where the image is shown; every viewport point is mapped through
// it into native image space before anything is rasterized. Image space
// uses the image/draw convention: (0,0) is the top-left corner, X grows
// rightward and Y grows downward.
//
// # Background Composites
//
// Drawing and text commits are rasterized on a background goroutine and
// tracked by a Task. The result is delivered back under the Session lock
// and applied only if the issuing stage is still active. Cancel, or
// any other end of the stage, makes the late result stale; it is then
// dropped and the Task reports ErrDiscarded.
//
// # Error Handling
//
// Failures are local to the active stage and never fatal to the Session:
//   - ErrInvalidState: operation not allowed in the current Mode
//   - ErrTransformFailure: a filter or composite produced no usable output
//   - ErrDiscarded: a background result arrived after its stage ended
//
// Out-of-bounds positions are clamped or clipped, never reported as errors.
// In every failure case the previous current image is retained.
package edit
