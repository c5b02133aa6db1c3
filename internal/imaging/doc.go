// Package imaging provides the photo I/O and inspection helpers used around
// an edit session.
//
// It covers the three places where pixels cross the server boundary:
//   - picking: ImageCache decodes photos from disk, DecodeBase64 decodes
//     inline images; both apply EXIF auto-orientation
//   - returning: Encode serializes an image as base64 PNG or JPEG, optionally
//     downsized for a preview
//   - inspecting: SampleColor, SampleColorsMulti and DominantColors let a
//     client check what an edit actually produced
//
// # Coordinate System
//
// All pixel coordinates are 0-based from the top-left corner of the image,
// X increasing rightward and Y downward, and relative to the image bounds.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. The remaining functions are
// stateless and never modify their input.
package imaging
