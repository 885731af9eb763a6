// Package capture runs the agent-side adaptive screen capture loop.
//
// The loop grabs frames at a target rate and adjusts itself to conditions:
// JPEG quality steps down when frames exceed the size ceiling and creeps
// back up when they are comfortably small, and the frame rate sheds when
// capturing itself cannot keep pace with the interval. All adjustments stay
// inside configured bounds.
package capture
