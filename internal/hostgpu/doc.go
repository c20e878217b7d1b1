// Package hostgpu is an in-memory hal backend for host-side execution and
// tests.
//
// It builds on github.com/gogpu/wgpu/hal/noop, which already satisfies the
// full hal.Device/hal.Queue/hal.CommandEncoder surface, and replaces the
// parts the denoise pipeline depends on with working implementations:
// buffers and textures keep their bytes, buffer<->texture copies honour
// BytesPerRow and origins, and submissions complete either immediately or
// when the test says so.
//
// Fault injection covers the failure modes the pipeline must handle:
//
//   - Device.Lose: every later call reports hal.ErrDeviceLost
//   - Device.FailMaps: the next n MapBuffer calls fail
//   - Queue.SetManualCompletion: submissions stay pending until CompleteNext/CompleteAll
//
// Stats counts the work issued so tests can assert that nothing touched the
// device (for example when configuration validation fails).
package hostgpu
