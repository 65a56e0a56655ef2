// Package preflight provides readiness checks for the external tools,
// services and filesystem paths avsrt depends on.
//
// These checks run in two contexts:
//   - `avsrt doctor` calls RunAll and prints every result.
//   - `avsrt run` calls CheckSystemDeps before resolving the workspace so a
//     missing ffmpeg fails fast instead of after the lock is taken.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
