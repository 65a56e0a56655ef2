// Package services defines shared utilities consumed by the pipeline stages
// and the external collaborators they call.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, so every failure carries
//     its taxonomy kind (input, workspace, stage execution, translation, ...)
//     together with stage attribution.
//
// Use these helpers when wiring new stage logic so error reporting and
// observability stay uniform across the pipeline.
package services
