// Package artifact stores the typed, per-stage artifacts of a workspace.
//
// Every write is atomic (temp file, fsync, rename), every read validates the
// artifact's structure, and an invalid artifact is reported as not found so
// the owning stage recomputes it. Metadata sidecars record the configuration
// fingerprint and content digest that the stage runner compares on resume.
// AppendLog backs the incremental ASR log and the translation cache.
package artifact
