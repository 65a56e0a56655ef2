// Package main hosts the avsrt CLI entrypoint and command graph.
//
// Each invocation resolves configuration once, then hands off to the internal
// packages: run drives the pipeline against a single video, status and history
// read the workspace and the run ledger, and doctor reports whether the
// external tools and translation credentials are usable. Output intended for
// the user goes to stdout; logs go to stderr and the log directory.
package main
