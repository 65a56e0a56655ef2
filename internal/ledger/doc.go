// Package ledger keeps the run history in a SQLite database under the state
// directory.
//
// Each invocation of `avsrt run` inserts a runs row, every runner event is
// appended to stage_events through the pipeline.Observer interface, and the
// run summary counters land in run_counters. `avsrt history` reads them back.
//
// The database uses WAL mode with a busy timeout, and writes retry briefly on
// SQLITE_BUSY. The schema is versioned; a mismatch asks the user to delete the
// database rather than migrating it. The ledger is advisory: callers log and
// continue when it cannot be opened.
package ledger
