// Package sqlite is the modernc.org/sqlite backed persistence driver: the
// specification library, the case journal consumed by the runner, the
// handler directory and the append-only event log.
package sqlite
