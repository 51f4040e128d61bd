// Package artifact persists the filesystem records agents coordinate
// through: status records, handoff artifacts, and cycle journals.
//
// Every write is temp-file-then-rename in the same directory, so a
// concurrently polling reader never observes a partially written file. The
// store is the sole source of truth across process restarts; nothing an
// agent needs to resume lives only in memory.
package artifact
