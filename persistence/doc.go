// Package persistence stores game snapshots and audit artifacts: one
// self-contained JSON checkpoint per (session, fork, turn), a YAML fork
// registry per session, and an append-only JSON Lines transcript.
//
// The canonical store is file-based with atomic writes; a Redis-backed
// implementation of the same Store interface exists for deployments
// that want a shared hot store in front of the files.
package persistence
