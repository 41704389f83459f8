// Package engine drives rounds of play: a deterministic turn router, a
// round orchestrator with copy-on-write state handling, combat control,
// a human-intervention node, an autopilot for autonomous play, and the
// event surface observers subscribe to.
//
// One round is a single traversal dm -> pc1 -> ... -> pcN (or the
// combat initiative order) ending in an END signal. Within a session,
// rounds never overlap; concurrency exists only across sessions.
package engine
