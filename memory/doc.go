// Package memory implements the per-agent memory subsystem: context
// assembly with asymmetric visibility, token-budget-triggered multi-pass
// compression, and the pre-DM context-manager step that runs at the
// start of every round.
//
// The visibility rule is strict: the DM reads a condensed
// cross-reference of every PC's recent buffer, while each PC sees only
// its own facts, summary, and buffer. Nothing else crosses agent
// boundaries.
package memory
