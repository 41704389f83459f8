// Package types provides the shared data model for the QuestFlow engine:
// the game-state snapshot, per-agent memory records, combat sub-state,
// structured errors, and token estimation.
//
// GameState is the single mutable-by-replacement snapshot that drives the
// turn router and round orchestrator. Nested records (AgentMemory,
// CombatState) are validated at construction and deserialization
// boundaries, not on every mutation.
package types
