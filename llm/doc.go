// Package llm defines the opaque LLM collaborator interface the engine
// consumes: prompt in, text out, or a categorized *types.Error. The core
// depends only on the error categorization, never on provider detail.
//
// Concrete HTTP providers live under llm/providers; ScriptedProvider
// serves tests and offline play.
package llm
