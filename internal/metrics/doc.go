/*
Package metrics holds the engine's Prometheus instruments.

The Collector registers every instrument through promauto against the
registerer it is given, so a process can expose them on its own
registry. Passing nil creates a private registry, which keeps repeated
construction in tests from colliding.

Instruments cover rounds, agent turns, LLM requests, memory
compression passes, checkpoint writes, and autopilot retries. All
Observe methods are safe on a nil Collector so callers can leave
metrics unwired.
*/
package metrics
