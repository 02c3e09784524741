// Package core provides the foundational domain types used by AgentWeave. It
// defines the core abstractions for:
//
//   - Schema (structural description of an expected output shape, with
//     partial and strict validation modes)
//   - Frame (one observable unit of progress in a streamed execution)
//   - Emitter (ordered, deduplicated, single-terminal frame emission)
//   - Execution (the isolated per-request context owning one execution's
//     accumulated state and cancellation signal)
//
// The package intentionally keeps implementation concerns (providers, pattern
// strategies, transport) out of scope, exposing small types so higher layers
// remain decoupled from each other.
package core
