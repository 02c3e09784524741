// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with generative backends inside AgentWeave.
//
// Core goals:
//   - Separate blocking generation (Invoke) from streaming generation
//     (InvokeStream) behind a single Model interface
//   - Normalize tool call representation (ToolDefinition, ToolCall)
//   - Classify provider failures into a small retryable/permanent taxonomy
//   - Compose resilience as decorators (Retry, Breaker) over any Model
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (patterns, runner) remain decoupled from vendor
// SDKs.
package model
