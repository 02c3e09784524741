// Package server exposes the engine over HTTP. Each registered pattern gets
// one POST endpoint that streams the execution's frames as they are emitted:
// schema-backed patterns as NDJSON value snapshots (each line a complete JSON
// document, values refining monotonically), text patterns as raw deltas.
// Failures before the stream starts use a JSON error envelope with a mapped
// status code; failures after that arrive as the stream's final error line.
//
// DELETE /api/v1/executions/{id} cancels an in-flight execution. /health and
// /ready serve probes. Requests pass a per-client token bucket, a request
// logger and a recovery middleware. The binary's configuration is YAML with
// environment overrides.
package server
