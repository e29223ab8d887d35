// Package llmgateway is a gateway between a chat application and
// independently deployed OpenAI-compatible inference backends.
//
// # Architecture
//
// Three concerns make up the core:
//
//   - Model registry (internal/registry): tracks which backend serves
//     which model, syncs descriptors from each backend's /v1/models
//     listing, and runs a heartbeat loop that flips a model's
//     availability when its backend stops reporting it.
//
//   - Context assembly (internal/chat, internal/tokens): converts a
//     conversation's stored messages into a bounded prompt using a
//     heuristic token estimator with recency-biased truncation, cached
//     by content hash.
//
//   - Completion proxy (internal/proxy, internal/app): relays streaming
//     and non-streaming completion calls to the resolved backend,
//     re-emits the token stream in a stable chat.completion.chunk
//     envelope, persists the accumulated result, and drives the
//     assistant message's pending -> completed/error lifecycle.
//
// # Backend contract
//
// Each backend is an OpenAI-compatible HTTP service exposing:
//
//   - GET /v1/models            -> {"data": [{"id", "max_model_len"}]}
//   - GET /health               -> 200 when healthy
//   - POST /v1/chat/completions -> completion object, or an SSE stream
//     of "data: {json}" lines terminated by "data: [DONE]"
//
// # Caching
//
// All caches (registry snapshot, assembled contexts, truncated
// contexts) live behind internal/cache on a Redis store and are
// advisory: a cache failure degrades performance, never correctness.
package llmgateway
