// Package embeddings turns text into unit-length vectors.
//
// Three providers are available: a deterministic hash embedder that needs no
// model, FastEmbed (local ONNX models, cgo builds only) and TEI (an external
// text-embeddings-inference server). ResilientProvider wraps any of them with
// an LRU cache, a per-call timeout and a silent fallback to the hash
// embedder, so callers always receive a vector of the configured dimension.
package embeddings
