// Package embeddings provides embedding generation via multiple providers.
//
// Supports any OpenAI-compatible embeddings endpoint (OpenAI, TEI, vLLM)
// through langchaingo, and FastEmbed (local ONNX, cgo builds only).
// Query and passage texts may be embedded differently, so callers should use
// EmbedQuery for search text.
package embeddings
