// Package translate converts between the OpenAI chat completions format
// spoken by clients and the Ollama native format spoken by the backend.
//
// Requests travel OpenAI to Ollama through RequestTranscoder. Streamed
// responses travel back through StreamTranscoder, which decodes the backend's
// NDJSON records with pkg/ndjson, maps each through MapChunk and writes SSE
// events with pkg/sse. Model catalogs are mapped in one shot by
// ModelListTranscoder.
package translate
