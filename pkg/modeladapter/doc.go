// Package modeladapter defines the interfaces agents use to talk to a model
// runtime, and an embeddable base for HTTP adapters.
//
// It contains:
//   - [Completer], [Generator] and [Embedder] interfaces
//   - [ModelAdapter], an embeddable base struct with HTTP helpers, auth, and custom headers
//   - [Throttled], a wrapper adding request pacing and retry on busy responses
//   - [TokenEstimator], a character-based prompt size heuristic
//   - [github.com/germanamz/promptkit/pkg/modeladapter/usage] thread-safe token usage tracker
//
// Concrete adapters live under pkg/providers.
package modeladapter
