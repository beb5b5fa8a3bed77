// Package core provides the foundational domain types used by turnstream.
// It defines the core abstractions for:
//
//   - Content and the closed Part union (text, function call/response,
//     executable code, code execution result, inline data, file data)
//   - Events and the closed EventAction union attached to them
//   - Sessions (stateful conversational containers with event history)
//   - The SessionStore interface and the engine error taxonomy
//
// The package keeps implementation concerns (storage, providers, turn
// orchestration) out of scope, exposing small interfaces to enable custom
// backends.
package core
