// Package model defines the provider‑agnostic abstractions for talking to
// language models and the ChunkStream that turns one provider call into a
// lazy, finite sequence of chunks.
//
// Core goals:
//   - Unify streaming + non‑streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, core.FunctionCallPart)
//   - Guarantee a single terminal chunk per call, carrying interruption errors
//   - Facilitate lightweight mocking (MockModel, ScriptedModel)
//
// Providers (openai, anthropic, gemini, compat) implement the Model interface
// from this package so the turn engine remains decoupled from vendor SDKs.
package model
