// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with text-generation models inside ApplyForge.
//
// Core goals:
//   - Keep request/response shapes minimal and transport independent
//   - Classify provider failures as transient vs permanent so the engine
//     can retry rate limits without consuming document attempts
//   - Provide composable decorators (WithRetry, WithBudget) around any Model
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (compose loop, orchestrator) remain decoupled
// from vendor SDKs.
package model
