// Package generation provides interfaces and implementations for interacting
// with external AI/LLM services. It abstracts the details of LLM API
// integration (Gemini), allowing the orchestrator to run long AI-driven
// transformations without coupling to specific external services.
package generation
