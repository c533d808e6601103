// Package llm defines the provider contract for language model backends
// and the universal request/response types shared by all of them.
//
// Concrete providers live in subpackages (e.g. llm/ollama) and implement
// [Provider] over the backend's HTTP API. Pipeline code depends only on
// the interfaces here, so backends are swappable through configuration.
package llm
