// Package llm defines the gateway the engine uses to reach a language model
// provider, plus the error taxonomy and failure-handling policy around it.
package llm

import "context"

// Schema names a JSON schema for structured output requests.
type Schema struct {
	Name   string
	Schema map[string]any
}

// Gateway dispatches prompts to the configured provider. GenerateObject
// unmarshals a schema-validated structured response into out.
type Gateway interface {
	GenerateText(ctx context.Context, prompt, system string) (string, error)
	GenerateObject(ctx context.Context, prompt, system string, schema Schema, out any) error
}
