// Package llm defines the streaming text-generation contract and the
// service that routes agent roles to configured providers.
package llm

import "context"

// Request is one generation request.
type Request struct {
	System string
	User   string
	Model  string
}

// ChunkFunc receives streamed text fragments in emission order. Returning
// an error aborts the stream.
type ChunkFunc func(chunk string) error

// Provider is a streaming text generator.
type Provider interface {
	Name() string

	// Stream generates text for the request, invoking onChunk for each
	// fragment, and returns the aggregated text. onChunk may be nil.
	Stream(ctx context.Context, req Request, onChunk ChunkFunc) (string, error)
}
