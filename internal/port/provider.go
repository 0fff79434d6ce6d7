package port

import "context"

// EmbeddingProvider abstracts the remote text-to-vector model.
// Implementations can target Ollama, OpenAI, or any compatible API.
type EmbeddingProvider interface {
	// ModelName returns the identifier of the embedding model in use.
	ModelName() string

	// Dimension returns the fixed output dimensionality D. Every vector
	// returned by Generate has exactly this length.
	Dimension() int

	// Generate produces a vector embedding for the given text.
	// Fails with ErrProviderUnavailable, ErrProviderRejected or
	// ErrProviderMalformed; only ErrProviderRejected is permanent.
	Generate(ctx context.Context, text string) ([]float32, error)

	// GenerateBatch produces embeddings for multiple texts in one call.
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)
}
