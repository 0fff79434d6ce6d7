package handler

import (
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/carematch/matchengine/internal/port"
)

// EmbeddingHandler is a thin facade over the embedding provider for
// callers that want raw vectors. The entity write path lives on the
// entity routes and goes through the freshness coordinator instead.
type EmbeddingHandler struct {
	provider port.EmbeddingProvider
	log      *zap.Logger
}

// NewEmbeddingHandler creates a new embedding handler.
func NewEmbeddingHandler(provider port.EmbeddingProvider, log *zap.Logger) *EmbeddingHandler {
	return &EmbeddingHandler{provider: provider, log: log}
}

// Register sets up embedding routes.
func (h *EmbeddingHandler) Register(router fiber.Router) {
	router.Post("/generate-embedding", h.GenerateEmbedding)
	router.Post("/generate-embeddings", h.GenerateEmbeddings)
}

// GenerateEmbedding embeds one text synchronously and returns the vector.
func (h *EmbeddingHandler) GenerateEmbedding(c fiber.Ctx) error {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	vector, err := h.provider.Generate(c.Context(), body.Text)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"vector":    vector,
		"model":     h.provider.ModelName(),
		"dimension": h.provider.Dimension(),
	})
}

// GenerateEmbeddings embeds a batch of texts in one provider call.
func (h *EmbeddingHandler) GenerateEmbeddings(c fiber.Ctx) error {
	var body struct {
		Texts []string `json:"texts"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if len(body.Texts) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "texts is required"})
	}

	vectors, err := h.provider.GenerateBatch(c.Context(), body.Texts)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"vectors":   vectors,
		"model":     h.provider.ModelName(),
		"dimension": h.provider.Dimension(),
	})
}
