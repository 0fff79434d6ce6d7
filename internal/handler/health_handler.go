package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/port"
)

// HealthHandler reports service liveness and embedding pipeline state.
type HealthHandler struct {
	store port.EmbeddingStore
	index port.VectorIndex
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store port.EmbeddingStore, index port.VectorIndex) *HealthHandler {
	return &HealthHandler{store: store, index: index}
}

// Register sets up the health route.
func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
}

// Health returns per-status record counts and indexed vector counts.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	counts, err := h.store.CountByStatus(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "degraded",
			"error":  "store unreachable",
		})
	}
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	return c.JSON(fiber.Map{
		"status":     "ok",
		"embeddings": byStatus,
		"indexed": fiber.Map{
			"jobs":          h.index.Len(domain.EntityTypeJob),
			"professionals": h.index.Len(domain.EntityTypeProfessional),
		},
	})
}
