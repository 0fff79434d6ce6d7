package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/port"
	"github.com/carematch/matchengine/internal/service"
)

// EntityHandler exposes per-entity lifecycle operations: text updates,
// deletion, and embedding status inspection.
type EntityHandler struct {
	coordinator *service.Coordinator
	store       port.EmbeddingStore
	log         *zap.Logger
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(coordinator *service.Coordinator, store port.EmbeddingStore, log *zap.Logger) *EntityHandler {
	return &EntityHandler{coordinator: coordinator, store: store, log: log}
}

// Register sets up entity routes.
func (h *EntityHandler) Register(router fiber.Router) {
	entities := router.Group("/entities/:type/:id")
	entities.Put("/text", h.UpdateText)
	entities.Delete("/", h.Delete)
	entities.Get("/embedding-status", h.EmbeddingStatus)
}

func entityParams(c fiber.Ctx) (domain.EntityType, string, error) {
	et, err := domain.ParseEntityType(c.Params("type"))
	if err != nil {
		return "", "", err
	}
	id := c.Params("id")
	if id == "" {
		return "", "", errors.New("entity id is required")
	}
	return et, id, nil
}

// UpdateText submits new source text for an entity and returns 202.
func (h *EntityHandler) UpdateText(c fiber.Ctx) error {
	et, id, err := entityParams(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.coordinator.TextChanged(c.Context(), et, id, body.Text); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// Delete removes the entity's embedding record and index entry.
func (h *EntityHandler) Delete(c fiber.Ctx) error {
	et, id, err := entityParams(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.coordinator.Delete(c.Context(), et, id); err != nil {
		if errors.Is(err, port.ErrRecordNotFound) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// EmbeddingStatus reports the entity's embedding lifecycle state.
func (h *EntityHandler) EmbeddingStatus(c fiber.Ctx) error {
	et, id, err := entityParams(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	rec, err := h.store.Get(c.Context(), et, id)
	if err != nil {
		return respondError(c, err)
	}

	resp := fiber.Map{
		"entity_type": string(rec.EntityType),
		"entity_id":   rec.EntityID,
		"status":      string(rec.Status),
		"attempts":    rec.Attempts,
		"updated_at":  rec.UpdatedAt,
	}
	if rec.LastError != "" {
		resp["last_error"] = rec.LastError
	}
	if !rec.GeneratedAt.IsZero() {
		resp["generated_at"] = rec.GeneratedAt
	}
	return c.JSON(resp)
}
