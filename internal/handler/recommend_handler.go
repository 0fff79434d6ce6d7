package handler

import (
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/carematch/matchengine/internal/middleware"
	"github.com/carematch/matchengine/internal/service"
)

// RecommendHandler handles both recommendation directions.
type RecommendHandler struct {
	recommender *service.Recommender
	log         *zap.Logger
}

// NewRecommendHandler creates a new recommendation handler.
func NewRecommendHandler(recommender *service.Recommender, log *zap.Logger) *RecommendHandler {
	return &RecommendHandler{recommender: recommender, log: log}
}

// Register sets up recommendation routes.
func (h *RecommendHandler) Register(router fiber.Router) {
	router.Post("/recommend-jobs", h.RecommendJobs)
	router.Post("/recommend-candidates", h.RecommendCandidates)
	router.Post("/professionals/:id/recommendations", h.RecommendJobsByPath)
	router.Post("/jobs/:id/recommendations", h.RecommendCandidatesByPath)
}

// RecommendJobs returns the top jobs for a professional, given either
// the professional's id (stored embedding) or an explicit query vector.
func (h *RecommendHandler) RecommendJobs(c fiber.Ctx) error {
	var body struct {
		ProfessionalID string    `json:"professional_id"`
		Vector         []float32 `json:"vector"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if len(body.Vector) > 0 {
		recs, err := h.recommender.RecommendJobsForVector(c.Context(), body.Vector)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"recommendations": recs})
	}

	if body.ProfessionalID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "professional_id or vector is required"})
	}
	return h.jobsFor(c, body.ProfessionalID)
}

// RecommendJobsByPath is the resource-style variant of RecommendJobs.
func (h *RecommendHandler) RecommendJobsByPath(c fiber.Ctx) error {
	return h.jobsFor(c, c.Params("id"))
}

func (h *RecommendHandler) jobsFor(c fiber.Ctx, professionalID string) error {
	recs, err := h.recommender.RecommendJobs(c.Context(), professionalID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"professional_id": professionalID,
		"recommendations": recs,
	})
}

// RecommendCandidates returns the top professionals for a job. The
// caller must own the job; ownership comes from the X-Caller-ID header.
func (h *RecommendHandler) RecommendCandidates(c fiber.Ctx) error {
	var body struct {
		JobID        string    `json:"job_id"`
		Vector       []float32 `json:"vector"`
		CandidateIDs []string  `json:"candidate_ids"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if len(body.Vector) > 0 {
		recs, err := h.recommender.RecommendCandidatesForVector(c.Context(), body.Vector, body.CandidateIDs)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"recommendations": recs})
	}

	if body.JobID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "job_id or vector is required"})
	}
	return h.candidatesFor(c, body.JobID)
}

// RecommendCandidatesByPath is the resource-style variant of
// RecommendCandidates.
func (h *RecommendHandler) RecommendCandidatesByPath(c fiber.Ctx) error {
	return h.candidatesFor(c, c.Params("id"))
}

func (h *RecommendHandler) candidatesFor(c fiber.Ctx, jobID string) error {
	callerID := middleware.GetCallerID(c)
	if callerID == "" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "X-Caller-ID header is required"})
	}
	recs, err := h.recommender.RecommendCandidates(c.Context(), callerID, jobID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"job_id":          jobID,
		"recommendations": recs,
	})
}
