package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/ollamabridge/pkg/llm"
	"github.com/papercomputeco/ollamabridge/pkg/storage"
	"github.com/papercomputeco/ollamabridge/pkg/usage"
)

// ListResponse is the body of GET /usage.
type ListResponse struct {
	Count   int             `json:"count"`
	Records []*usage.Record `json:"records"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleListUsage returns the most recent records, newest first.
func (s *Server) handleListUsage(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "limit must be a positive integer"})
	}
	limit = min(limit, s.config.MaxListLimit)

	records, err := s.driver.List(c.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list usage records", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list usage records"})
	}

	return c.JSON(ListResponse{
		Count:   len(records),
		Records: records,
	})
}

// handleGetUsage returns a single record by its chat completion id.
func (s *Server) handleGetUsage(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "id parameter required"})
	}

	record, err := s.driver.Get(c.Context(), id)
	if err != nil {
		var notFound storage.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "usage record not found"})
		}
		s.logger.Error("failed to get usage record", "id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to get usage record"})
	}

	return c.JSON(record)
}

// handleUsageStats returns token totals per model across the whole ledger.
func (s *Server) handleUsageStats(c *fiber.Ctx) error {
	records, err := s.driver.List(c.Context(), 0)
	if err != nil {
		s.logger.Error("failed to list usage records", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list usage records"})
	}

	return c.JSON(usage.Summarize(records))
}
