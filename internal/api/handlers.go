package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/mcpharvest/internal/extractor"
	"github.com/mcpharvest/internal/store"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PassRequest asks for an extraction pass over at most Limit servers (0: all).
type PassRequest struct {
	Limit int `json:"limit"`
}

// PassResponse reports the queued job.
type PassResponse struct {
	JobID int64 `json:"job_id"`
	Limit int   `json:"limit"`
}

// ConfigsResponse lists stored configs.
type ConfigsResponse struct {
	Type    string               `json:"type,omitempty"`
	Count   int                  `json:"count"`
	Configs []store.StoredConfig `json:"configs"`
}

var knownConfigTypes = map[string]bool{
	extractor.ConfigTypeNPM:    true,
	extractor.ConfigTypePython: true,
	extractor.ConfigTypeDocker: true,
	extractor.ConfigTypeBinary: true,
	extractor.ConfigTypeOther:  true,
}

func (s *Server) getStats(c echo.Context) error {
	stats, err := s.store.Statistics(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute statistics")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to compute statistics",
		})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) getConfigs(c echo.Context) error {
	configType := c.QueryParam("type")
	if configType != "" && !knownConfigTypes[configType] {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Unknown config type: " + configType,
		})
	}

	configs, err := s.store.ConfigsByType(c.Request().Context(), configType)
	if err != nil {
		log.Error().Err(err).Str("type", configType).Msg("Failed to list configs")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to list configs",
		})
	}
	return c.JSON(http.StatusOK, ConfigsResponse{
		Type:    configType,
		Count:   len(configs),
		Configs: configs,
	})
}

func (s *Server) createPass(c echo.Context) error {
	if s.queue == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Job queue is not configured",
		})
	}

	var req PassRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request format",
		})
	}
	if req.Limit < 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "limit must not be negative",
		})
	}

	id, err := s.queue.EnqueuePass(c.Request().Context(), req.Limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to queue extraction pass")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to queue extraction pass",
		})
	}
	return c.JSON(http.StatusAccepted, PassResponse{JobID: id, Limit: req.Limit})
}
