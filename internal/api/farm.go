package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/agricare/internal/farm"
	"github.com/celerix-dev/agricare/internal/records"
)

func (h *Handler) Market(c *gin.Context) {
	c.JSON(http.StatusOK, farm.MarketPrices())
}

func (h *Handler) Weather(c *gin.Context) {
	c.JSON(http.StatusOK, farm.Weather())
}

func (h *Handler) Recommendations(c *gin.Context) {
	c.JSON(http.StatusOK, farm.Recommendations())
}

func (h *Handler) Profit(c *gin.Context) {
	c.JSON(http.StatusOK, farm.ProfitTrend())
}

type analyzeRequest struct {
	CropType string `json:"cropType" validate:"required"`
	ImageURL string `json:"imageUrl" validate:"omitempty,url"`
	Notes    string `json:"notes" validate:"max=1000"`
	// Save stores the diagnosis as a disease detection record.
	Save bool `json:"save"`
}

// Analyze runs the disease detector on a crop and optionally records the result.
func (h *Handler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		h.fail(c, err)
		return
	}

	diagnosis, err := h.Detector.Analyze(c.Request.Context(), req.CropType)
	if err != nil {
		if c.Request.Context().Err() != nil {
			// Client went away.
			c.Status(499)
			return
		}
		badRequest(c, err)
		return
	}
	if !req.Save {
		c.JSON(http.StatusOK, gin.H{"diagnosis": diagnosis})
		return
	}

	detection := diagnosis.Detection(req.CropType, uid(c))
	detection.ImageURL = req.ImageURL
	detection.Notes = req.Notes
	saved, err := h.Diseases.Create(c.Request.Context(), detection, uid(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"diagnosis": diagnosis, "detection": saved})
}

// ListActivity returns the caller's audit trail, newest first.
func (h *Handler) ListActivity(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(c, records.NewValidationError("limit", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	entries, err := h.Activity.ListByUser(c.Request.Context(), uid(c), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
