// Package api serves the AgriCare HTTP API on top of the record stores, the
// audit log and the identity provider.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/celerix-dev/agricare/internal/activity"
	"github.com/celerix-dev/agricare/internal/farm"
	"github.com/celerix-dev/agricare/internal/identity"
	"github.com/celerix-dev/agricare/internal/metrics"
	"github.com/celerix-dev/agricare/internal/records"
	"github.com/celerix-dev/agricare/pkg/schema"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

const healthTimeout = 2 * time.Second

// Handler holds everything the HTTP routes need.
type Handler struct {
	Store     sdk.DocumentStore
	Identity  *identity.Provider
	Crops     *records.Store[schema.CropEntry]
	Diseases  *records.Store[schema.DiseaseDetection]
	TestItems *records.Store[schema.TestItem]
	Activity  *activity.Log
	Detector  *farm.Detector
	Validator *records.Validator
	Logger    *zap.SugaredLogger
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

// Router builds the gin engine. origins lists the allowed CORS origins; "*"
// allows any.
func (h *Handler) Router(origins []string) *gin.Engine {
	h.defaults()

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger(), h.observe())
	r.Use(cors.New(corsConfig(origins)))

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))

	auth := r.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
	}

	crops := resource[schema.CropEntry, *schema.CropEntry]{
		store:    h.Crops,
		validate: h.Validator,
		fail:     h.fail,
		derive: func(c *schema.CropEntry) records.Patch {
			c.ExpectedProfit = c.ComputeExpectedProfit()
			return records.Patch{"expectedProfit": c.ExpectedProfit}
		},
	}
	diseases := resource[schema.DiseaseDetection, *schema.DiseaseDetection]{
		store:    h.Diseases,
		validate: h.Validator,
		fail:     h.fail,
	}
	testItems := resource[schema.TestItem, *schema.TestItem]{
		store:    h.TestItems,
		validate: h.Validator,
		fail:     h.fail,
	}

	api := r.Group("/api", h.RequireAuth())
	{
		api.GET("/profile", h.GetProfile)
		api.PUT("/profile", h.UpdateProfile)

		api.GET("/crops", crops.list)
		api.POST("/crops", crops.create)
		api.GET("/crops/:id", crops.get)
		api.PUT("/crops/:id", crops.update)
		api.DELETE("/crops/:id", crops.remove)

		api.GET("/diseases", diseases.list)
		api.POST("/diseases", diseases.create)
		api.POST("/diseases/analyze", h.Analyze)
		api.GET("/diseases/:id", diseases.get)
		api.PUT("/diseases/:id", diseases.update)
		api.DELETE("/diseases/:id", diseases.remove)

		api.GET("/test-items", testItems.list)
		api.POST("/test-items", testItems.create)
		api.PUT("/test-items/:id", testItems.update)
		api.DELETE("/test-items/:id", testItems.remove)

		api.GET("/activity", h.ListActivity)

		api.GET("/market", h.Market)
		api.GET("/weather", h.Weather)
		api.GET("/recommendations", h.Recommendations)
		api.GET("/profit", h.Profit)

		api.GET("/admin/users", h.ListUsers)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func (h *Handler) defaults() {
	if h.Logger == nil {
		h.Logger = zap.NewNop().Sugar()
	}
	if h.Metrics == nil {
		h.Metrics = metrics.Nop()
	}
	if h.Gatherer == nil {
		h.Gatherer = prometheus.DefaultGatherer
	}
	if h.Validator == nil {
		h.Validator = records.NewValidator()
	}
	if h.Detector == nil {
		h.Detector = farm.NewDetector()
	}
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	config.AllowHeaders = append(config.AllowHeaders, "Authorization")
	config.MaxAge = 12 * time.Hour

	for _, o := range origins {
		if o == "*" {
			config.AllowAllOrigins = true
			return config
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = origins
	return config
}

// Health reports whether the backing store answers.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if _, err := h.Store.Collections(ctx); err != nil {
		h.Logger.Warnw("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail writes the response matching err.
func (h *Handler) fail(c *gin.Context, err error) {
	var verr *records.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, identity.ErrTooManyRequests):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": identity.Message(err)})
	case identity.IsAuthError(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": identity.Message(err)})
	case errors.Is(err, identity.ErrEmailInUse):
		c.JSON(http.StatusConflict, gin.H{"error": identity.Message(err)})
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": identity.Message(err)})
	case errors.Is(err, identity.ErrOperationNotAllowed), errors.Is(err, identity.ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": identity.Message(err)})
	case errors.Is(err, sdk.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, sdk.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, sdk.ErrUnavailable):
		h.Logger.Errorw("store unavailable", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": identity.Message(err)})
	default:
		h.Logger.Errorw("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
