package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SWLivingstone/margin-calculator/pricing/internal/auth"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/logic"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/store"
)

type HTTPHandler struct {
	pricing *Pricing
	issuer  *auth.Issuer
}

// NewRouter wires the JSON API. limiter may be nil to disable rate limiting.
func NewRouter(p *Pricing, issuer *auth.Issuer, limiter *RateLimiter) *gin.Engine {
	h := &HTTPHandler{pricing: p, issuer: issuer}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(p.logger))
	if limiter != nil {
		r.Use(RateLimit(limiter, p.logger))
	}

	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.POST("/auth/token", h.IssueToken)

	margins := api.Group("/margins")
	margins.POST("/cm0", h.CM0)
	margins.POST("/cm1", h.CM1)
	margins.POST("/cm2", h.CM2)
	margins.POST("/lowest-price", h.LowestPrice)

	products := api.Group("/products")
	products.GET("/:sku/margins", h.ProductMargins)
	products.GET("/:sku/floor-price", h.FloorPrice)
	products.POST("/floor-prices", h.FloorPrices)
	products.PUT("/:sku", auth.Middleware(issuer), h.UpsertProduct)

	return r
}

func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pricing",
		"time":    time.Now().Format(time.RFC3339),
	})
}

// IssueToken exchanges client credentials for an access token.
func (h *HTTPHandler) IssueToken(c *gin.Context) {
	var req struct {
		ClientID string `json:"client_id"`
		Secret   string `json:"secret"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	token, err := h.issuer.Authenticate(req.ClientID, req.Secret)
	if err != nil {
		h.pricing.logger.Warn().Str("client_id", req.ClientID).Msg("token request rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "Bearer"})
}

func (h *HTTPHandler) CM0(c *gin.Context) {
	var v logic.Cm0Values
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := validateNetRetail(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.writeMargin(c, logic.CM0(v))
}

func (h *HTTPHandler) CM1(c *gin.Context) {
	var v logic.Cm1Values
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := validateNetRetail(v.Cm0Values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.writeMargin(c, logic.CM1(v))
}

func (h *HTTPHandler) CM2(c *gin.Context) {
	var v logic.Cm2Values
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := validateNetRetail(v.Cm0Values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.writeMargin(c, logic.CM2(v))
}

func (h *HTTPHandler) writeMargin(c *gin.Context, m logic.MarginCalculation) {
	if err := validateMargins(m); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

type lowestPriceRequest struct {
	Values       logic.Cm2Values `json:"values"`
	TargetMargin *float64        `json:"target_margin"`
	MarginLevel  string          `json:"margin_level"`
}

// LowestPrice solves for the retail price hitting the requested margin.
func (h *HTTPHandler) LowestPrice(c *gin.Context) {
	var req lowestPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.TargetMargin == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_margin is required"})
		return
	}

	level := logic.ParseMarginLevel(req.MarginLevel)
	price, err := h.pricing.lowestPrice(req.Values, *req.TargetMargin, level)
	if err != nil {
		h.writeSolverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"price":         price,
		"target_margin": *req.TargetMargin,
		"margin_level":  level.String(),
	})
}

// ProductMargins reports the cascade of a stored product.
func (h *HTTPHandler) ProductMargins(c *gin.Context) {
	product, ok := h.loadProduct(c)
	if !ok {
		return
	}

	breakdown := logic.Breakdown(product.Values)
	if err := validateMargins(breakdown.CM0, breakdown.CM1, breakdown.CM2); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sku":           product.Sku,
		"name":          product.Name,
		"margins":       breakdown,
		"target_margin": product.TargetMargin,
		"margin_level":  product.Level.String(),
		"floor_price":   product.FloorPrice,
	})
}

// FloorPrice returns the lowest price of a stored product. target_margin and
// margin_level default to the product's own settings.
func (h *HTTPHandler) FloorPrice(c *gin.Context) {
	product, ok := h.loadProduct(c)
	if !ok {
		return
	}

	target := product.TargetMargin
	if raw := c.Query("target_margin"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || !isFinite(parsed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target_margin"})
			return
		}
		target = parsed
	}

	level := product.Level
	if raw, ok := c.GetQuery("margin_level"); ok {
		level = logic.ParseMarginLevel(raw)
	}

	price, cached, err := h.pricing.floorPrice(c.Request.Context(), product, target, level)
	if err != nil {
		h.writeSolverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sku":           product.Sku,
		"price":         price,
		"target_margin": target,
		"margin_level":  level.String(),
		"cached":        cached,
	})
}

// FloorPrices solves the stored floor price of several skus in one call.
func (h *HTTPHandler) FloorPrices(c *gin.Context) {
	var req struct {
		Skus []string `json:"skus"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	results, err := h.pricing.floorPrices(c.Request.Context(), req.Skus)
	if err != nil {
		h.writeSolverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"prices": results})
}

type productRequest struct {
	Name         string          `json:"name"`
	Values       logic.Cm2Values `json:"values"`
	TargetMargin float64         `json:"target_margin"`
	MarginLevel  string          `json:"margin_level"`
}

// UpsertProduct creates or replaces the cost record of a sku.
func (h *HTTPHandler) UpsertProduct(c *gin.Context) {
	sku := c.Param("sku")

	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := validateSolverInput(req.Values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	logger := h.pricing.logger.With().Str("sku", sku).Str("client_id", c.GetString(auth.ClientKey)).Logger()

	id, err := h.pricing.products.UpsertProduct(ctx, store.Product{
		Sku:          sku,
		Name:         req.Name,
		Values:       req.Values,
		TargetMargin: req.TargetMargin,
		Level:        logic.ParseMarginLevel(req.MarginLevel),
	})
	if err != nil {
		logger.Error().Err(err).Msg("product upsert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save product"})
		return
	}

	if err := h.pricing.cache.InvalidateSku(ctx, sku); err != nil {
		logger.Warn().Err(err).Msg("floor price cache invalidation failed")
	}
	logger.Info().Int("id", id).Msg("product saved")

	c.JSON(http.StatusOK, gin.H{"id": id, "sku": sku})
}

func (h *HTTPHandler) loadProduct(c *gin.Context) (*store.Product, bool) {
	sku := c.Param("sku")

	product, err := h.pricing.products.GetProduct(c.Request.Context(), sku)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "sku " + sku + " not found"})
		return nil, false
	} else if err != nil {
		h.pricing.logger.Error().Err(err).Str("sku", sku).Msg("product lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load product"})
		return nil, false
	}
	return product, true
}

func (h *HTTPHandler) writeSolverError(c *gin.Context, err error) {
	switch {
	case isInputError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case isSolverError(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.pricing.logger.Error().Err(err).Msg("floor price failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
