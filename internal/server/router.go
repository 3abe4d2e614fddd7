package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/garagetrack/garagetrack/internal/fleet"
	"github.com/garagetrack/garagetrack/internal/garage"
	"github.com/garagetrack/garagetrack/internal/i18n"
	"github.com/garagetrack/garagetrack/internal/localcache"
	"github.com/garagetrack/garagetrack/internal/mailer"
	"github.com/garagetrack/garagetrack/internal/registry"
)

const garageIDContextKey = "garagetrack_garage_id"

var (
	errMissingGarageService = errors.New("garage service dependency required")
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingFleetService  = errors.New("fleet service dependency required")
	errMissingSyncService   = errors.New("sync service dependency required")
	errMissingMailer        = errors.New("mailer dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// GarageTokenManager issues and validates bearer tokens scoped to a garage.
type GarageTokenManager interface {
	IssueToken(garageID garage.GarageID) (string, int64, error)
	ValidateToken(token string) (garage.GarageID, error)
}

// PlateLookup resolves registration plates against the national registry.
type PlateLookup interface {
	Lookup(ctx context.Context, plate string) (registry.LookupResult, error)
}

// Dependencies wires the HTTP layer. PlateClient, Cache, Translator, and
// Dispatcher are optional; the rest are required.
type Dependencies struct {
	GarageService *garage.Service
	TokenIssuer   GarageTokenManager
	FleetService  *fleet.Service
	SyncService   *fleet.SyncService
	Mailer        mailer.Mailer
	PlateClient   PlateLookup
	Cache         localcache.Cache
	Translator    *i18n.Translator
	Dispatcher    *EventDispatcher
	Logger        *zap.Logger
}

// NewHTTPHandler assembles the router: recovery, CORS, request metrics, the
// public garage/lookup endpoints, and the bearer-protected fleet API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GarageService == nil {
		return nil, errMissingGarageService
	}
	if deps.TokenIssuer == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.FleetService == nil {
		return nil, errMissingFleetService
	}
	if deps.SyncService == nil {
		return nil, errMissingSyncService
	}
	if deps.Mailer == nil {
		return nil, errMissingMailer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewEventDispatcher()
	}

	metrics := newRequestMetrics()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Accept-Language"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		garages:    deps.GarageService,
		tokens:     deps.TokenIssuer,
		fleet:      deps.FleetService,
		sync:       deps.SyncService,
		mail:       deps.Mailer,
		plates:     deps.PlateClient,
		cache:      deps.Cache,
		translator: deps.Translator,
		dispatcher: dispatcher,
		logger:     logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})))

	router.POST("/garage", handler.handleCreateGarage)
	router.POST("/garage/access", handler.handleAccessGarage)
	router.POST("/garage/email", handler.handleGarageEmail)
	router.POST("/garage/leave", handler.handleLeaveGarage)
	router.GET("/lookup/:plate", handler.handlePlateLookup)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/vehicles", handler.handleListVehicles)
	protected.POST("/vehicles", handler.handleSaveVehicle)
	protected.PUT("/vehicles", handler.handleReplaceVehicles)
	protected.POST("/vehicles/sync", handler.handleSyncAll)
	protected.GET("/vehicles/:id", handler.handleGetVehicle)
	protected.PUT("/vehicles/:id", handler.handleUpdateVehicle)
	protected.DELETE("/vehicles/:id", handler.handleDeleteVehicle)
	protected.POST("/vehicles/:id/retry", handler.handleRetrySave)
	protected.GET("/vehicles/:id/specs", handler.handleResolveSpecs)
	protected.PUT("/vehicles/:id/specs", handler.handleUpsertSpecs)
	protected.GET("/vehicles/:id/logs", handler.handleListServiceLogs)
	protected.POST("/vehicles/:id/logs", handler.handleAddServiceLog)
	protected.PUT("/vehicles/:id/logs/:logID", handler.handleUpdateServiceLog)
	protected.DELETE("/vehicles/:id/logs/:logID", handler.handleDeleteServiceLog)
	protected.GET("/pending", handler.handlePending)
	protected.POST("/pending/replay", handler.handleReplay)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	garages    *garage.Service
	tokens     GarageTokenManager
	fleet      *fleet.Service
	sync       *fleet.SyncService
	mail       mailer.Mailer
	plates     PlateLookup
	cache      localcache.Cache
	translator *i18n.Translator
	dispatcher *EventDispatcher
	logger     *zap.Logger
}

type tokenPayload struct {
	GarageID    string `json:"garage_id"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Message     string `json:"message,omitempty"`
}

func (h *httpHandler) handleCreateGarage(c *gin.Context) {
	garageID, err := h.garages.CreateGarage(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	token, expiresIn, err := h.tokens.IssueToken(garageID)
	if err != nil {
		h.logger.Error("failed to issue garage token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusCreated, tokenPayload{
		GarageID:    garageID.String(),
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Message:     h.translate(c, "garage_created"),
	})
}

type accessRequestPayload struct {
	GarageID string `json:"garage_id" binding:"required"`
}

func (h *httpHandler) handleAccessGarage(c *gin.Context) {
	var request accessRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	garageID, err := h.garages.AccessGarage(c.Request.Context(), request.GarageID)
	if err != nil {
		if errors.Is(err, garage.ErrInvalidGarageID) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_garage_id",
				"message": h.translate(c, "garage_id_invalid"),
			})
			return
		}
		h.respondServiceError(c, err)
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(garageID)
	if err != nil {
		h.logger.Error("failed to issue garage token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, tokenPayload{
		GarageID:    garageID.String(),
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Message:     h.translate(c, "garage_accessed"),
	})
}

type emailRequestPayload struct {
	Email    string `json:"email" binding:"required"`
	GarageID string `json:"garage_id" binding:"required"`
}

func (h *httpHandler) handleGarageEmail(c *gin.Context) {
	var request emailRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	delivery, err := h.mail.Send(c.Request.Context(), mailer.Message{
		Email:    request.Email,
		GarageID: request.GarageID,
	})
	if err != nil {
		if errors.Is(err, mailer.ErrInvalidMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
			return
		}
		if errors.Is(err, mailer.ErrDeliveryDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "delivery_disabled"})
			return
		}
		h.logger.Error("garage email dispatch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delivery_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  delivery.Status,
		"detail":  delivery.Detail,
		"message": h.translate(c, "email_simulated"),
	})
}

// handleLeaveGarage exists for symmetry with access: tokens are stateless,
// so leaving only confirms that the data stays under the same identifier.
func (h *httpHandler) handleLeaveGarage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": h.translate(c, "garage_left")})
}

func (h *httpHandler) handlePlateLookup(c *gin.Context) {
	if h.plates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lookup_not_configured"})
		return
	}
	plate := registry.NormalizePlate(c.Param("plate"))
	if plate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_plate"})
		return
	}

	if h.cache != nil {
		var cached registry.LookupResult
		if err := localcache.Load(c.Request.Context(), h.cache, localcache.LookupKey(plate), &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	result, err := h.plates.Lookup(c.Request.Context(), plate)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrMissingPlate):
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_plate"})
		case errors.Is(err, registry.ErrPlateNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "plate_not_found",
				"message": h.translate(c, "plate_not_found"),
			})
		case errors.Is(err, registry.ErrNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lookup_not_configured"})
		default:
			h.logger.Warn("plate lookup failed", zap.String("plate", plate), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "lookup_failed",
				"message": h.translate(c, "lookup_failed"),
			})
		}
		return
	}

	if h.cache != nil {
		if err := localcache.Store(c.Request.Context(), h.cache, localcache.LookupKey(plate), result); err != nil {
			h.logger.Warn("failed to cache plate lookup", zap.String("plate", plate), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	garageID := c.GetString(garageIDContextKey)
	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context(), garageID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(event.EventType, gin.H{
				"garage_id":  event.GarageID,
				"entity_ids": event.EntityIDs,
				"timestamp":  event.Timestamp.UTC().Format(time.RFC3339),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(eventHeartbeat, gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	garageID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(garageIDContextKey, garageID.String())
	c.Next()
}

// garageScope recovers the validated garage identifier placed by the auth
// middleware. A miss means the middleware was bypassed; treat as unauthorized.
func (h *httpHandler) garageScope(c *gin.Context) (garage.GarageID, bool) {
	garageID, err := garage.NewGarageID(c.GetString(garageIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return garageID, true
}

type coded interface {
	error
	Code() string
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, fleet.ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle_not_found"})
		return
	case errors.Is(err, fleet.ErrServiceLogNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "service_log_not_found"})
		return
	case errors.Is(err, fleet.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "not_pending"})
		return
	case errors.Is(err, fleet.ErrVehicleIDTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "vehicle_id_conflict"})
		return
	case errors.Is(err, fleet.ErrInvalidVehicleID), errors.Is(err, fleet.ErrInvalidMileage), errors.Is(err, garage.ErrInvalidGarageID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var serviceErr coded
	if errors.As(err, &serviceErr) {
		h.logger.Error("request failed", zap.String("code", serviceErr.Code()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": serviceErr.Code()})
		return
	}
	h.logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

// translate resolves a message key in the locale of the Accept-Language
// header. Without a translator the key itself is returned.
func (h *httpHandler) translate(c *gin.Context, key string) string {
	return h.translateWithData(c, key, nil)
}

func (h *httpHandler) translateWithData(c *gin.Context, key string, data map[string]interface{}) string {
	if h.translator == nil {
		return key
	}
	return h.translator.TranslateWithData(requestLocale(c), key, data)
}

func requestLocale(c *gin.Context) string {
	header := c.GetHeader("Accept-Language")
	if header == "" {
		return ""
	}
	first := strings.TrimSpace(strings.Split(header, ",")[0])
	if separator := strings.IndexAny(first, "-_;"); separator > 0 {
		first = first[:separator]
	}
	return strings.ToLower(first)
}
