package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garagetrack/garagetrack/internal/fleet"
	"github.com/garagetrack/garagetrack/internal/garage"
	"github.com/garagetrack/garagetrack/internal/localcache"
)

type vehicleListPayload struct {
	Vehicles   []fleet.Vehicle `json:"vehicles"`
	FromMirror bool            `json:"from_mirror"`
	Seeded     bool            `json:"seeded,omitempty"`
	Message    string          `json:"message,omitempty"`
}

func (h *httpHandler) handleListVehicles(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	vehicles, fromMirror, err := h.sync.FetchVehicles(c.Request.Context(), garageID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	response := vehicleListPayload{Vehicles: vehicles, FromMirror: fromMirror}
	if len(vehicles) == 0 && !fromMirror {
		seeded := fleet.SeedVehicles(garageID.String())
		if _, err := h.sync.ReplaceAll(c.Request.Context(), garageID, seeded); err != nil {
			h.logger.Warn("failed to persist seed vehicles",
				zap.String("garage_id", garageID.String()), zap.Error(err))
		}
		response.Vehicles = seeded
		response.Seeded = true
		response.Message = h.translate(c, "vehicles_seeded")
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleSaveVehicle(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	var vehicle fleet.Vehicle
	if err := c.ShouldBindJSON(&vehicle); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.sync.SaveVehicle(c.Request.Context(), garageID, vehicle)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishVehicleChange(garageID, outcome.Vehicle.VehicleID)
	if outcome.Pending {
		h.publishPendingChange(garageID, outcome.Vehicle.VehicleID)
	}

	body := gin.H{
		"vehicle":       outcome.Vehicle,
		"mirror_stored": outcome.MirrorStored,
		"persisted":     outcome.Persisted,
		"pending":       outcome.Pending,
	}
	if outcome.RemoteError != "" {
		body["remote_error"] = outcome.RemoteError
	}
	if outcome.Pending {
		body["message"] = h.translate(c, "save_pending")
	}
	c.JSON(http.StatusCreated, body)
}

type replaceRequestPayload struct {
	Vehicles []fleet.Vehicle `json:"vehicles"`
}

func (h *httpHandler) handleReplaceVehicles(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	var request replaceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.sync.ReplaceAll(c.Request.Context(), garageID, request.Vehicles)
	if err != nil && !outcome.MirrorStored {
		h.respondServiceError(c, err)
		return
	}

	h.publishVehicleChange(garageID, vehicleIDs(outcome.Vehicles)...)

	status := http.StatusOK
	if !outcome.RemoteSynced {
		// The mirror accepted the list but the database did not; report both
		// outcomes instead of discarding the partial success.
		status = http.StatusBadGateway
	}
	c.JSON(status, outcome)
}

func (h *httpHandler) handleGetVehicle(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	vehicle, err := h.fleet.GetVehicle(c.Request.Context(), garageID, c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, vehicle)
}

func (h *httpHandler) handleUpdateVehicle(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	var vehicle fleet.Vehicle
	if err := c.ShouldBindJSON(&vehicle); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	vehicle.VehicleID = c.Param("id")

	updated, err := h.fleet.UpdateVehicle(c.Request.Context(), garageID, vehicle)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.refreshVehicleMirror(c, garageID)
	h.publishVehicleChange(garageID, updated.VehicleID)
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteVehicle(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	vehicleID := c.Param("id")
	if err := h.fleet.DeleteVehicle(c.Request.Context(), garageID, vehicleID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.refreshVehicleMirror(c, garageID)
	h.publishVehicleChange(garageID, vehicleID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRetrySave(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	vehicle, err := h.sync.RetrySave(c.Request.Context(), garageID, c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishVehicleChange(garageID, vehicle.VehicleID)
	h.publishPendingChange(garageID, vehicle.VehicleID)
	c.JSON(http.StatusOK, gin.H{"vehicle": vehicle, "pending": false})
}

func (h *httpHandler) handleSyncAll(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	var request replaceRequestPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	report, err := h.sync.SyncAll(c.Request.Context(), garageID, request.Vehicles)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.publishVehicleChange(garageID)
	c.JSON(http.StatusOK, gin.H{
		"succeeded":     report.Succeeded,
		"failed":        report.Failed,
		"sample_errors": report.SampleErrors,
		"message": h.translateWithData(c, "sync_report", map[string]interface{}{
			"Succeeded": report.Succeeded,
			"Failed":    report.Failed,
		}),
	})
}

func (h *httpHandler) handleResolveSpecs(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	var overlay *fleet.SpecsOverlay
	if plate := c.Query("plate"); plate != "" && h.plates != nil {
		// Overlay is best effort: a failed lookup degrades to the stored sheet.
		if result, err := h.plates.Lookup(c.Request.Context(), plate); err == nil {
			overlay = &fleet.SpecsOverlay{
				EngineSize: result.EngineSize,
				FuelType:   result.FuelType,
				WeightKG:   result.WeightKG,
			}
		}
	}

	resolved, err := h.fleet.ResolveSpecs(c.Request.Context(), garageID, c.Param("id"), overlay)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

func (h *httpHandler) handleUpsertSpecs(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	var specs fleet.VehicleSpecs
	if err := c.ShouldBindJSON(&specs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	stored, err := h.fleet.UpsertSpecs(c.Request.Context(), garageID, c.Param("id"), specs)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *httpHandler) handleListServiceLogs(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	logs, fromMirror, err := h.sync.FetchServiceLogs(c.Request.Context(), garageID, c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "from_mirror": fromMirror})
}

func (h *httpHandler) handleAddServiceLog(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	var serviceLog fleet.ServiceLog
	if err := c.ShouldBindJSON(&serviceLog); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	serviceLog.VehicleID = c.Param("id")

	stored, err := h.fleet.AddServiceLog(c.Request.Context(), garageID, serviceLog)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.refreshServiceLogMirror(c, garageID)
	h.publishServiceLogChange(garageID, stored.LogID)
	c.JSON(http.StatusCreated, stored)
}

func (h *httpHandler) handleUpdateServiceLog(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	var serviceLog fleet.ServiceLog
	if err := c.ShouldBindJSON(&serviceLog); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	serviceLog.VehicleID = c.Param("id")
	serviceLog.LogID = c.Param("logID")

	updated, err := h.fleet.UpdateServiceLog(c.Request.Context(), garageID, serviceLog)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.refreshServiceLogMirror(c, garageID)
	h.publishServiceLogChange(garageID, updated.LogID)
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteServiceLog(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	logID := c.Param("logID")
	if err := h.fleet.DeleteServiceLog(c.Request.Context(), garageID, logID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.refreshServiceLogMirror(c, garageID)
	h.publishServiceLogChange(garageID, logID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handlePending(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	pending, err := h.sync.Pending(c.Request.Context(), garageID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

func (h *httpHandler) handleReplay(c *gin.Context) {
	garageID, ok := h.garageScope(c)
	if !ok {
		return
	}

	replayed, remaining, err := h.sync.Replay(c.Request.Context(), garageID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	if replayed > 0 {
		h.publishVehicleChange(garageID)
		h.publishPendingChange(garageID)
	}
	c.JSON(http.StatusOK, gin.H{"replayed": replayed, "remaining": remaining})
}

// refreshVehicleMirror rewrites the cache mirror from the database after a
// write that bypassed the sync path. Failures only log; the write succeeded.
func (h *httpHandler) refreshVehicleMirror(c *gin.Context, garageID garage.GarageID) {
	if h.cache == nil {
		return
	}
	vehicles, err := h.fleet.ListVehicles(c.Request.Context(), garageID)
	if err != nil {
		h.logger.Warn("mirror refresh list failed", zap.String("garage_id", garageID.String()), zap.Error(err))
		return
	}
	if err := localcache.Store(c.Request.Context(), h.cache, localcache.VehiclesKey(garageID.String()), vehicles); err != nil {
		h.logger.Warn("mirror refresh store failed", zap.String("garage_id", garageID.String()), zap.Error(err))
	}
}

func (h *httpHandler) refreshServiceLogMirror(c *gin.Context, garageID garage.GarageID) {
	logs, err := h.fleet.ListServiceLogs(c.Request.Context(), garageID, "")
	if err != nil {
		h.logger.Warn("log mirror refresh list failed", zap.String("garage_id", garageID.String()), zap.Error(err))
		return
	}
	if err := h.sync.MirrorServiceLogs(c.Request.Context(), garageID, logs); err != nil {
		h.logger.Warn("log mirror refresh store failed", zap.String("garage_id", garageID.String()), zap.Error(err))
	}
}

func (h *httpHandler) publishVehicleChange(garageID garage.GarageID, entityIDs ...string) {
	h.dispatcher.Publish(FleetEvent{
		GarageID:  garageID.String(),
		EventType: EventVehicleChanged,
		EntityIDs: entityIDs,
		Timestamp: time.Now().UTC(),
	})
}

func (h *httpHandler) publishServiceLogChange(garageID garage.GarageID, entityIDs ...string) {
	h.dispatcher.Publish(FleetEvent{
		GarageID:  garageID.String(),
		EventType: EventServiceLogChanged,
		EntityIDs: entityIDs,
		Timestamp: time.Now().UTC(),
	})
}

func (h *httpHandler) publishPendingChange(garageID garage.GarageID, entityIDs ...string) {
	h.dispatcher.Publish(FleetEvent{
		GarageID:  garageID.String(),
		EventType: EventPendingChanged,
		EntityIDs: entityIDs,
		Timestamp: time.Now().UTC(),
	})
}

func vehicleIDs(vehicles []fleet.Vehicle) []string {
	ids := make([]string, 0, len(vehicles))
	for _, vehicle := range vehicles {
		ids = append(ids, vehicle.VehicleID)
	}
	return ids
}
