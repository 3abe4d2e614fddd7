package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garagetrack/garagetrack/internal/garage"
	"github.com/garagetrack/garagetrack/internal/localcache"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opSaveVehicle = "fleet.sync.save_vehicle"
	opReplaceAll  = "fleet.sync.replace_all"
	opRetrySave   = "fleet.sync.retry_save"
	opSyncAll     = "fleet.sync.sync_all"
	opReplay      = "fleet.sync.replay"
	opPending     = "fleet.sync.pending"

	entityKindVehicle = "vehicle"

	// SyncAll reports at most this many sample error messages.
	maxSampleErrors = 2
)

var (
	errMissingCache = errors.New("cache handle is required")
	errMissingFleet = errors.New("fleet service is required")
	// ErrNotPending indicates a retry was requested for a vehicle with no
	// outbox entry.
	ErrNotPending = errors.New("fleet: vehicle has no pending save")
	// ErrVehicleIDTaken indicates a save carried a vehicle identifier that
	// already belongs to a different garage.
	ErrVehicleIDTaken = errors.New("fleet: vehicle id belongs to another garage")
)

// OutboxEntry records a mutation whose database write failed. One entry per
// entity: a newer failed save supersedes the older payload.
type OutboxEntry struct {
	EntryID     string    `gorm:"column:entry_id;primaryKey;size:190;not null"`
	GarageID    string    `gorm:"column:garage_id;size:36;not null;uniqueIndex:idx_outbox_entity,priority:1;index:idx_outbox_garage_time,priority:1"`
	EntityKind  string    `gorm:"column:entity_kind;size:32;not null;uniqueIndex:idx_outbox_entity,priority:2"`
	EntityID    string    `gorm:"column:entity_id;size:190;not null;uniqueIndex:idx_outbox_entity,priority:3"`
	PayloadJSON string    `gorm:"column:payload_json;type:text;not null"`
	EnqueuedAt  time.Time `gorm:"column:enqueued_at;not null;index:idx_outbox_garage_time,priority:2"`
	Attempts    int       `gorm:"column:attempts;not null;default:0"`
	LastError   string    `gorm:"column:last_error;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (OutboxEntry) TableName() string {
	return "sync_outbox"
}

// SaveOutcome reports the two independently observable results of a save:
// the mirror write and the database write.
type SaveOutcome struct {
	Vehicle      Vehicle `json:"vehicle"`
	MirrorStored bool    `json:"mirror_stored"`
	Persisted    bool    `json:"persisted"`
	Pending      bool    `json:"pending"`
	RemoteError  string  `json:"remote_error,omitempty"`
}

// ReplaceOutcome reports the result of a full-list sync.
type ReplaceOutcome struct {
	Vehicles     []Vehicle `json:"vehicles"`
	MirrorStored bool      `json:"mirror_stored"`
	RemoteSynced bool      `json:"remote_synced"`
	RemoteError  string    `json:"remote_error,omitempty"`
}

// SyncReport aggregates a best-effort bulk sync. The sync continues past
// individual failures and reports totals plus a couple of sample messages.
type SyncReport struct {
	Succeeded    int      `json:"succeeded"`
	Failed       int      `json:"failed"`
	SampleErrors []string `json:"sample_errors,omitempty"`
}

// SyncServiceConfig describes dependencies for the sync orchestrator.
type SyncServiceConfig struct {
	Database   *gorm.DB
	Cache      localcache.Cache
	Fleet      *Service
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// SyncService implements the mirror-first persistence model: every save
// writes the garage's cache mirror unconditionally, then attempts the
// database write. Failed database writes land in an outbox keyed by entity,
// visible to clients as the pending-retry set. Database upserts are
// idempotent, so replaying an entry is always safe.
type SyncService struct {
	db         *gorm.DB
	cache      localcache.Cache
	fleet      *Service
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewSyncService constructs the sync orchestrator.
func NewSyncService(cfg SyncServiceConfig) (*SyncService, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Cache == nil {
		return nil, newServiceError(opServiceNew, "missing_cache", errMissingCache)
	}
	if cfg.Fleet == nil {
		return nil, newServiceError(opServiceNew, "missing_fleet", errMissingFleet)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SyncService{
		db:         cfg.Database,
		cache:      cfg.Cache,
		fleet:      cfg.Fleet,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// SaveVehicle persists one vehicle mirror-first. The returned outcome is not
// an error when only the database write fails; the vehicle then sits in the
// pending set until RetrySave or Replay confirms it.
func (s *SyncService) SaveVehicle(ctx context.Context, garageID garage.GarageID, vehicle Vehicle) (SaveOutcome, error) {
	if hasClientTemporaryID(vehicle.VehicleID) {
		assigned, err := s.idProvider.NewID()
		if err != nil {
			return SaveOutcome{}, newServiceError(opSaveVehicle, "id_generation_failed", err)
		}
		vehicle.VehicleID = assigned
	}
	vehicle.GarageID = garageID.String()
	vehicle.Specs = nil
	if err := vehicle.Validate(); err != nil {
		return SaveOutcome{}, newServiceError(opSaveVehicle, "invalid_vehicle", err)
	}

	outcome := SaveOutcome{Vehicle: vehicle}
	outcome.MirrorStored = s.mirrorUpsert(ctx, garageID, vehicle)

	if err := s.persistVehicle(ctx, vehicle); err != nil {
		// An id collision with another garage can never succeed on retry, so
		// it is rejected outright instead of parked in the outbox.
		if errors.Is(err, ErrVehicleIDTaken) {
			return SaveOutcome{}, newServiceError(opSaveVehicle, "vehicle_id_conflict", err)
		}
		s.logError(opSaveVehicle, "remote_write_failed", err,
			zap.String("garage_id", garageID.String()),
			zap.String("vehicle_id", vehicle.VehicleID))
		outcome.Pending = true
		outcome.RemoteError = err.Error()
		if enqueueErr := s.enqueue(ctx, garageID, vehicle, err); enqueueErr != nil {
			return outcome, enqueueErr
		}
		return outcome, nil
	}

	outcome.Persisted = true
	if err := s.dequeue(ctx, garageID, vehicle.VehicleID); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// ReplaceAll mirrors the full list unconditionally, then replaces the
// garage's database rows. Mirror success and remote success are reported
// independently; a failed remote phase is not rolled back locally.
func (s *SyncService) ReplaceAll(ctx context.Context, garageID garage.GarageID, vehicles []Vehicle) (ReplaceOutcome, error) {
	prepared := make([]Vehicle, 0, len(vehicles))
	for _, vehicle := range vehicles {
		if hasClientTemporaryID(vehicle.VehicleID) {
			assigned, err := s.idProvider.NewID()
			if err != nil {
				return ReplaceOutcome{}, newServiceError(opReplaceAll, "id_generation_failed", err)
			}
			vehicle.VehicleID = assigned
		}
		vehicle.GarageID = garageID.String()
		vehicle.Specs = nil
		if err := vehicle.Validate(); err != nil {
			return ReplaceOutcome{}, newServiceError(opReplaceAll, "invalid_vehicle", err)
		}
		prepared = append(prepared, vehicle)
	}

	outcome := ReplaceOutcome{Vehicles: prepared}
	if err := localcache.Store(ctx, s.cache, localcache.VehiclesKey(garageID.String()), prepared); err != nil {
		s.logError(opReplaceAll, "mirror_write_failed", err, zap.String("garage_id", garageID.String()))
	} else {
		outcome.MirrorStored = true
	}

	if err := s.fleet.ReplaceVehicles(ctx, garageID, prepared); err != nil {
		outcome.RemoteError = err.Error()
		return outcome, err
	}
	outcome.RemoteSynced = true
	return outcome, nil
}

// FetchVehicles reads the garage's vehicles from the database, falling back
// to the cache mirror when the database is unreachable. The second return
// value reports whether the result came from the mirror.
func (s *SyncService) FetchVehicles(ctx context.Context, garageID garage.GarageID) ([]Vehicle, bool, error) {
	vehicles, err := s.fleet.ListVehicles(ctx, garageID)
	if err == nil {
		return vehicles, false, nil
	}

	cached := make([]Vehicle, 0)
	cacheErr := localcache.Load(ctx, s.cache, localcache.VehiclesKey(garageID.String()), &cached)
	if cacheErr != nil {
		return nil, false, err
	}
	s.logger.Warn("serving vehicles from cache mirror",
		zap.String("garage_id", garageID.String()),
		zap.Error(err))
	return cached, true, nil
}

// RetrySave re-attempts the database write for one pending vehicle. On
// success the vehicle leaves the pending set.
func (s *SyncService) RetrySave(ctx context.Context, garageID garage.GarageID, vehicleID string) (Vehicle, error) {
	var entry OutboxEntry
	err := s.db.WithContext(ctx).
		Where("garage_id = ? AND entity_kind = ? AND entity_id = ?", garageID.String(), entityKindVehicle, vehicleID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Vehicle{}, newServiceError(opRetrySave, "not_pending", ErrNotPending)
	}
	if err != nil {
		s.logError(opRetrySave, "lookup_failed", err, zap.String("garage_id", garageID.String()))
		return Vehicle{}, newServiceError(opRetrySave, "lookup_failed", err)
	}

	var vehicle Vehicle
	if err := json.Unmarshal([]byte(entry.PayloadJSON), &vehicle); err != nil {
		return Vehicle{}, newServiceError(opRetrySave, "payload_decode_failed", err)
	}

	if err := s.persistVehicle(ctx, vehicle); err != nil {
		s.recordAttempt(ctx, entry, err)
		return Vehicle{}, newServiceError(opRetrySave, "remote_write_failed", err)
	}
	if err := s.dequeue(ctx, garageID, vehicleID); err != nil {
		return Vehicle{}, err
	}
	return vehicle, nil
}

// SyncAll persists each vehicle individually and never halts on a failure.
// When list is empty the current database list (or cache mirror) is used.
func (s *SyncService) SyncAll(ctx context.Context, garageID garage.GarageID, vehicles []Vehicle) (SyncReport, error) {
	if len(vehicles) == 0 {
		current, _, err := s.FetchVehicles(ctx, garageID)
		if err != nil {
			return SyncReport{}, newServiceError(opSyncAll, "fetch_failed", err)
		}
		vehicles = current
	}

	report := SyncReport{}
	for _, vehicle := range vehicles {
		outcome, err := s.SaveVehicle(ctx, garageID, vehicle)
		if err != nil {
			report.Failed++
			if len(report.SampleErrors) < maxSampleErrors {
				report.SampleErrors = append(report.SampleErrors, err.Error())
			}
			continue
		}
		if outcome.Pending {
			report.Failed++
			if len(report.SampleErrors) < maxSampleErrors {
				report.SampleErrors = append(report.SampleErrors, outcome.RemoteError)
			}
			continue
		}
		report.Succeeded++
	}
	return report, nil
}

// Pending lists the vehicle identifiers awaiting a confirmed database write,
// in enqueue order.
func (s *SyncService) Pending(ctx context.Context, garageID garage.GarageID) ([]string, error) {
	ids := make([]string, 0)
	if err := s.db.WithContext(ctx).
		Model(&OutboxEntry{}).
		Where("garage_id = ? AND entity_kind = ?", garageID.String(), entityKindVehicle).
		Order("enqueued_at ASC").
		Pluck("entity_id", &ids).Error; err != nil {
		s.logError(opPending, "query_failed", err, zap.String("garage_id", garageID.String()))
		return nil, newServiceError(opPending, "query_failed", err)
	}
	return ids, nil
}

// Replay walks the garage's outbox in enqueue order and re-attempts each
// entry, continuing past failures. It returns how many entries were
// confirmed and how many remain.
func (s *SyncService) Replay(ctx context.Context, garageID garage.GarageID) (replayed, remaining int, err error) {
	entries := make([]OutboxEntry, 0)
	if err := s.db.WithContext(ctx).
		Where("garage_id = ? AND entity_kind = ?", garageID.String(), entityKindVehicle).
		Order("enqueued_at ASC").
		Find(&entries).Error; err != nil {
		s.logError(opReplay, "query_failed", err, zap.String("garage_id", garageID.String()))
		return 0, 0, newServiceError(opReplay, "query_failed", err)
	}

	for _, entry := range entries {
		var vehicle Vehicle
		if decodeErr := json.Unmarshal([]byte(entry.PayloadJSON), &vehicle); decodeErr != nil {
			s.recordAttempt(ctx, entry, decodeErr)
			remaining++
			continue
		}
		if writeErr := s.persistVehicle(ctx, vehicle); writeErr != nil {
			s.recordAttempt(ctx, entry, writeErr)
			remaining++
			continue
		}
		if dequeueErr := s.dequeue(ctx, garageID, entry.EntityID); dequeueErr != nil {
			remaining++
			continue
		}
		replayed++
	}
	return replayed, remaining, nil
}

// MirrorServiceLogs writes the garage's service-log list through to the
// cache mirror. Service logs have no outbox; the mirror is their only
// fallback store.
func (s *SyncService) MirrorServiceLogs(ctx context.Context, garageID garage.GarageID, logs []ServiceLog) error {
	return localcache.Store(ctx, s.cache, localcache.ServiceLogsKey(garageID.String()), logs)
}

// FetchServiceLogs reads service logs from the database, falling back to the
// cache mirror. The bool reports a mirror read.
func (s *SyncService) FetchServiceLogs(ctx context.Context, garageID garage.GarageID, vehicleID string) ([]ServiceLog, bool, error) {
	logs, err := s.fleet.ListServiceLogs(ctx, garageID, vehicleID)
	if err == nil {
		// Only an unfiltered read refreshes the mirror; a per-vehicle slice
		// must not overwrite the full list.
		if vehicleID == "" {
			if mirrorErr := s.MirrorServiceLogs(ctx, garageID, logs); mirrorErr != nil {
				s.logError(opSyncAll, "log_mirror_write_failed", mirrorErr, zap.String("garage_id", garageID.String()))
			}
		}
		return logs, false, nil
	}

	cached := make([]ServiceLog, 0)
	if cacheErr := localcache.Load(ctx, s.cache, localcache.ServiceLogsKey(garageID.String()), &cached); cacheErr != nil {
		return nil, false, err
	}
	if vehicleID != "" {
		filtered := make([]ServiceLog, 0, len(cached))
		for _, log := range cached {
			if log.VehicleID == vehicleID {
				filtered = append(filtered, log)
			}
		}
		cached = filtered
	}
	return cached, true, nil
}

// persistVehicle is the idempotent remote write: an insert that degrades to a
// full-row update when the vehicle already exists. The update never crosses a
// garage boundary: a vehicle id owned by another garage is a conflict, not a
// rewrite. The database runs on a single connection, so the ownership check
// and the upsert are not racing concurrent writers.
func (s *SyncService) persistVehicle(ctx context.Context, vehicle Vehicle) error {
	var existing Vehicle
	err := s.db.WithContext(ctx).
		Select("garage_id").
		Where("vehicle_id = ?", vehicle.VehicleID).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&vehicle).Error
	}
	if err != nil {
		return err
	}
	if existing.GarageID != vehicle.GarageID {
		return fmt.Errorf("%w: %s", ErrVehicleIDTaken, vehicle.VehicleID)
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vehicle_id"}},
			UpdateAll: true,
		}).
		Create(&vehicle).Error
}

// mirrorUpsert merges the vehicle into the cached list and writes it back.
// Mirror failures are logged, never fatal: the mirror is best-effort but the
// write is attempted before any database work.
func (s *SyncService) mirrorUpsert(ctx context.Context, garageID garage.GarageID, vehicle Vehicle) bool {
	key := localcache.VehiclesKey(garageID.String())
	cached := make([]Vehicle, 0)
	if err := localcache.Load(ctx, s.cache, key, &cached); err != nil && !errors.Is(err, localcache.ErrMiss) {
		s.logError(opSaveVehicle, "mirror_read_failed", err, zap.String("garage_id", garageID.String()))
	}

	replaced := false
	for i := range cached {
		if cached[i].VehicleID == vehicle.VehicleID {
			cached[i] = vehicle
			replaced = true
			break
		}
	}
	if !replaced {
		cached = append(cached, vehicle)
	}

	if err := localcache.Store(ctx, s.cache, key, cached); err != nil {
		s.logError(opSaveVehicle, "mirror_write_failed", err, zap.String("garage_id", garageID.String()))
		return false
	}
	return true
}

func (s *SyncService) enqueue(ctx context.Context, garageID garage.GarageID, vehicle Vehicle, cause error) error {
	payload, err := json.Marshal(vehicle)
	if err != nil {
		return newServiceError(opSaveVehicle, "payload_encode_failed", err)
	}
	entryID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(opSaveVehicle, "id_generation_failed", err)
	}

	entry := OutboxEntry{
		EntryID:     entryID,
		GarageID:    garageID.String(),
		EntityKind:  entityKindVehicle,
		EntityID:    vehicle.VehicleID,
		PayloadJSON: string(payload),
		EnqueuedAt:  s.clock().UTC(),
		Attempts:    1,
		LastError:   cause.Error(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "garage_id"}, {Name: "entity_kind"}, {Name: "entity_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"payload_json": entry.PayloadJSON,
				"last_error":   entry.LastError,
			}),
		}).
		Create(&entry).Error
	if err != nil {
		s.logError(opSaveVehicle, "enqueue_failed", err,
			zap.String("garage_id", garageID.String()),
			zap.String("vehicle_id", vehicle.VehicleID))
		return newServiceError(opSaveVehicle, "enqueue_failed", err)
	}
	return nil
}

func (s *SyncService) dequeue(ctx context.Context, garageID garage.GarageID, vehicleID string) error {
	err := s.db.WithContext(ctx).
		Where("garage_id = ? AND entity_kind = ? AND entity_id = ?", garageID.String(), entityKindVehicle, vehicleID).
		Delete(&OutboxEntry{}).Error
	if err != nil {
		s.logError(opSaveVehicle, "dequeue_failed", err,
			zap.String("garage_id", garageID.String()),
			zap.String("vehicle_id", vehicleID))
		return newServiceError(opSaveVehicle, "dequeue_failed", err)
	}
	return nil
}

func (s *SyncService) recordAttempt(ctx context.Context, entry OutboxEntry, cause error) {
	err := s.db.WithContext(ctx).
		Model(&OutboxEntry{}).
		Where("entry_id = ?", entry.EntryID).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause.Error(),
		}).Error
	if err != nil {
		s.logError(opRetrySave, "attempt_record_failed", err, zap.String("entry_id", entry.EntryID))
	}
}

func (s *SyncService) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("fleet sync error", attrs...)
}
