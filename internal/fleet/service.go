package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garagetrack/garagetrack/internal/garage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Full vehicle-list replacement inserts in fixed batches to bound statement
// size, mirroring the client sync payload chunking.
const replaceBatchSize = 5

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew       = "fleet.service.new"
	opAddVehicle       = "fleet.add_vehicle"
	opUpdateVehicle    = "fleet.update_vehicle"
	opDeleteVehicle    = "fleet.delete_vehicle"
	opGetVehicle       = "fleet.get_vehicle"
	opListVehicles     = "fleet.list_vehicles"
	opReplaceVehicles  = "fleet.replace_vehicles"
	opAddServiceLog    = "fleet.add_service_log"
	opUpdateServiceLog = "fleet.update_service_log"
	opDeleteServiceLog = "fleet.delete_service_log"
	opListServiceLogs  = "fleet.list_service_logs"
	opUpsertSpecs      = "fleet.upsert_specs"
	opResolveSpecs     = "fleet.resolve_specs"
)

// ServiceError carries an operation-scoped error code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes dependencies for the fleet service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists vehicles, service logs and specification sheets. Every
// operation takes the garage identifier explicitly; no query runs outside a
// garage scope.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the fleet service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
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
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// hasClientTemporaryID reports whether the vehicle still carries the
// placeholder identifier assigned by a client form before first persistence.
func hasClientTemporaryID(vehicleID string) bool {
	trimmed := strings.TrimSpace(vehicleID)
	return trimmed == "" || strings.HasPrefix(trimmed, "temp-")
}

// AddVehicle persists a new vehicle for the garage. A temporary client-side
// identifier is replaced with a server-assigned one; all other fields are
// stored as given. An embedded specs sheet is stored alongside the vehicle.
func (s *Service) AddVehicle(ctx context.Context, garageID garage.GarageID, vehicle Vehicle) (Vehicle, error) {
	if hasClientTemporaryID(vehicle.VehicleID) {
		assigned, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opAddVehicle, "id_generation_failed", err, zap.String("garage_id", garageID.String()))
			return Vehicle{}, newServiceError(opAddVehicle, "id_generation_failed", err)
		}
		vehicle.VehicleID = assigned
	}
	vehicle.GarageID = garageID.String()
	if err := vehicle.Validate(); err != nil {
		return Vehicle{}, newServiceError(opAddVehicle, "invalid_vehicle", err)
	}

	specs := vehicle.Specs
	vehicle.Specs = nil

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&vehicle).Error; err != nil {
			return newServiceError(opAddVehicle, "insert_failed", err)
		}
		if specs != nil {
			stored, err := s.prepareSpecs(tx, garageID, vehicle, *specs)
			if err != nil {
				return err
			}
			vehicle.Specs = &stored
		}
		return nil
	})
	if txErr != nil {
		s.logError(opAddVehicle, "transaction_failed", txErr,
			zap.String("garage_id", garageID.String()),
			zap.String("vehicle_id", vehicle.VehicleID))
		return Vehicle{}, txErr
	}

	return vehicle, nil
}

// UpdateVehicle overwrites a vehicle's mutable fields within the garage scope.
func (s *Service) UpdateVehicle(ctx context.Context, garageID garage.GarageID, vehicle Vehicle) (Vehicle, error) {
	vehicleID, err := NewVehicleID(vehicle.VehicleID)
	if err != nil {
		return Vehicle{}, newServiceError(opUpdateVehicle, "invalid_vehicle_id", err)
	}
	vehicle.VehicleID = vehicleID.String()
	vehicle.GarageID = garageID.String()
	if err := vehicle.Validate(); err != nil {
		return Vehicle{}, newServiceError(opUpdateVehicle, "invalid_vehicle", err)
	}

	specs := vehicle.Specs
	vehicle.Specs = nil

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Vehicle
		err := tx.Where("garage_id = ? AND vehicle_id = ?", garageID.String(), vehicle.VehicleID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdateVehicle, "not_found", ErrVehicleNotFound)
		}
		if err != nil {
			return newServiceError(opUpdateVehicle, "lookup_failed", err)
		}

		vehicle.CreatedAt = existing.CreatedAt
		if err := tx.Save(&vehicle).Error; err != nil {
			return newServiceError(opUpdateVehicle, "save_failed", err)
		}
		if specs != nil {
			stored, err := s.prepareSpecs(tx, garageID, vehicle, *specs)
			if err != nil {
				return err
			}
			vehicle.Specs = &stored
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrVehicleNotFound) {
			s.logError(opUpdateVehicle, "transaction_failed", txErr,
				zap.String("garage_id", garageID.String()),
				zap.String("vehicle_id", vehicle.VehicleID))
		}
		return Vehicle{}, txErr
	}

	return vehicle, nil
}

// GetVehicle fetches a single vehicle within the garage scope.
func (s *Service) GetVehicle(ctx context.Context, garageID garage.GarageID, vehicleID string) (Vehicle, error) {
	var vehicle Vehicle
	err := s.db.WithContext(ctx).
		Where("garage_id = ? AND vehicle_id = ?", garageID.String(), vehicleID).
		Take(&vehicle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Vehicle{}, newServiceError(opGetVehicle, "not_found", ErrVehicleNotFound)
	}
	if err != nil {
		s.logError(opGetVehicle, "query_failed", err,
			zap.String("garage_id", garageID.String()),
			zap.String("vehicle_id", vehicleID))
		return Vehicle{}, newServiceError(opGetVehicle, "query_failed", err)
	}
	return vehicle, nil
}

// ListVehicles returns all vehicles for the garage. An empty garage yields an
// empty list, not an error; seeding decisions belong to the caller.
func (s *Service) ListVehicles(ctx context.Context, garageID garage.GarageID) ([]Vehicle, error) {
	vehicles := make([]Vehicle, 0)
	if err := s.db.WithContext(ctx).
		Where("garage_id = ?", garageID.String()).
		Order("created_at ASC").
		Find(&vehicles).Error; err != nil {
		s.logError(opListVehicles, "query_failed", err, zap.String("garage_id", garageID.String()))
		return nil, newServiceError(opListVehicles, "query_failed", err)
	}
	return vehicles, nil
}

// ReplaceVehicles swaps the garage's entire vehicle set for the given list.
// Existing rows are deleted and the new rows inserted in fixed-size batches.
func (s *Service) ReplaceVehicles(ctx context.Context, garageID garage.GarageID, vehicles []Vehicle) error {
	prepared := make([]Vehicle, 0, len(vehicles))
	for _, vehicle := range vehicles {
		if hasClientTemporaryID(vehicle.VehicleID) {
			assigned, err := s.idProvider.NewID()
			if err != nil {
				return newServiceError(opReplaceVehicles, "id_generation_failed", err)
			}
			vehicle.VehicleID = assigned
		}
		vehicle.GarageID = garageID.String()
		vehicle.Specs = nil
		if err := vehicle.Validate(); err != nil {
			return newServiceError(opReplaceVehicles, "invalid_vehicle", err)
		}
		prepared = append(prepared, vehicle)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("garage_id = ?", garageID.String()).Delete(&Vehicle{}).Error; err != nil {
			return newServiceError(opReplaceVehicles, "delete_failed", err)
		}
		if len(prepared) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(prepared, replaceBatchSize).Error; err != nil {
			return newServiceError(opReplaceVehicles, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opReplaceVehicles, "transaction_failed", txErr,
			zap.String("garage_id", garageID.String()),
			zap.Int("vehicle_count", len(prepared)))
		return txErr
	}

	return nil
}

// DeleteVehicle removes the vehicle together with its service logs, tasks and
// specs sheet. Logs referencing other vehicles are untouched.
func (s *Service) DeleteVehicle(ctx context.Context, garageID garage.GarageID, vehicleID string) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var vehicle Vehicle
		err := tx.Where("garage_id = ? AND vehicle_id = ?", garageID.String(), vehicleID).
			Take(&vehicle).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDeleteVehicle, "not_found", ErrVehicleNotFound)
		}
		if err != nil {
			return newServiceError(opDeleteVehicle, "lookup_failed", err)
		}

		logIDs := make([]string, 0)
		if err := tx.Model(&ServiceLog{}).
			Where("garage_id = ? AND vehicle_id = ?", garageID.String(), vehicleID).
			Pluck("log_id", &logIDs).Error; err != nil {
			return newServiceError(opDeleteVehicle, "log_lookup_failed", err)
		}
		if len(logIDs) > 0 {
			if err := tx.Where("garage_id = ? AND log_id IN ?", garageID.String(), logIDs).
				Delete(&ServiceTask{}).Error; err != nil {
				return newServiceError(opDeleteVehicle, "task_delete_failed", err)
			}
		}
		if err := tx.Where("garage_id = ? AND vehicle_id = ?", garageID.String(), vehicleID).
			Delete(&ServiceLog{}).Error; err != nil {
			return newServiceError(opDeleteVehicle, "log_delete_failed", err)
		}
		if err := tx.Where("garage_id = ? AND vehicle_id = ?", garageID.String(), vehicleID).
			Delete(&VehicleSpecs{}).Error; err != nil {
			return newServiceError(opDeleteVehicle, "specs_delete_failed", err)
		}
		if err := tx.Where("garage_id = ? AND vehicle_id = ?", garageID.String(), vehicleID).
			Delete(&Vehicle{}).Error; err != nil {
			return newServiceError(opDeleteVehicle, "delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrVehicleNotFound) {
			s.logError(opDeleteVehicle, "transaction_failed", txErr,
				zap.String("garage_id", garageID.String()),
				zap.String("vehicle_id", vehicleID))
		}
		return txErr
	}

	return nil
}

// AddServiceLog records a maintenance event. A log whose mileage exceeds the
// vehicle's current odometer raises the vehicle mileage; a lower value leaves
// the vehicle unchanged.
func (s *Service) AddServiceLog(ctx context.Context, garageID garage.GarageID, log ServiceLog) (ServiceLog, error) {
	if strings.TrimSpace(log.LogID) == "" {
		assigned, err := s.idProvider.NewID()
		if err != nil {
			return ServiceLog{}, newServiceError(opAddServiceLog, "id_generation_failed", err)
		}
		log.LogID = assigned
	}
	log.GarageID = garageID.String()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var vehicle Vehicle
		err := tx.Where("garage_id = ? AND vehicle_id = ?", garageID.String(), log.VehicleID).
			Take(&vehicle).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opAddServiceLog, "vehicle_not_found", ErrVehicleNotFound)
		}
		if err != nil {
			return newServiceError(opAddServiceLog, "vehicle_lookup_failed", err)
		}

		tasks := log.Tasks
		log.Tasks = nil
		if err := tx.Create(&log).Error; err != nil {
			return newServiceError(opAddServiceLog, "insert_failed", err)
		}

		storedTasks, err := s.storeTasks(tx, garageID, log.LogID, tasks)
		if err != nil {
			return err
		}
		log.Tasks = storedTasks

		if log.Mileage > vehicle.Mileage {
			if err := tx.Model(&Vehicle{}).
				Where("garage_id = ? AND vehicle_id = ?", garageID.String(), log.VehicleID).
				Update("mileage", log.Mileage).Error; err != nil {
				return newServiceError(opAddServiceLog, "mileage_update_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrVehicleNotFound) {
			s.logError(opAddServiceLog, "transaction_failed", txErr,
				zap.String("garage_id", garageID.String()),
				zap.String("vehicle_id", log.VehicleID))
		}
		return ServiceLog{}, txErr
	}

	return log, nil
}

// UpdateServiceLog overwrites a log and its tasks, applying the same mileage
// propagation rule as AddServiceLog.
func (s *Service) UpdateServiceLog(ctx context.Context, garageID garage.GarageID, log ServiceLog) (ServiceLog, error) {
	log.GarageID = garageID.String()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ServiceLog
		err := tx.Where("garage_id = ? AND log_id = ?", garageID.String(), log.LogID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdateServiceLog, "not_found", ErrServiceLogNotFound)
		}
		if err != nil {
			return newServiceError(opUpdateServiceLog, "lookup_failed", err)
		}

		log.VehicleID = existing.VehicleID
		log.CreatedAt = existing.CreatedAt
		tasks := log.Tasks
		log.Tasks = nil
		if err := tx.Save(&log).Error; err != nil {
			return newServiceError(opUpdateServiceLog, "save_failed", err)
		}

		if err := tx.Where("garage_id = ? AND log_id = ?", garageID.String(), log.LogID).
			Delete(&ServiceTask{}).Error; err != nil {
			return newServiceError(opUpdateServiceLog, "task_delete_failed", err)
		}
		storedTasks, err := s.storeTasks(tx, garageID, log.LogID, tasks)
		if err != nil {
			return err
		}
		log.Tasks = storedTasks

		var vehicle Vehicle
		err = tx.Where("garage_id = ? AND vehicle_id = ?", garageID.String(), log.VehicleID).
			Take(&vehicle).Error
		// A missing vehicle row only skips the propagation; any other lookup
		// failure aborts the transaction.
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdateServiceLog, "vehicle_lookup_failed", err)
		}
		if err == nil && log.Mileage > vehicle.Mileage {
			if err := tx.Model(&Vehicle{}).
				Where("garage_id = ? AND vehicle_id = ?", garageID.String(), log.VehicleID).
				Update("mileage", log.Mileage).Error; err != nil {
				return newServiceError(opUpdateServiceLog, "mileage_update_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrServiceLogNotFound) {
			s.logError(opUpdateServiceLog, "transaction_failed", txErr,
				zap.String("garage_id", garageID.String()),
				zap.String("log_id", log.LogID))
		}
		return ServiceLog{}, txErr
	}

	return log, nil
}

// DeleteServiceLog removes a single log and its tasks.
func (s *Service) DeleteServiceLog(ctx context.Context, garageID garage.GarageID, logID string) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ServiceLog
		err := tx.Where("garage_id = ? AND log_id = ?", garageID.String(), logID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDeleteServiceLog, "not_found", ErrServiceLogNotFound)
		}
		if err != nil {
			return newServiceError(opDeleteServiceLog, "lookup_failed", err)
		}
		if err := tx.Where("garage_id = ? AND log_id = ?", garageID.String(), logID).
			Delete(&ServiceTask{}).Error; err != nil {
			return newServiceError(opDeleteServiceLog, "task_delete_failed", err)
		}
		if err := tx.Where("garage_id = ? AND log_id = ?", garageID.String(), logID).
			Delete(&ServiceLog{}).Error; err != nil {
			return newServiceError(opDeleteServiceLog, "delete_failed", err)
		}
		return nil
	})
	if txErr != nil && !errors.Is(txErr, ErrServiceLogNotFound) {
		s.logError(opDeleteServiceLog, "transaction_failed", txErr,
			zap.String("garage_id", garageID.String()),
			zap.String("log_id", logID))
	}
	return txErr
}

// ListServiceLogs returns the garage's logs, optionally filtered to one
// vehicle, with tasks attached.
func (s *Service) ListServiceLogs(ctx context.Context, garageID garage.GarageID, vehicleID string) ([]ServiceLog, error) {
	logs := make([]ServiceLog, 0)
	query := s.db.WithContext(ctx).Where("garage_id = ?", garageID.String())
	if strings.TrimSpace(vehicleID) != "" {
		query = query.Where("vehicle_id = ?", vehicleID)
	}
	if err := query.Order("service_date DESC").Find(&logs).Error; err != nil {
		s.logError(opListServiceLogs, "query_failed", err, zap.String("garage_id", garageID.String()))
		return nil, newServiceError(opListServiceLogs, "query_failed", err)
	}
	if len(logs) == 0 {
		return logs, nil
	}

	logIDs := make([]string, 0, len(logs))
	for _, log := range logs {
		logIDs = append(logIDs, log.LogID)
	}
	tasks := make([]ServiceTask, 0)
	if err := s.db.WithContext(ctx).
		Where("garage_id = ? AND log_id IN ?", garageID.String(), logIDs).
		Find(&tasks).Error; err != nil {
		s.logError(opListServiceLogs, "task_query_failed", err, zap.String("garage_id", garageID.String()))
		return nil, newServiceError(opListServiceLogs, "task_query_failed", err)
	}
	tasksByLog := make(map[string][]ServiceTask, len(logs))
	for _, task := range tasks {
		tasksByLog[task.LogID] = append(tasksByLog[task.LogID], task)
	}
	for i := range logs {
		logs[i].Tasks = tasksByLog[logs[i].LogID]
	}
	return logs, nil
}

func (s *Service) storeTasks(tx *gorm.DB, garageID garage.GarageID, logID string, tasks []ServiceTask) ([]ServiceTask, error) {
	stored := make([]ServiceTask, 0, len(tasks))
	for _, task := range tasks {
		if strings.TrimSpace(task.TaskID) == "" {
			assigned, err := s.idProvider.NewID()
			if err != nil {
				return nil, newServiceError(opAddServiceLog, "id_generation_failed", err)
			}
			task.TaskID = assigned
		}
		task.LogID = logID
		task.GarageID = garageID.String()
		stored = append(stored, task)
	}
	if len(stored) == 0 {
		return nil, nil
	}
	if err := tx.Create(&stored).Error; err != nil {
		return nil, newServiceError(opAddServiceLog, "task_insert_failed", err)
	}
	return stored, nil
}

func (s *Service) prepareSpecs(tx *gorm.DB, garageID garage.GarageID, vehicle Vehicle, specs VehicleSpecs) (VehicleSpecs, error) {
	if strings.TrimSpace(specs.SpecsID) == "" {
		assigned, err := s.idProvider.NewID()
		if err != nil {
			return VehicleSpecs{}, newServiceError(opUpsertSpecs, "id_generation_failed", err)
		}
		specs.SpecsID = assigned
	}
	specs.VehicleID = vehicle.VehicleID
	specs.GarageID = garageID.String()
	specs.Make = vehicle.Make
	specs.Model = vehicle.Model
	specs.ContributedAt = s.clock().UTC()

	// One sheet per vehicle: replace whatever was contributed before.
	if err := tx.Where("garage_id = ? AND vehicle_id = ?", garageID.String(), vehicle.VehicleID).
		Delete(&VehicleSpecs{}).Error; err != nil {
		return VehicleSpecs{}, newServiceError(opUpsertSpecs, "replace_failed", err)
	}
	if err := tx.Create(&specs).Error; err != nil {
		return VehicleSpecs{}, newServiceError(opUpsertSpecs, "upsert_failed", err)
	}
	return specs, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("fleet service error", attrs...)
}
