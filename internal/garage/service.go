package garage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew   = "garage.service.new"
	opCreateGarage = "garage.create"
	opAccessGarage = "garage.access"
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

// ServiceConfig describes the dependencies for garage identity management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns garage identifier creation and access validation.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the garage identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CreateGarage generates a fresh garage identifier and claims it.
func (s *Service) CreateGarage(ctx context.Context) (GarageID, error) {
	garageID, err := GenerateGarageID()
	if err != nil {
		s.logError(opCreateGarage, "id_generation_failed", err)
		return "", newServiceError(opCreateGarage, "id_generation_failed", err)
	}

	record := Garage{
		GarageID:       garageID.String(),
		LastAccessedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateGarage, "insert_failed", err, zap.String("garage_id", garageID.String()))
		return "", newServiceError(opCreateGarage, "insert_failed", err)
	}

	s.logger.Info("garage created", zap.String("garage_id", garageID.String()))
	return garageID, nil
}

// AccessGarage validates the raw identifier shape and activates the garage.
// An invalid identifier is rejected before any stored state is touched.
// Accessing a well-formed identifier that has never been seen claims it, so a
// user can rejoin a garage whose registry row was lost.
func (s *Service) AccessGarage(ctx context.Context, rawID string) (GarageID, error) {
	garageID, err := NewGarageID(rawID)
	if err != nil {
		return "", newServiceError(opAccessGarage, "invalid_garage_id", err)
	}

	now := s.clock().UTC()
	record := Garage{GarageID: garageID.String(), LastAccessedAt: now}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "garage_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"last_accessed_at": now}),
		}).
		Create(&record).Error
	if err != nil {
		s.logError(opAccessGarage, "upsert_failed", err, zap.String("garage_id", garageID.String()))
		return "", newServiceError(opAccessGarage, "upsert_failed", err)
	}

	return garageID, nil
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
	s.logger.Error("garage service error", attrs...)
}
