package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillVehicleMileage = "2026-08-20_backfill_vehicle_mileage_from_logs"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillVehicleMileage, apply: backfillVehicleMileageFromLogs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before mileage propagation existed can hold a vehicle odometer
// below the highest mileage recorded in its own service history.
func backfillVehicleMileageFromLogs(db *gorm.DB) error {
	const statement = `UPDATE vehicles SET mileage = (
		SELECT MAX(service_logs.mileage) FROM service_logs
		WHERE service_logs.vehicle_id = vehicles.vehicle_id
	) WHERE vehicle_id IN (
		SELECT vehicles.vehicle_id FROM vehicles
		JOIN service_logs ON service_logs.vehicle_id = vehicles.vehicle_id
		GROUP BY vehicles.vehicle_id
		HAVING MAX(service_logs.mileage) > vehicles.mileage
	);`
	return db.Exec(statement).Error
}
