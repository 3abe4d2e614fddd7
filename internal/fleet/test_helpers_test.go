package fleet

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/garagetrack/garagetrack/internal/garage"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testGarageID = garage.GarageID("123e4567-e89b-12d3-a456-426614174000")

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:fleet-%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Vehicle{}, &VehicleSpecs{}, &ServiceLog{}, &ServiceTask{}, &OutboxEntry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build fleet service: %v", err)
	}
	return service
}

func mustAddVehicle(t *testing.T, service *Service, vehicle Vehicle) Vehicle {
	t.Helper()
	stored, err := service.AddVehicle(context.Background(), testGarageID, vehicle)
	if err != nil {
		t.Fatalf("unexpected add vehicle error: %v", err)
	}
	return stored
}

func garageIDForTest(t *testing.T, raw string) garage.GarageID {
	t.Helper()
	id, err := garage.NewGarageID(raw)
	if err != nil {
		t.Fatalf("unexpected garage id error: %v", err)
	}
	return id
}

func sampleVehicle() Vehicle {
	return Vehicle{
		Make:     "Volvo",
		Model:    "V70",
		Year:     2008,
		VIN:      "YV1SW6549A1123456",
		Plate:    "AB12345",
		Mileage:  210000,
		BodyType: "wagon",
	}
}
