package fleet

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAddVehicleAssignsServerIDForTemporaryID(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	vehicle := sampleVehicle()
	vehicle.VehicleID = "temp-1712"

	stored := mustAddVehicle(t, service, vehicle)
	if stored.VehicleID == "" || stored.VehicleID == "temp-1712" {
		t.Fatalf("expected server-assigned id, got %q", stored.VehicleID)
	}
}

func TestAddVehicleThenListReturnsEqualFields(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	stored := mustAddVehicle(t, service, sampleVehicle())

	listed, err := service.ListVehicles(context.Background(), testGarageID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one vehicle, got %d", len(listed))
	}
	got := listed[0]
	want := sampleVehicle()
	if got.Make != want.Make || got.Model != want.Model || got.Year != want.Year {
		t.Fatalf("unexpected vehicle fields: %+v", got)
	}
	if got.VIN != want.VIN || got.Plate != want.Plate || got.Mileage != want.Mileage {
		t.Fatalf("unexpected vehicle fields: %+v", got)
	}
	if got.VehicleID != stored.VehicleID {
		t.Fatalf("expected stored id %s, got %s", stored.VehicleID, got.VehicleID)
	}
}

func TestAddVehicleRejectsNegativeMileage(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	vehicle := sampleVehicle()
	vehicle.Mileage = -1

	if _, err := service.AddVehicle(context.Background(), testGarageID, vehicle); !errors.Is(err, ErrInvalidMileage) {
		t.Fatalf("expected ErrInvalidMileage, got %v", err)
	}
}

func TestListVehiclesEmptyGarageReturnsEmptyListNotError(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	listed, err := service.ListVehicles(context.Background(), testGarageID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if listed == nil || len(listed) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", listed)
	}
}

func TestUpdateVehicleRejectsUnknownID(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	vehicle := sampleVehicle()
	vehicle.VehicleID = "missing-vehicle"

	if _, err := service.UpdateVehicle(context.Background(), testGarageID, vehicle); !errors.Is(err, ErrVehicleNotFound) {
		t.Fatalf("expected ErrVehicleNotFound, got %v", err)
	}
}

func TestUpdateVehicleIsScopedByGarage(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	stored := mustAddVehicle(t, service, sampleVehicle())

	otherGarage := garageIDForTest(t, "223e4567-e89b-12d3-a456-426614174000")
	stored.Mileage = 999999
	if _, err := service.UpdateVehicle(context.Background(), otherGarage, stored); !errors.Is(err, ErrVehicleNotFound) {
		t.Fatalf("expected cross-garage update to fail, got %v", err)
	}
}

func TestReplaceVehiclesSwapsFullSet(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	mustAddVehicle(t, service, sampleVehicle())

	replacement := make([]Vehicle, 0, 7)
	for i := 0; i < 7; i++ {
		vehicle := sampleVehicle()
		vehicle.VehicleID = ""
		vehicle.Model = "V70"
		vehicle.Year = 2000 + i
		replacement = append(replacement, vehicle)
	}

	if err := service.ReplaceVehicles(context.Background(), testGarageID, replacement); err != nil {
		t.Fatalf("unexpected replace error: %v", err)
	}

	listed, err := service.ListVehicles(context.Background(), testGarageID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 7 {
		t.Fatalf("expected 7 vehicles after replace, got %d", len(listed))
	}
}

func TestReplaceVehiclesWithEmptyListClearsGarage(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	mustAddVehicle(t, service, sampleVehicle())

	if err := service.ReplaceVehicles(context.Background(), testGarageID, nil); err != nil {
		t.Fatalf("unexpected replace error: %v", err)
	}

	listed, err := service.ListVehicles(context.Background(), testGarageID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty garage, got %d vehicles", len(listed))
	}
}

func TestDeleteVehicleCascadesOnlyItsServiceLogs(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	first := mustAddVehicle(t, service, sampleVehicle())
	second := mustAddVehicle(t, service, Vehicle{Make: "Saab", Model: "9-5", Year: 2004, Mileage: 150000})

	for _, vehicleID := range []string{first.VehicleID, second.VehicleID} {
		_, err := service.AddServiceLog(context.Background(), testGarageID, ServiceLog{
			VehicleID:   vehicleID,
			ServiceDate: time.Unix(1690000000, 0).UTC(),
			Mileage:     100,
			ServiceType: "oil_change",
			Tasks: []ServiceTask{
				{Description: "drain oil", Completed: true},
			},
		})
		if err != nil {
			t.Fatalf("unexpected add log error: %v", err)
		}
	}

	if err := service.DeleteVehicle(context.Background(), testGarageID, first.VehicleID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	var logCount int64
	if err := db.Model(&ServiceLog{}).Where("vehicle_id = ?", first.VehicleID).Count(&logCount).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if logCount != 0 {
		t.Fatalf("expected deleted vehicle's logs to be removed, found %d", logCount)
	}

	remaining, err := service.ListServiceLogs(context.Background(), testGarageID, second.VehicleID)
	if err != nil {
		t.Fatalf("unexpected list logs error: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected other vehicle's log to survive, got %d", len(remaining))
	}
	if len(remaining[0].Tasks) != 1 {
		t.Fatalf("expected surviving log to keep its task, got %d", len(remaining[0].Tasks))
	}
}

func TestAddServiceLogRaisesVehicleMileage(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	stored := mustAddVehicle(t, service, sampleVehicle())

	_, err := service.AddServiceLog(context.Background(), testGarageID, ServiceLog{
		VehicleID:   stored.VehicleID,
		ServiceDate: time.Unix(1690000000, 0).UTC(),
		Mileage:     stored.Mileage + 5000,
		ServiceType: "timing_belt",
	})
	if err != nil {
		t.Fatalf("unexpected add log error: %v", err)
	}

	updated, err := service.GetVehicle(context.Background(), testGarageID, stored.VehicleID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if updated.Mileage != stored.Mileage+5000 {
		t.Fatalf("expected mileage %d, got %d", stored.Mileage+5000, updated.Mileage)
	}
}

func TestAddServiceLogWithLowerMileageLeavesVehicleUnchanged(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	stored := mustAddVehicle(t, service, sampleVehicle())

	_, err := service.AddServiceLog(context.Background(), testGarageID, ServiceLog{
		VehicleID:   stored.VehicleID,
		ServiceDate: time.Unix(1600000000, 0).UTC(),
		Mileage:     stored.Mileage - 50000,
		ServiceType: "inspection",
	})
	if err != nil {
		t.Fatalf("unexpected add log error: %v", err)
	}

	updated, err := service.GetVehicle(context.Background(), testGarageID, stored.VehicleID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if updated.Mileage != stored.Mileage {
		t.Fatalf("expected mileage unchanged at %d, got %d", stored.Mileage, updated.Mileage)
	}
}

func TestAddServiceLogRejectsUnknownVehicle(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	_, err := service.AddServiceLog(context.Background(), testGarageID, ServiceLog{
		VehicleID:   "missing",
		ServiceDate: time.Unix(1690000000, 0).UTC(),
		Mileage:     1,
		ServiceType: "inspection",
	})
	if !errors.Is(err, ErrVehicleNotFound) {
		t.Fatalf("expected ErrVehicleNotFound, got %v", err)
	}
}

func TestServiceLogRoundTripKeepsPartsAndTasks(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	stored := mustAddVehicle(t, service, sampleVehicle())

	receiptDate := time.Unix(1690000500, 0).UTC()
	added, err := service.AddServiceLog(context.Background(), testGarageID, ServiceLog{
		VehicleID:   stored.VehicleID,
		ServiceDate: time.Unix(1690000000, 0).UTC(),
		Mileage:     211000,
		ServiceType: "brakes",
		Description: "front pads and discs",
		Parts:       StringList{"brake pads", "brake discs"},
		TotalCost:   249.50,
		Tasks: []ServiceTask{
			{
				Description:      "replace front pads",
				Completed:        true,
				Tools:            StringList{"torque wrench", "c-clamp"},
				TorqueSpec:       "caliper bracket 110 Nm",
				Difficulty:       "medium",
				EstimatedMinutes: 90,
				ReceiptStore:     "Biltema",
				ReceiptInvoice:   "INV-4411",
				ReceiptDate:      &receiptDate,
				ReceiptAmount:    249.50,
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected add log error: %v", err)
	}

	listed, err := service.ListServiceLogs(context.Background(), testGarageID, stored.VehicleID)
	if err != nil {
		t.Fatalf("unexpected list logs error: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one log, got %d", len(listed))
	}
	got := listed[0]
	if got.LogID != added.LogID {
		t.Fatalf("unexpected log id: %s", got.LogID)
	}
	if len(got.Parts) != 2 || got.Parts[0] != "brake pads" {
		t.Fatalf("unexpected parts: %#v", got.Parts)
	}
	if len(got.Tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(got.Tasks))
	}
	task := got.Tasks[0]
	if len(task.Tools) != 2 || task.TorqueSpec != "caliper bracket 110 Nm" {
		t.Fatalf("unexpected task detail: %#v", task)
	}
	if task.ReceiptStore != "Biltema" || task.ReceiptDate == nil || !task.ReceiptDate.Equal(receiptDate) {
		t.Fatalf("unexpected receipt detail: %#v", task)
	}
}

func TestUpdateServiceLogReplacesTasks(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	stored := mustAddVehicle(t, service, sampleVehicle())
	added, err := service.AddServiceLog(context.Background(), testGarageID, ServiceLog{
		VehicleID:   stored.VehicleID,
		ServiceDate: time.Unix(1690000000, 0).UTC(),
		Mileage:     100,
		ServiceType: "inspection",
		Tasks:       []ServiceTask{{Description: "check lights"}},
	})
	if err != nil {
		t.Fatalf("unexpected add log error: %v", err)
	}

	added.Tasks = []ServiceTask{
		{Description: "check lights", Completed: true},
		{Description: "check tires"},
	}
	updated, err := service.UpdateServiceLog(context.Background(), testGarageID, added)
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if len(updated.Tasks) != 2 {
		t.Fatalf("expected two tasks, got %d", len(updated.Tasks))
	}

	var taskCount int64
	if err := db.Model(&ServiceTask{}).Where("log_id = ?", added.LogID).Count(&taskCount).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if taskCount != 2 {
		t.Fatalf("expected two stored tasks, got %d", taskCount)
	}
}

func TestUpdateServiceLogSurfacesVehicleLookupFailure(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	stored := mustAddVehicle(t, service, sampleVehicle())
	added, err := service.AddServiceLog(context.Background(), testGarageID, ServiceLog{
		VehicleID:   stored.VehicleID,
		ServiceDate: time.Unix(1690000000, 0).UTC(),
		Mileage:     stored.Mileage,
		ServiceType: "inspection",
	})
	if err != nil {
		t.Fatalf("unexpected add log error: %v", err)
	}

	dropVehiclesTable(t, db)
	defer restoreVehiclesTable(t, db)

	added.Mileage = stored.Mileage + 5000
	if _, err := service.UpdateServiceLog(context.Background(), testGarageID, added); err == nil {
		t.Fatalf("expected update to fail when the vehicle lookup errors")
	}
}

func TestDeleteServiceLogRemovesTasks(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)

	stored := mustAddVehicle(t, service, sampleVehicle())
	added, err := service.AddServiceLog(context.Background(), testGarageID, ServiceLog{
		VehicleID:   stored.VehicleID,
		ServiceDate: time.Unix(1690000000, 0).UTC(),
		Mileage:     100,
		ServiceType: "inspection",
		Tasks:       []ServiceTask{{Description: "check lights"}},
	})
	if err != nil {
		t.Fatalf("unexpected add log error: %v", err)
	}

	if err := service.DeleteServiceLog(context.Background(), testGarageID, added.LogID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	var taskCount int64
	if err := db.Model(&ServiceTask{}).Where("log_id = ?", added.LogID).Count(&taskCount).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if taskCount != 0 {
		t.Fatalf("expected tasks removed, got %d", taskCount)
	}
}
