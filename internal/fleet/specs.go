package fleet

import (
	"context"
	"errors"
	"strings"

	"github.com/garagetrack/garagetrack/internal/garage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SpecsSource identifies where a resolved specification sheet came from.
type SpecsSource string

const (
	// SpecsSourceVehicle means the vehicle's own stored sheet was used.
	SpecsSourceVehicle SpecsSource = "vehicle"
	// SpecsSourceCommunity means a sheet from another vehicle with the same
	// make and model was used.
	SpecsSourceCommunity SpecsSource = "community"
	// SpecsSourceNone means no stored sheet exists for the vehicle.
	SpecsSourceNone SpecsSource = "none"
)

// SpecsOverlay carries registry-lookup values merged over a stored sheet at
// display time. Lookup data outranks anything contributed by users.
type SpecsOverlay struct {
	EngineSize string
	FuelType   string
	WeightKG   string
}

// ResolvedSpecs is a specification sheet together with its provenance.
type ResolvedSpecs struct {
	Specs   VehicleSpecs `json:"specs"`
	Source  SpecsSource  `json:"source"`
	Overlay bool         `json:"overlay_applied"`
}

// UpsertSpecs stores a sheet for the vehicle, replacing any previous one.
func (s *Service) UpsertSpecs(ctx context.Context, garageID garage.GarageID, vehicleID string, specs VehicleSpecs) (VehicleSpecs, error) {
	vehicle, err := s.GetVehicle(ctx, garageID, vehicleID)
	if err != nil {
		return VehicleSpecs{}, err
	}

	var stored VehicleSpecs
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prepared, err := s.prepareSpecs(tx, garageID, vehicle, specs)
		if err != nil {
			return err
		}
		stored = prepared
		return nil
	})
	if txErr != nil {
		s.logError(opUpsertSpecs, "transaction_failed", txErr,
			zap.String("garage_id", garageID.String()),
			zap.String("vehicle_id", vehicleID))
		return VehicleSpecs{}, txErr
	}
	return stored, nil
}

// ResolveSpecs produces the display sheet for a vehicle. Precedence is
// registry overlay > the vehicle's own sheet > the most recently contributed
// community sheet for the same make and model > an empty sheet. Community
// candidates are ranked by contribution time; the newest wins.
func (s *Service) ResolveSpecs(ctx context.Context, garageID garage.GarageID, vehicleID string, overlay *SpecsOverlay) (ResolvedSpecs, error) {
	vehicle, err := s.GetVehicle(ctx, garageID, vehicleID)
	if err != nil {
		return ResolvedSpecs{}, err
	}

	resolved := ResolvedSpecs{Source: SpecsSourceNone}

	var own VehicleSpecs
	err = s.db.WithContext(ctx).
		Where("garage_id = ? AND vehicle_id = ?", garageID.String(), vehicleID).
		Take(&own).Error
	switch {
	case err == nil:
		resolved.Specs = own
		resolved.Source = SpecsSourceVehicle
	case errors.Is(err, gorm.ErrRecordNotFound):
		community, found, communityErr := s.communitySpecs(ctx, vehicle)
		if communityErr != nil {
			return ResolvedSpecs{}, communityErr
		}
		if found {
			resolved.Specs = community
			resolved.Source = SpecsSourceCommunity
		}
	default:
		s.logError(opResolveSpecs, "query_failed", err,
			zap.String("garage_id", garageID.String()),
			zap.String("vehicle_id", vehicleID))
		return ResolvedSpecs{}, newServiceError(opResolveSpecs, "query_failed", err)
	}

	if overlay != nil {
		resolved.Overlay = applyOverlay(&resolved.Specs, *overlay)
	}
	return resolved, nil
}

// communitySpecs looks for a sheet contributed for another vehicle of the
// same make and model, across all garages.
func (s *Service) communitySpecs(ctx context.Context, vehicle Vehicle) (VehicleSpecs, bool, error) {
	if strings.TrimSpace(vehicle.Make) == "" || strings.TrimSpace(vehicle.Model) == "" {
		return VehicleSpecs{}, false, nil
	}

	var candidate VehicleSpecs
	err := s.db.WithContext(ctx).
		Where("vehicle_id <> ? AND make = ? COLLATE NOCASE AND model = ? COLLATE NOCASE",
			vehicle.VehicleID, vehicle.Make, vehicle.Model).
		Order("contributed_at DESC").
		Take(&candidate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return VehicleSpecs{}, false, nil
	}
	if err != nil {
		s.logError(opResolveSpecs, "community_query_failed", err,
			zap.String("vehicle_id", vehicle.VehicleID))
		return VehicleSpecs{}, false, newServiceError(opResolveSpecs, "community_query_failed", err)
	}
	return candidate, true, nil
}

func applyOverlay(specs *VehicleSpecs, overlay SpecsOverlay) bool {
	applied := false
	if strings.TrimSpace(overlay.EngineSize) != "" {
		specs.EngineSize = overlay.EngineSize
		applied = true
	}
	if strings.TrimSpace(overlay.FuelType) != "" {
		specs.FuelType = overlay.FuelType
		applied = true
	}
	if strings.TrimSpace(overlay.WeightKG) != "" {
		specs.WeightKG = overlay.WeightKG
		applied = true
	}
	return applied
}
