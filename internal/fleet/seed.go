package fleet

// SeedVehicles returns the sample vehicles shown to a garage that has no
// stored data yet. Identifiers are fixed so repeated seeding stays
// idempotent under the upsert write path.
func SeedVehicles(garageID string) []Vehicle {
	return []Vehicle{
		{
			VehicleID: "seed-corolla",
			GarageID:  garageID,
			Make:      "Toyota",
			Model:     "Corolla",
			Year:      2015,
			Mileage:   84000,
			BodyType:  "sedan",
			Notes:     "Example vehicle. Edit or delete it.",
		},
		{
			VehicleID: "seed-transporter",
			GarageID:  garageID,
			Make:      "Volkswagen",
			Model:     "Transporter",
			Year:      2011,
			Mileage:   193000,
			BodyType:  "van",
			Notes:     "Example vehicle. Edit or delete it.",
		},
	}
}
