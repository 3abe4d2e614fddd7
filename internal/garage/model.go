package garage

import "time"

// Garage records a known garage scope. Creating a row claims the identifier;
// access only touches last_accessed_at.
type Garage struct {
	GarageID       string    `gorm:"column:garage_id;primaryKey;size:36;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	LastAccessedAt time.Time `gorm:"column:last_accessed_at"`
}

// TableName provides the explicit table binding for GORM.
func (Garage) TableName() string {
	return "garages"
}
