package fleet

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidVehicleID indicates that a vehicle identifier is empty or exceeds storage bounds.
	ErrInvalidVehicleID = errors.New("fleet: invalid vehicle id")
	// ErrInvalidMileage indicates a negative mileage value.
	ErrInvalidMileage = errors.New("fleet: mileage must not be negative")
	// ErrVehicleNotFound indicates the vehicle does not exist in the garage scope.
	ErrVehicleNotFound = errors.New("fleet: vehicle not found")
	// ErrServiceLogNotFound indicates the service log does not exist in the garage scope.
	ErrServiceLogNotFound = errors.New("fleet: service log not found")
)

// VehicleID represents a validated vehicle identifier.
type VehicleID string

// NewVehicleID validates raw input and returns a VehicleID.
func NewVehicleID(rawInput string) (VehicleID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidVehicleID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidVehicleID, maxIdentifierLength)
	}
	return VehicleID(trimmed), nil
}

// String returns the underlying string identifier.
func (id VehicleID) String() string {
	return string(id)
}

// StringList persists a list of strings as a JSON text column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch typed := value.(type) {
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		return fmt.Errorf("fleet: cannot scan %T into StringList", value)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var decoded []string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	*l = decoded
	return nil
}

// Vehicle models a garage-scoped vehicle record.
type Vehicle struct {
	VehicleID string     `gorm:"column:vehicle_id;primaryKey;size:190;not null" json:"id"`
	GarageID  string     `gorm:"column:garage_id;size:36;not null;index:idx_vehicles_garage" json:"garage_id"`
	Make      string     `gorm:"column:make;size:120;not null" json:"make"`
	Model     string     `gorm:"column:model;size:120;not null" json:"model"`
	Year      int        `gorm:"column:year;not null" json:"year"`
	VIN       string     `gorm:"column:vin;size:64" json:"vin,omitempty"`
	Plate     string     `gorm:"column:plate;size:16" json:"plate,omitempty"`
	Mileage   int64      `gorm:"column:mileage;not null;default:0" json:"mileage"`
	ImageURL  string     `gorm:"column:image_url;size:512" json:"image_url,omitempty"`
	BodyType  string     `gorm:"column:body_type;size:64" json:"body_type,omitempty"`
	Notes     string     `gorm:"column:notes;type:text" json:"notes,omitempty"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	Specs     *VehicleSpecs `gorm:"-" json:"specs,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Vehicle) TableName() string {
	return "vehicles"
}

// Validate checks field invariants before persistence.
func (v Vehicle) Validate() error {
	if v.Mileage < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMileage, v.Mileage)
	}
	if _, err := NewVehicleID(v.VehicleID); err != nil {
		return err
	}
	return nil
}

// VehicleSpecs holds the reference technical sheet for a vehicle. All spec
// fields are optional free-text values; make and model are copied from the
// vehicle at contribution time so community lookups do not need a join.
type VehicleSpecs struct {
	SpecsID           string    `gorm:"column:specs_id;primaryKey;size:190;not null" json:"id"`
	VehicleID         string    `gorm:"column:vehicle_id;size:190;not null;index:idx_specs_vehicle" json:"vehicle_id"`
	GarageID          string    `gorm:"column:garage_id;size:36;not null;index:idx_specs_garage" json:"garage_id"`
	Make              string    `gorm:"column:make;size:120;index:idx_specs_make_model,priority:1" json:"make"`
	Model             string    `gorm:"column:model;size:120;index:idx_specs_make_model,priority:2" json:"model"`
	EngineSize        string    `gorm:"column:engine_size;size:32" json:"engine_size,omitempty"`
	FuelType          string    `gorm:"column:fuel_type;size:32" json:"fuel_type,omitempty"`
	WeightKG          string    `gorm:"column:weight_kg;size:32" json:"weight_kg,omitempty"`
	OilType           string    `gorm:"column:oil_type;size:64" json:"oil_type,omitempty"`
	OilCapacity       string    `gorm:"column:oil_capacity;size:64" json:"oil_capacity,omitempty"`
	CoolantType       string    `gorm:"column:coolant_type;size:64" json:"coolant_type,omitempty"`
	TransmissionFluid string    `gorm:"column:transmission_fluid;size:64" json:"transmission_fluid,omitempty"`
	BrakeFluid        string    `gorm:"column:brake_fluid;size:64" json:"brake_fluid,omitempty"`
	TireSizeFront     string    `gorm:"column:tire_size_front;size:64" json:"tire_size_front,omitempty"`
	TireSizeRear      string    `gorm:"column:tire_size_rear;size:64" json:"tire_size_rear,omitempty"`
	TirePressureFront string    `gorm:"column:tire_pressure_front;size:32" json:"tire_pressure_front,omitempty"`
	TirePressureRear  string    `gorm:"column:tire_pressure_rear;size:32" json:"tire_pressure_rear,omitempty"`
	WheelTorque       string    `gorm:"column:wheel_torque;size:64" json:"wheel_torque,omitempty"`
	BatteryType       string    `gorm:"column:battery_type;size:64" json:"battery_type,omitempty"`
	AlternatorOutput  string    `gorm:"column:alternator_output;size:64" json:"alternator_output,omitempty"`
	SparkPlugGap      string    `gorm:"column:spark_plug_gap;size:32" json:"spark_plug_gap,omitempty"`
	FrontBrakeType    string    `gorm:"column:front_brake_type;size:64" json:"front_brake_type,omitempty"`
	RearBrakeType     string    `gorm:"column:rear_brake_type;size:64" json:"rear_brake_type,omitempty"`
	Notes             string    `gorm:"column:notes;type:text" json:"notes,omitempty"`
	ContributedAt     time.Time `gorm:"column:contributed_at;not null" json:"contributed_at"`
}

// TableName provides the explicit table binding for GORM.
func (VehicleSpecs) TableName() string {
	return "vehicle_specs"
}

// ServiceLog records a single maintenance event for a vehicle.
type ServiceLog struct {
	LogID          string        `gorm:"column:log_id;primaryKey;size:190;not null" json:"id"`
	VehicleID      string        `gorm:"column:vehicle_id;size:190;not null;index:idx_logs_vehicle" json:"vehicle_id"`
	GarageID       string        `gorm:"column:garage_id;size:36;not null;index:idx_logs_garage" json:"garage_id"`
	ServiceDate    time.Time     `gorm:"column:service_date;not null" json:"service_date"`
	Mileage        int64         `gorm:"column:mileage;not null" json:"mileage"`
	ServiceType    string        `gorm:"column:service_type;size:64;not null" json:"service_type"`
	Description    string        `gorm:"column:description;type:text" json:"description,omitempty"`
	Parts          StringList    `gorm:"column:parts;type:text" json:"parts,omitempty"`
	TotalCost      float64       `gorm:"column:total_cost;not null;default:0" json:"total_cost"`
	NextDueMileage *int64        `gorm:"column:next_due_mileage" json:"next_due_mileage,omitempty"`
	NextDueDate    *time.Time    `gorm:"column:next_due_date" json:"next_due_date,omitempty"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	Tasks          []ServiceTask `gorm:"-" json:"tasks,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (ServiceLog) TableName() string {
	return "service_logs"
}

// ServiceTask is a discrete work item within a service log.
type ServiceTask struct {
	TaskID           string     `gorm:"column:task_id;primaryKey;size:190;not null" json:"id"`
	LogID            string     `gorm:"column:log_id;size:190;not null;index:idx_tasks_log" json:"log_id"`
	GarageID         string     `gorm:"column:garage_id;size:36;not null" json:"garage_id"`
	Description      string     `gorm:"column:description;type:text;not null" json:"description"`
	Completed        bool       `gorm:"column:completed;not null;default:false" json:"completed"`
	Notes            string     `gorm:"column:notes;type:text" json:"notes,omitempty"`
	Tools            StringList `gorm:"column:tools;type:text" json:"tools,omitempty"`
	TorqueSpec       string     `gorm:"column:torque_spec;size:120" json:"torque_spec,omitempty"`
	Difficulty       string     `gorm:"column:difficulty;size:32" json:"difficulty,omitempty"`
	EstimatedMinutes int        `gorm:"column:estimated_minutes;not null;default:0" json:"estimated_minutes,omitempty"`
	Images           StringList `gorm:"column:images;type:text" json:"images,omitempty"`
	ReceiptStore     string     `gorm:"column:receipt_store;size:190" json:"receipt_store,omitempty"`
	ReceiptInvoice   string     `gorm:"column:receipt_invoice;size:190" json:"receipt_invoice,omitempty"`
	ReceiptDate      *time.Time `gorm:"column:receipt_date" json:"receipt_date,omitempty"`
	ReceiptAmount    float64    `gorm:"column:receipt_amount;not null;default:0" json:"receipt_amount,omitempty"`
	ReceiptNote      string     `gorm:"column:receipt_note;type:text" json:"receipt_note,omitempty"`
	ReceiptURL       string     `gorm:"column:receipt_url;size:512" json:"receipt_url,omitempty"`
	ReceiptImages    StringList `gorm:"column:receipt_images;type:text" json:"receipt_images,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (ServiceTask) TableName() string {
	return "service_tasks"
}
