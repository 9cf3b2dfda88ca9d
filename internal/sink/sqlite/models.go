package sqlite

import (
	"time"

	"gorm.io/gorm"
)

// Reading is one stored high-rate record.
type Reading struct {
	gorm.Model
	Timestamp time.Time `gorm:"index" json:"timestamp"`

	// Series
	Measurement     string `json:"measurement"`
	Source          string `json:"source"`
	MeasurementType string `gorm:"index" json:"measurement_type"`
	LineIdx         int    `json:"line_idx"`
	Serial          string `json:"serial,omitempty"`

	// Line fields; inverters only carry Power
	Power         float64 `json:"power_w"`
	ReactivePower float64 `json:"reactive_power_var"`
	ApparentPower float64 `json:"apparent_power_va"`
	Current       float64 `json:"current_a"`
	Voltage       float64 `json:"voltage_v"`
	PowerFactor   float64 `json:"power_factor"`
}

// DailySummary is one stored low-rate record.
type DailySummary struct {
	gorm.Model
	Timestamp time.Time `gorm:"index" json:"timestamp"`

	Measurement     string  `json:"measurement"`
	Source          string  `json:"source"`
	MeasurementType string  `json:"measurement_type"`
	LineIdx         int     `json:"line_idx"`
	Serial          string  `json:"serial,omitempty"`
	Energy          float64 `json:"energy_wh"`
}

type DailyStats struct {
	Date            time.Time `json:"date"`
	MaxProduction   float64   `json:"max_production_w"`
	MaxConsumption  float64   `json:"max_consumption_w"`
	ProducedEnergy  float64   `json:"produced_energy_wh"`
	ConsumedEnergy  float64   `json:"consumed_energy_wh"`
	ReadingsCount   int64     `json:"readings_count"`
	InverterReports int64     `json:"inverter_reports"`
}
