// Package records defines the vehicle tuning records persisted by the remote
// config service, their keys, defaults and value ranges.
package records

import (
	"fmt"
	"slices"
	"strings"
)

// Key identifies a record type in the remote config service.
type Key string

const (
	KeyTuningConfig          Key = "tuningConfig"
	KeyFuelInjectionSettings Key = "fuelInjectionSettings"
	KeyScooterTuningConfig   Key = "scooterTuningConfig"
	KeyThrottleSetting       Key = "throttleSetting"
)

// Keys lists every record key in display order.
var Keys = []Key{KeyTuningConfig, KeyFuelInjectionSettings, KeyScooterTuningConfig, KeyThrottleSetting}

func (k Key) String() string { return string(k) }

// Valid reports whether k is one of the known record keys.
func (k Key) Valid() bool { return slices.Contains(Keys, k) }

// DriveMode is the enumerated driving profile.
type DriveMode string

const (
	DriveModeCity    DriveMode = "city"
	DriveModeClassic DriveMode = "classic"
	DriveModeSports  DriveMode = "sports"
)

// Valid reports whether m is one of the declared modes.
func (m DriveMode) Valid() bool {
	switch m {
	case DriveModeCity, DriveModeClassic, DriveModeSports:
		return true
	}
	return false
}

// ParseDriveMode parses a mode name, ignoring case and surrounding space.
func ParseDriveMode(s string) (DriveMode, error) {
	m := DriveMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown drive mode %q", s)
	}
	return m, nil
}

// TuningParameters are the four continuous car tuning values.
type TuningParameters struct {
	SuspensionStiffness float64 `json:"suspensionStiffness" firestore:"suspensionStiffness"`
	SteeringSensitivity float64 `json:"steeringSensitivity" firestore:"steeringSensitivity"`
	ThrottleResponse    float64 `json:"throttleResponse" firestore:"throttleResponse"`
	BrakeBias           float64 `json:"brakeBias" firestore:"brakeBias"`
}

// TuningConfig is the tuningConfig record.
type TuningConfig struct {
	TuningParams TuningParameters `json:"tuningParams" firestore:"tuningParams"`
	DriveMode    DriveMode        `json:"driveMode" firestore:"driveMode"`
}

// FuelInjectionSettings is the fuelInjectionSettings record.
type FuelInjectionSettings struct {
	Amount      float64 `json:"amount" firestore:"amount"`
	Pressure    float64 `json:"pressure" firestore:"pressure"`
	Temperature float64 `json:"temperature" firestore:"temperature"`
}

// ScooterTuning is the scooterTuningConfig record.
type ScooterTuning struct {
	MaxSpeed     float64 `json:"maxSpeed" firestore:"maxSpeed"`
	Acceleration float64 `json:"acceleration" firestore:"acceleration"`
	Handling     float64 `json:"handling" firestore:"handling"`
	Weight       float64 `json:"weight" firestore:"weight"`
}

// ThrottleSetting is the throttleSetting record, a single integer.
type ThrottleSetting int

// DefaultTuningConfig is persisted when no tuningConfig record exists.
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		DriveMode: DriveModeClassic,
		TuningParams: TuningParameters{
			SuspensionStiffness: 5.0,
			SteeringSensitivity: 5.0,
			ThrottleResponse:    5.0,
			BrakeBias:           5.0,
		},
	}
}

// DefaultFuelInjectionSettings is persisted when no fuelInjectionSettings
// record exists.
func DefaultFuelInjectionSettings() FuelInjectionSettings {
	return FuelInjectionSettings{Amount: 50, Pressure: 500, Temperature: 50}
}

// DefaultScooterTuning is persisted when no scooterTuningConfig record exists.
func DefaultScooterTuning() ScooterTuning {
	return ScooterTuning{MaxSpeed: 60, Acceleration: 5.0, Handling: 50, Weight: 100}
}

// throttleSetting has no default: an absent record stays absent.
