package records

import (
	"errors"
	"fmt"
	"math"
)

// Range confines a numeric field to [Min, Max] in increments of Step
// counted from Min.
type Range struct {
	Min  float64
	Max  float64
	Step float64
}

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v float64) bool {
	return !math.IsNaN(v) && v >= r.Min && v <= r.Max
}

// Clamp confines v to the range and snaps it to the step grid.
func (r Range) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return r.Min
	}
	return r.Snap(math.Min(math.Max(v, r.Min), r.Max))
}

// Snap rounds v to the nearest step without clamping the input.
func (r Range) Snap(v float64) float64 {
	if r.Step <= 0 {
		return v
	}
	steps := math.Round((v - r.Min) / r.Step)
	snapped := roundTo(r.Min+steps*r.Step, decimals(r.Step))
	if snapped > r.Max && v <= r.Max {
		snapped = r.Max
	}
	return snapped
}

// OnStep reports whether v sits on the step grid.
func (r Range) OnStep(v float64) bool {
	if r.Step <= 0 {
		return true
	}
	return math.Abs(r.Snap(v)-v) < 1e-9
}

func decimals(step float64) int {
	d := 0
	for d < 6 {
		scaled := step * math.Pow10(d)
		if math.Abs(scaled-math.Round(scaled)) < 1e-9 {
			break
		}
		d++
	}
	return d
}

func roundTo(v float64, d int) float64 {
	p := math.Pow10(d)
	return math.Round(v*p) / p
}

// ErrOutOfRange is wrapped by every range or step violation.
var ErrOutOfRange = errors.New("value out of range")

// Field describes one numeric field of record V.
type Field[V any] struct {
	Name  string
	Range Range
	Get   func(V) float64
	With  func(V, float64) V
}

// Check validates v against the field's range and step.
func (f Field[V]) Check(v float64) error {
	if !f.Range.Contains(v) {
		return fmt.Errorf("%s %v outside [%v, %v]: %w", f.Name, v, f.Range.Min, f.Range.Max, ErrOutOfRange)
	}
	if !f.Range.OnStep(v) {
		return fmt.Errorf("%s %v not a multiple of %v: %w", f.Name, v, f.Range.Step, ErrOutOfRange)
	}
	return nil
}

// Lookup finds the field named name.
func Lookup[V any](fields []Field[V], name string) (Field[V], bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field[V]{}, false
}

func validate[V any](value V, fields []Field[V]) error {
	var errs []error
	for _, f := range fields {
		if err := f.Check(f.Get(value)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var tuningRange = Range{Min: 0, Max: 10, Step: 0.1}

var (
	SuspensionStiffness = Field[TuningConfig]{
		Name:  "suspensionStiffness",
		Range: tuningRange,
		Get:   func(c TuningConfig) float64 { return c.TuningParams.SuspensionStiffness },
		With: func(c TuningConfig, v float64) TuningConfig {
			c.TuningParams.SuspensionStiffness = v
			return c
		},
	}
	SteeringSensitivity = Field[TuningConfig]{
		Name:  "steeringSensitivity",
		Range: tuningRange,
		Get:   func(c TuningConfig) float64 { return c.TuningParams.SteeringSensitivity },
		With: func(c TuningConfig, v float64) TuningConfig {
			c.TuningParams.SteeringSensitivity = v
			return c
		},
	}
	ThrottleResponse = Field[TuningConfig]{
		Name:  "throttleResponse",
		Range: tuningRange,
		Get:   func(c TuningConfig) float64 { return c.TuningParams.ThrottleResponse },
		With: func(c TuningConfig, v float64) TuningConfig {
			c.TuningParams.ThrottleResponse = v
			return c
		},
	}
	BrakeBias = Field[TuningConfig]{
		Name:  "brakeBias",
		Range: tuningRange,
		Get:   func(c TuningConfig) float64 { return c.TuningParams.BrakeBias },
		With: func(c TuningConfig, v float64) TuningConfig {
			c.TuningParams.BrakeBias = v
			return c
		},
	}

	TuningFields = []Field[TuningConfig]{SuspensionStiffness, SteeringSensitivity, ThrottleResponse, BrakeBias}
)

var (
	FuelAmount = Field[FuelInjectionSettings]{
		Name:  "amount",
		Range: Range{Min: 0, Max: 100, Step: 1},
		Get:   func(s FuelInjectionSettings) float64 { return s.Amount },
		With: func(s FuelInjectionSettings, v float64) FuelInjectionSettings {
			s.Amount = v
			return s
		},
	}
	FuelPressure = Field[FuelInjectionSettings]{
		Name:  "pressure",
		Range: Range{Min: 0, Max: 1000, Step: 10},
		Get:   func(s FuelInjectionSettings) float64 { return s.Pressure },
		With: func(s FuelInjectionSettings, v float64) FuelInjectionSettings {
			s.Pressure = v
			return s
		},
	}
	FuelTemperature = Field[FuelInjectionSettings]{
		Name:  "temperature",
		Range: Range{Min: -20, Max: 120, Step: 1},
		Get:   func(s FuelInjectionSettings) float64 { return s.Temperature },
		With: func(s FuelInjectionSettings, v float64) FuelInjectionSettings {
			s.Temperature = v
			return s
		},
	}

	FuelInjectionFields = []Field[FuelInjectionSettings]{FuelAmount, FuelPressure, FuelTemperature}
)

var (
	ScooterMaxSpeed = Field[ScooterTuning]{
		Name:  "maxSpeed",
		Range: Range{Min: 1, Max: 100, Step: 1},
		Get:   func(s ScooterTuning) float64 { return s.MaxSpeed },
		With: func(s ScooterTuning, v float64) ScooterTuning {
			s.MaxSpeed = v
			return s
		},
	}
	ScooterAcceleration = Field[ScooterTuning]{
		Name:  "acceleration",
		Range: Range{Min: 0.1, Max: 10, Step: 0.1},
		Get:   func(s ScooterTuning) float64 { return s.Acceleration },
		With: func(s ScooterTuning, v float64) ScooterTuning {
			s.Acceleration = v
			return s
		},
	}
	ScooterHandling = Field[ScooterTuning]{
		Name:  "handling",
		Range: Range{Min: 1, Max: 100, Step: 1},
		Get:   func(s ScooterTuning) float64 { return s.Handling },
		With: func(s ScooterTuning, v float64) ScooterTuning {
			s.Handling = v
			return s
		},
	}
	ScooterWeight = Field[ScooterTuning]{
		Name:  "weight",
		Range: Range{Min: 1, Max: 200, Step: 1},
		Get:   func(s ScooterTuning) float64 { return s.Weight },
		With: func(s ScooterTuning, v float64) ScooterTuning {
			s.Weight = v
			return s
		},
	}

	ScooterFields = []Field[ScooterTuning]{ScooterMaxSpeed, ScooterAcceleration, ScooterHandling, ScooterWeight}
)

// Throttle is the single field of the throttleSetting record.
var Throttle = Field[ThrottleSetting]{
	Name:  "throttle",
	Range: Range{Min: 1, Max: 10, Step: 1},
	Get:   func(t ThrottleSetting) float64 { return float64(t) },
	With:  func(_ ThrottleSetting, v float64) ThrottleSetting { return ThrottleSetting(math.Round(v)) },
}

// ThrottleFields holds the throttle field for symmetry with the other records.
var ThrottleFields = []Field[ThrottleSetting]{Throttle}

// Validate checks every field range and the drive mode.
func (c TuningConfig) Validate() error {
	err := validate(c, TuningFields)
	if !c.DriveMode.Valid() {
		err = errors.Join(err, fmt.Errorf("driveMode %q: %w", c.DriveMode, ErrOutOfRange))
	}
	return err
}

// Validate checks every field range.
func (s FuelInjectionSettings) Validate() error { return validate(s, FuelInjectionFields) }

// Validate checks every field range.
func (s ScooterTuning) Validate() error { return validate(s, ScooterFields) }

// Validate checks the throttle range.
func (t ThrottleSetting) Validate() error { return validate(t, ThrottleFields) }
