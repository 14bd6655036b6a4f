package heating

import (
	"context"
	"fmt"
	"time"
)

// Controller is the daemon surface the adapters need.
// *vcontrold.Device implements it.
type Controller interface {
	Read(ctx context.Context, key string) (string, error)
	ReadInt(ctx context.Context, key string) (int, error)
	ReadFloat(ctx context.Context, key string) (float64, error)
	Write(ctx context.Context, key, value string) error
}

// HeatingType selects which sensors exist on the installation.
type HeatingType string

// Heating types.
const (
	TypeGeneric  HeatingType = "generic"
	TypeGas      HeatingType = "gas"
	TypeHeatPump HeatingType = "heatpump"
	TypeFuelCell HeatingType = "fuelcell"
)

// ParseHeatingType parses a config value. Empty means generic.
func ParseHeatingType(s string) (HeatingType, error) {
	switch t := HeatingType(s); t {
	case "":
		return TypeGeneric, nil
	case TypeGeneric, TypeGas, TypeHeatPump, TypeFuelCell:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownHeatingType, s)
	}
}

// HasBurner reports whether the installation has a gas burner.
func (t HeatingType) HasBurner() bool {
	return t == TypeGas || t == TypeFuelCell
}

// ValueKind is how a response body is decoded.
type ValueKind int

// Value kinds.
const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k ValueKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Component is the Home Assistant entity component a sensor maps to.
type Component string

// Components.
const (
	ComponentSensor       Component = "sensor"
	ComponentBinarySensor Component = "binary_sensor"
	ComponentClimate      Component = "climate"
	ComponentWaterHeater  Component = "water_heater"
)

// Sensor describes one polled value.
type Sensor struct {
	Key         string
	Name        string
	Command     string
	Kind        ValueKind
	Unit        string
	DeviceClass string
	Icon        string

	// Burner sensors only exist on gas and fuel-cell systems.
	Burner bool
}

// Component returns the entity component for the sensor.
func (s Sensor) Component() Component {
	if s.Kind == KindBool {
		return ComponentBinarySensor
	}
	return ComponentSensor
}

// Reading is one decoded sample.
type Reading struct {
	Sensor    string    `json:"sensor"`
	Command   string    `json:"command"`
	Kind      ValueKind `json:"kind"`
	Value     any       `json:"value"`
	Raw       string    `json:"raw"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Numeric returns the value as a float64 for numeric stores. Strings
// report false; booleans map to 0 and 1.
func (r Reading) Numeric() (float64, bool) {
	switch v := r.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Text returns the value formatted for storage and MQTT payloads.
func (r Reading) Text() string {
	switch v := r.Value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "ON"
		}
		return "OFF"
	default:
		return fmt.Sprint(v)
	}
}
