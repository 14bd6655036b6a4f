package heating

import (
	"errors"
	"testing"
)

func TestParseHeatingType(t *testing.T) {
	tests := []struct {
		in      string
		want    HeatingType
		wantErr bool
	}{
		{"", TypeGeneric, false},
		{"generic", TypeGeneric, false},
		{"gas", TypeGas, false},
		{"heatpump", TypeHeatPump, false},
		{"fuelcell", TypeFuelCell, false},
		{"oil", "", true},
	}
	for _, tt := range tests {
		got, err := ParseHeatingType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHeatingType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrUnknownHeatingType) {
			t.Errorf("ParseHeatingType(%q) error = %v, want ErrUnknownHeatingType", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseHeatingType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSensorsFor(t *testing.T) {
	has := func(sensors []Sensor, key string) bool {
		for _, s := range sensors {
			if s.Key == key {
				return true
			}
		}
		return false
	}

	all := Catalog()
	if len(all) != 19 {
		t.Fatalf("catalog has %d sensors, want 19", len(all))
	}

	for _, typ := range []HeatingType{TypeGas, TypeFuelCell} {
		got := SensorsFor(typ)
		if len(got) != len(all) {
			t.Errorf("SensorsFor(%s) = %d sensors, want %d", typ, len(got), len(all))
		}
	}

	for _, typ := range []HeatingType{TypeGeneric, TypeHeatPump} {
		got := SensorsFor(typ)
		for _, key := range []string{"burner_modulation", "burner_starts", "burner_hours", "burner_active"} {
			if has(got, key) {
				t.Errorf("SensorsFor(%s) includes %s", typ, key)
			}
		}
		if !has(got, "outside_temperature") || !has(got, "eco_active") {
			t.Errorf("SensorsFor(%s) misses generic sensors", typ)
		}
	}
}

func TestCatalogKeysUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range Catalog() {
		if seen[s.Key] {
			t.Errorf("duplicate sensor key %q", s.Key)
		}
		seen[s.Key] = true
		if s.Command == "" || s.Name == "" {
			t.Errorf("sensor %q has no command or name", s.Key)
		}
	}
}

func TestLookup(t *testing.T) {
	s, ok := Lookup("outside_temperature")
	if !ok || s.Command != "getTempA" || s.Kind != KindFloat {
		t.Errorf("Lookup(outside_temperature) = %+v, %v", s, ok)
	}
	if s.Component() != ComponentSensor {
		t.Errorf("Component() = %s", s.Component())
	}

	b, ok := Lookup("eco_active")
	if !ok || b.Component() != ComponentBinarySensor {
		t.Errorf("Lookup(eco_active) = %+v, %v", b, ok)
	}

	if _, ok := Lookup("nope"); ok {
		t.Error("Lookup(nope) found a sensor")
	}
}

func TestValidOperatingMode(t *testing.T) {
	for _, m := range []string{"WW", "H+WW", "RED", "NORM", "ABSCHALT"} {
		if !ValidOperatingMode(m) {
			t.Errorf("ValidOperatingMode(%q) = false", m)
		}
	}
	for _, m := range []string{"", "H", "ww", "OFF"} {
		if ValidOperatingMode(m) {
			t.Errorf("ValidOperatingMode(%q) = true", m)
		}
	}
}

func TestModeMapping(t *testing.T) {
	tests := []struct {
		mode  string
		rooms bool
		water bool
	}{
		{"H+WW", true, true},
		{"NORM", true, false},
		{"RED", true, false},
		{"H", true, false},
		{"WW", false, true},
		{"ABSCHALT", false, false},
		{" h+ww ", true, true},
		{"", false, false},
		{"HEIZEN", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			if got := HeatsRooms(tt.mode); got != tt.rooms {
				t.Errorf("HeatsRooms(%q) = %v, want %v", tt.mode, got, tt.rooms)
			}
			if got := HeatsWater(tt.mode); got != tt.water {
				t.Errorf("HeatsWater(%q) = %v, want %v", tt.mode, got, tt.water)
			}
		})
	}
}
