package heating

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func climateReplies() map[string]string {
	return map[string]string{
		CmdRoomTemperature: "20.8 Grad Celsius",
		CmdEcoMode:         "0",
		CmdPartyMode:       "1",
		CmdRoomTarget:      "21.000000 Grad Celsius",
		CmdOperatingMode:   "H+WW",
		CmdBurnerStatus:    "0%",
	}
}

func TestClimateUpdate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
		want   ClimateState
	}{
		{
			name: "comfort idle",
			want: ClimateState{CurrentTemperature: 20.8, TargetTemperature: 21, Preset: PresetComfort, Mode: HVACModeHeat, Action: HVACActionIdle},
		},
		{
			name:   "eco wins over party",
			mutate: func(m map[string]string) { m[CmdEcoMode] = "1" },
			want:   ClimateState{CurrentTemperature: 20.8, TargetTemperature: 21, Preset: PresetEco, Mode: HVACModeHeat, Action: HVACActionIdle},
		},
		{
			name: "no preset, hot water only, burner running",
			mutate: func(m map[string]string) {
				m[CmdPartyMode] = "0"
				m[CmdOperatingMode] = "WW"
				m[CmdBurnerStatus] = "42.5 %"
			},
			want: ClimateState{CurrentTemperature: 20.8, TargetTemperature: 21, Preset: PresetNone, Mode: HVACModeOff, Action: HVACActionHeating},
		},
		{
			name:   "shutdown is off",
			mutate: func(m map[string]string) { m[CmdOperatingMode] = "ABSCHALT" },
			want:   ClimateState{CurrentTemperature: 20.8, TargetTemperature: 21, Preset: PresetComfort, Mode: HVACModeOff, Action: HVACActionIdle},
		},
		{
			name:   "permanent reduced heats",
			mutate: func(m map[string]string) { m[CmdOperatingMode] = "RED" },
			want:   ClimateState{CurrentTemperature: 20.8, TargetTemperature: 21, Preset: PresetComfort, Mode: HVACModeHeat, Action: HVACActionIdle},
		},
		{
			name:   "permanent normal heats",
			mutate: func(m map[string]string) { m[CmdOperatingMode] = "NORM" },
			want:   ClimateState{CurrentTemperature: 20.8, TargetTemperature: 21, Preset: PresetComfort, Mode: HVACModeHeat, Action: HVACActionIdle},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replies := climateReplies()
			if tt.mutate != nil {
				tt.mutate(replies)
			}
			c := NewClimate(newFake(replies))

			got, err := c.Update(context.Background())
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if got.UpdatedAt.IsZero() {
				t.Error("UpdatedAt not set")
			}
			got.UpdatedAt = tt.want.UpdatedAt
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Update() = %+v, want %+v", got, tt.want)
			}
			if !c.HasState() {
				t.Error("HasState() = false after Update")
			}
		})
	}
}

func TestClimateUpdateKeepsLastGoodState(t *testing.T) {
	fake := newFake(climateReplies())
	c := NewClimate(fake)

	first, err := c.Update(context.Background())
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	fake.failRead[CmdRoomTarget] = errLinkDown
	got, err := c.Update(context.Background())
	if !errors.Is(err, errLinkDown) {
		t.Fatalf("Update() error = %v, want link down", err)
	}
	if got != first || c.State() != first {
		t.Errorf("state changed after failed update: %+v vs %+v", got, first)
	}
}

func TestClimateSetTemperature(t *testing.T) {
	fake := newFake(climateReplies())
	c := NewClimate(fake)

	if err := c.SetTemperature(context.Background(), 21.6); err != nil {
		t.Fatalf("SetTemperature() error = %v", err)
	}
	if got := fake.written(); !reflect.DeepEqual(got, [][2]string{{CmdSetRoomTarget, "22"}}) {
		t.Errorf("writes = %v", got)
	}
	if c.State().TargetTemperature != 22 {
		t.Errorf("TargetTemperature = %v, want 22", c.State().TargetTemperature)
	}

	for _, bad := range []float64{2, 37.6, -5} {
		if err := c.SetTemperature(context.Background(), bad); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("SetTemperature(%v) error = %v, want ErrOutOfRange", bad, err)
		}
	}
	if len(fake.written()) != 1 {
		t.Error("out-of-range set-point reached the daemon")
	}
}

func TestClimateSetPreset(t *testing.T) {
	tests := []struct {
		preset string
		want   [][2]string
	}{
		{PresetEco, [][2]string{{CmdSetPartyMode, "0"}, {CmdSetEcoMode, "1"}}},
		{PresetComfort, [][2]string{{CmdSetEcoMode, "0"}, {CmdSetPartyMode, "1"}}},
		{PresetNone, [][2]string{{CmdSetPartyMode, "0"}, {CmdSetEcoMode, "0"}}},
	}
	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			fake := newFake(climateReplies())
			c := NewClimate(fake)
			if err := c.SetPreset(context.Background(), tt.preset); err != nil {
				t.Fatalf("SetPreset() error = %v", err)
			}
			if got := fake.written(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("writes = %v, want %v", got, tt.want)
			}
			if c.State().Preset != tt.preset {
				t.Errorf("Preset = %q", c.State().Preset)
			}
		})
	}

	c := NewClimate(newFake(climateReplies()))
	if err := c.SetPreset(context.Background(), "away"); !errors.Is(err, ErrInvalidPreset) {
		t.Errorf("SetPreset(away) error = %v, want ErrInvalidPreset", err)
	}
}

func TestClimateSetHVACMode(t *testing.T) {
	fake := newFake(climateReplies())
	c := NewClimate(fake)

	if err := c.SetHVACMode(context.Background(), HVACModeOff); err != nil {
		t.Fatalf("SetHVACMode(off) error = %v", err)
	}
	if err := c.SetHVACMode(context.Background(), HVACModeHeat); err != nil {
		t.Fatalf("SetHVACMode(heat) error = %v", err)
	}
	want := [][2]string{{CmdSetOperating, "WW"}, {CmdSetOperating, "H+WW"}}
	if got := fake.written(); !reflect.DeepEqual(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}

	if err := c.SetHVACMode(context.Background(), "cool"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("SetHVACMode(cool) error = %v, want ErrInvalidMode", err)
	}

	fake.writeErr = errLinkDown
	if err := c.SetHVACMode(context.Background(), HVACModeOff); !errors.Is(err, errLinkDown) {
		t.Errorf("SetHVACMode() error = %v, want link down", err)
	}
	if c.State().Mode != HVACModeHeat {
		t.Errorf("Mode = %q after failed write, want heat", c.State().Mode)
	}
}

func TestClimateAfterHotWaterShutdown(t *testing.T) {
	replies := climateReplies()
	for k, v := range waterReplies("H+WW") {
		replies[k] = v
	}
	fake := newFake(replies)
	water := NewWaterHeater(fake)
	climate := NewClimate(fake)

	if err := water.SetOperationMode(context.Background(), OperationOff); err != nil {
		t.Fatalf("SetOperationMode(off) error = %v", err)
	}
	if got := fake.written(); !reflect.DeepEqual(got, [][2]string{{CmdSetOperating, "ABSCHALT"}}) {
		t.Fatalf("writes = %v", got)
	}

	cs, err := climate.Update(context.Background())
	if err != nil {
		t.Fatalf("Climate.Update() error = %v", err)
	}
	ws, err := water.Update(context.Background())
	if err != nil {
		t.Fatalf("WaterHeater.Update() error = %v", err)
	}
	if cs.Mode != HVACModeOff || ws.Operation != OperationOff {
		t.Errorf("after shutdown climate mode = %q, water operation = %q, want off/off", cs.Mode, ws.Operation)
	}
}
