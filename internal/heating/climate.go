package heating

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Room set-point limits in °C.
const (
	RoomTempMin = 3
	RoomTempMax = 37
)

// HVAC modes.
const (
	HVACModeHeat = "heat"
	HVACModeOff  = "off"
)

// HVAC actions.
const (
	HVACActionHeating = "heating"
	HVACActionIdle    = "idle"
)

// Presets.
const (
	PresetEco     = "eco"
	PresetComfort = "comfort"
	PresetNone    = "none"
)

// ClimateState is the thermostat view of the heating circuit.
type ClimateState struct {
	CurrentTemperature float64   `json:"current_temperature"`
	TargetTemperature  float64   `json:"target_temperature"`
	Preset             string    `json:"preset"`
	Mode               string    `json:"mode"`
	Action             string    `json:"action"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Climate reads and drives the heating circuit as a thermostat.
type Climate struct {
	ctrl Controller

	mu    sync.RWMutex
	state ClimateState
	valid bool
}

// NewClimate creates a climate adapter on ctrl.
func NewClimate(ctrl Controller) *Climate {
	return &Climate{ctrl: ctrl}
}

// Update refreshes the state. A failed read leaves the previous state in
// place and returns the error.
func (c *Climate) Update(ctx context.Context) (ClimateState, error) {
	return c.UpdateWith(ctx, c.ctrl)
}

// UpdateWith refreshes the state reading through ctrl, which lets a
// caller share one set of daemon reads between several adapters.
func (c *Climate) UpdateWith(ctx context.Context, ctrl Controller) (ClimateState, error) {
	var next ClimateState
	var err error

	if next.CurrentTemperature, err = ctrl.ReadFloat(ctx, CmdRoomTemperature); err != nil {
		return c.fail(err)
	}

	eco, err := ctrl.ReadInt(ctx, CmdEcoMode)
	if err != nil {
		return c.fail(err)
	}
	next.Preset = PresetNone
	if eco == 1 {
		next.Preset = PresetEco
	} else {
		party, err := ctrl.ReadInt(ctx, CmdPartyMode)
		if err != nil {
			return c.fail(err)
		}
		if party == 1 {
			next.Preset = PresetComfort
		}
	}

	if next.TargetTemperature, err = ctrl.ReadFloat(ctx, CmdRoomTarget); err != nil {
		return c.fail(err)
	}

	mode, err := ctrl.Read(ctx, CmdOperatingMode)
	if err != nil {
		return c.fail(err)
	}
	next.Mode = HVACModeOff
	if HeatsRooms(mode) {
		next.Mode = HVACModeHeat
	}

	burner, err := ctrl.Read(ctx, CmdBurnerStatus)
	if err != nil {
		return c.fail(err)
	}
	next.Action = HVACActionHeating
	if burnerIdle(burner) {
		next.Action = HVACActionIdle
	}

	next.UpdatedAt = time.Now().UTC()

	c.mu.Lock()
	c.state = next
	c.valid = true
	c.mu.Unlock()
	return next, nil
}

func (c *Climate) fail(err error) (ClimateState, error) {
	return c.State(), fmt.Errorf("climate update: %w", err)
}

// burnerIdle reports a zero modulation. A body that does not parse counts
// as idle only when it is literally "0%".
func burnerIdle(body string) bool {
	v, err := parseNumber(body)
	if err != nil {
		return strings.TrimSpace(body) == "0%"
	}
	return v == 0
}

// State returns the last good state.
func (c *Climate) State() ClimateState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// HasState reports whether Update has succeeded at least once.
func (c *Climate) HasState() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valid
}

// SetTemperature writes the normal room set-point, rounded to whole
// degrees.
func (c *Climate) SetTemperature(ctx context.Context, celsius float64) error {
	t := int(math.Round(celsius))
	if t < RoomTempMin || t > RoomTempMax {
		return fmt.Errorf("%w: %v not in %d..%d", ErrOutOfRange, celsius, RoomTempMin, RoomTempMax)
	}
	if err := c.ctrl.Write(ctx, CmdSetRoomTarget, strconv.Itoa(t)); err != nil {
		return fmt.Errorf("set room target: %w", err)
	}

	c.mu.Lock()
	c.state.TargetTemperature = float64(t)
	c.mu.Unlock()
	return nil
}

// SetPreset activates eco or comfort, or clears both with none. The other
// program is switched off first.
func (c *Climate) SetPreset(ctx context.Context, preset string) error {
	var eco, party string
	switch preset {
	case PresetEco:
		eco, party = "1", "0"
	case PresetComfort:
		eco, party = "0", "1"
	case PresetNone:
		eco, party = "0", "0"
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPreset, preset)
	}

	// Deactivate before activate so both flags are never set together.
	writes := [][2]string{{CmdSetPartyMode, party}, {CmdSetEcoMode, eco}}
	if preset == PresetComfort {
		writes = [][2]string{{CmdSetEcoMode, eco}, {CmdSetPartyMode, party}}
	}
	for _, w := range writes {
		if err := c.ctrl.Write(ctx, w[0], w[1]); err != nil {
			return fmt.Errorf("set preset %s: %w", preset, err)
		}
	}

	c.mu.Lock()
	c.state.Preset = preset
	c.mu.Unlock()
	return nil
}

// SetHVACMode switches heating on (H+WW) or back to hot water only (WW).
func (c *Climate) SetHVACMode(ctx context.Context, mode string) error {
	var vc string
	switch mode {
	case HVACModeHeat:
		vc = ModeDHWAndHeating
	case HVACModeOff:
		vc = ModeDHW
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if err := c.ctrl.Write(ctx, CmdSetOperating, vc); err != nil {
		return fmt.Errorf("set hvac mode: %w", err)
	}

	c.mu.Lock()
	c.state.Mode = mode
	c.mu.Unlock()
	return nil
}
