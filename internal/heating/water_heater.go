package heating

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"
)

// Hot-water set-point limits in °C.
const (
	WaterTempMin = 10
	WaterTempMax = 60
)

// Water heater operation modes.
const (
	OperationOn  = "on"
	OperationOff = "off"
)

// WaterHeaterState is the hot-water tank view.
type WaterHeaterState struct {
	CurrentTemperature float64   `json:"current_temperature"`
	TargetTemperature  float64   `json:"target_temperature"`
	Operation          string    `json:"operation"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// WaterHeater reads and drives domestic hot water.
type WaterHeater struct {
	ctrl Controller

	mu    sync.RWMutex
	state WaterHeaterState
	valid bool
}

// NewWaterHeater creates a water heater adapter on ctrl.
func NewWaterHeater(ctrl Controller) *WaterHeater {
	return &WaterHeater{ctrl: ctrl}
}

// Update refreshes the state. A failed read keeps the previous state.
func (w *WaterHeater) Update(ctx context.Context) (WaterHeaterState, error) {
	return w.UpdateWith(ctx, w.ctrl)
}

// UpdateWith refreshes the state reading through ctrl, which lets a
// caller share one set of daemon reads between several adapters.
func (w *WaterHeater) UpdateWith(ctx context.Context, ctrl Controller) (WaterHeaterState, error) {
	var next WaterHeaterState
	var err error

	if next.CurrentTemperature, err = ctrl.ReadFloat(ctx, CmdWaterCurrent); err != nil {
		return w.fail(err)
	}
	if next.TargetTemperature, err = ctrl.ReadFloat(ctx, CmdWaterTarget); err != nil {
		return w.fail(err)
	}

	mode, err := ctrl.Read(ctx, CmdOperatingMode)
	if err != nil {
		return w.fail(err)
	}
	next.Operation = OperationOff
	if HeatsWater(mode) {
		next.Operation = OperationOn
	}
	next.UpdatedAt = time.Now().UTC()

	w.mu.Lock()
	w.state = next
	w.valid = true
	w.mu.Unlock()
	return next, nil
}

func (w *WaterHeater) fail(err error) (WaterHeaterState, error) {
	return w.State(), fmt.Errorf("water heater update: %w", err)
}

// State returns the last good state.
func (w *WaterHeater) State() WaterHeaterState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// HasState reports whether Update has succeeded at least once.
func (w *WaterHeater) HasState() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.valid
}

// SetTemperature writes the hot-water set-point in whole degrees.
func (w *WaterHeater) SetTemperature(ctx context.Context, celsius float64) error {
	t := int(math.Round(celsius))
	if t < WaterTempMin || t > WaterTempMax {
		return fmt.Errorf("%w: %v not in %d..%d", ErrOutOfRange, celsius, WaterTempMin, WaterTempMax)
	}
	if err := w.ctrl.Write(ctx, CmdSetWaterTarget, strconv.Itoa(t)); err != nil {
		return fmt.Errorf("set water target: %w", err)
	}

	w.mu.Lock()
	w.state.TargetTemperature = float64(t)
	w.mu.Unlock()
	return nil
}

// SetOperationMode turns hot water on or off. Turning on while the system
// already runs H+WW writes nothing, so heating is not switched off.
func (w *WaterHeater) SetOperationMode(ctx context.Context, op string) error {
	if op != OperationOn && op != OperationOff {
		return fmt.Errorf("%w: %q", ErrInvalidMode, op)
	}

	current, err := w.ctrl.Read(ctx, CmdOperatingMode)
	if err != nil {
		return fmt.Errorf("read operating mode: %w", err)
	}

	vc := ModeShutdown
	if op == OperationOn {
		if current == ModeDHWAndHeating {
			w.setOperation(op)
			return nil
		}
		vc = ModeDHW
	}

	if err := w.ctrl.Write(ctx, CmdSetOperating, vc); err != nil {
		return fmt.Errorf("set operation mode: %w", err)
	}
	w.setOperation(op)
	return nil
}

func (w *WaterHeater) setOperation(op string) {
	w.mu.Lock()
	w.state.Operation = op
	w.mu.Unlock()
}
