package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/vcontrold-bridge/internal/audit"
	"github.com/nerrad567/vcontrold-bridge/internal/heating"
	"github.com/nerrad567/vcontrold-bridge/internal/vcontrold"
)

// Command paths below {prefix}/{device_id}/command/.
const (
	cmdClimateTemperature = "climate/temperature"
	cmdClimatePreset      = "climate/preset"
	cmdClimateMode        = "climate/mode"
	cmdWaterTemperature   = "water_heater/temperature"
	cmdWaterMode          = "water_heater/mode"
	cmdRaw                = "raw"
)

// errInvalidPayload marks a command payload that could not be parsed.
var errInvalidPayload = errors.New("invalid payload")

// handleCommand is the MQTT handler for every command topic of the device.
// Failures are reported on the ack topic; the returned error is only logged
// by the MQTT client.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID := b.DeviceID()
	prefix := b.topics.Command(deviceID, "")
	path, ok := strings.CutPrefix(topic, prefix)
	if !ok || deviceID == "" {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, topic)
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	value := strings.TrimSpace(string(payload))
	ack := AckMessage{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Command:  path,
		Value:    value,
	}

	result, err := b.execute(ctx, path, payload, &ack)
	if path != cmdRaw || ack.Value != "" {
		b.recordCommand(b.ctx, ack, err)
	}
	if result != "" {
		ack.Value = result
	}
	b.publishAck(ack, err)

	if err == nil {
		b.refreshEntities(ctx, deviceID, path)
	}
	return err
}

// execute runs one command. A raw read returns the daemon's response
// body; everything else returns "".
func (b *Bridge) execute(ctx context.Context, path string, payload []byte, ack *AckMessage) (string, error) {
	value := strings.TrimSpace(string(payload))

	b.logInfo("command received", "command", path, "value", value)

	switch path {
	case cmdClimateTemperature:
		t, err := parseTemperature(value)
		if err != nil {
			return "", err
		}
		return "", b.climate.SetTemperature(ctx, t)

	case cmdClimatePreset:
		return "", b.climate.SetPreset(ctx, strings.ToLower(value))

	case cmdClimateMode:
		return "", b.climate.SetHVACMode(ctx, strings.ToLower(value))

	case cmdWaterTemperature:
		t, err := parseTemperature(value)
		if err != nil {
			return "", err
		}
		return "", b.waterHeater.SetTemperature(ctx, t)

	case cmdWaterMode:
		op, err := b.waterHeaterOperation(strings.ToLower(value))
		if err != nil {
			return "", err
		}
		return "", b.waterHeater.SetOperationMode(ctx, op)

	case cmdRaw:
		var raw RawCommand
		if err := json.Unmarshal(payload, &raw); err != nil {
			return "", fmt.Errorf("%w: %v", errInvalidPayload, err)
		}
		if raw.ID != "" {
			ack.ID = raw.ID
		}
		ack.Command = raw.Command
		ack.Value = raw.Value
		return b.executeRaw(ctx, raw)

	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, path)
	}
}

// executeRaw reads when Value is empty and writes otherwise. Writes of the
// operating mode are limited to the known vocabulary.
func (b *Bridge) executeRaw(ctx context.Context, raw RawCommand) (string, error) {
	if raw.Command == "" {
		return "", fmt.Errorf("%w: command is required", errInvalidPayload)
	}
	if raw.Value == "" {
		return b.device.Read(ctx, raw.Command)
	}
	if raw.Command == heating.CmdSetOperating && !heating.ValidOperatingMode(raw.Value) {
		return "", fmt.Errorf("%w: %q", heating.ErrInvalidMode, raw.Value)
	}
	return "", b.device.Write(ctx, raw.Command, raw.Value)
}

// waterHeaterOperation maps a Home Assistant operation mode to on or off.
func (b *Bridge) waterHeaterOperation(mode string) (string, error) {
	switch mode {
	case "off":
		return heating.OperationOff, nil
	case heating.OperationOn, waterHeaterOnMode(b.heatingType):
		return heating.OperationOn, nil
	default:
		return "", fmt.Errorf("%w: %q", heating.ErrInvalidMode, mode)
	}
}

func parseTemperature(s string) (float64, error) {
	t, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: temperature %q", errInvalidPayload, s)
	}
	return t, nil
}

// refreshEntities re-reads the entity a command changed and publishes it,
// so Home Assistant sees the new state before the next poll.
func (b *Bridge) refreshEntities(ctx context.Context, deviceID, path string) {
	switch {
	case strings.HasPrefix(path, objectClimate+"/"):
		if _, err := b.climate.Update(ctx); err == nil {
			b.publishClimate(deviceID)
		}
	case strings.HasPrefix(path, objectWaterHeater+"/"):
		if _, err := b.waterHeater.Update(ctx); err == nil {
			b.publishWaterHeater(deviceID)
		}
	}
}

func (b *Bridge) publishAck(ack AckMessage, err error) {
	ack.Timestamp = time.Now().UTC()
	ack.Status = AckAccepted

	b.metricsMu.Lock()
	b.metrics.Commands++
	if err != nil {
		b.metrics.CommandFailures++
	}
	b.metricsMu.Unlock()

	if err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: errorCode(err), Message: err.Error()}
		b.logWarn("command failed", "command", ack.Command, "code", ack.Error.Code, "error", err)
	} else {
		b.logInfo("command accepted", "command", ack.Command, "id", ack.ID)
	}

	if b.mqtt == nil {
		return
	}
	payload, merr := json.Marshal(ack)
	if merr != nil {
		b.logError("failed to marshal ack", "error", merr)
		return
	}
	if perr := b.mqtt.Publish(b.topics.Ack(ack.DeviceID), payload, b.qos, false); perr != nil {
		b.logWarn("failed to publish ack", "error", perr)
	}
}

// recordCommand appends a write to the command log. Logging failures
// never fail the command.
func (b *Bridge) recordCommand(ctx context.Context, ack AckMessage, err error) {
	if b.commandLog == nil {
		return
	}
	e := &audit.Entry{
		Source:    audit.SourceMQTT,
		DeviceID:  ack.DeviceID,
		Command:   ack.Command,
		Value:     ack.Value,
		Status:    audit.StatusOK,
		RequestID: ack.ID,
	}
	if err != nil {
		e.Status = audit.StatusError
		e.ErrorCode = errorCode(err)
		e.Message = err.Error()
	}
	if lerr := b.commandLog.Record(ctx, e); lerr != nil {
		b.logWarn("failed to record command", "command", ack.Command, "error", lerr)
	}
}

// errorCode maps an error to the ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand),
		errors.Is(err, vcontrold.ErrInvalidCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, errInvalidPayload),
		errors.Is(err, heating.ErrOutOfRange),
		errors.Is(err, heating.ErrInvalidMode),
		errors.Is(err, heating.ErrInvalidPreset):
		return ErrCodeInvalidParameters
	case errors.Is(err, vcontrold.ErrConnectionFailed),
		errors.Is(err, vcontrold.ErrClosed):
		return ErrCodeDaemonUnreachable
	case errors.Is(err, vcontrold.ErrWriteRejected):
		return ErrCodeWriteRejected
	case errors.Is(err, vcontrold.ErrProtocol),
		errors.Is(err, vcontrold.ErrFrameDesync):
		return ErrCodeProtocolError
	default:
		return ErrCodeBridgeError
	}
}
