package bridge

import (
	"encoding/json"

	"github.com/nerrad567/vcontrold-bridge/internal/heating"
)

// Home Assistant discovery constants.
const (
	manufacturer = "Viessmann"
	defaultModel = "Vitodens"

	availabilityTemplate = "{{ value_json.status }}"
	payloadOnline        = "online"
	payloadOffline       = "offline"
)

// discoveryDevice groups every entity under one device in Home Assistant.
type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type availability struct {
	Topic               string `json:"topic"`
	ValueTemplate       string `json:"value_template"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
}

// discoveryConfig is the union of the fields used by the four components.
type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	ObjectID          string          `json:"object_id,omitempty"`
	Device            discoveryDevice `json:"device"`
	Availability      []availability  `json:"availability"`
	StateTopic        string          `json:"state_topic,omitempty"`
	ValueTemplate     string          `json:"value_template,omitempty"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	Icon              string          `json:"icon,omitempty"`
	PayloadOn         string          `json:"payload_on,omitempty"`
	PayloadOff        string          `json:"payload_off,omitempty"`

	// climate and water_heater
	TemperatureUnit         string   `json:"temperature_unit,omitempty"`
	Precision               float64  `json:"precision,omitempty"`
	MinTemp                 float64  `json:"min_temp,omitempty"`
	MaxTemp                 float64  `json:"max_temp,omitempty"`
	TempStep                float64  `json:"temp_step,omitempty"`
	Modes                   []string `json:"modes,omitempty"`
	PresetModes             []string `json:"preset_modes,omitempty"`
	CurrentTemperatureTopic string   `json:"current_temperature_topic,omitempty"`
	CurrentTemperatureTmpl  string   `json:"current_temperature_template,omitempty"`
	TemperatureStateTopic   string   `json:"temperature_state_topic,omitempty"`
	TemperatureStateTmpl    string   `json:"temperature_state_template,omitempty"`
	TemperatureCommandTopic string   `json:"temperature_command_topic,omitempty"`
	ModeStateTopic          string   `json:"mode_state_topic,omitempty"`
	ModeStateTemplate       string   `json:"mode_state_template,omitempty"`
	ModeCommandTopic        string   `json:"mode_command_topic,omitempty"`
	PresetModeStateTopic    string   `json:"preset_mode_state_topic,omitempty"`
	PresetModeValueTemplate string   `json:"preset_mode_value_template,omitempty"`
	PresetModeCommandTopic  string   `json:"preset_mode_command_topic,omitempty"`
	ActionTopic             string   `json:"action_topic,omitempty"`
	ActionTemplate          string   `json:"action_template,omitempty"`
}

// waterHeaterOnMode is the Home Assistant operation mode shown for "on".
func waterHeaterOnMode(t heating.HeatingType) string {
	if t == heating.TypeHeatPump {
		return "heat_pump"
	}
	return "gas"
}

func (b *Bridge) discoveryDevice(deviceID string) discoveryDevice {
	name := b.name
	if name == "" {
		name = defaultModel
	}
	return discoveryDevice{
		Identifiers:  []string{deviceID},
		Name:         name,
		Manufacturer: manufacturer,
		Model:        name,
		SWVersion:    b.health.version,
	}
}

// discoveryConfigs builds every retained config payload, keyed by topic.
func (b *Bridge) discoveryConfigs(deviceID string) map[string]discoveryConfig {
	dev := b.discoveryDevice(deviceID)
	avail := []availability{{
		Topic:               b.topics.Status(),
		ValueTemplate:       availabilityTemplate,
		PayloadAvailable:    payloadOnline,
		PayloadNotAvailable: payloadOffline,
	}}

	out := make(map[string]discoveryConfig, len(b.sensors)+2)

	for _, s := range b.sensors {
		cfg := discoveryConfig{
			Name:         s.Name,
			UniqueID:     deviceID + "-" + s.Key,
			ObjectID:     s.Key,
			Device:       dev,
			Availability: avail,
			StateTopic:   b.topics.State(deviceID, s.Key),
			DeviceClass:  s.DeviceClass,
			Icon:         s.Icon,
		}
		switch s.Component() {
		case heating.ComponentBinarySensor:
			cfg.ValueTemplate = "{{ value_json.state }}"
			cfg.PayloadOn = "ON"
			cfg.PayloadOff = "OFF"
		default:
			cfg.ValueTemplate = "{{ value_json.value }}"
			cfg.UnitOfMeasurement = s.Unit
			switch s.Kind {
			case heating.KindFloat:
				cfg.StateClass = "measurement"
			case heating.KindInt:
				cfg.StateClass = "total_increasing"
			}
		}
		topic := b.topics.DiscoveryConfig(string(s.Component()), deviceID, s.Key)
		out[topic] = cfg
	}

	climateState := b.topics.State(deviceID, objectClimate)
	out[b.topics.DiscoveryConfig(string(heating.ComponentClimate), deviceID, objectClimate)] = discoveryConfig{
		Name:                    "Heating",
		UniqueID:                deviceID + "-" + objectClimate,
		ObjectID:                objectClimate,
		Device:                  dev,
		Availability:            avail,
		TemperatureUnit:         "C",
		Precision:               0.1,
		MinTemp:                 heating.RoomTempMin,
		MaxTemp:                 heating.RoomTempMax,
		TempStep:                1,
		Modes:                   []string{heating.HVACModeHeat, heating.HVACModeOff},
		PresetModes:             []string{heating.PresetEco, heating.PresetComfort},
		CurrentTemperatureTopic: climateState,
		CurrentTemperatureTmpl:  "{{ value_json.current_temperature }}",
		TemperatureStateTopic:   climateState,
		TemperatureStateTmpl:    "{{ value_json.target_temperature }}",
		TemperatureCommandTopic: b.topics.Command(deviceID, cmdClimateTemperature),
		ModeStateTopic:          climateState,
		ModeStateTemplate:       "{{ value_json.mode }}",
		ModeCommandTopic:        b.topics.Command(deviceID, cmdClimateMode),
		PresetModeStateTopic:    climateState,
		PresetModeValueTemplate: "{{ value_json.preset }}",
		PresetModeCommandTopic:  b.topics.Command(deviceID, cmdClimatePreset),
		ActionTopic:             climateState,
		ActionTemplate:          "{{ value_json.action }}",
	}

	waterState := b.topics.State(deviceID, objectWaterHeater)
	onMode := waterHeaterOnMode(b.heatingType)
	out[b.topics.DiscoveryConfig(string(heating.ComponentWaterHeater), deviceID, objectWaterHeater)] = discoveryConfig{
		Name:                    "Hot Water",
		UniqueID:                deviceID + "-" + objectWaterHeater,
		ObjectID:                objectWaterHeater,
		Device:                  dev,
		Availability:            avail,
		TemperatureUnit:         "C",
		Precision:               1,
		MinTemp:                 heating.WaterTempMin,
		MaxTemp:                 heating.WaterTempMax,
		Modes:                   []string{"off", onMode},
		CurrentTemperatureTopic: waterState,
		CurrentTemperatureTmpl:  "{{ value_json.current_temperature }}",
		TemperatureStateTopic:   waterState,
		TemperatureStateTmpl:    "{{ value_json.target_temperature }}",
		TemperatureCommandTopic: b.topics.Command(deviceID, cmdWaterTemperature),
		ModeStateTopic:          waterState,
		ModeStateTemplate:       "{% if value_json.operation == 'on' %}" + onMode + "{% else %}off{% endif %}",
		ModeCommandTopic:        b.topics.Command(deviceID, cmdWaterMode),
	}

	return out
}

// publishDiscovery publishes the retained discovery configs. It is a no-op
// when discovery is disabled.
func (b *Bridge) publishDiscovery(deviceID string) {
	if b.mqtt == nil || b.topics.Discovery == "" {
		return
	}

	published := 0
	for topic, cfg := range b.discoveryConfigs(deviceID) {
		payload, err := json.Marshal(cfg)
		if err != nil {
			b.logError("failed to marshal discovery config", "topic", topic, "error", err)
			continue
		}
		if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
			b.logWarn("failed to publish discovery config", "topic", topic, "error", err)
			continue
		}
		published++
	}
	b.logInfo("discovery published", "device_id", deviceID, "entities", published)
}
