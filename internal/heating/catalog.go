package heating

import "strings"

// Daemon commands used outside the sensor table.
const (
	CmdRoomTemperature = "getTempRaum"
	CmdRoomTarget      = "getTempRaumNorSollM1"
	CmdSetRoomTarget   = "setTempRaumNorSollM1"
	CmdEcoMode         = "getBetriebSparM1"
	CmdSetEcoMode      = "setBetriebSparM1"
	CmdPartyMode       = "getBetriebPartyM1"
	CmdSetPartyMode    = "setBetriebPartyM1"
	CmdOperatingMode   = "getBetriebArtM1"
	CmdSetOperating    = "setBetriebArtM1"
	CmdBurnerStatus    = "getBrennerStatus"
	CmdWaterCurrent    = "getTempWWist"
	CmdWaterTarget     = "getTempWWsoll"
	CmdSetWaterTarget  = "setTempWWsoll"
)

// Operating modes accepted by setBetriebArtM1.
const (
	ModeDHW           = "WW"
	ModeDHWAndHeating = "H+WW"
	ModeReduced       = "RED"
	ModeNormal        = "NORM"
	ModeShutdown      = "ABSCHALT"
)

// ValidOperatingMode reports whether m is in the write vocabulary.
func ValidOperatingMode(m string) bool {
	switch m {
	case ModeDHW, ModeDHWAndHeating, ModeReduced, ModeNormal, ModeShutdown:
		return true
	}
	return false
}

// modeHeating is the bare heating-only body some controllers report. It is
// read but never written.
const modeHeating = "H"

// HeatsRooms reports whether operating mode m runs the heating circuit.
// Reduced and normal are permanent heating programs; unknown bodies count
// as off.
func HeatsRooms(m string) bool {
	switch strings.ToUpper(strings.TrimSpace(m)) {
	case ModeDHWAndHeating, ModeReduced, ModeNormal, modeHeating:
		return true
	}
	return false
}

// HeatsWater reports whether operating mode m prepares hot water.
func HeatsWater(m string) bool {
	switch strings.ToUpper(strings.TrimSpace(m)) {
	case ModeDHW, ModeDHWAndHeating:
		return true
	}
	return false
}

const celsius = "°C"

var catalog = []Sensor{
	{Key: "outside_temperature", Name: "Outside Temperature", Command: "getTempA", Kind: KindFloat, Unit: celsius, DeviceClass: "temperature"},
	{Key: "supply_temperature", Name: "Water Temp current", Command: CmdWaterCurrent, Kind: KindFloat, Unit: celsius, DeviceClass: "temperature"},
	{Key: "boiler_target", Name: "Boiler Temp target", Command: CmdWaterTarget, Kind: KindFloat, Unit: celsius, DeviceClass: "temperature"},
	{Key: "boiler_temperature", Name: "Boiler Temperature", Command: "getTempStp2", Kind: KindFloat, Unit: celsius, DeviceClass: "temperature"},
	{Key: "burner_modulation", Name: "Burner modulation", Command: CmdBurnerStatus, Kind: KindFloat, Unit: "%", Icon: "mdi:percent", Burner: true},
	{Key: "burner_starts", Name: "Burner Starts", Command: "getBrennerStarts", Kind: KindInt, Icon: "mdi:counter", Burner: true},
	{Key: "burner_hours", Name: "Burner Hours", Command: "getBrennerStunden1", Kind: KindInt, Unit: "h", Icon: "mdi:counter", Burner: true},
	{Key: "pump_status", Name: "Pump status", Command: "getPumpeStatusIntern", Kind: KindString},
	{Key: "heat_mode", Name: "Heat mode", Command: CmdOperatingMode, Kind: KindString},
	{Key: "room_temperature", Name: "Room Temp", Command: "getTempRaumtemperaturA1M1", Kind: KindFloat, Unit: celsius, DeviceClass: "temperature"},
	{Key: "room_target", Name: "Room Temp target", Command: CmdRoomTarget, Kind: KindFloat, Unit: celsius, DeviceClass: "temperature"},
	{Key: "party_mode", Name: "Party mode", Command: CmdPartyMode, Kind: KindString},
	{Key: "party_temp", Name: "Party Temp target", Command: "getTempPartyM1", Kind: KindFloat, Unit: celsius, DeviceClass: "temperature"},
	{Key: "eco_mode", Name: "Eco mode", Command: CmdEcoMode, Kind: KindString},
	{Key: "red_target", Name: "Reduced Temp target", Command: "getTempRaumRedSollM1", Kind: KindFloat, Unit: celsius, DeviceClass: "temperature"},

	{Key: "circulationpump_active", Name: "Circulation pump active", Command: "getPumpeStatusIntern", Kind: KindBool, DeviceClass: "power"},
	{Key: "burner_active", Name: "Burner active", Command: "getPumpeStatusZirku", Kind: KindBool, DeviceClass: "power", Burner: true},
	{Key: "comfort_active", Name: "Comfort mode active", Command: CmdPartyMode, Kind: KindBool},
	{Key: "eco_active", Name: "Eco mode active", Command: CmdEcoMode, Kind: KindBool},
}

// Catalog returns every known sensor in display order.
func Catalog() []Sensor {
	out := make([]Sensor, len(catalog))
	copy(out, catalog)
	return out
}

// SensorsFor returns the sensors present on the given heating type.
// Burner sensors are limited to gas and fuel-cell systems.
func SensorsFor(t HeatingType) []Sensor {
	out := make([]Sensor, 0, len(catalog))
	for _, s := range catalog {
		if s.Burner && !t.HasBurner() {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Lookup finds a sensor by key.
func Lookup(key string) (Sensor, bool) {
	for _, s := range catalog {
		if s.Key == key {
			return s, true
		}
	}
	return Sensor{}, false
}
