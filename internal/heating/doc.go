// Package heating maps a Viessmann heating system, reached through a
// vcontrold daemon, onto home-automation entities.
//
// The sensor catalog is a data table: each Sensor names the daemon command
// that reads it and how the body decodes. Sample turns one Sensor into a
// Reading. Climate and WaterHeater combine several commands into the state
// of a thermostat and a hot-water tank and translate set-points and modes
// back into daemon writes.
//
// # Write vocabulary
//
// Operating modes written with setBetriebArtM1:
//
//	WW        hot water only
//	H+WW      heating and hot water
//	RED       forced reduced
//	NORM      forced normal
//	ABSCHALT  shut down
//
// Everything here goes through the Controller interface, which
// *vcontrold.Device satisfies.
package heating
