package models

import (
	"math"
	"time"
)

// SynodicMonth is the mean period between successive new moons, in days.
const SynodicMonth = 29.530588853

// referenceNewMoon is the new moon of 2000-01-06 18:14 UTC.
var referenceNewMoon = time.Date(2000, time.January, 6, 18, 14, 0, 0, time.UTC)

var phaseNames = []string{
	"New Moon",
	"Waxing Crescent",
	"First Quarter",
	"Waxing Gibbous",
	"Full Moon",
	"Waning Gibbous",
	"Last Quarter",
	"Waning Crescent",
}

// Phase returns the lunar phase fraction in [0,1) at t, where 0 is a new
// moon and 0.5 a full moon.
func Phase(t time.Time) float64 {
	days := t.Sub(referenceNewMoon).Hours() / 24
	frac := math.Mod(days/SynodicMonth, 1)
	if frac < 0 {
		frac++
	}
	return frac
}

// PhaseName returns the display name for the lunar phase at t.
func PhaseName(t time.Time) string {
	// Center each of the eight phase windows on its nominal fraction.
	idx := int(math.Floor(Phase(t)*8+0.5)) % 8
	return phaseNames[idx]
}
