// Package units converts telemetry speeds for display. Packets carry speed in
// metres per second.
package units

import "strings"

const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits lists the accepted unit names. KMPH is an alias of KPH.
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

func IsValid(unit string) bool {
	for _, u := range ValidUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// ValidUnitsString returns the accepted names for error messages.
func ValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts speedMPS to unit. Unknown units leave the value in m/s.
func ConvertSpeed(speedMPS float64, unit string) float64 {
	switch unit {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// Label is the short suffix printed after a converted speed.
func Label(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}
