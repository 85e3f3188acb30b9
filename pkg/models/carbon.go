package models

import "math"

const (
	// CarbonFraction is the share of dry biomass that is carbon.
	CarbonFraction = 0.47
	// CO2PerCarbon converts carbon mass to CO2-equivalent mass.
	CO2PerCarbon = 3.67
)

// Carbon derives carbon mass from biomass.
func Carbon(biomass float64) float64 {
	return biomass * CarbonFraction
}

// CO2 derives CO2-equivalent mass from carbon mass.
func CO2(carbon float64) float64 {
	return carbon * CO2PerCarbon
}

// Round2 rounds v to two decimal places for reporting.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
