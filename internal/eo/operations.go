// Package eo talks to the remote earth-observation compute service and
// orchestrates the result cache around it. The computation itself (index
// math, terrain formulas) lives entirely on the remote side; this package
// passes parameters through and caches what comes back.
package eo

// Analysis operations supported by the compute service.
const (
	OpNDVI                 = "ndvi"
	OpEVI                  = "evi"
	OpAgriculture          = "agriculture"
	OpWaterBodies          = "water_bodies"
	OpFireHotspots         = "fire_hotspots"
	OpTimeSeries           = "time_series"
	OpSlope                = "slope"
	OpAspect               = "aspect"
	OpHillshade            = "hillshade"
	OpChangeDetection      = "change_detection"
	OpZonalStats           = "zonal_stats"
	OpHistogram            = "histogram"
	OpLandCover            = "land_cover"
	OpDroughtVegetation    = "drought_vegetation"
	OpDroughtPrecipitation = "drought_precipitation"
)

var operations = map[string]bool{
	OpNDVI:                 true,
	OpEVI:                  true,
	OpAgriculture:          true,
	OpWaterBodies:          true,
	OpFireHotspots:         true,
	OpTimeSeries:           true,
	OpSlope:                true,
	OpAspect:               true,
	OpHillshade:            true,
	OpChangeDetection:      true,
	OpZonalStats:           true,
	OpHistogram:            true,
	OpLandCover:            true,
	OpDroughtVegetation:    true,
	OpDroughtPrecipitation: true,
}

// IsSupported reports whether op names a known analysis operation.
func IsSupported(op string) bool {
	return operations[op]
}

// Operations returns the supported operation names.
func Operations() []string {
	ops := make([]string, 0, len(operations))
	for op := range operations {
		ops = append(ops, op)
	}
	return ops
}
