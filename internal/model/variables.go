package model

// VariableFamily groups canonical variables by the kind of measurement.
type VariableFamily string

const (
	FamilyClimate    VariableFamily = "climate"    // observed station climate
	FamilyMortality  VariableFamily = "mortality"  // national health statistics
	FamilyProjection VariableFamily = "projection" // modeled future climate
)

// Canonical variable names. Climate and projection variables share names;
// the family keeps them apart in fused output.
const (
	VarTAVG = "TAVG" // mean temperature, degC
	VarTMIN = "TMIN" // mean daily minimum temperature, degC
	VarTMAX = "TMAX" // mean daily maximum temperature, degC
	VarEMNT = "EMNT" // extreme minimum temperature, degC
	VarEMXT = "EMXT" // extreme maximum temperature, degC
	VarPRCP = "PRCP" // precipitation, mm

	VarDEATHS = "DEATHS" // death count
	VarPOP    = "POP"    // population count
	VarMORT   = "MORT"   // mortality rate per 100k

	VarHUMID = "HUMID" // heat-stress proxy, PRCP scaled by excess warmth
)

// CanonicalUnit returns the unit every value of the named variable carries
// after normalization.
func CanonicalUnit(name string) string {
	switch name {
	case VarTAVG, VarTMIN, VarTMAX, VarEMNT, VarEMXT:
		return "degC"
	case VarPRCP:
		return "mm"
	case VarDEATHS, VarPOP:
		return "count"
	case VarMORT:
		return "per100k"
	default:
		return ""
	}
}

// CountLike reports whether the named variable is an extensive count that
// sums under aggregation. Everything else is intensive and averages.
func CountLike(name string) bool {
	switch name {
	case VarDEATHS, VarPOP:
		return true
	default:
		return false
	}
}
