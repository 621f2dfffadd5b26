// Package eng provides structural engineering calculations for overhead
// conductors.
package eng

// Cable describes a conductor type with its linear weight
type Cable struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"` // kg/m
}

// CommonCables lists conductors typically found on distribution lines
var CommonCables = []Cable{
	{Name: "CAA 4/0 Penguin", Weight: 0.545},
	{Name: "CAA 2/0 Pidgeon", Weight: 0.343},
	{Name: "Alumínio 1/0 Raven", Weight: 0.145},
	{Name: "Multiplexado 3x70+70", Weight: 0.850},
}

// Sag computes the theoretical conductor sag (flecha) for a span using the
// parabolic approximation f = wL²/(8T). weight is in kg/m, length in meters
// and tension in kgf. Returns 0 for a non-positive tension.
func Sag(weight, length, tension float64) float64 {
	if tension <= 0 {
		return 0
	}
	return weight * length * length / (8 * tension)
}

// RequiredTension computes the horizontal tension needed to hold a span to a
// target sag, T = wL²/(8f). Returns 0 for a non-positive sag.
func RequiredTension(weight, length, sag float64) float64 {
	if sag <= 0 {
		return 0
	}
	return weight * length * length / (8 * sag)
}
