// Package geo converts WGS84 geographic coordinates to UTM grid coordinates.
package geo

import (
	"fmt"
	"math"
)

// WGS84 ellipsoid constants for the Transverse Mercator projection
const (
	semiMajorAxis  = 6378137.0
	scaleFactor    = 0.9996
	eccentricitySq = 0.00669437999013
)

// UTM is a projected coordinate pair with its grid zone
type UTM struct {
	Easting  float64 `json:"x"`
	Northing float64 `json:"y"`
	Zone     string  `json:"zone"` // e.g. "23S"
}

// DegreesToUTM projects a WGS84 latitude/longitude onto the UTM grid using
// the standard series expansion. Outputs are rounded to centimeter precision.
func DegreesToUTM(lat, lng float64) UTM {
	zone := int(math.Floor((lng+180)/6)) + 1
	lonOrigin := float64((zone-1)*6 - 180 + 3)
	lonOriginRad := lonOrigin * math.Pi / 180

	latRad := lat * math.Pi / 180
	lonRad := lng * math.Pi / 180

	sinLat := math.Sin(latRad)
	cosLat := math.Cos(latRad)
	tanLat := math.Tan(latRad)

	n := semiMajorAxis / math.Sqrt(1-eccentricitySq*sinLat*sinLat)
	t := tanLat * tanLat
	c := eccentricitySq * cosLat * cosLat / (1 - eccentricitySq)
	a := (lonRad - lonOriginRad) * cosLat

	e2 := eccentricitySq
	m := semiMajorAxis * ((1-e2/4-3*e2*e2/64-5*e2*e2*e2/256)*latRad -
		(3*e2/8+3*e2*e2/32+45*e2*e2*e2/1024)*math.Sin(2*latRad) +
		(15*e2*e2/256+45*e2*e2*e2/1024)*math.Sin(4*latRad) -
		(35*e2*e2*e2/3072)*math.Sin(6*latRad))

	easting := scaleFactor*n*(a+(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*e2)*a*a*a*a*a/120) + 500000

	northing := scaleFactor * (m + n*tanLat*(a*a/2+
		(5-t+9*c+4*c*c)*a*a*a*a/24+
		(61-58*t+t*t+600*c-330*e2)*a*a*a*a*a*a/720))

	if lat < 0 {
		northing += 10000000 // southern hemisphere false northing
	}

	hemisphere := "N"
	if lat < 0 {
		hemisphere = "S"
	}

	return UTM{
		Easting:  math.Round(easting*100) / 100,
		Northing: math.Round(northing*100) / 100,
		Zone:     fmt.Sprintf("%d%s", zone, hemisphere),
	}
}
