package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDegreesToUTMCentralMeridianEquator(t *testing.T) {
	// Zone 23 spans 48W-42W with its central meridian at 45W. A point on
	// the central meridian at the equator projects to exactly the false
	// easting with zero northing.
	utm := DegreesToUTM(0, -45)

	assert.Equal(t, "23N", utm.Zone)
	assert.InDelta(t, 500000.0, utm.Easting, 0.01)
	assert.InDelta(t, 0.0, utm.Northing, 0.01)
}

func TestDegreesToUTMSouthernHemisphereFalseNorthing(t *testing.T) {
	utm := DegreesToUTM(-0.001, -45)

	assert.Equal(t, "23S", utm.Zone)
	// Just south of the equator the northing sits just under the 10,000 km
	// false northing offset.
	assert.Greater(t, utm.Northing, 9999000.0)
	assert.Less(t, utm.Northing, 10000000.0)
}

func TestDegreesToUTMEastOfCentralMeridian(t *testing.T) {
	onMeridian := DegreesToUTM(0, -45)
	east := DegreesToUTM(0, -44)

	assert.Equal(t, onMeridian.Zone, east.Zone)
	assert.Greater(t, east.Easting, onMeridian.Easting)
}

func TestDegreesToUTMZoneBoundaries(t *testing.T) {
	tests := []struct {
		lng  float64
		zone string
	}{
		{-180, "1N"},
		{-48, "23N"},
		{-42.001, "23N"},
		{-42, "24N"},
		{0, "31N"},
		{174, "60N"},
	}

	for _, tt := range tests {
		utm := DegreesToUTM(10, tt.lng)
		assert.Equal(t, tt.zone, utm.Zone, "lng %v", tt.lng)
	}
}
