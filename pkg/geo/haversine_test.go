package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceSamePointIsZero(t *testing.T) {
	p := Point{Latitude: 12.9716, Longitude: 77.5946}
	assert.Equal(t, 0.0, Distance(p, p))
}

func TestDistanceIsSymmetric(t *testing.T) {
	a := Point{Latitude: 28.6139, Longitude: 77.2090}
	b := Point{Latitude: 19.0760, Longitude: 72.8777}
	assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-9)
}

func TestDistanceKnownValues(t *testing.T) {
	anchor := Point{Latitude: 0, Longitude: 0}

	// 0.0005 degrees of latitude is ~55.6m
	north := Point{Latitude: 0.0005, Longitude: 0}
	assert.InDelta(t, 55.6, Distance(anchor, north), 0.1)

	// one degree of longitude at the equator
	east := Point{Latitude: 0, Longitude: 1}
	assert.InDelta(t, 111194.9, Distance(anchor, east), 1)

	antipode := Point{Latitude: 0, Longitude: 180}
	assert.InDelta(t, math.Pi*EarthRadiusMeters, Distance(anchor, antipode), 1)
}

func TestWithinBoundary(t *testing.T) {
	anchor := Point{Latitude: 0, Longitude: 0}
	sub := Point{Latitude: 0.0005, Longitude: 0}

	inside, d := Within(anchor, sub, 50)
	require.False(t, inside)
	assert.Equal(t, 56.0, math.Round(d))

	inside, _ = Within(anchor, sub, 60)
	assert.True(t, inside)

	// 0.00045 degrees east is 50.04m, reported and judged as 50m
	edge := Point{Latitude: 0, Longitude: 0.00045}
	inside, d = Within(anchor, edge, 50)
	assert.True(t, inside)
	assert.Equal(t, 50.0, math.Round(d))

	inside, d = Within(anchor, anchor, 0)
	assert.True(t, inside)
	assert.Zero(t, d)
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Latitude: 45, Longitude: -120}.Valid())
	assert.False(t, Point{Latitude: 91, Longitude: 0}.Valid())
	assert.False(t, Point{Latitude: 0, Longitude: 181}.Valid())
	assert.False(t, Point{Latitude: math.NaN(), Longitude: 0}.Valid())
}
