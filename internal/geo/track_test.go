package geo

import (
	"testing"

	"github.com/multidriver/relay/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrack_Valid(t *testing.T) {
	ls, err := Track([]core.GeoPosition{
		{Longitude: 13.4, Latitude: 52.5, Elevation: 30},
		{Longitude: 13.5, Latitude: 52.6, Elevation: 31},
		{Longitude: 13.6, Latitude: 52.7, Elevation: 32},
	})
	require.NoError(t, err)

	seq := ls.Coordinates()
	require.Equal(t, 3, seq.Length())
	assert.Equal(t, 13.4, seq.GetXY(0).X)
	assert.Equal(t, 52.5, seq.GetXY(0).Y)
	assert.Equal(t, 32.0, seq.Get(2).Z)
}

func TestTrack_TooFewPoints(t *testing.T) {
	_, err := Track([]core.GeoPosition{{Longitude: 1, Latitude: 2}})
	require.Error(t, err)
}

func TestTrackGeometry(t *testing.T) {
	_, err := TrackGeometry(nil)
	require.Error(t, err)

	g, err := TrackGeometry([]core.GeoPosition{{Longitude: 1, Latitude: 2}})
	require.NoError(t, err)
	assert.Equal(t, geom.TypePoint, g.Type())

	g, err = TrackGeometry([]core.GeoPosition{{Longitude: 1, Latitude: 2}, {Longitude: 3, Latitude: 4}})
	require.NoError(t, err)
	assert.Equal(t, geom.TypeLineString, g.Type())
}
