package polyline

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReferenceVector(t *testing.T) {
	pts, err := Decode("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	assert.Equal(t, []Point{
		{Lat: 38.5, Lng: -120.2},
		{Lat: 40.7, Lng: -120.95},
		{Lat: 43.252, Lng: -126.453},
	}, pts)
}

func TestEncodeReferenceVector(t *testing.T) {
	got := Encode([]Point{{38.5, -120.2}, {40.7, -120.95}, {43.252, -126.453}})
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", got)
}

func TestDecodeEmpty(t *testing.T) {
	pts, err := Decode("")
	require.NoError(t, err)
	assert.NotNil(t, pts)
	assert.Empty(t, pts)
	assert.Equal(t, "", Encode(nil))
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"invalid character":   "_p~iF~ps|U!",
		"below range":         "_p~iF\x1f",
		"truncated value":     "_p~iF~ps|",
		"dangling latitude":   "_p~iF",
		"continuation at end": "_p~iF~",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			pts, err := Decode(in)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Nil(t, pts)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 50; n++ {
		pts := make([]Point, rng.Intn(20))
		for i := range pts {
			pts[i] = Point{
				Lat: float64(rng.Int63n(18000001)-9000000) / precision,
				Lng: float64(rng.Int63n(36000001)-18000000) / precision,
			}
		}
		got, err := Decode(Encode(pts))
		require.NoError(t, err)
		assert.Equal(t, pts, got)
	}
}

func TestRoundTripRoundsToFiveDecimals(t *testing.T) {
	got, err := Decode(Encode([]Point{{12.900004, 77.599996}}))
	require.NoError(t, err)
	assert.Equal(t, []Point{{12.9, 77.6}}, got)
}
