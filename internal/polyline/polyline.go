// Package polyline implements the encoded polyline algorithm format at
// 1e5 precision.
package polyline

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const precision = 1e5

// ErrMalformed is returned for input that is not a valid encoded polyline.
var ErrMalformed = errors.New("malformed polyline")

// Point is one decoded waypoint in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Decode returns the points of encoded in order. An empty string decodes to
// an empty slice.
func Decode(encoded string) ([]Point, error) {
	points := make([]Point, 0, len(encoded)/4)
	var lat, lng int64
	for i := 0; i < len(encoded); {
		dlat, next, err := decodeValue(encoded, i)
		if err != nil {
			return nil, err
		}
		if next >= len(encoded) {
			return nil, fmt.Errorf("%w: latitude without longitude at offset %d", ErrMalformed, i)
		}
		dlng, after, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		lat += dlat
		lng += dlng
		points = append(points, Point{Lat: float64(lat) / precision, Lng: float64(lng) / precision})
		i = after
	}
	return points, nil
}

func decodeValue(s string, i int) (int64, int, error) {
	var result int64
	var shift uint
	start := i
	for {
		if i >= len(s) {
			return 0, i, fmt.Errorf("%w: truncated value at offset %d", ErrMalformed, start)
		}
		b := int64(s[i]) - 63
		if b < 0 || b > 63 {
			return 0, i, fmt.Errorf("%w: invalid character %q at offset %d", ErrMalformed, s[i], i)
		}
		if shift >= 63 {
			return 0, i, fmt.Errorf("%w: value overflow at offset %d", ErrMalformed, start)
		}
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

// Encode returns the encoded polyline for points. Coordinates are rounded
// to five decimal places.
func Encode(points []Point) string {
	var sb strings.Builder
	var prevLat, prevLng int64
	for _, p := range points {
		lat := int64(math.Round(p.Lat * precision))
		lng := int64(math.Round(p.Lng * precision))
		encodeValue(&sb, lat-prevLat)
		encodeValue(&sb, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return sb.String()
}

func encodeValue(sb *strings.Builder, v int64) {
	v <<= 1
	if v < 0 {
		v = ^v
	}
	for v >= 0x20 {
		sb.WriteByte(byte((0x20 | (v & 0x1f)) + 63))
		v >>= 5
	}
	sb.WriteByte(byte(v + 63))
}
