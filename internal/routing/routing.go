// Package routing fetches encoded route polylines between two points.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderflow/internal/metrics"
	"orderflow/internal/model"
	"orderflow/internal/polyline"
)

// ErrRouteUnavailable wraps every failure to produce a route: transport
// errors, provider refusals and responses missing a polyline.
var ErrRouteUnavailable = errors.New("route unavailable")

// Source returns the encoded polyline of a route from origin to dest.
type Source interface {
	Route(ctx context.Context, origin, dest model.GeoPoint) (string, error)
}

// Straight is an offline Source that walks a straight line from origin to
// dest in Steps evenly spaced points.
type Straight struct {
	Steps int
}

func (s Straight) Route(ctx context.Context, origin, dest model.GeoPoint) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
	}
	steps := s.Steps
	if steps < 2 {
		steps = 10
	}
	pts := make([]polyline.Point, steps)
	for i := range pts {
		f := float64(i) / float64(steps-1)
		pts[i] = polyline.Point{
			Lat: origin.Lat + (dest.Lat-origin.Lat)*f,
			Lng: origin.Lng + (dest.Lng-origin.Lng)*f,
		}
	}
	return polyline.Encode(pts), nil
}

type metered struct {
	src      Source
	provider string
}

// Metered records call counts and latency of src under the provider label.
func Metered(src Source, provider string) Source {
	return metered{src: src, provider: provider}
}

func (m metered) Route(ctx context.Context, origin, dest model.GeoPoint) (string, error) {
	start := time.Now()
	enc, err := m.src.Route(ctx, origin, dest)
	metrics.RouteFetchDuration.WithLabelValues(m.provider).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RouteFetches.WithLabelValues(m.provider, result).Inc()
	return enc, err
}
