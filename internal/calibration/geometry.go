package calibration

import (
	"fmt"
	"math"

	"github.com/codefionn/tilewall/internal/vision"
)

// ComputeLayout normalizes marker corners into the unit square spanned by
// the bounding box of every corner. x grows to the right and y grows
// upwards, so image rows are flipped. Corner order is preserved. The
// aspect ratio is the bounding box width over its height.
func ComputeLayout(markers map[int]vision.Quad) (map[int]vision.Quad, float64, error) {
	if len(markers) == 0 {
		return nil, 0, fmt.Errorf("%w: no markers", ErrDegenerateLayout)
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, quad := range markers {
		for _, p := range quad {
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
		}
	}

	width, height := maxX-minX, maxY-minY
	// NaN and infinite corners leave no usable extent
	if !(width > 0) || !(height > 0) || math.IsInf(width, 0) || math.IsInf(height, 0) {
		return nil, 0, fmt.Errorf("%w: bounding box %gx%g", ErrDegenerateLayout, width, height)
	}

	layout := make(map[int]vision.Quad, len(markers))
	for id, quad := range markers {
		var out vision.Quad
		for i, p := range quad {
			out[i] = vision.Point{
				X: (p.X - minX) / width,
				Y: 1 - (p.Y-minY)/height,
			}
		}
		layout[id] = out
	}
	return layout, width / height, nil
}
