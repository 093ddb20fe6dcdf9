package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tilewall/internal/vision"
)

func quad(x0, y0, x1, y1 float64) vision.Quad {
	return vision.Quad{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

func TestComputeLayoutTwoMarkers(t *testing.T) {
	layout, aspect, err := ComputeLayout(map[int]vision.Quad{
		0: quad(0, 0, 10, 10),
		1: quad(20, 0, 30, 10),
	})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, aspect, 1e-9)

	m0 := layout[0]
	assert.InDelta(t, 0, m0[0].X, 1e-9)
	assert.InDelta(t, 1.0/3, m0[1].X, 1e-9)
	assert.InDelta(t, 1, m0[0].Y, 1e-9)
	assert.InDelta(t, 0, m0[2].Y, 1e-9)

	m1 := layout[1]
	assert.InDelta(t, 2.0/3, m1[0].X, 1e-9)
	assert.InDelta(t, 1, m1[1].X, 1e-9)
	assert.InDelta(t, 1, m1[1].Y, 1e-9)
	assert.InDelta(t, 0, m1[3].Y, 1e-9)
}

func TestComputeLayoutKeepsCornerOrder(t *testing.T) {
	rotated := vision.Quad{{X: 10, Y: 10}, {X: 0, Y: 10}, {X: 0, Y: 0}, {X: 10, Y: 0}}
	layout, aspect, err := ComputeLayout(map[int]vision.Quad{7: rotated})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, aspect, 1e-9)
	assert.Equal(t, vision.Quad{{X: 1, Y: 0}, {X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}, layout[7])
}

func TestComputeLayoutIsDeterministic(t *testing.T) {
	in := map[int]vision.Quad{
		3: quad(12.5, 4, 40, 30.25),
		9: quad(41, 3, 80, 31),
	}
	a, ra, err := ComputeLayout(in)
	require.NoError(t, err)
	b, rb, err := ComputeLayout(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, ra, rb)

	for _, q := range a {
		for _, p := range q {
			assert.True(t, p.X >= 0 && p.X <= 1)
			assert.True(t, p.Y >= 0 && p.Y <= 1)
		}
	}
}

func TestComputeLayoutDegenerate(t *testing.T) {
	tests := []struct {
		name    string
		markers map[int]vision.Quad
	}{
		{"empty", map[int]vision.Quad{}},
		{"single point", map[int]vision.Quad{0: {{X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}}}},
		{"horizontal line", map[int]vision.Quad{0: {{X: 0, Y: 5}, {X: 10, Y: 5}, {X: 10, Y: 5}, {X: 0, Y: 5}}}},
		{"vertical line", map[int]vision.Quad{0: {{X: 3, Y: 0}, {X: 3, Y: 0}, {X: 3, Y: 9}, {X: 3, Y: 9}}}},
		{"nan corner", map[int]vision.Quad{0: quad(0, 0, 10, 10), 1: {{X: math.NaN(), Y: 0}, {X: 30, Y: 0}, {X: 30, Y: 10}, {X: 20, Y: 10}}}},
		{"nan height", map[int]vision.Quad{0: quad(0, 0, 10, 10), 1: {{X: 20, Y: 0}, {X: 30, Y: math.NaN()}, {X: 30, Y: 10}, {X: 20, Y: 10}}}},
		{"infinite corner", map[int]vision.Quad{0: quad(0, 0, 10, 10), 1: quad(20, 0, math.Inf(1), 10)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ComputeLayout(tt.markers)
			assert.ErrorIs(t, err, ErrDegenerateLayout)
		})
	}
}

func TestResultWireLayout(t *testing.T) {
	r := &Result{Layout: map[int]vision.Quad{
		2: quad(0, 0, 0.5, 1),
		0: quad(0.5, 0, 1, 1),
	}}
	assert.Equal(t, []int{0, 2}, r.MarkerIDs())

	wire := r.WireLayout()
	assert.Equal(t, [2]float64{0.5, 0}, wire["0"][0])
	assert.Equal(t, [2]float64{0.5, 1}, wire["2"][2])
}
