package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// viewport maps the XY plane of the wall box onto the logical screen.
type viewport struct {
	center mgl32.Vec3
	half   mgl32.Vec3
	scale  float64
}

// newViewport fits the wall box into the screen with a small margin.
func newViewport(center, half mgl32.Vec3) viewport {
	sx := float64(w) / (2 * float64(half.X()))
	sy := float64(h) / (2 * float64(half.Y()))
	return viewport{center: center, half: half, scale: math.Min(sx, sy) * viewMargin}
}

// toScreen projects a world position to pixel coordinates. Screen y grows
// downwards.
func (v viewport) toScreen(p mgl32.Vec3) (int, int) {
	x := float64(w)/2 + float64(p.X()-v.center.X())*v.scale
	y := float64(h)/2 - float64(p.Y()-v.center.Y())*v.scale
	return int(math.Floor(x)), int(math.Floor(y))
}

// clampToBox keeps p inside the wall box.
func (v viewport) clampToBox(p mgl32.Vec3) mgl32.Vec3 {
	for axis := 0; axis < 3; axis++ {
		lo := v.center[axis] - v.half[axis]
		hi := v.center[axis] + v.half[axis]
		p[axis] = mgl32.Clamp(p[axis], lo, hi)
	}
	return p
}

// boxCorners returns the screen-space corners of the wall box outline.
func (v viewport) boxCorners() (x0, y0, x1, y1 int) {
	x0, y0 = v.toScreen(v.center.Add(mgl32.Vec3{-v.half.X(), v.half.Y(), 0}))
	x1, y1 = v.toScreen(v.center.Add(mgl32.Vec3{v.half.X(), -v.half.Y(), 0}))
	return x0, y0, x1, y1
}

// onScreen reports whether pixel coordinates fall inside the window.
func onScreen(x, y int) bool {
	return x >= 0 && x < w && y >= 0 && y < h
}

// clampCoord constrains v to lie within the inclusive [min, max] range.
func clampCoord(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
