package main

import (
	"fmt"
	"image/color"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"go.uber.org/zap"

	"GPA/sim"
)

var (
	wallColor   = color.RGBA{0, 200, 255, 255}
	targetColor = color.RGBA{255, 0, 0, 255}
)

// Draw reads the particle buffer back, splats every particle additively, and
// overlays the wall box, the target, and optional debug text.
func (g *Game) Draw(screen *ebiten.Image) {
	if buf := g.driver.ParticleBuffer(); buf != nil {
		if err := buf.Download(g.readback); err != nil {
			if !g.readbackError {
				g.logger.Error("reading particle buffer", zap.Error(err))
				g.readbackError = true
			}
		} else {
			g.splatParticles()
			screen.WritePixels(g.pixels)
		}
	}

	x0, y0, x1, y1 := g.view.boxCorners()
	drawLine(screen, x0, y0, x1, y0, wallColor)
	drawLine(screen, x1, y0, x1, y1, wallColor)
	drawLine(screen, x1, y1, x0, y1, wallColor)
	drawLine(screen, x0, y1, x0, y0, wallColor)

	tx, ty := g.view.toScreen(g.target.pos)
	drawLine(screen, tx-targetMarkerRad, ty, tx+targetMarkerRad, ty, targetColor)
	drawLine(screen, tx, ty-targetMarkerRad, tx, ty+targetMarkerRad, targetColor)

	if *debugFlag {
		pos := g.target.pos
		debugMsg := fmt.Sprintf("FPS: %.1f\nTPS: %.1f\nParticles: %d (%d groups)\nTick: %.2f ms\nTarget: %.2f %.2f %.2f",
			ebiten.ActualFPS(), ebiten.ActualTPS(), g.driver.MaxParticleCount(), g.driver.ThreadGroups(),
			g.lastTickTime.Seconds()*1000, pos.X(), pos.Y(), pos.Z())
		ebitenutil.DebugPrint(screen, debugMsg)
	}
}

// splatParticles rasterizes particle positions into g.pixels.
func (g *Game) splatParticles() {
	for i := range g.pixels {
		if i%4 == 3 {
			g.pixels[i] = 255
		} else {
			g.pixels[i] = 0
		}
	}
	n := g.driver.MaxParticleCount()
	for i := 0; i < n; i++ {
		x, y := g.view.toScreen(sim.ParticlePosition(g.readback, i))
		if !onScreen(x, y) {
			continue
		}
		base := (y*w + x) * 4
		for c := 0; c < 3; c++ {
			v := int(g.pixels[base+c]) + particleBrightness
			if v > 255 {
				v = 255
			}
			g.pixels[base+c] = byte(v)
		}
	}
}

// Layout reports the logical screen size used by Ebiten.
func (g *Game) Layout(_, _ int) (int, int) { return w, h }

// drawLine plots a line segment using Bresenham's integer algorithm.
func drawLine(screen *ebiten.Image, x0, y0, x1, y1 int, clr color.Color) {
	x0, y0 = clampCoord(x0, -1, w), clampCoord(y0, -1, h)
	x1, y1 = clampCoord(x1, -1, w), clampCoord(y1, -1, h)
	dx := int(math.Abs(float64(x1 - x0)))
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -int(math.Abs(float64(y1 - y0)))
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		if onScreen(x0, y0) {
			screen.Set(x0, y0, clr)
		}
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}
