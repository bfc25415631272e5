package main

import (
	"math"
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hajimehoshi/ebiten/v2"
)

// viewTarget is the point the particles chase. It satisfies sim.Target.
type viewTarget struct {
	pos mgl32.Vec3
}

func (t *viewTarget) Position() mgl32.Vec3 { return t.pos }

// enableAutoWalk schedules scripted movement for a limited duration.
func (g *Game) enableAutoWalk(duration time.Duration) {
	g.autoWalk = true
	g.autoWalkDeadline = time.Now().Add(duration)
	if g.autoWalkRand == nil {
		g.autoWalkRand = rand.New(rand.NewSource(time.Now().UnixNano() + 3))
	}
	g.autoWalkFrameCount = 0
}

// movementVector selects either manual or automatic movement direction.
func (g *Game) movementVector() mgl32.Vec3 {
	if g.autoWalk {
		if time.Now().After(g.autoWalkDeadline) {
			g.autoWalk = false
			return mgl32.Vec3{}
		}
		return g.autoWalkVector()
	}
	return manualMovementVector()
}

// manualMovementVector returns WASD movement in the XY plane and Q/E along Z,
// scaled by targetMoveSpeed.
func manualMovementVector() mgl32.Vec3 {
	var d mgl32.Vec3
	if ebiten.IsKeyPressed(ebiten.KeyW) {
		d[1]++
	}
	if ebiten.IsKeyPressed(ebiten.KeyS) {
		d[1]--
	}
	if ebiten.IsKeyPressed(ebiten.KeyA) {
		d[0]--
	}
	if ebiten.IsKeyPressed(ebiten.KeyD) {
		d[0]++
	}
	if ebiten.IsKeyPressed(ebiten.KeyE) {
		d[2]++
	}
	if ebiten.IsKeyPressed(ebiten.KeyQ) {
		d[2]--
	}
	if d.Len() == 0 {
		return d
	}
	return d.Normalize().Mul(targetMoveSpeed)
}

// autoWalkVector returns a pseudo-random heading that stays inside the box.
func (g *Game) autoWalkVector() mgl32.Vec3 {
	for attempts := 0; attempts < 5; attempts++ {
		if g.autoWalkFrameCount <= 0 {
			g.randomizeAutoWalkDirection()
		}
		step := g.autoWalkDir.Mul(targetMoveSpeed)
		next := g.target.pos.Add(step)
		if g.view.clampToBox(next) == next {
			g.autoWalkFrameCount--
			return step
		}
		g.autoWalkFrameCount = 0
	}
	return mgl32.Vec3{}
}

// randomizeAutoWalkDirection chooses a new heading in the XY plane.
func (g *Game) randomizeAutoWalkDirection() {
	if g.autoWalkRand == nil {
		g.autoWalkRand = rand.New(rand.NewSource(time.Now().UnixNano() + 5))
	}
	angle := g.autoWalkRand.Float64() * 2 * math.Pi
	g.autoWalkDir = mgl32.Vec3{float32(math.Cos(angle)), float32(math.Sin(angle)), 0}
	g.autoWalkFrameCount = autoWalkMinFrames + g.autoWalkRand.Intn(autoWalkMaxFrames-autoWalkMinFrames)
}
