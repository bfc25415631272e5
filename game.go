package main

import (
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hajimehoshi/ebiten/v2"
	"go.uber.org/zap"

	"GPA/sim"
)

// Game drives the particle simulation from ebiten's update loop and renders
// the particle buffer each frame.
type Game struct {
	driver *sim.Driver
	logger *zap.Logger
	view   viewport
	target *viewTarget

	lastUpdate   time.Time
	lastTickTime time.Duration
	ticks        uint64

	autoWalk           bool
	autoWalkDeadline   time.Time
	autoWalkRand       *rand.Rand
	autoWalkDir        mgl32.Vec3
	autoWalkFrameCount int

	readback      []float32
	pixels        []byte
	readbackError bool
}

// newGame wires a viewer around an initialized driver and starts tracking
// the target at the wall center.
func newGame(driver *sim.Driver, logger *zap.Logger) *Game {
	center, half := driver.Bounds()
	g := &Game{
		driver:       driver,
		logger:       logger,
		view:         newViewport(center, half),
		target:       &viewTarget{pos: center},
		autoWalkRand: rand.New(rand.NewSource(time.Now().UnixNano() + 2)),
		readback:     make([]float32, driver.MaxParticleCount()*sim.ParticleStride),
		pixels:       make([]byte, w*h*4),
	}
	driver.SetTarget(g.target)
	return g
}

// Update moves the target and advances the simulation by the wall time since
// the previous update.
func (g *Game) Update() error {
	if ebiten.IsKeyPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}

	g.moveTarget()

	now := time.Now()
	dt := float32(1 / defaultTPS)
	if !g.lastUpdate.IsZero() {
		if elapsed := now.Sub(g.lastUpdate).Seconds(); elapsed > 0 {
			dt = float32(elapsed)
		}
	}
	if dt > maxFrameDelta {
		dt = maxFrameDelta
	}
	g.lastUpdate = now

	if err := g.driver.Tick(dt); err != nil {
		return err
	}
	g.lastTickTime = time.Since(now)
	g.ticks++
	return nil
}

// moveTarget applies one step of manual or scripted movement, keeping the
// target inside the wall box.
func (g *Game) moveTarget() {
	g.target.pos = g.view.clampToBox(g.target.pos.Add(g.movementVector()))
}
