package main

import "time"

// Viewer configuration constants. These define the window, target movement,
// and timing of the particle viewer; simulation tuning lives in sim.Config.
// targetMoveSpeed is a per-update step and must exceed the default movement
// threshold or the target never triggers an Attract pass.
const (
	w, h                   = 512, 512
	windowScale            = 2
	defaultTPS             = 60.0
	maxFrameDelta          = 0.1
	viewMargin             = 0.9
	targetMoveSpeed        = 0.6
	targetMarkerRad        = 3
	particleBrightness     = 48
	pgoRecordDuration      = 15 * time.Second
	metricsShutdownTimeout = 2 * time.Second
	autoWalkMinFrames      = 20
	autoWalkMaxFrames      = 70
)
