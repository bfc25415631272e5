package main

import "flag"

// Command-line flags for the viewer. Simulation flags default to zero and only
// override the loaded config when set.
var (
	// configPathFlag points at an optional JSON settings file.
	configPathFlag = flag.String("config", "settings.json", "JSON settings file layered over the defaults")

	// backendFlag selects the compute backend.
	backendFlag = flag.String("backend", "cpu", "compute backend: cpu or opencl (requires -tags opencl)")

	particlesFlag         = flag.Int("particles", 0, "particle count, a multiple of 512 in [10000, 1048576]")
	particleSizeFlag      = flag.Float64("particle-size", 0, "particle render size in [0.01, 0.1]")
	attractStrengthFlag   = flag.Float64("attract-strength", 0, "attraction strength towards the target")
	maxSpeedFlag          = flag.Float64("max-speed", 0, "particle speed limit")
	avoidWallStrengthFlag = flag.Float64("avoid-wall-strength", 0, "push-back strength outside the wall box")
	movementThreshFlag    = flag.Float64("movement-thresh", 0, "target movement below this distance is ignored")

	// workersFlag sizes the CPU backend worker pool.
	workersFlag = flag.Int("workers", 0, "CPU backend workers (0 = one per CPU)")

	// debugFlag enables the FPS and simulation overlay.
	debugFlag = flag.Bool("debug", false, "show FPS and simulation overlay")

	// metricsAddrFlag exposes Prometheus metrics when non-empty.
	metricsAddrFlag = flag.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")

	// devLogFlag switches to human-readable development logging.
	devLogFlag = flag.Bool("dev-log", false, "use development logger output")

	// recordDefaultPGO triggers a scripted walk to produce default.pgo.
	recordDefaultPGO = flag.Bool("record-default-pgo", false, "walk randomly for 15s while capturing default.pgo")
)
