package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl32"
)

// Supported particle count and render size ranges.
const (
	MinParticleCount = 10000
	MaxParticleCount = 1048576
	MinParticleSize  = 0.01
	MaxParticleSize  = 0.1
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid simulation config")

// Config holds the tunable simulation parameters. WallSize is the half-extent
// of the box the particles are kept inside.
type Config struct {
	MaxParticleCount  int        `json:"maxParticleCount"`
	ParticleSize      float32    `json:"particleSize"`
	AttractStrength   float32    `json:"attractStrength"`
	MaxSpeed          float32    `json:"maxSpeed"`
	AvoidWallStrength float32    `json:"avoidWallStrength"`
	WallCenter        mgl32.Vec3 `json:"wallCenter"`
	WallSize          mgl32.Vec3 `json:"wallSize"`
	MovementThreshold float32    `json:"movementThreshold"`
}

// DefaultConfig returns the stock tuning: a full million particles in a flat
// 50x50x5 box.
func DefaultConfig() Config {
	return Config{
		MaxParticleCount:  MaxParticleCount,
		ParticleSize:      0.1,
		AttractStrength:   10,
		MaxSpeed:          5,
		AvoidWallStrength: 10,
		WallCenter:        mgl32.Vec3{0, 0, 0},
		WallSize:          mgl32.Vec3{25, 25, 2.5},
		MovementThreshold: 0.5,
	}
}

// Validate rejects configurations the kernels cannot run correctly.
func (c Config) Validate() error {
	if c.MaxParticleCount < MinParticleCount || c.MaxParticleCount > MaxParticleCount {
		return fmt.Errorf("%w: particle count %d outside [%d, %d]",
			ErrInvalidConfig, c.MaxParticleCount, MinParticleCount, MaxParticleCount)
	}
	if c.MaxParticleCount%ThreadGroupWidth != 0 {
		return fmt.Errorf("%w: particle count %d is not a multiple of %d",
			ErrInvalidConfig, c.MaxParticleCount, ThreadGroupWidth)
	}
	if !(c.ParticleSize >= MinParticleSize && c.ParticleSize <= MaxParticleSize) {
		return fmt.Errorf("%w: particle size %g outside [%g, %g]",
			ErrInvalidConfig, c.ParticleSize, MinParticleSize, MaxParticleSize)
	}
	positives := []struct {
		name  string
		value float32
	}{
		{"attract strength", c.AttractStrength},
		{"max speed", c.MaxSpeed},
		{"avoid wall strength", c.AvoidWallStrength},
		{"movement threshold", c.MovementThreshold},
		{"wall size x", c.WallSize[0]},
		{"wall size y", c.WallSize[1]},
		{"wall size z", c.WallSize[2]},
	}
	for _, p := range positives {
		if !finitePositive(p.value) {
			return fmt.Errorf("%w: %s must be positive, got %g", ErrInvalidConfig, p.name, p.value)
		}
	}
	for i, v := range c.WallCenter {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: wall center component %d is not finite", ErrInvalidConfig, i)
		}
	}
	return nil
}

func finitePositive(v float32) bool {
	f := float64(v)
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// LoadConfig overlays a JSON settings file onto DefaultConfig. A missing file
// is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading %q: %w", path, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %q: %w", path, err)
	}
	return cfg, nil
}
