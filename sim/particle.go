package sim

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

// Device layout strides, in float32 elements.
const (
	ParticleStride   = 12
	AttractionStride = 3
)

// Initial distribution of a freshly spawned particle set.
const (
	spawnPositionRadius = 5.0
	spawnVelocityRadius = 0.1
	minUniqueSpeed      = 0.5
	maxUniqueSpeed      = 1.5
)

// Particle is the host view of one element in the particle buffer. The device
// stores it as twelve packed float32 values in field order.
type Particle struct {
	Position    mgl32.Vec3
	Velocity    mgl32.Vec3
	Color       mgl32.Vec4
	Size        float32
	UniqueSpeed float32
}

// NewParticle spawns a particle near the origin with a small random drift.
func NewParticle(rng *rand.Rand, size float32) Particle {
	return Particle{
		Position:    randomInDisk(rng, spawnPositionRadius),
		Velocity:    randomInDisk(rng, spawnVelocityRadius),
		Color:       mgl32.Vec4{1, 1, 1, 1},
		Size:        size,
		UniqueSpeed: minUniqueSpeed + rng.Float32()*(maxUniqueSpeed-minUniqueSpeed),
	}
}

// randomInDisk returns a uniformly distributed point inside an XY disk.
func randomInDisk(rng *rand.Rand, radius float64) mgl32.Vec3 {
	r := radius * math.Sqrt(rng.Float64())
	theta := rng.Float64() * 2 * math.Pi
	return mgl32.Vec3{float32(r * math.Cos(theta)), float32(r * math.Sin(theta)), 0}
}

// PackParticles writes src into dst using the device layout. dst must hold at
// least len(src)*ParticleStride values.
func PackParticles(dst []float32, src []Particle) {
	for i, p := range src {
		packParticle(dst[i*ParticleStride:(i+1)*ParticleStride], p)
	}
}

func packParticle(o []float32, p Particle) {
	o[0], o[1], o[2] = p.Position[0], p.Position[1], p.Position[2]
	o[3], o[4], o[5] = p.Velocity[0], p.Velocity[1], p.Velocity[2]
	o[6], o[7], o[8], o[9] = p.Color[0], p.Color[1], p.Color[2], p.Color[3]
	o[10] = p.Size
	o[11] = p.UniqueSpeed
}

// UnpackParticles decodes len(dst) particles from the device layout.
func UnpackParticles(dst []Particle, src []float32) {
	for i := range dst {
		o := src[i*ParticleStride : (i+1)*ParticleStride]
		dst[i] = Particle{
			Position:    mgl32.Vec3{o[0], o[1], o[2]},
			Velocity:    mgl32.Vec3{o[3], o[4], o[5]},
			Color:       mgl32.Vec4{o[6], o[7], o[8], o[9]},
			Size:        o[10],
			UniqueSpeed: o[11],
		}
	}
}

// ParticlePosition reads the position of particle i straight from packed data.
func ParticlePosition(src []float32, i int) mgl32.Vec3 {
	base := i * ParticleStride
	return mgl32.Vec3{src[base], src[base+1], src[base+2]}
}
