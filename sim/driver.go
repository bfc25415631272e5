package sim

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// ErrInvalidDelta is returned by Tick for non-positive or non-finite steps.
var ErrInvalidDelta = errors.New("elapsed time must be finite and positive")

// Target is a tracked point the particles are attracted towards.
type Target interface {
	Position() mgl32.Vec3
}

// Driver owns the particle and attraction buffers and issues the Attract and
// Update dispatches for each tick. It is not safe for concurrent use; all
// calls must come from the goroutine that owns the backend.
type Driver struct {
	backend Backend
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	rng     *rand.Rand

	attractionBuf Buffer
	particleBuf   Buffer

	attractKernel Kernel
	updateKernel  Kernel
	threadGroups  int

	target     Target
	lastTarget mgl32.Vec3

	released bool
}

// Option configures optional Driver collaborators.
type Option func(*Driver)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithRand seeds particle spawning from rng.
func WithRand(rng *rand.Rand) Option {
	return func(d *Driver) {
		if rng != nil {
			d.rng = rng
		}
	}
}

// WithTarget tracks target from the first tick.
func WithTarget(target Target) Option {
	return func(d *Driver) { d.target = target }
}

// New validates cfg, allocates and seeds both buffers, and resolves the two
// kernels. On any failure nothing stays allocated.
func New(backend Backend, cfg Config, opts ...Option) (*Driver, error) {
	if backend == nil {
		return nil, errors.New("nil compute backend")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		backend: backend,
		cfg:     cfg,
		logger:  zap.NewNop(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.initialize(cfg.MaxParticleCount, cfg.ParticleSize); err != nil {
		return nil, err
	}

	var err error
	if d.attractKernel, err = backend.FindKernel(KernelAttract); err != nil {
		d.Release()
		return nil, fmt.Errorf("resolving %s kernel: %w", KernelAttract, err)
	}
	if d.updateKernel, err = backend.FindKernel(KernelUpdate); err != nil {
		d.Release()
		return nil, fmt.Errorf("resolving %s kernel: %w", KernelUpdate, err)
	}
	d.threadGroups = ThreadGroupCount(cfg.MaxParticleCount)

	if d.target != nil {
		d.lastTarget = d.target.Position()
	}
	d.logger.Info("particle simulation initialized",
		zap.String("backend", backend.Name()),
		zap.Int("particles", cfg.MaxParticleCount),
		zap.Int("threadGroups", d.threadGroups),
	)
	return d, nil
}

// initialize allocates both buffers and uploads their starting contents.
func (d *Driver) initialize(count int, size float32) error {
	attraction, err := d.backend.NewBuffer(count, AttractionStride)
	if err != nil {
		return fmt.Errorf("allocating attraction buffer: %w", err)
	}
	particles, err := d.backend.NewBuffer(count, ParticleStride)
	if err != nil {
		attraction.Release()
		return fmt.Errorf("allocating particle buffer: %w", err)
	}
	d.attractionBuf = attraction
	d.particleBuf = particles
	if d.metrics != nil {
		d.metrics.BuffersAllocated.Add(2)
		d.metrics.Particles.Set(float64(count))
	}

	if err := d.attractionBuf.Upload(make([]float32, count*AttractionStride)); err != nil {
		d.Release()
		return fmt.Errorf("writing attraction buffer: %w", err)
	}
	data := make([]float32, count*ParticleStride)
	for i := 0; i < count; i++ {
		packParticle(data[i*ParticleStride:(i+1)*ParticleStride], NewParticle(d.rng, size))
	}
	if err := d.particleBuf.Upload(data); err != nil {
		d.Release()
		return fmt.Errorf("writing particle buffer: %w", err)
	}
	return nil
}

// SetTarget starts tracking target, or stops the Attract pass when nil.
func (d *Driver) SetTarget(target Target) {
	d.target = target
	if target != nil {
		d.lastTarget = target.Position()
	}
}

// Tick advances the simulation by dt seconds. The Attract pass runs only when
// the target moved at least MovementThreshold since the previous tick; the
// Update pass always runs.
func (d *Driver) Tick(dt float32) error {
	if d.released {
		return ErrReleased
	}
	if !finitePositive(dt) {
		return fmt.Errorf("%w: %g", ErrInvalidDelta, dt)
	}
	start := time.Now()

	if d.target != nil {
		current := d.target.Position()
		displacement := current.Sub(d.lastTarget)
		d.lastTarget = current
		if displacement.Len() >= d.cfg.MovementThreshold {
			velocity := displacement.Mul(1 / dt)
			if err := d.attract(current, velocity); err != nil {
				return err
			}
		}
	}
	if err := d.update(dt); err != nil {
		return err
	}

	if d.metrics != nil {
		d.metrics.Ticks.Inc()
		d.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// attract binds and dispatches the Attract kernel.
func (d *Driver) attract(targetPos, targetVel mgl32.Vec3) error {
	b := d.backend
	b.SetFloat(ParamAttractStrength, d.cfg.AttractStrength)
	b.SetFloat(ParamMaxSpeed, d.cfg.MaxSpeed)
	b.SetVector(ParamTargetPos, targetPos)
	b.SetVector(ParamTargetVel, targetVel)
	b.SetInt(ParamParticleCount, int32(d.cfg.MaxParticleCount))
	if err := b.SetBuffer(d.attractKernel, BufferAttraction, d.attractionBuf); err != nil {
		return fmt.Errorf("binding attraction buffer: %w", err)
	}
	if err := b.SetBuffer(d.attractKernel, BufferParticleRead, d.particleBuf); err != nil {
		return fmt.Errorf("binding particle buffer: %w", err)
	}
	return d.dispatch(d.attractKernel)
}

// update binds and dispatches the Update kernel.
func (d *Driver) update(dt float32) error {
	b := d.backend
	b.SetFloat(ParamDeltaTime, dt)
	b.SetFloat(ParamAvoidWallStrength, d.cfg.AvoidWallStrength)
	b.SetFloat(ParamMaxSpeed, d.cfg.MaxSpeed)
	b.SetVector(ParamWallCenter, d.cfg.WallCenter)
	b.SetVector(ParamWallSize, d.cfg.WallSize)
	b.SetInt(ParamParticleCount, int32(d.cfg.MaxParticleCount))
	if err := b.SetBuffer(d.updateKernel, BufferAttraction, d.attractionBuf); err != nil {
		return fmt.Errorf("binding attraction buffer: %w", err)
	}
	if err := b.SetBuffer(d.updateKernel, BufferParticleWrite, d.particleBuf); err != nil {
		return fmt.Errorf("binding particle buffer: %w", err)
	}
	return d.dispatch(d.updateKernel)
}

func (d *Driver) dispatch(k Kernel) error {
	if err := d.backend.Dispatch(k, d.threadGroups, 1, 1); err != nil {
		return fmt.Errorf("dispatching %s: %w", k.Name(), err)
	}
	if d.metrics != nil {
		d.metrics.Dispatches.WithLabelValues(k.Name()).Inc()
	}
	return nil
}

// Release frees both device buffers. Calling it again is a no-op.
func (d *Driver) Release() {
	if d.released {
		return
	}
	freed := 0
	for _, buf := range []*Buffer{&d.attractionBuf, &d.particleBuf} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
			freed++
		}
	}
	d.released = true
	if d.metrics != nil {
		d.metrics.BuffersAllocated.Sub(float64(freed))
		d.metrics.Particles.Set(0)
	}
	d.logger.Info("particle buffers released", zap.Int("buffers", freed))
}

// Released reports whether Release has run.
func (d *Driver) Released() bool { return d.released }

// ParticleBuffer returns a read-only view of the particle buffer for
// rendering, or nil once released.
func (d *Driver) ParticleBuffer() ReadableBuffer {
	if d.released {
		return nil
	}
	return d.particleBuf
}

// MaxParticleCount returns the number of particles in the buffers.
func (d *Driver) MaxParticleCount() int { return d.cfg.MaxParticleCount }

// Bounds returns the center and half-extents of the simulation volume.
func (d *Driver) Bounds() (center, halfExtents mgl32.Vec3) {
	return d.cfg.WallCenter, d.cfg.WallSize
}

// ThreadGroups returns the number of groups each dispatch covers.
func (d *Driver) ThreadGroups() int { return d.threadGroups }

// Config returns the validated configuration.
func (d *Driver) Config() Config { return d.cfg }
