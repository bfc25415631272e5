package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedDispatch struct {
	kernel  string
	groups  [3]int
	floats  map[string]float32
	ints    map[string]int32
	vectors map[string]mgl32.Vec3
	buffers map[string]Buffer
}

type recordingKernel struct{ name string }

func (k *recordingKernel) Name() string { return k.name }

type recordingBuffer struct {
	count, stride int
	data          []float32
	releases      int
}

func (b *recordingBuffer) Count() int  { return b.count }
func (b *recordingBuffer) Stride() int { return b.stride }

func (b *recordingBuffer) Upload(src []float32) error {
	if b.releases > 0 {
		return ErrReleased
	}
	b.data = append(b.data[:0], src...)
	return nil
}

func (b *recordingBuffer) Download(dst []float32) error {
	if b.releases > 0 {
		return ErrReleased
	}
	copy(dst, b.data)
	return nil
}

func (b *recordingBuffer) Release() { b.releases++ }

// recordingBackend captures every dispatch with a snapshot of the bindings.
type recordingBackend struct {
	missingKernel string
	failAllocAt   int

	allocs     int
	buffers    []*recordingBuffer
	floats     map[string]float32
	ints       map[string]int32
	vectors    map[string]mgl32.Vec3
	bound      map[string]map[string]Buffer
	dispatches []recordedDispatch
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{
		floats:  make(map[string]float32),
		ints:    make(map[string]int32),
		vectors: make(map[string]mgl32.Vec3),
		bound:   make(map[string]map[string]Buffer),
	}
}

func (r *recordingBackend) Name() string { return "recording" }

func (r *recordingBackend) FindKernel(name string) (Kernel, error) {
	if name == r.missingKernel {
		return nil, fmt.Errorf("%w: %q", ErrKernelNotFound, name)
	}
	return &recordingKernel{name: name}, nil
}

func (r *recordingBackend) NewBuffer(count, stride int) (Buffer, error) {
	r.allocs++
	if r.failAllocAt == r.allocs {
		return nil, errors.New("out of device memory")
	}
	b := &recordingBuffer{count: count, stride: stride}
	r.buffers = append(r.buffers, b)
	return b, nil
}

func (r *recordingBackend) SetFloat(name string, v float32)     { r.floats[name] = v }
func (r *recordingBackend) SetInt(name string, v int32)         { r.ints[name] = v }
func (r *recordingBackend) SetVector(name string, v mgl32.Vec3) { r.vectors[name] = v }

func (r *recordingBackend) SetBuffer(k Kernel, name string, buf Buffer) error {
	if r.bound[k.Name()] == nil {
		r.bound[k.Name()] = make(map[string]Buffer)
	}
	r.bound[k.Name()][name] = buf
	return nil
}

func (r *recordingBackend) Dispatch(k Kernel, x, y, z int) error {
	d := recordedDispatch{
		kernel:  k.Name(),
		groups:  [3]int{x, y, z},
		floats:  make(map[string]float32),
		ints:    make(map[string]int32),
		vectors: make(map[string]mgl32.Vec3),
		buffers: make(map[string]Buffer),
	}
	for n, v := range r.floats {
		d.floats[n] = v
	}
	for n, v := range r.ints {
		d.ints[n] = v
	}
	for n, v := range r.vectors {
		d.vectors[n] = v
	}
	for n, v := range r.bound[k.Name()] {
		d.buffers[n] = v
	}
	r.dispatches = append(r.dispatches, d)
	return nil
}

func (r *recordingBackend) Close() {}

func (r *recordingBackend) count(kernel string) int {
	n := 0
	for _, d := range r.dispatches {
		if d.kernel == kernel {
			n++
		}
	}
	return n
}

type fakeTarget struct{ pos mgl32.Vec3 }

func (f *fakeTarget) Position() mgl32.Vec3 { return f.pos }

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxParticleCount = 20 * ThreadGroupWidth
	cfg.ParticleSize = 0.05
	return cfg
}

func newTestDriver(t *testing.T, backend Backend, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithRand(rand.New(rand.NewSource(1)))}, opts...)
	d, err := New(backend, smallConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

func TestNewSeedsBuffers(t *testing.T) {
	rec := newRecordingBackend()
	d := newTestDriver(t, rec)
	cfg := d.Config()

	require.Len(t, rec.buffers, 2)
	attraction, particles := rec.buffers[0], rec.buffers[1]
	assert.Equal(t, AttractionStride, attraction.stride)
	assert.Equal(t, ParticleStride, particles.stride)
	assert.Equal(t, cfg.MaxParticleCount, attraction.count)
	assert.Equal(t, cfg.MaxParticleCount, particles.count)

	for i, v := range attraction.data {
		require.Zerof(t, v, "attraction value %d", i)
	}

	ps := make([]Particle, cfg.MaxParticleCount)
	UnpackParticles(ps, particles.data)
	for i, p := range ps {
		require.LessOrEqualf(t, p.Position.Vec2().Len(), float32(5+1e-5), "particle %d position", i)
		require.LessOrEqualf(t, p.Velocity.Vec2().Len(), float32(0.1+1e-6), "particle %d velocity", i)
		require.Equal(t, mgl32.Vec4{1, 1, 1, 1}, p.Color)
		require.Equal(t, cfg.ParticleSize, p.Size)
		require.GreaterOrEqual(t, p.UniqueSpeed, float32(0.5))
		require.LessOrEqual(t, p.UniqueSpeed, float32(1.5))
	}

	assert.Same(t, ReadableBuffer(particles), d.ParticleBuffer())
	assert.Equal(t, cfg.MaxParticleCount, d.MaxParticleCount())
	assert.Equal(t, 20, d.ThreadGroups())
	center, half := d.Bounds()
	assert.Equal(t, cfg.WallCenter, center)
	assert.Equal(t, cfg.WallSize, half)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	rec := newRecordingBackend()
	cfg := smallConfig()
	cfg.MaxParticleCount = 10000

	_, err := New(rec, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Zero(t, rec.allocs, "nothing may be allocated for a rejected config")
}

func TestNewMissingKernelReleasesBuffers(t *testing.T) {
	for _, name := range []string{KernelAttract, KernelUpdate} {
		t.Run(name, func(t *testing.T) {
			rec := newRecordingBackend()
			rec.missingKernel = name

			_, err := New(rec, smallConfig(), WithLogger(zaptest.NewLogger(t)))
			require.ErrorIs(t, err, ErrKernelNotFound)
			require.Len(t, rec.buffers, 2)
			for _, b := range rec.buffers {
				assert.Equal(t, 1, b.releases)
			}
		})
	}
}

func TestNewAllocationFailureReleasesFirstBuffer(t *testing.T) {
	rec := newRecordingBackend()
	rec.failAllocAt = 2

	_, err := New(rec, smallConfig())
	require.Error(t, err)
	require.Len(t, rec.buffers, 1)
	assert.Equal(t, 1, rec.buffers[0].releases)
}

func TestTickWithoutTargetOnlyUpdates(t *testing.T) {
	rec := newRecordingBackend()
	d := newTestDriver(t, rec)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Tick(1.0/60))
	}
	assert.Zero(t, rec.count(KernelAttract))
	assert.Equal(t, 5, rec.count(KernelUpdate))

	last := rec.dispatches[len(rec.dispatches)-1]
	assert.Equal(t, [3]int{20, 1, 1}, last.groups)
	assert.InDelta(t, 1.0/60, last.floats[ParamDeltaTime], 1e-7)
	assert.Equal(t, d.Config().AvoidWallStrength, last.floats[ParamAvoidWallStrength])
	assert.Equal(t, d.Config().WallCenter, last.vectors[ParamWallCenter])
	assert.Equal(t, d.Config().WallSize, last.vectors[ParamWallSize])
	assert.Equal(t, int32(d.MaxParticleCount()), last.ints[ParamParticleCount])
	assert.Same(t, Buffer(rec.buffers[0]), last.buffers[BufferAttraction])
	assert.Same(t, Buffer(rec.buffers[1]), last.buffers[BufferParticleWrite])
}

func TestTickBelowThresholdSkipsAttract(t *testing.T) {
	rec := newRecordingBackend()
	target := &fakeTarget{}
	d := newTestDriver(t, rec, WithTarget(target))

	target.pos = mgl32.Vec3{0.2, 0.2, 0}
	require.NoError(t, d.Tick(0.1))
	assert.Zero(t, rec.count(KernelAttract))
	assert.Equal(t, 1, rec.count(KernelUpdate))
}

func TestTickAtThresholdAttractsBeforeUpdate(t *testing.T) {
	rec := newRecordingBackend()
	target := &fakeTarget{pos: mgl32.Vec3{1, 2, 3}}
	d := newTestDriver(t, rec, WithTarget(target))
	threshold := d.Config().MovementThreshold

	target.pos = mgl32.Vec3{1 + threshold, 2, 3}
	require.NoError(t, d.Tick(0.1))

	require.Len(t, rec.dispatches, 2)
	attract, update := rec.dispatches[0], rec.dispatches[1]
	assert.Equal(t, KernelAttract, attract.kernel)
	assert.Equal(t, KernelUpdate, update.kernel)

	vel := attract.vectors[ParamTargetVel]
	assert.InDelta(t, threshold/0.1, vel.Len(), 1e-4)
	assert.InDelta(t, threshold/0.1, vel.X(), 1e-4)
	assert.Zero(t, vel.Y())
	assert.Zero(t, vel.Z())
	assert.Equal(t, target.pos, attract.vectors[ParamTargetPos])
	assert.Equal(t, d.Config().AttractStrength, attract.floats[ParamAttractStrength])
	assert.Equal(t, d.Config().MaxSpeed, attract.floats[ParamMaxSpeed])
	assert.Equal(t, [3]int{20, 1, 1}, attract.groups)
	assert.Same(t, Buffer(rec.buffers[0]), attract.buffers[BufferAttraction])
	assert.Same(t, Buffer(rec.buffers[1]), attract.buffers[BufferParticleRead])
}

func TestTickVelocityIsComponentwiseDisplacementOverDelta(t *testing.T) {
	rec := newRecordingBackend()
	target := &fakeTarget{}
	d := newTestDriver(t, rec, WithTarget(target))

	target.pos = mgl32.Vec3{1, -2, 0.5}
	require.NoError(t, d.Tick(0.5))

	require.Equal(t, 1, rec.count(KernelAttract))
	vel := rec.dispatches[0].vectors[ParamTargetVel]
	assert.InDelta(t, 2, vel.X(), 1e-5)
	assert.InDelta(t, -4, vel.Y(), 1e-5)
	assert.InDelta(t, 1, vel.Z(), 1e-5)
}

func TestTickAlwaysTracksLastPosition(t *testing.T) {
	rec := newRecordingBackend()
	target := &fakeTarget{}
	d := newTestDriver(t, rec, WithTarget(target))

	// Three small steps add up past the threshold but none crosses it alone.
	for i := 1; i <= 3; i++ {
		target.pos = mgl32.Vec3{0.3 * float32(i), 0, 0}
		require.NoError(t, d.Tick(0.1))
	}
	assert.Zero(t, rec.count(KernelAttract))
	assert.Equal(t, 3, rec.count(KernelUpdate))
}

func TestSetTargetNilDisablesAttract(t *testing.T) {
	rec := newRecordingBackend()
	target := &fakeTarget{}
	d := newTestDriver(t, rec)

	d.SetTarget(target)
	target.pos = mgl32.Vec3{5, 0, 0}
	require.NoError(t, d.Tick(0.1))
	assert.Equal(t, 1, rec.count(KernelAttract))

	d.SetTarget(nil)
	target.pos = mgl32.Vec3{10, 0, 0}
	require.NoError(t, d.Tick(0.1))
	assert.Equal(t, 1, rec.count(KernelAttract))
	assert.Equal(t, 2, rec.count(KernelUpdate))
}

func TestTickRejectsInvalidDelta(t *testing.T) {
	rec := newRecordingBackend()
	d := newTestDriver(t, rec)

	for _, dt := range []float32{0, -0.1, float32(math.NaN()), float32(math.Inf(1))} {
		assert.ErrorIs(t, d.Tick(dt), ErrInvalidDelta)
	}
	assert.Empty(t, rec.dispatches)
}

func TestReleaseIsIdempotent(t *testing.T) {
	rec := newRecordingBackend()
	d, err := New(rec, smallConfig(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	d.Release()
	assert.NotPanics(t, d.Release)
	assert.True(t, d.Released())
	for _, b := range rec.buffers {
		assert.Equal(t, 1, b.releases)
	}
	assert.Nil(t, d.ParticleBuffer())
	assert.ErrorIs(t, d.Tick(0.1), ErrReleased)
	assert.Empty(t, rec.dispatches)
}

func TestParticleBufferIsReadOnly(t *testing.T) {
	ret := reflect.TypeOf((*Driver).ParticleBuffer).Out(0)
	assert.Equal(t, reflect.TypeOf((*ReadableBuffer)(nil)).Elem(), ret)
	_, hasUpload := ret.MethodByName("Upload")
	assert.False(t, hasUpload)
	_, hasRelease := ret.MethodByName("Release")
	assert.False(t, hasRelease)
}

func TestDriverMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	rec := newRecordingBackend()
	target := &fakeTarget{}
	d, err := New(rec, smallConfig(), WithMetrics(m))
	require.NoError(t, err)
	d.SetTarget(target)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BuffersAllocated))
	assert.Equal(t, float64(d.MaxParticleCount()), testutil.ToFloat64(m.Particles))

	target.pos = mgl32.Vec3{1, 0, 0}
	require.NoError(t, d.Tick(0.1))
	require.NoError(t, d.Tick(0.1))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches.WithLabelValues(KernelAttract)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Dispatches.WithLabelValues(KernelUpdate)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks))

	d.Release()
	d.Release()
	assert.Zero(t, testutil.ToFloat64(m.BuffersAllocated))
	assert.Zero(t, testutil.ToFloat64(m.Particles))
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestDriverWithCPUBackendStaysFinite(t *testing.T) {
	backend := NewCPUBackend(4)
	t.Cleanup(backend.Close)
	target := &fakeTarget{}
	d := newTestDriver(t, backend, WithTarget(target))

	for i := 0; i < 30; i++ {
		target.pos = mgl32.Vec3{float32(i), float32(i) / 2, 0}
		require.NoError(t, d.Tick(1.0/60))
	}

	data := make([]float32, d.MaxParticleCount()*ParticleStride)
	require.NoError(t, d.ParticleBuffer().Download(data))
	ps := make([]Particle, d.MaxParticleCount())
	UnpackParticles(ps, data)
	maxSpeed := d.Config().MaxSpeed
	for i, p := range ps {
		for axis := 0; axis < 3; axis++ {
			require.Falsef(t, math.IsNaN(float64(p.Position[axis])), "particle %d position", i)
		}
		// Wall avoidance may add a little on top of the clamped speed.
		require.LessOrEqualf(t, p.Velocity.Len(), maxSpeed*1.5, "particle %d speed", i)
	}
}
