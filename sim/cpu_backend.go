package sim

import (
	"fmt"
	"runtime"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"
)

// minSpanItems keeps tiny dispatches on a single goroutine.
const minSpanItems = 4096

// span is an inclusive-exclusive range of work items owned by one worker.
type span struct{ start, end int }

// cpuBuffer keeps a buffer's contents in host memory.
type cpuBuffer struct {
	count  int
	stride int
	data   []float32
}

func (b *cpuBuffer) Count() int  { return b.count }
func (b *cpuBuffer) Stride() int { return b.stride }

func (b *cpuBuffer) Upload(src []float32) error {
	if b.data == nil {
		return ErrReleased
	}
	if len(src) != len(b.data) {
		return fmt.Errorf("upload of %d values into buffer of %d", len(src), len(b.data))
	}
	copy(b.data, src)
	return nil
}

func (b *cpuBuffer) Download(dst []float32) error {
	if b.data == nil {
		return ErrReleased
	}
	if len(dst) != len(b.data) {
		return fmt.Errorf("download of %d values from buffer of %d", len(dst), len(b.data))
	}
	copy(dst, b.data)
	return nil
}

func (b *cpuBuffer) Release() { b.data = nil }

// cpuKernel couples a kernel signature with the bound buffers.
type cpuKernel struct {
	name    string
	buffers map[string]*cpuBuffer
}

func (k *cpuKernel) Name() string { return k.name }

// CPUBackend runs the reference kernels on host goroutines. Each dispatch
// blocks until every work item has finished.
type CPUBackend struct {
	workers int
	floats  map[string]float32
	ints    map[string]int32
	vectors map[string]mgl32.Vec3
	kernels map[string]*cpuKernel
}

// NewCPUBackend creates a backend using one worker per CPU. workers <= 0
// selects runtime.NumCPU.
func NewCPUBackend(workers int) *CPUBackend {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPUBackend{
		workers: workers,
		floats:  make(map[string]float32),
		ints:    make(map[string]int32),
		vectors: make(map[string]mgl32.Vec3),
		kernels: make(map[string]*cpuKernel),
	}
}

// Name identifies the backend in logs.
func (c *CPUBackend) Name() string { return "cpu" }

// FindKernel resolves one of the particle kernels by name.
func (c *CPUBackend) FindKernel(name string) (Kernel, error) {
	if _, ok := kernelSignatures[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrKernelNotFound, name)
	}
	k, ok := c.kernels[name]
	if !ok {
		k = &cpuKernel{name: name, buffers: make(map[string]*cpuBuffer)}
		c.kernels[name] = k
	}
	return k, nil
}

// NewBuffer allocates a zeroed buffer of count elements of stride floats.
func (c *CPUBackend) NewBuffer(count, stride int) (Buffer, error) {
	if count <= 0 || stride <= 0 {
		return nil, fmt.Errorf("invalid buffer shape %dx%d", count, stride)
	}
	return &cpuBuffer{count: count, stride: stride, data: make([]float32, count*stride)}, nil
}

// SetFloat, SetInt and SetVector set uniforms shared by all kernels.
func (c *CPUBackend) SetFloat(name string, v float32)     { c.floats[name] = v }
func (c *CPUBackend) SetInt(name string, v int32)         { c.ints[name] = v }
func (c *CPUBackend) SetVector(name string, v mgl32.Vec3) { c.vectors[name] = v }

// SetBuffer binds buf to the named buffer slot of k.
func (c *CPUBackend) SetBuffer(k Kernel, name string, buf Buffer) error {
	ck, ok := k.(*cpuKernel)
	if !ok {
		return fmt.Errorf("kernel %q does not belong to the cpu backend", k.Name())
	}
	cb, ok := buf.(*cpuBuffer)
	if !ok {
		return fmt.Errorf("buffer %q does not belong to the cpu backend", name)
	}
	if cb.data == nil {
		return fmt.Errorf("binding %q: %w", name, ErrReleased)
	}
	ck.buffers[name] = cb
	return nil
}

// Dispatch runs x*y*z thread groups. Work items beyond _ParticleCount or past
// the end of a bound buffer are skipped.
func (c *CPUBackend) Dispatch(k Kernel, x, y, z int) error {
	ck, ok := k.(*cpuKernel)
	if !ok {
		return fmt.Errorf("kernel %q does not belong to the cpu backend", k.Name())
	}
	for _, arg := range kernelSignatures[ck.name] {
		if arg.kind != argBuffer {
			continue
		}
		buf, ok := ck.buffers[arg.name]
		if !ok {
			return fmt.Errorf("%s: buffer %q not bound", ck.name, arg.name)
		}
		if buf.data == nil {
			return fmt.Errorf("%s: buffer %q: %w", ck.name, arg.name, ErrReleased)
		}
	}

	items := x * y * z * ThreadGroupWidth
	if count, ok := c.ints[ParamParticleCount]; ok && int(count) < items {
		items = int(count)
	}
	attraction := ck.buffers[BufferAttraction]
	if attraction.count < items {
		items = attraction.count
	}

	var run func(i int)
	switch ck.name {
	case KernelAttract:
		particles := ck.buffers[BufferParticleRead]
		if particles.count < items {
			items = particles.count
		}
		strength := c.floats[ParamAttractStrength]
		maxSpeed := c.floats[ParamMaxSpeed]
		targetPos := c.vectors[ParamTargetPos]
		targetVel := c.vectors[ParamTargetVel]
		run = func(i int) {
			attractParticle(
				attraction.data[i*AttractionStride:(i+1)*AttractionStride],
				particles.data[i*ParticleStride:(i+1)*ParticleStride],
				strength, maxSpeed, targetPos, targetVel,
			)
		}
	case KernelUpdate:
		particles := ck.buffers[BufferParticleWrite]
		if particles.count < items {
			items = particles.count
		}
		dt := c.floats[ParamDeltaTime]
		avoidWall := c.floats[ParamAvoidWallStrength]
		maxSpeed := c.floats[ParamMaxSpeed]
		wallCenter := c.vectors[ParamWallCenter]
		wallSize := c.vectors[ParamWallSize]
		run = func(i int) {
			updateParticle(
				attraction.data[i*AttractionStride:(i+1)*AttractionStride],
				particles.data[i*ParticleStride:(i+1)*ParticleStride],
				dt, avoidWall, maxSpeed, wallCenter, wallSize,
			)
		}
	}

	var g errgroup.Group
	for _, sp := range splitSpans(items, c.workers) {
		g.Go(func() error {
			for i := sp.start; i < sp.end; i++ {
				run(i)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close drops every kernel binding.
func (c *CPUBackend) Close() {
	for _, k := range c.kernels {
		for name := range k.buffers {
			delete(k.buffers, name)
		}
	}
}

// splitSpans divides n work items into at most workers contiguous spans.
func splitSpans(n, workers int) []span {
	if n <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if limit := (n + minSpanItems - 1) / minSpanItems; workers > limit {
		workers = limit
	}
	per := (n + workers - 1) / workers
	spans := make([]span, 0, workers)
	for start := 0; start < n; start += per {
		end := start + per
		if end > n {
			end = n
		}
		spans = append(spans, span{start: start, end: end})
	}
	return spans
}
