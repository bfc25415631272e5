//go:build opencl

package sim

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/jgillich/go-opencl/cl"
)

type openCLKernel struct {
	name    string
	kernel  *cl.Kernel
	buffers map[string]*openCLBuffer
}

func (k *openCLKernel) Name() string { return k.name }

type openCLBuffer struct {
	queue  *cl.CommandQueue
	mem    *cl.MemObject
	count  int
	stride int
}

func (b *openCLBuffer) Count() int  { return b.count }
func (b *openCLBuffer) Stride() int { return b.stride }

func (b *openCLBuffer) Upload(src []float32) error {
	if b.mem == nil {
		return ErrReleased
	}
	if len(src) != b.count*b.stride {
		return fmt.Errorf("upload of %d values into buffer of %d", len(src), b.count*b.stride)
	}
	ev, err := b.queue.EnqueueWriteBufferFloat32(b.mem, true, 0, src, nil)
	if err != nil {
		return fmt.Errorf("writing buffer: %w", err)
	}
	releaseEvent(ev)
	return nil
}

func (b *openCLBuffer) Download(dst []float32) error {
	if b.mem == nil {
		return ErrReleased
	}
	if len(dst) != b.count*b.stride {
		return fmt.Errorf("download of %d values from buffer of %d", len(dst), b.count*b.stride)
	}
	ev, err := b.queue.EnqueueReadBufferFloat32(b.mem, true, 0, dst, nil)
	if err != nil {
		return fmt.Errorf("reading buffer: %w", err)
	}
	releaseEvent(ev)
	return nil
}

func (b *openCLBuffer) Release() {
	if b.mem != nil {
		b.mem.Release()
		b.mem = nil
	}
}

// OpenCLBackend compiles the particle kernels for the first GPU it finds,
// falling back to a CPU device. Dispatches are queued without waiting.
type OpenCLBackend struct {
	context    *cl.Context
	queue      *cl.CommandQueue
	program    *cl.Program
	kernels    map[string]*openCLKernel
	deviceName string

	floats  map[string]float32
	ints    map[string]int32
	vectors map[string]mgl32.Vec3
}

// NewOpenCLBackend selects a device, builds the kernel program and creates
// both kernels. Everything created so far is released on failure.
func NewOpenCLBackend() (*OpenCLBackend, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "querying OpenCL platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms; install OpenCL drivers and verify with `clinfo`"
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if len(platforms) == 0 {
		return nil, errors.New("no OpenCL platforms available; ensure a vendor driver is installed and detected by `clinfo`")
	}
	device := firstDevice(platforms, cl.DeviceTypeGPU)
	if device == nil {
		device = firstDevice(platforms, cl.DeviceTypeCPU)
	}
	if device == nil {
		return nil, errors.New("no suitable OpenCL devices found")
	}

	b := &OpenCLBackend{
		kernels:    make(map[string]*openCLKernel),
		deviceName: device.Name(),
		floats:     make(map[string]float32),
		ints:       make(map[string]int32),
		vectors:    make(map[string]mgl32.Vec3),
	}
	if b.context, err = cl.CreateContext([]*cl.Device{device}); err != nil {
		return nil, fmt.Errorf("creating OpenCL context: %w", err)
	}
	if b.queue, err = b.context.CreateCommandQueue(device, 0); err != nil {
		b.Close()
		return nil, fmt.Errorf("creating OpenCL command queue: %w", err)
	}
	if b.program, err = b.context.CreateProgramWithSource([]string{particleKernelSource}); err != nil {
		b.Close()
		return nil, fmt.Errorf("creating OpenCL program: %w", err)
	}
	if err := b.program.BuildProgram([]*cl.Device{device}, ""); err != nil {
		b.Close()
		if buildErr, ok := err.(cl.BuildError); ok {
			return nil, fmt.Errorf("building OpenCL program: %s", string(buildErr))
		}
		return nil, fmt.Errorf("building OpenCL program: %w", err)
	}
	for name := range kernelSignatures {
		kernel, err := b.program.CreateKernel(name)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("creating %s kernel: %w", name, err)
		}
		b.kernels[name] = &openCLKernel{name: name, kernel: kernel, buffers: make(map[string]*openCLBuffer)}
	}
	return b, nil
}

func firstDevice(platforms []*cl.Platform, kind cl.DeviceType) *cl.Device {
	for _, p := range platforms {
		devices, err := p.GetDevices(kind)
		if err != nil && err != cl.ErrDeviceNotFound {
			continue
		}
		if len(devices) > 0 {
			return devices[0]
		}
	}
	return nil
}

func releaseEvent(ev *cl.Event) {
	if ev != nil {
		ev.Release()
	}
}

// Name identifies the backend in logs.
func (b *OpenCLBackend) Name() string { return "opencl" }

// DeviceName reports the device the program was built for.
func (b *OpenCLBackend) DeviceName() string { return b.deviceName }

// FindKernel resolves one of the particle kernels by name.
func (b *OpenCLBackend) FindKernel(name string) (Kernel, error) {
	k, ok := b.kernels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKernelNotFound, name)
	}
	return k, nil
}

// NewBuffer allocates a zeroed buffer of count elements of stride floats.
func (b *OpenCLBackend) NewBuffer(count, stride int) (Buffer, error) {
	if count <= 0 || stride <= 0 {
		return nil, fmt.Errorf("invalid buffer shape %dx%d", count, stride)
	}
	byteSize := count * stride * int(unsafe.Sizeof(float32(0)))
	mem, err := b.context.CreateEmptyBuffer(cl.MemReadWrite, byteSize)
	if err != nil {
		return nil, fmt.Errorf("allocating %d byte buffer: %w", byteSize, err)
	}
	return &openCLBuffer{queue: b.queue, mem: mem, count: count, stride: stride}, nil
}

// SetFloat, SetInt and SetVector set uniforms shared by all kernels.
func (b *OpenCLBackend) SetFloat(name string, v float32)     { b.floats[name] = v }
func (b *OpenCLBackend) SetInt(name string, v int32)         { b.ints[name] = v }
func (b *OpenCLBackend) SetVector(name string, v mgl32.Vec3) { b.vectors[name] = v }

// SetBuffer binds buf to the named buffer slot of k.
func (b *OpenCLBackend) SetBuffer(k Kernel, name string, buf Buffer) error {
	ck, ok := k.(*openCLKernel)
	if !ok {
		return fmt.Errorf("kernel %q does not belong to the opencl backend", k.Name())
	}
	cb, ok := buf.(*openCLBuffer)
	if !ok {
		return fmt.Errorf("buffer %q does not belong to the opencl backend", name)
	}
	if cb.mem == nil {
		return fmt.Errorf("binding %q: %w", name, ErrReleased)
	}
	ck.buffers[name] = cb
	return nil
}

// bindArgs pushes the current uniforms and buffers into the kernel's
// argument slots.
func (b *OpenCLBackend) bindArgs(k *openCLKernel) error {
	for idx, arg := range kernelSignatures[k.name] {
		var err error
		switch arg.kind {
		case argFloat:
			err = k.kernel.SetArgFloat32(idx, b.floats[arg.name])
		case argInt:
			err = k.kernel.SetArgInt32(idx, b.ints[arg.name])
		case argVector:
			v := b.vectors[arg.name].Vec4(0)
			err = k.kernel.SetArgUnsafe(idx, int(unsafe.Sizeof(v)), unsafe.Pointer(&v[0]))
		case argBuffer:
			buf, ok := k.buffers[arg.name]
			if !ok {
				return fmt.Errorf("buffer %q not bound", arg.name)
			}
			if buf.mem == nil {
				return fmt.Errorf("buffer %q: %w", arg.name, ErrReleased)
			}
			err = k.kernel.SetArgBuffer(idx, buf.mem)
		}
		if err != nil {
			return fmt.Errorf("setting %s: %w", arg.name, err)
		}
	}
	return nil
}

// Dispatch enqueues x thread groups of k with the current bindings.
func (b *OpenCLBackend) Dispatch(k Kernel, x, y, z int) error {
	ck, ok := k.(*openCLKernel)
	if !ok {
		return fmt.Errorf("kernel %q does not belong to the opencl backend", k.Name())
	}
	if err := b.bindArgs(ck); err != nil {
		return fmt.Errorf("%s: %w", ck.name, err)
	}
	global := []int{x * ThreadGroupWidth}
	if y > 1 || z > 1 {
		global = append(global, y, z)
	}
	ev, err := b.queue.EnqueueNDRangeKernel(ck.kernel, nil, global, nil, nil)
	if err != nil {
		return fmt.Errorf("enqueueing %s: %w", ck.name, err)
	}
	releaseEvent(ev)
	return nil
}

// Close waits for queued work and releases every OpenCL object. Buffers
// handed out by NewBuffer must be released by their owner first.
func (b *OpenCLBackend) Close() {
	if b.queue != nil {
		_ = b.queue.Finish()
	}
	for name, k := range b.kernels {
		if k.kernel != nil {
			k.kernel.Release()
			k.kernel = nil
		}
		delete(b.kernels, name)
	}
	if b.program != nil {
		b.program.Release()
		b.program = nil
	}
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.context != nil {
		b.context.Release()
		b.context = nil
	}
}
