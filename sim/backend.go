package sim

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"
)

// ThreadGroupWidth is the number of work items in one kernel thread group.
const ThreadGroupWidth = 512

// Kernel and uniform names shared with the compute program.
const (
	KernelAttract = "Attract"
	KernelUpdate  = "Update"

	ParamAttractStrength   = "_AttractStrength"
	ParamMaxSpeed          = "_MaxSpeed"
	ParamTargetPos         = "_TargetPos"
	ParamTargetVel         = "_TargetVel"
	ParamDeltaTime         = "_DeltaTime"
	ParamAvoidWallStrength = "_AvoidWallStrength"
	ParamWallCenter        = "_WallCenter"
	ParamWallSize          = "_WallSize"
	ParamParticleCount     = "_ParticleCount"

	BufferAttraction    = "_AttractionBuffer"
	BufferParticleRead  = "_ParticleDataBufferRead"
	BufferParticleWrite = "_ParticleDataBufferWrite"
)

var (
	// ErrKernelNotFound is returned when the compute program lacks a kernel.
	ErrKernelNotFound = errors.New("kernel not found")
	// ErrReleased is returned for operations on released buffers or drivers.
	ErrReleased = errors.New("resource already released")
)

// Kernel identifies a resolved compute kernel within a Backend.
type Kernel interface {
	Name() string
}

// ReadableBuffer is the read side of a Buffer, handed to renderers.
type ReadableBuffer interface {
	Count() int
	Stride() int
	Download(dst []float32) error
}

// Buffer is a device-resident array of Count elements, each Stride float32
// values wide. Release must be safe to call more than once.
type Buffer interface {
	ReadableBuffer
	Upload(src []float32) error
	Release()
}

// Backend is the compute surface the driver programs against. Uniforms set
// with SetFloat, SetInt and SetVector are shared by every kernel; buffers are
// bound per kernel. Dispatch submits work and does not wait for completion
// unless the backend has no asynchronous queue.
type Backend interface {
	Name() string
	FindKernel(name string) (Kernel, error)
	NewBuffer(count, stride int) (Buffer, error)
	SetFloat(name string, v float32)
	SetInt(name string, v int32)
	SetVector(name string, v mgl32.Vec3)
	SetBuffer(k Kernel, name string, buf Buffer) error
	Dispatch(k Kernel, x, y, z int) error
	Close()
}

// ThreadGroupCount returns the number of groups needed to cover n work items.
func ThreadGroupCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + ThreadGroupWidth - 1) / ThreadGroupWidth
}
