//go:build !opencl

package sim

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"
)

var errOpenCLDisabled = errors.New("OpenCL support is not enabled; rebuild with -tags opencl")

// OpenCLBackend is unavailable in builds without the opencl tag.
type OpenCLBackend struct{}

// NewOpenCLBackend always fails without the opencl build tag.
func NewOpenCLBackend() (*OpenCLBackend, error) {
	return nil, errOpenCLDisabled
}

func (b *OpenCLBackend) Name() string       { return "opencl" }
func (b *OpenCLBackend) DeviceName() string { return "" }

func (b *OpenCLBackend) FindKernel(name string) (Kernel, error) { return nil, errOpenCLDisabled }

func (b *OpenCLBackend) NewBuffer(count, stride int) (Buffer, error) { return nil, errOpenCLDisabled }

func (b *OpenCLBackend) SetFloat(string, float32)     {}
func (b *OpenCLBackend) SetInt(string, int32)         {}
func (b *OpenCLBackend) SetVector(string, mgl32.Vec3) {}

func (b *OpenCLBackend) SetBuffer(Kernel, string, Buffer) error { return errOpenCLDisabled }

func (b *OpenCLBackend) Dispatch(Kernel, int, int, int) error { return errOpenCLDisabled }

func (b *OpenCLBackend) Close() {}
