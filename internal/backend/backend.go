// Package backend describes the code-generation targets kernels can be
// emitted for.
package backend

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind is a supported target backend.
type Kind string

const (
	CUDA   Kind = "cuda"
	OpenCL Kind = "opencl"
)

// ErrNoOfflineCompiler is returned for backends compiled by the driver at
// load time.
var ErrNoOfflineCompiler = errors.New("backend has no offline compiler")

// Kinds lists every backend in a stable order.
func Kinds() []Kind { return []Kind{CUDA, OpenCL} }

// ParseKind accepts a backend name case-insensitively. Empty means CUDA.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", CUDA:
		return CUDA, nil
	case OpenCL:
		return OpenCL, nil
	}
	return "", fmt.Errorf("unknown backend %q (want cuda or opencl)", s)
}

const templateDir = "/edu/syr/pcpratts/rootbeer/generate/opencl/"

// Profile holds the per-backend constants code generation needs.
type Profile struct {
	Kind                        Kind
	DeviceFunctionQualifier     string
	GlobalAddressSpaceQualifier string
	HeaderPath                  string
	KernelPath                  string
	GarbageCollectorPath        string
}

// Profile returns the constants for k.
func (k Kind) Profile() Profile {
	switch k {
	case OpenCL:
		return Profile{
			Kind:                        OpenCL,
			DeviceFunctionQualifier:     "",
			GlobalAddressSpaceQualifier: "__global",
			HeaderPath:                  templateDir + "OpenCLHeader.c",
			KernelPath:                  templateDir + "OpenCLKernel.c",
			GarbageCollectorPath:        templateDir + "GarbageCollector.c",
		}
	default:
		return Profile{
			Kind:                        CUDA,
			DeviceFunctionQualifier:     "__device__",
			GlobalAddressSpaceQualifier: "",
			HeaderPath:                  templateDir + "CudaHeader.c",
			KernelPath:                  templateDir + "CudaKernel.c",
			GarbageCollectorPath:        templateDir + "GarbageCollector.c",
		}
	}
}

// CompileOptions parameterize the offline compiler command.
type CompileOptions struct {
	ToolkitDir string // directory holding nvcc; empty uses PATH
	Bits       int    // address model; 0 uses the host word size
	Gencode    string // extra -gencode flags, space separated
	Source     string
	Output     string
}

// CompileCommand returns the argv that turns generated source into a device
// binary. Running it is left to the caller.
func (k Kind) CompileCommand(opts CompileOptions) ([]string, error) {
	if k != CUDA {
		return nil, fmt.Errorf("%s: %w", k, ErrNoOfflineCompiler)
	}
	if opts.Source == "" || opts.Output == "" {
		return nil, fmt.Errorf("compile command needs both source and output paths")
	}
	bits := opts.Bits
	if bits == 0 {
		bits = strconv.IntSize
	}
	nvcc := "nvcc"
	if opts.ToolkitDir != "" {
		nvcc = filepath.Join(opts.ToolkitDir, "nvcc")
	}
	argv := []string{nvcc, "-m" + strconv.Itoa(bits)}
	argv = append(argv, strings.Fields(opts.Gencode)...)
	return append(argv, "-fatbin", opts.Source, "-o", opts.Output), nil
}
