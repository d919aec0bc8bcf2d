package store

import (
	"time"

	"github.com/google/uuid"
)

// RunID identifies one analysis run.
type RunID string

// NewRunID returns a fresh random run identifier.
func NewRunID() RunID { return RunID(uuid.NewString()) }

// Run is the summary row of one analysis run.
type Run struct {
	ID               RunID     `json:"id"`
	StartedAt        time.Time `json:"started_at"`
	DurationMS       int64     `json:"duration_ms"`
	Backend          string    `json:"backend"`
	Inputs           []string  `json:"inputs"`
	KernelCount      int       `json:"kernel_count"`
	ClassCount       int       `json:"class_count"`
	MethodCount      int       `json:"method_count"`
	EdgeCount        int       `json:"edge_count"`
	UnavailableCount int       `json:"unavailable_count"`
	DiagnosticCount  int       `json:"diagnostic_count"`
}

// Class is one classified class.
type Class struct {
	Name        string `json:"name"`
	Level       string `json:"level"`
	Disposition string `json:"disposition"` // emit, hierarchy or ignored
	Application bool   `json:"application"`
	Runtime     bool   `json:"runtime"`
	Reason      string `json:"reason,omitempty"`
}

// Method is one reachable method.
type Method struct {
	Signature string `json:"signature"` // e.g. "<app.K: void gpuMethod()>"
	Class     string `json:"class"`
	Name      string `json:"name"`
	Params    string `json:"params,omitempty"`
	Return    string `json:"return"`
}

// EdgeStatus values.
const (
	EdgeFollowed    = "followed"
	EdgeUnavailable = "unavailable"
)

// CallEdge is one call site found while scanning a reachable body.
type CallEdge struct {
	Caller string `json:"caller"`
	Target string `json:"target"` // as written at the call site
	Callee string `json:"callee"` // declaring method after inherited lookup
	Kind   string `json:"kind"`
	Offset int    `json:"offset"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Entrypoint is a method the traversal started from.
type Entrypoint struct {
	Method string `json:"method"`
	Class  string `json:"class"`
	Kind   string `json:"kind"` // kernel, constructor or static-init
}

// Diagnostic is a non-fatal condition recorded during the run.
type Diagnostic struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Report is everything persisted for one run. It is also the document
// written to report.json and published as an artifact.
type Report struct {
	Run         Run          `json:"run"`
	Kernels     []string     `json:"kernels"`
	Entrypoints []Entrypoint `json:"entrypoints"`
	Classes     []Class      `json:"classes"`
	Methods     []Method     `json:"methods"`
	Edges       []CallEdge   `json:"edges"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}
