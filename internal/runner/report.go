package runner

import (
	"time"

	"github.com/abramin/kernelscan/internal/analysis"
	"github.com/abramin/kernelscan/internal/backend"
	"github.com/abramin/kernelscan/internal/store"
)

// RunInfo is the run metadata that the analysis itself does not know.
type RunInfo struct {
	ID        store.RunID
	StartedAt time.Time
	Duration  time.Duration
	Backend   backend.Kind
	Inputs    []string
}

// BuildReport flattens an analysis result into the stored report form.
func BuildReport(res *analysis.Result, info RunInfo) *store.Report {
	rep := &store.Report{
		Run: store.Run{
			ID:               info.ID,
			StartedAt:        info.StartedAt,
			DurationMS:       info.Duration.Milliseconds(),
			Backend:          string(info.Backend),
			Inputs:           info.Inputs,
			KernelCount:      len(res.KernelClasses),
			ClassCount:       len(res.Classes),
			MethodCount:      len(res.Reachable),
			EdgeCount:        len(res.Edges),
			UnavailableCount: res.Stats.Unavailable,
			DiagnosticCount:  len(res.Diagnostics),
		},
	}

	for _, k := range res.KernelClasses {
		rep.Kernels = append(rep.Kernels, string(k))
	}
	for _, ep := range res.EntryPoints {
		rep.Entrypoints = append(rep.Entrypoints, store.Entrypoint{
			Method: ep.Method.String(),
			Class:  string(ep.Class()),
			Kind:   string(ep.Kind),
		})
	}
	for _, c := range res.Classes {
		rep.Classes = append(rep.Classes, store.Class{
			Name:        string(c.Name),
			Level:       c.Level.String(),
			Disposition: string(c.Disposition),
			Application: c.Application,
			Runtime:     c.Runtime,
			Reason:      c.Reason,
		})
	}
	for _, m := range res.Reachable {
		rep.Methods = append(rep.Methods, store.Method{
			Signature: m.String(),
			Class:     string(m.Class),
			Name:      m.Name,
			Params:    m.Params,
			Return:    m.Return,
		})
	}
	for _, e := range res.Edges {
		rep.Edges = append(rep.Edges, store.CallEdge{
			Caller: e.Caller.String(),
			Target: e.Target.String(),
			Callee: e.Callee.String(),
			Kind:   string(e.Kind),
			Offset: e.Offset,
			Status: string(e.Status),
			Reason: e.Reason,
		})
	}
	for _, d := range res.Diagnostics {
		rep.Diagnostics = append(rep.Diagnostics, store.Diagnostic{
			Kind:    string(d.Kind),
			Subject: d.Subject,
			Message: d.Message,
		})
	}
	return rep
}
