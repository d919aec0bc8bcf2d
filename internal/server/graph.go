package server

import (
	"cmp"
	"slices"
	"strings"

	"github.com/abramin/kernelscan/internal/store"
)

// GraphFilter specifies filters for graph traversal.
type GraphFilter struct {
	HidePlatform        bool     `json:"hidePlatform"`
	HideUnavailable     bool     `json:"hideUnavailable"`
	StopAtPackagePrefix []string `json:"stopAtPackagePrefix"`
	MaxDepth            int      `json:"maxDepth"`
	NoisePackages       []string `json:"noisePackages"`
}

// DefaultGraphFilter returns sensible defaults for graph filtering.
func DefaultGraphFilter() GraphFilter {
	return GraphFilter{
		MaxDepth:      6,
		NoisePackages: []string{},
	}
}

// GraphNode represents a method in the graph response.
type GraphNode struct {
	Signature string `json:"signature"`
	Class     string `json:"class"`
	Reached   bool   `json:"reached"`
	Expanded  bool   `json:"expanded"`
	Depth     int    `json:"depth"`
}

// GraphEdge aggregates the call sites from one method to another.
type GraphEdge struct {
	Source        string `json:"source"`
	Target        string `json:"target"`
	CallKind      string `json:"call_kind"`
	Status        string `json:"status"`
	CallsiteCount int    `json:"callsite_count"`
}

// GraphResponse is the response format for graph endpoints.
type GraphResponse struct {
	Nodes    []GraphNode `json:"nodes"`
	Edges    []GraphEdge `json:"edges"`
	Root     string      `json:"root"`
	MaxDepth int         `json:"max_depth"`
	Filtered int         `json:"filtered_count"`
}

// GraphBuilder builds call graphs of one run with filtering.
type GraphBuilder struct {
	filter   GraphFilter
	callees  map[string][]store.CallEdge
	reached  map[string]bool
	nodes    map[string]*GraphNode
	edges    []GraphEdge
	visited  map[string]bool
	filtered int
}

// NewGraphBuilder loads the edges and reachable methods of a run.
func NewGraphBuilder(s *store.Store, run store.RunID, filter GraphFilter) (*GraphBuilder, error) {
	edges, err := s.Edges(run, "")
	if err != nil {
		return nil, err
	}
	methods, err := s.Methods(run)
	if err != nil {
		return nil, err
	}
	return newGraphBuilder(edges, methods, filter), nil
}

func newGraphBuilder(edges []store.CallEdge, methods []store.Method, filter GraphFilter) *GraphBuilder {
	gb := &GraphBuilder{
		filter:  filter,
		callees: make(map[string][]store.CallEdge),
		reached: make(map[string]bool, len(methods)),
		nodes:   make(map[string]*GraphNode),
		edges:   []GraphEdge{},
		visited: make(map[string]bool),
	}
	for _, e := range edges {
		gb.callees[e.Caller] = append(gb.callees[e.Caller], e)
	}
	for _, m := range methods {
		gb.reached[m.Signature] = true
	}
	return gb
}

// BuildFromRoot builds a graph starting from a root method signature.
func (gb *GraphBuilder) BuildFromRoot(root string, depth int) *GraphResponse {
	// Clamp depth to maxDepth
	if gb.filter.MaxDepth > 0 && depth > gb.filter.MaxDepth {
		depth = gb.filter.MaxDepth
	}

	gb.addNode(root, 0, true)
	gb.expand(root, depth)

	return gb.buildResponse(root, depth)
}

// addNode adds a node to the graph if it passes filters.
func (gb *GraphBuilder) addNode(sig string, depth int, expanded bool) bool {
	if _, exists := gb.nodes[sig]; exists {
		return true
	}
	class := signatureClass(sig)
	if gb.shouldFilter(class) {
		gb.filtered++
		return false
	}
	gb.nodes[sig] = &GraphNode{
		Signature: sig,
		Class:     class,
		Reached:   gb.reached[sig],
		Expanded:  expanded,
		Depth:     depth,
	}
	return true
}

// shouldFilter returns true if methods of class should be left out.
func (gb *GraphBuilder) shouldFilter(class string) bool {
	if gb.filter.HidePlatform && isPlatform(class) {
		return true
	}
	for _, noise := range gb.filter.NoisePackages {
		if matchPackagePattern(noise, class) {
			return true
		}
	}
	return false
}

// shouldStopExpansion returns true if we should stop expanding at this class.
func (gb *GraphBuilder) shouldStopExpansion(class string) bool {
	for _, prefix := range gb.filter.StopAtPackagePrefix {
		if strings.HasPrefix(class, prefix) {
			return true
		}
	}
	return false
}

// expand walks callees breadth first, so every method is expanded at its
// shortest distance from root.
func (gb *GraphBuilder) expand(root string, maxDepth int) {
	gb.visited[root] = true
	frontier := []string{root}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, sig := range frontier {
			if gb.shouldStopExpansion(signatureClass(sig)) {
				continue
			}
			for _, edge := range gb.outgoing(sig) {
				if !gb.addNode(edge.Target, depth+1, false) {
					continue
				}
				gb.edges = append(gb.edges, *edge)
				if !gb.visited[edge.Target] {
					gb.visited[edge.Target] = true
					next = append(next, edge.Target)
				}
			}
			if node, ok := gb.nodes[sig]; ok {
				node.Expanded = true
			}
		}
		frontier = next
	}
}

// outgoing aggregates the call sites of sig by callee, keeping first-seen order.
func (gb *GraphBuilder) outgoing(sig string) []*GraphEdge {
	var out []*GraphEdge
	byCallee := make(map[string]*GraphEdge)
	for _, c := range gb.callees[sig] {
		if gb.filter.HideUnavailable && c.Status == store.EdgeUnavailable {
			gb.filtered++
			continue
		}
		if existing, ok := byCallee[c.Callee]; ok {
			existing.CallsiteCount++
			continue
		}
		edge := &GraphEdge{
			Source:        sig,
			Target:        c.Callee,
			CallKind:      c.Kind,
			Status:        c.Status,
			CallsiteCount: 1,
		}
		byCallee[c.Callee] = edge
		out = append(out, edge)
	}
	return out
}

// buildResponse constructs the final response with nodes ordered by depth.
func (gb *GraphBuilder) buildResponse(root string, maxDepth int) *GraphResponse {
	nodes := make([]GraphNode, 0, len(gb.nodes))
	for _, node := range gb.nodes {
		nodes = append(nodes, *node)
	}
	slices.SortFunc(nodes, func(a, b GraphNode) int {
		return cmp.Or(cmp.Compare(a.Depth, b.Depth), strings.Compare(a.Signature, b.Signature))
	})

	return &GraphResponse{
		Nodes:    nodes,
		Edges:    gb.edges,
		Root:     root,
		MaxDepth: maxDepth,
		Filtered: gb.filtered,
	}
}

// signatureClass extracts the declaring class from "<app.K: void run()>".
func signatureClass(sig string) string {
	sig = strings.TrimPrefix(sig, "<")
	if i := strings.Index(sig, ":"); i >= 0 {
		return sig[:i]
	}
	return sig
}

// isPlatform checks if a class belongs to the JDK.
func isPlatform(class string) bool {
	for _, prefix := range []string{"java.", "javax.", "sun.", "jdk."} {
		if strings.HasPrefix(class, prefix) {
			return true
		}
	}
	return false
}

// matchPackagePattern matches a class name against a pattern.
// Supports * as a wildcard for any suffix.
func matchPackagePattern(pattern, class string) bool {
	if pattern == class {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := pattern[:len(pattern)-2]
		return strings.HasPrefix(class, prefix+".") || class == prefix
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(class, pattern[:len(pattern)-1])
	}
	return false
}
