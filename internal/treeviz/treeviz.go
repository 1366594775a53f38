// Package treeviz implements the tree visualisation service of §4.10: given
// a project name, resolve its FILE/DIR tree to a configurable depth,
// optionally attaching FILE nodes' outgoing IMPORTS edges, and compute
// aggregate statistics. Grounded on the teacher's engine/graph.go Neighbors/
// FindByVehicle traversal queries, generalised from the automotive
// component graph to the file-tree graph, and cmd/api/main.go's
// handleMetricsSnapshot aggregate-counter shape.
package treeviz

import (
	"context"
	"log/slog"

	"github.com/omninode-ai/omniintelligence-core/internal/adapters/graph"
)

// Request is the tree visualisation query of §4.10.
type Request struct {
	ProjectName        string
	MaxDepth           int
	IncludeDependencies bool
}

// Node is one rendered tree node, recursively holding its resolved children
// and (for FILE nodes, when requested) its outgoing import targets.
type Node struct {
	Label        string
	Path         string
	Name         string
	Children     []*Node
	Dependencies []string
}

// Result is the rooted tree plus aggregate statistics.
type Result struct {
	Root  *Node
	Stats graph.Stats
}

// graphStore is the subset of internal/adapters/graph.Store the service
// needs; declared locally so tests can substitute a fake without reaching
// into the graph package's unexported test seam.
type graphStore interface {
	GetProject(ctx context.Context, name string) (graph.TreeNode, error)
	Children(ctx context.Context, path string) ([]graph.TreeNode, error)
	ImportTargets(ctx context.Context, filePath string) ([]graph.TreeNode, error)
	SubtreeStats(ctx context.Context, path string, maxDepth int) (graph.Stats, error)
}

// Service resolves tree visualisation requests against a graph store.
type Service struct {
	graph graphStore
	log   *slog.Logger
}

// New creates a Service bound to g.
func New(g graphStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{graph: g, log: log}
}

// Resolve builds the rooted tree for req.ProjectName, bounded by
// req.MaxDepth (0 means unbounded). Returns domain.ErrProjectNotFound if no
// PROJECT node matches. Any store error while resolving a subtree degrades
// that subtree to empty children rather than failing the whole request.
func (s *Service) Resolve(ctx context.Context, req Request) (*Result, error) {
	project, err := s.graph.GetProject(ctx, req.ProjectName)
	if err != nil {
		return nil, err
	}

	root := &Node{Label: project.Label, Path: project.Path, Name: project.Name}
	s.resolveChildren(ctx, root, 1, req.MaxDepth, req.IncludeDependencies)

	stats, err := s.graph.SubtreeStats(ctx, project.Path, req.MaxDepth)
	if err != nil {
		s.log.Warn("treeviz: subtree stats degraded", "project", req.ProjectName, "error", err)
		stats = graph.Stats{}
	}
	stats.TotalNodes = stats.Directories + stats.Files + 1

	return &Result{Root: root, Stats: stats}, nil
}

// resolveChildren recursively populates node.Children from the graph store,
// stopping once depth exceeds maxDepth (when maxDepth > 0). A store error is
// logged and treated as an empty-children result for that subtree — it
// never propagates as a caller-visible failure (§4.10).
func (s *Service) resolveChildren(ctx context.Context, node *Node, depth, maxDepth int, includeDeps bool) {
	if maxDepth > 0 && depth > maxDepth {
		return
	}

	children, err := s.graph.Children(ctx, node.Path)
	if err != nil {
		s.log.Warn("treeviz: children degraded", "path", node.Path, "error", err)
		return
	}

	for _, c := range children {
		child := &Node{Label: c.Label, Path: c.Path, Name: c.Name}
		if includeDeps && c.Label == "FILE" {
			child.Dependencies = s.resolveDependencies(ctx, c.Path)
		}
		s.resolveChildren(ctx, child, depth+1, maxDepth, includeDeps)
		node.Children = append(node.Children, child)
	}
}

// resolveDependencies fetches a FILE node's IMPORTS targets, degrading to
// an empty list on store error.
func (s *Service) resolveDependencies(ctx context.Context, filePath string) []string {
	targets, err := s.graph.ImportTargets(ctx, filePath)
	if err != nil {
		s.log.Warn("treeviz: dependencies degraded", "path", filePath, "error", err)
		return nil
	}
	deps := make([]string, len(targets))
	for i, t := range targets {
		deps[i] = t.Path
	}
	return deps
}
