// Package graph implements the file-tree graph store adapter of §3.4/§4.10,
// adapted from the teacher's engine/graph/graph.go Cypher-templating pattern
// (MERGE-by-id node upserts, sanitized relationship types; each operation
// runs as its own session query, not batched into one transaction) and generalised from a fixed Component/Edge
// automotive schema to PROJECT/DIR/FILE/ENTITY nodes and CONTAINS/IMPORTS/
// DEFINES edges.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/omninode-ai/omniintelligence-core/internal/domain"
)

// runner is the minimal interface needed from a neo4j session, mirroring
// pkg/repo's testable seam.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error)
	Close(ctx context.Context) error
}

// cypherResult is the minimal interface needed from a neo4j result.
type cypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// Store provides graph operations over the file-tree schema.
type Store struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) runner // for testing
}

// New creates a Store bound to driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver}
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &sessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// UpsertProject merges a PROJECT node keyed by path.
func (s *Store) UpsertProject(ctx context.Context, p domain.Project) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx,
		`MERGE (n:PROJECT {path: $path}) SET n.name = $name`,
		map[string]any{"path": p.Path, "name": p.Name})
	if err != nil {
		return fmt.Errorf("graph: upsert project %s: %w", p.Path, err)
	}
	return nil
}

// UpsertDir merges a DIR node keyed by path.
func (s *Store) UpsertDir(ctx context.Context, d domain.Dir) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx,
		`MERGE (n:DIR {path: $path}) SET n.relative_path = $rel, n.name = $name`,
		map[string]any{"path": d.Path, "rel": d.RelativePath, "name": d.Name})
	if err != nil {
		return fmt.Errorf("graph: upsert dir %s: %w", d.Path, err)
	}
	return nil
}

// UpsertFile merges a FILE node keyed by path.
func (s *Store) UpsertFile(ctx context.Context, f domain.File) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx,
		`MERGE (n:FILE {path: $path})
		 SET n.relative_path = $rel, n.name = $name, n.file_type = $type,
		     n.size = $size, n.entity_count = $entities, n.import_count = $imports,
		     n.last_modified = $modified, n.file_hash = $hash, n.entity_id = $entityID`,
		map[string]any{
			"path":      f.Path,
			"rel":       f.RelativePath,
			"name":      f.Name,
			"type":      f.FileType,
			"size":      f.Size,
			"entities":  f.EntityCount,
			"imports":   f.ImportCount,
			"modified":  f.LastModified,
			"hash":      f.FileHash,
			"entityID":  f.EntityID,
		})
	if err != nil {
		return fmt.Errorf("graph: upsert file %s: %w", f.Path, err)
	}
	return nil
}

// UpsertEntity merges an ENTITY node keyed by id.
func (s *Store) UpsertEntity(ctx context.Context, id string, e domain.Entity) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	props := map[string]any{"id": id, "name": e.Name, "type": e.Type}
	for k, v := range e.Meta {
		props["meta_"+k] = v
	}
	_, err := sess.Run(ctx, `MERGE (n:ENTITY {id: $id}) SET n += $props`,
		map[string]any{"id": id, "props": props})
	if err != nil {
		return fmt.Errorf("graph: upsert entity %s: %w", id, err)
	}
	return nil
}

// Contains creates or updates a CONTAINS edge from a PROJECT/DIR node to a
// DIR/FILE child, keyed on (fromLabel, fromPath) -> (toLabel, toPath).
func (s *Store) Contains(ctx context.Context, fromLabel, fromPath, toLabel, toPath string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:%s {path: $from}), (b:%s {path: $to})
		 MERGE (a)-[r:%s]->(b)`,
		sanitizeLabel(fromLabel), sanitizeLabel(toLabel), domain.EdgeContains)
	_, err := sess.Run(ctx, cypher, map[string]any{"from": fromPath, "to": toPath})
	if err != nil {
		return fmt.Errorf("graph: contains %s->%s: %w", fromPath, toPath, err)
	}
	return nil
}

// Defines creates or updates a DEFINES edge from a FILE node to an ENTITY node.
func (s *Store) Defines(ctx context.Context, filePath, entityID string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx,
		fmt.Sprintf(`MATCH (f:FILE {path: $file}), (e:ENTITY {id: $entity})
		 MERGE (f)-[r:%s]->(e)`, domain.EdgeDefines),
		map[string]any{"file": filePath, "entity": entityID})
	if err != nil {
		return fmt.Errorf("graph: defines %s->%s: %w", filePath, entityID, err)
	}
	return nil
}

// Imports creates or updates an IMPORTS edge between two FILE nodes.
func (s *Store) Imports(ctx context.Context, e domain.ImportEdge) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:FILE {path: $from}), (b:FILE {path: $to})
		 MERGE (a)-[r:%s]->(b)
		 SET r.import_type = $importType, r.line_number = $line, r.confidence = $confidence`,
		domain.EdgeImports)
	_, err := sess.Run(ctx, cypher, map[string]any{
		"from":       e.FromFilePath,
		"to":         e.ToFilePath,
		"importType": e.ImportType,
		"line":       e.LineNumber,
		"confidence": e.Confidence,
	})
	if err != nil {
		return fmt.Errorf("graph: imports %s->%s: %w", e.FromFilePath, e.ToFilePath, err)
	}
	return nil
}

// TreeNode is a generic node returned from tree-walk queries (§4.10).
type TreeNode struct {
	Label string
	Path  string
	Name  string
	Props map[string]any
}

// Children returns the immediate CONTAINS children of the node at path,
// sorted alphabetically by name (spec's tree visualization ordering rule).
func (s *Store) Children(ctx context.Context, path string) ([]TreeNode, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a {path: $path})-[:%s]->(b)
		 RETURN labels(b) AS labels, b AS node
		 ORDER BY b.name ASC`, domain.EdgeContains)
	result, err := sess.Run(ctx, cypher, map[string]any{"path": path})
	if err != nil {
		return nil, fmt.Errorf("graph: children of %s: %w", path, err)
	}
	return collectTreeNodes(ctx, result)
}

// ImportTargets returns the FILE nodes a given FILE imports.
func (s *Store) ImportTargets(ctx context.Context, filePath string) ([]TreeNode, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:FILE {path: $path})-[:%s]->(b:FILE)
		 RETURN labels(b) AS labels, b AS node
		 ORDER BY b.name ASC`, domain.EdgeImports)
	result, err := sess.Run(ctx, cypher, map[string]any{"path": filePath})
	if err != nil {
		return nil, fmt.Errorf("graph: import targets of %s: %w", filePath, err)
	}
	return collectTreeNodes(ctx, result)
}

// GetProject returns the PROJECT node by name, or ErrProjectNotFound.
func (s *Store) GetProject(ctx context.Context, name string) (TreeNode, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`MATCH (n:PROJECT {name: $name}) RETURN labels(n) AS labels, n AS node`,
		map[string]any{"name": name})
	if err != nil {
		return TreeNode{}, fmt.Errorf("graph: get project %s: %w", name, err)
	}
	nodes, err := collectTreeNodes(ctx, result)
	if err != nil {
		return TreeNode{}, err
	}
	if len(nodes) == 0 {
		return TreeNode{}, domain.ErrProjectNotFound
	}
	return nodes[0], nil
}

// Stats holds aggregate counts for a subtree (§4.10).
type Stats struct {
	Directories int64
	Files       int64
	Imports     int64
	TotalNodes  int64
}

// SubtreeStats aggregates node/edge counts rooted at path, bounded by
// maxDepth (a maxDepth of 0 means unbounded).
func (s *Store) SubtreeStats(ctx context.Context, path string, maxDepth int) (Stats, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	depthClause := "*"
	if maxDepth > 0 {
		depthClause = fmt.Sprintf("*1..%d", maxDepth)
	}
	cypher := fmt.Sprintf(
		`MATCH (root {path: $path})-[:%s%s]->(n)
		 RETURN labels(n) AS labels, count(n) AS cnt`,
		domain.EdgeContains, depthClause)
	result, err := sess.Run(ctx, cypher, map[string]any{"path": path})
	if err != nil {
		return Stats{}, fmt.Errorf("graph: subtree stats for %s: %w", path, err)
	}

	var stats Stats
	for result.Next(ctx) {
		rec := result.Record()
		labelsVal, _ := rec.Get("labels")
		cntVal, _ := rec.Get("cnt")
		cnt, _ := cntVal.(int64)
		labels, _ := labelsVal.([]any)
		for _, l := range labels {
			switch l {
			case "DIR":
				stats.Directories += cnt
			case "FILE":
				stats.Files += cnt
			}
			stats.TotalNodes += cnt
		}
	}

	importCypher := fmt.Sprintf(
		`MATCH (root {path: $path})-[:%s%s]->(f:FILE)-[r:%s]->(:FILE)
		 RETURN count(r) AS cnt`, domain.EdgeContains, depthClause, domain.EdgeImports)
	importResult, err := sess.Run(ctx, importCypher, map[string]any{"path": path})
	if err != nil {
		return stats, fmt.Errorf("graph: import stats for %s: %w", path, err)
	}
	if importResult.Next(ctx) {
		if cnt, ok := importResult.Record().Get("cnt"); ok {
			if n, ok := cnt.(int64); ok {
				stats.Imports = n
			}
		}
	}
	return stats, nil
}

// NodeCount returns the total number of nodes carrying label (used by
// orphan/statistics diagnostics).
func (s *Store) NodeCount(ctx context.Context, label string) (int64, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(`MATCH (n:%s) RETURN count(n) AS cnt`, sanitizeLabel(label))
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return 0, fmt.Errorf("graph: node count %s: %w", label, err)
	}
	if !result.Next(ctx) {
		return 0, nil
	}
	cnt, _ := result.Record().Get("cnt")
	n, _ := cnt.(int64)
	return n, nil
}

// RelationshipCount returns the total number of edges of the given type.
func (s *Store) RelationshipCount(ctx context.Context, relType string) (int64, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(`MATCH ()-[r:%s]->() RETURN count(r) AS cnt`, sanitizeLabel(relType))
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return 0, fmt.Errorf("graph: relationship count %s: %w", relType, err)
	}
	if !result.Next(ctx) {
		return 0, nil
	}
	cnt, _ := result.Record().Get("cnt")
	n, _ := cnt.(int64)
	return n, nil
}

// OrphanFiles returns FILE nodes with neither an outgoing nor incoming
// IMPORTS edge — a soundness diagnostic referenced by the spec's
// graph-consistency invariant (a FILE with in-degree 0 and out-degree 0 on
// IMPORTS is orphaned regardless of its CONTAINS placement in the tree).
func (s *Store) OrphanFiles(ctx context.Context) ([]TreeNode, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (f:FILE) WHERE NOT (f)-[:%s]->() AND NOT ()-[:%s]->(f)
		 RETURN labels(f) AS labels, f AS node`, domain.EdgeImports, domain.EdgeImports)
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: orphan files: %w", err)
	}
	return collectTreeNodes(ctx, result)
}

func collectTreeNodes(ctx context.Context, result cypherResult) ([]TreeNode, error) {
	var items []TreeNode
	for result.Next(ctx) {
		rec := result.Record()
		nodeVal, ok := rec.Get("node")
		if !ok {
			continue
		}
		node, ok := nodeVal.(dbtype.Node)
		if !ok {
			continue
		}
		label := ""
		if labelsVal, ok := rec.Get("labels"); ok {
			if labels, ok := labelsVal.([]any); ok && len(labels) > 0 {
				if s, ok := labels[0].(string); ok {
					label = s
				}
			}
		}
		items = append(items, TreeNode{
			Label: label,
			Path:  strProp(node.Props, "path"),
			Name:  strProp(node.Props, "name"),
			Props: node.Props,
		})
	}
	return items, nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

// sanitizeLabel restricts a dynamic label/relationship-type fragment to a
// valid Cypher identifier, mirroring the teacher's sanitizeRelType.
func sanitizeLabel(t string) string {
	safe := make([]byte, 0, len(t))
	for i := 0; i < len(t); i++ {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "UNKNOWN"
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}
