package domain

import "time"

// Project is the PROJECT node, created on first ingest of a repository (§3.4).
type Project struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Dir is a DIR node.
type Dir struct {
	Path         string `json:"path"`
	RelativePath string `json:"relative_path"`
	Name         string `json:"name"`
}

// File is a FILE node. EntityCount and ImportCount describe the outgoing
// DEFINES/IMPORTS edges (§3.4); the graph adapter's UpsertFile writes the
// values the caller supplies and does not recompute them from the edges.
type File struct {
	Path         string    `json:"path"`
	RelativePath string    `json:"relative_path"`
	Name         string    `json:"name"`
	FileType     string    `json:"file_type"`
	Size         int64     `json:"size"`
	EntityCount  int       `json:"entity_count"`
	ImportCount  int       `json:"import_count"`
	LastModified time.Time `json:"last_modified"`
	FileHash     string    `json:"file_hash"`
	EntityID     string    `json:"entity_id,omitempty"`
}

// Entity is an ENTITY node (a function, class, symbol, ...). No
// language-specific parser runs in the core; the indexer finds entities with
// a language-agnostic regex sweep over the request's content
// (internal/indexer's extractConstructs).
type Entity struct {
	Name string         `json:"name"`
	Type string         `json:"type"`
	Meta map[string]any `json:"meta,omitempty"`
}

// EdgeKind enumerates the graph's relationship types.
type EdgeKind string

const (
	EdgeContains EdgeKind = "CONTAINS"
	EdgeImports  EdgeKind = "IMPORTS"
	EdgeDefines  EdgeKind = "DEFINES"
)

// ImportEdge carries the metadata spec.md §3.4 attaches to IMPORTS edges.
type ImportEdge struct {
	FromFilePath string   `json:"from_file_path"`
	ToFilePath   string   `json:"to_file_path"`
	ImportType   string   `json:"import_type"`
	LineNumber   int      `json:"line_number"`
	Confidence   float64  `json:"confidence"`
}

// BootstrapTier is the initial trust classification applied to a chunk.
type BootstrapTier string

const (
	TierValidated  BootstrapTier = "VALIDATED"
	TierQuarantine BootstrapTier = "QUARANTINE"
)

// TierRule is one first-match-wins glob rule in the bootstrap tier table.
type TierRule struct {
	Glob       string
	Tier       BootstrapTier
	Confidence float64
}

// DefaultTierConfidence is the fallback confidence for QUARANTINE when no
// rule matches (§3.5). Resolves spec.md §9 Open Question 2: the table
// itself is made configurable (internal/config), this is only the
// zero-value fallback when no deployment overlay supplies one.
const DefaultTierConfidence = 0.0

// AssignTier walks rules in order and returns the first match; if none
// match, the chunk is QUARANTINE with DefaultTierConfidence.
func AssignTier(sourceRef string, rules []TierRule, globMatch func(pattern, name string) bool) (BootstrapTier, float64) {
	for _, r := range rules {
		if globMatch(r.Glob, sourceRef) {
			return r.Tier, r.Confidence
		}
	}
	return TierQuarantine, DefaultTierConfidence
}
